package statement

import (
	"slices"
	"strings"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rest/pkg/request"
	"github.com/ekaya-inc/ekaya-rest/pkg/tablestats"
)

// DefaultBatchSize is the number of rows per INSERT statement.
const DefaultBatchSize = 100

// BatchRows splits rows into consecutive batches of at most size rows.
func BatchRows(rows []request.Row, size int) [][]request.Row {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]request.Row, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		batches = append(batches, rows[start:end])
	}
	return batches
}

// UnionColumns returns every key that appears in rows, in first-seen order.
func UnionColumns(rows []request.Row) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, row := range rows {
		for pair := row.Oldest(); pair != nil; pair = pair.Next() {
			if !seen[pair.Key] {
				seen[pair.Key] = true
				columns = append(columns, pair.Key)
			}
		}
	}
	return columns
}

// InsertBatch builds one INSERT for rows, a batch of params.Rows. Cells a row
// does not set are written as DEFAULT. Placeholders start at $1.
//
// With conflict action "update" every inserted column outside the conflict
// target is overwritten from EXCLUDED. If nothing is left to overwrite the
// clause degrades to DO NOTHING.
func InsertBatch(params *request.InsertParams, rows []request.Row, stats *tablestats.TableStats) (Statement, error) {
	columns := UnionColumns(rows)
	if len(columns) == 0 {
		return Statement{}, apperrors.RequestValidation("Rows inserted into %q must set at least one column.", params.Table)
	}
	types := stats.ColumnTypes()
	b := &binder{}

	tuples := make([]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, 0, len(columns))
		for _, col := range columns {
			raw, ok := row.Get(col)
			if !ok {
				cells = append(cells, "DEFAULT")
				continue
			}
			v, err := convert(stats, types, col, raw)
			if err != nil {
				return Statement{}, err
			}
			cells = append(cells, b.bind(v))
		}
		tuples = append(tuples, "("+strings.Join(cells, ", ")+")")
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(params.Table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")
	sb.WriteString(strings.Join(tuples, ", "))

	writeConflict(&sb, params.ConflictAction, params.ConflictTarget, columns)
	writeReturning(&sb, params.ReturningColumns)

	return Statement{
		Table:     params.Table,
		SQL:       sb.String(),
		Args:      b.args,
		Returning: len(params.ReturningColumns) > 0,
	}, nil
}

func writeConflict(sb *strings.Builder, action request.ConflictAction, target, columns []string) {
	if action == "" {
		return
	}

	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(strings.Join(target, ", "))
	sb.WriteString(")")

	var sets []string
	if action == request.ConflictUpdate {
		for _, col := range columns {
			if !slices.Contains(target, col) {
				sets = append(sets, col+"=EXCLUDED."+col)
			}
		}
	}
	if len(sets) == 0 {
		sb.WriteString(" DO NOTHING")
		return
	}
	sb.WriteString(" DO UPDATE SET ")
	sb.WriteString(strings.Join(sets, ", "))
}
