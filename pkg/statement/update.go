package statement

import (
	"strings"

	"github.com/ekaya-inc/ekaya-rest/pkg/request"
	"github.com/ekaya-inc/ekaya-rest/pkg/tablestats"
)

// Update builds UPDATE table SET col = $n, ... [FROM ...] [WHERE ...] [RETURNING ...].
func Update(params *request.UpdateParams, stats *tablestats.TableStats) (Statement, error) {
	types := stats.ColumnTypes()
	b := &binder{}

	sets := make([]string, 0, params.ColumnValues.Len())
	for pair := params.ColumnValues.Oldest(); pair != nil; pair = pair.Next() {
		v, err := convert(stats, types, pair.Key, pair.Value)
		if err != nil {
			return Statement{}, err
		}
		sets = append(sets, pair.Key+" = "+b.bind(v))
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(params.Table)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(sets, ", "))
	if len(params.From) > 0 {
		sb.WriteString(" FROM ")
		sb.WriteString(strings.Join(params.From, ", "))
	}
	writeWhere(&sb, params.Conditions)
	writeReturning(&sb, params.ReturningColumns)

	return Statement{
		Table:     params.Table,
		SQL:       sb.String(),
		Args:      b.args,
		Returning: len(params.ReturningColumns) > 0,
	}, nil
}

// Delete builds DELETE FROM table [WHERE ...] [RETURNING ...].
func Delete(params *request.DeleteParams) Statement {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(params.Table)
	writeWhere(&sb, params.Conditions)
	writeReturning(&sb, params.ReturningColumns)

	return Statement{
		Table:     params.Table,
		SQL:       sb.String(),
		Returning: len(params.ReturningColumns) > 0,
	}
}
