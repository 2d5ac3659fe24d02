package statement

import (
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rest/pkg/foreignkeys"
	"github.com/ekaya-inc/ekaya-rest/pkg/request"
)

// Select builds
//
//	SELECT [DISTINCT ON (...)] columns FROM table [joins] [WHERE ...]
//	  [GROUP BY ...] [ORDER BY ...] LIMIT n OFFSET m
//
// Without foreign key references the column lists are written as given.
// With references, each one becomes a LEFT JOIN aliased by its dotted path,
// a selected column "a.b.c" is written as "a.b".c AS "a.b.c", and plain
// columns are qualified with the base table. Selected dotted columns with no
// matching reference are left out.
func Select(params *request.SelectParams, fks []foreignkeys.Reference) (Statement, error) {
	if len(params.Columns) == 0 {
		return Statement{}, apperrors.RequestValidation("At least one column must be selected from %q.", params.Table)
	}

	q := newQualifier(params.Table, fks)

	columns := make([]string, 0, len(params.Columns))
	for _, col := range params.Columns {
		expr, ok := q.selectExpr(col)
		if ok {
			columns = append(columns, expr)
		}
	}
	if len(columns) == 0 {
		return Statement{}, apperrors.RequestValidation("None of the requested columns of %q could be resolved.", params.Table)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(params.Distinct) > 0 {
		distinct, err := q.list("distinct", params.Distinct)
		if err != nil {
			return Statement{}, err
		}
		sb.WriteString("DISTINCT ON (")
		sb.WriteString(distinct)
		sb.WriteString(") ")
	}
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(params.Table)
	writeJoins(&sb, params.Table, "", fks)
	writeWhere(&sb, params.Conditions)

	if len(params.GroupBy) > 0 {
		groupBy, err := q.list("group_by", params.GroupBy)
		if err != nil {
			return Statement{}, err
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(groupBy)
	}
	if len(params.OrderBy) > 0 {
		orderBy, err := q.list("order_by", params.OrderBy)
		if err != nil {
			return Statement{}, err
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(orderBy)
	}

	sb.WriteString(" LIMIT ")
	sb.WriteString(strconv.FormatInt(params.Limit, 10))
	sb.WriteString(" OFFSET ")
	sb.WriteString(strconv.FormatInt(params.Offset, 10))

	return Statement{Table: params.Table, SQL: sb.String(), Returning: true}, nil
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}

func writeJoins(sb *strings.Builder, parent, prefix string, refs []foreignkeys.Reference) {
	for _, ref := range refs {
		if ref.TableColumnReferred == "" {
			continue
		}
		path := prefix + ref.ReferringColumn
		alias := quoteIdent(path)
		sb.WriteString(" LEFT JOIN ")
		sb.WriteString(ref.TableReferred)
		sb.WriteString(" AS ")
		sb.WriteString(alias)
		sb.WriteString(" ON ")
		sb.WriteString(parent + "." + ref.ReferringColumn)
		sb.WriteString(" = ")
		sb.WriteString(alias + "." + ref.TableColumnReferred)
		writeJoins(sb, alias, path+".", ref.NestedFKs)
	}
}

// qualifier rewrites column references against the joined tables.
type qualifier struct {
	table  string
	joined bool
	paths  map[string]bool
}

func newQualifier(table string, fks []foreignkeys.Reference) *qualifier {
	q := &qualifier{table: table, paths: make(map[string]bool)}
	q.collect("", fks)
	q.joined = len(q.paths) > 0
	return q
}

func (q *qualifier) collect(prefix string, refs []foreignkeys.Reference) {
	for _, ref := range refs {
		if ref.TableColumnReferred == "" {
			continue
		}
		path := prefix + ref.ReferringColumn
		q.paths[path] = true
		q.collect(path+".", ref.NestedFKs)
	}
}

// column returns the qualified reference for col and whether it resolves.
func (q *qualifier) column(col string) (string, bool) {
	idx := strings.LastIndexByte(col, '.')
	if idx < 0 {
		if !q.joined {
			return col, true
		}
		return q.table + "." + col, true
	}
	path := col[:idx]
	if !q.paths[path] {
		return "", false
	}
	return quoteIdent(path) + "." + col[idx+1:], true
}

func (q *qualifier) selectExpr(col string) (string, bool) {
	if col == "*" {
		if q.joined {
			return q.table + ".*", true
		}
		return col, true
	}
	expr, ok := q.column(col)
	if !ok {
		return "", false
	}
	if strings.Contains(col, ".") {
		expr += " AS " + quoteIdent(col)
	}
	return expr, true
}

// list qualifies the leading column of every term, keeping modifiers such as
// "desc nulls last".
func (q *qualifier) list(param string, terms []string) (string, error) {
	out := make([]string, len(terms))
	for i, term := range terms {
		col, modifiers, _ := strings.Cut(term, " ")
		expr, ok := q.column(col)
		if !ok {
			return "", apperrors.RequestValidation("`%s` references %q, which is not a foreign key path of %q.", param, col, q.table)
		}
		if modifiers != "" {
			expr += " " + modifiers
		}
		out[i] = expr
	}
	return strings.Join(out, ", "), nil
}
