// Package statement assembles parameterized SQL for the request descriptors.
// Every function is pure: the same descriptor and metadata always produce the
// same SQL text and arguments.
package statement

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rest/pkg/coltype"
	"github.com/ekaya-inc/ekaya-rest/pkg/tablestats"
)

// Statement is SQL text with its positional arguments.
type Statement struct {
	// Table is the base table, used to name it in conversion errors.
	Table string
	SQL   string
	Args  []any
	// Returning is true when the statement yields rows rather than a count.
	Returning bool
}

// binder hands out $n placeholders and collects their arguments.
type binder struct {
	args []any
}

func (b *binder) bind(v coltype.Value) string {
	b.args = append(b.args, v.Arg())
	return "$" + strconv.Itoa(len(b.args))
}

// convert resolves column's type in stats and converts raw to a Value.
func convert(stats *tablestats.TableStats, types map[string]coltype.ColumnType, column string, raw json.RawMessage) (coltype.Value, error) {
	t, ok := types[column]
	if !ok {
		return nil, apperrors.RequestValidation("Column %q does not exist in table %q.", column, stats.Table)
	}
	v, err := coltype.FromJSON(t, raw)
	if err != nil {
		return nil, apperrors.TypeConversion(stats.Table, column, err)
	}
	return v, nil
}

func writeReturning(sb *strings.Builder, columns []string) {
	if len(columns) == 0 {
		return
	}
	sb.WriteString(" RETURNING ")
	sb.WriteString(strings.Join(columns, ", "))
}

func writeWhere(sb *strings.Builder, conditions string) {
	if conditions == "" {
		return
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(conditions)
}
