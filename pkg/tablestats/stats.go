// Package tablestats caches per-table column metadata read from the database.
package tablestats

import (
	"context"

	"github.com/ekaya-inc/ekaya-rest/pkg/coltype"
)

// ColumnStat describes one column of a table.
type ColumnStat struct {
	ColumnName string
	// SQLType is the type name as reported by the catalog (udt_name).
	SQLType          string
	Type             coltype.ColumnType
	IsNullable       bool
	IsPrimaryKey     bool
	IsForeignKey     bool
	ForeignKeyTable  *string
	ForeignKeyColumn *string
}

// TableStats is the column metadata of one table in ordinal order.
// Table and column names are lowercase.
type TableStats struct {
	Table   string
	Columns []ColumnStat
}

// Column returns the stat for the named column.
func (s *TableStats) Column(name string) (ColumnStat, bool) {
	for _, c := range s.Columns {
		if c.ColumnName == name {
			return c, true
		}
	}
	return ColumnStat{}, false
}

// ColumnTypes indexes the column types by column name.
func (s *TableStats) ColumnTypes() map[string]coltype.ColumnType {
	types := make(map[string]coltype.ColumnType, len(s.Columns))
	for _, c := range s.Columns {
		types[c.ColumnName] = c.Type
	}
	return types
}

// PrimaryKey returns the primary key column names in ordinal order.
func (s *TableStats) PrimaryKey() []string {
	var pk []string
	for _, c := range s.Columns {
		if c.IsPrimaryKey {
			pk = append(pk, c.ColumnName)
		}
	}
	return pk
}

// Fetcher loads column metadata for a table from the database.
// Implementations return apperrors.ErrNotFound when the table does not exist.
type Fetcher interface {
	FetchTableStats(ctx context.Context, table string) (*TableStats, error)
}

// ResetNotifier is told about every reset requested through Cache.Reset.
type ResetNotifier interface {
	NotifyReset(ctx context.Context) error
}
