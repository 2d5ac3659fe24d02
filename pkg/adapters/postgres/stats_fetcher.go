package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rest/pkg/coltype"
	"github.com/ekaya-inc/ekaya-rest/pkg/tablestats"
)

// DefaultSchema is the schema tables are looked up in when none is configured.
const DefaultSchema = "public"

// StatsFetcher reads column metadata from information_schema and pg_catalog.
type StatsFetcher struct {
	pool   *pgxpool.Pool
	schema string
	logger *zap.Logger
}

var _ tablestats.Fetcher = (*StatsFetcher)(nil)

// NewStatsFetcher creates a StatsFetcher for tables in schema.
func NewStatsFetcher(pool *pgxpool.Pool, schema string, logger *zap.Logger) *StatsFetcher {
	if schema == "" {
		schema = DefaultSchema
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsFetcher{pool: pool, schema: schema, logger: logger}
}

// Columns of a table with primary key membership and, for foreign key
// columns, the referenced table and column. A column in several foreign keys
// reports the first constraint by name.
const tableStatsQuery = `
	SELECT
		c.column_name,
		c.udt_name,
		c.is_nullable = 'YES' AS is_nullable,
		COALESCE(pk.is_pk, false) AS is_primary_key,
		fk.foreign_table,
		fk.foreign_column
	FROM information_schema.columns c
	LEFT JOIN (
		SELECT a.attname::text AS column_name, true AS is_pk
		FROM pg_index i
		JOIN pg_class t ON t.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indisprimary
		  AND n.nspname = $1
		  AND t.relname = $2
	) pk ON pk.column_name = c.column_name
	LEFT JOIN (
		SELECT DISTINCT ON (kcu.column_name)
			kcu.column_name,
			ccu.table_name AS foreign_table,
			ccu.column_name AS foreign_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1
		  AND tc.table_name = $2
		ORDER BY kcu.column_name, tc.constraint_name
	) fk ON fk.column_name = c.column_name
	WHERE c.table_schema = $1
	  AND c.table_name = $2
	ORDER BY c.ordinal_position
`

// FetchTableStats returns the columns of table in ordinal order. Columns of a
// type the engine cannot convert are still listed with a zero Type; the
// error surfaces only when a request binds or reads such a column.
func (f *StatsFetcher) FetchTableStats(ctx context.Context, table string) (*tablestats.TableStats, error) {
	rows, err := f.pool.Query(ctx, tableStatsQuery, f.schema, table)
	if err != nil {
		return nil, fmt.Errorf("query table stats: %w", err)
	}
	defer rows.Close()

	stats := &tablestats.TableStats{Table: strings.ToLower(table)}
	for rows.Next() {
		var col tablestats.ColumnStat
		if err := rows.Scan(&col.ColumnName, &col.SQLType, &col.IsNullable, &col.IsPrimaryKey,
			&col.ForeignKeyTable, &col.ForeignKeyColumn); err != nil {
			return nil, fmt.Errorf("scan column stat: %w", err)
		}

		col.ColumnName = strings.ToLower(col.ColumnName)
		col.IsForeignKey = col.ForeignKeyTable != nil && col.ForeignKeyColumn != nil
		if col.IsForeignKey {
			*col.ForeignKeyTable = strings.ToLower(*col.ForeignKeyTable)
			*col.ForeignKeyColumn = strings.ToLower(*col.ForeignKeyColumn)
		}

		t, err := coltype.ParseColumnType(col.SQLType)
		if err != nil {
			f.logger.Debug("Column has an unsupported type",
				zap.String("table", table),
				zap.String("column", col.ColumnName),
				zap.String("sql_type", col.SQLType))
		}
		col.Type = t

		stats.Columns = append(stats.Columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column stats: %w", err)
	}

	if len(stats.Columns) == 0 {
		return nil, fmt.Errorf("table %q in schema %q: %w", table, f.schema, apperrors.ErrNotFound)
	}

	return stats, nil
}
