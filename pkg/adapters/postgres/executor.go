// Package postgres runs generated statements against PostgreSQL through a
// pgx pool and reads table metadata from its catalogs.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rest/pkg/coltype"
	"github.com/ekaya-inc/ekaya-rest/pkg/logging"
	"github.com/ekaya-inc/ekaya-rest/pkg/request"
	"github.com/ekaya-inc/ekaya-rest/pkg/statement"
)

// Runner executes statements on the pool or inside a transaction.
type Runner interface {
	// Query runs stmt and converts every returned row to JSON values.
	Query(ctx context.Context, stmt statement.Statement) ([]request.Row, error)
	// Exec runs stmt and returns the number of affected rows.
	Exec(ctx context.Context, stmt statement.Statement) (int64, error)
}

// conn is the subset of pgxpool.Pool and pgx.Tx a runner needs.
type conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Executor runs statements on a pgx pool.
type Executor struct {
	pool   *pgxpool.Pool
	schema string
	logger *zap.Logger
	runner
}

var _ Runner = (*Executor)(nil)

// NewExecutor creates an Executor. Tables are listed from schema.
func NewExecutor(pool *pgxpool.Pool, schema string, logger *zap.Logger) *Executor {
	if schema == "" {
		schema = DefaultSchema
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("executor")
	return &Executor{
		pool:   pool,
		schema: schema,
		logger: logger,
		runner: runner{conn: pool, logger: logger},
	}
}

// InTx runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (e *Executor) InTx(ctx context.Context, fn func(Runner) error) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&runner{conn: tx, logger: e.logger}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapDBError("failed to commit transaction", err)
	}
	return nil
}

type runner struct {
	conn   conn
	logger *zap.Logger
}

func (r *runner) Query(ctx context.Context, stmt statement.Statement) ([]request.Row, error) {
	r.logger.Debug("Running query",
		zap.String("sql", logging.SanitizeQuery(stmt.SQL)),
		zap.Int("args", len(stmt.Args)))

	rows, err := r.conn.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, wrapDBError("failed to execute query", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := make([]request.Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, wrapDBError("failed to read row values", err)
		}
		row, err := toRow(stmt.Table, fields, values)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapDBError("error iterating rows", err)
	}

	return result, nil
}

func (r *runner) Exec(ctx context.Context, stmt statement.Statement) (int64, error) {
	r.logger.Debug("Running statement",
		zap.String("sql", logging.SanitizeQuery(stmt.SQL)),
		zap.Int("args", len(stmt.Args)))

	tag, err := r.conn.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, wrapDBError("failed to execute statement", err)
	}
	return tag.RowsAffected(), nil
}

// toRow converts one result row. Columns whose type OID is not built in
// (citext, hstore) are typed from the value pgx decoded.
func toRow(table string, fields []pgconn.FieldDescription, values []any) (request.Row, error) {
	row := orderedmap.New[string, json.RawMessage](len(fields))
	for i, fd := range fields {
		name := fd.Name
		v := values[i]

		t, ok := coltype.TypeFromOID(fd.DataTypeOID)
		if !ok && v != nil {
			t, ok = coltype.InferType(v)
		}
		if !ok {
			if v != nil {
				return nil, apperrors.TypeConversion(table, name,
					fmt.Errorf("%w: result type oid %d", apperrors.ErrUnsupportedType, fd.DataTypeOID))
			}
			row.Set(name, json.RawMessage("null"))
			continue
		}

		value, err := coltype.FromDriver(t, v)
		if err != nil {
			return nil, apperrors.TypeConversion(table, name, err)
		}
		raw, err := json.Marshal(value.JSON())
		if err != nil {
			return nil, apperrors.TypeConversion(table, name, err)
		}
		row.Set(name, raw)
	}
	return row, nil
}

// SQLState returns the SQLSTATE of the first PostgreSQL error in err's
// chain, or "" when there is none.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// wrapDBError keeps the driver message and SQLSTATE for callers.
func wrapDBError(msg string, err error) error {
	if code := SQLState(err); code != "" {
		return apperrors.Database(code, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return apperrors.Database("", fmt.Errorf("%s: %w", msg, err))
}
