//go:build integration

package postgres

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rest/pkg/coltype"
	"github.com/ekaya-inc/ekaya-rest/pkg/database"
	"github.com/ekaya-inc/ekaya-rest/pkg/request"
	"github.com/ekaya-inc/ekaya-rest/pkg/statement"
	"github.com/ekaya-inc/ekaya-rest/pkg/testhelpers"
)

func setupExecutor(t *testing.T) (*Executor, *StatsFetcher) {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	logger := zaptest.NewLogger(t)
	return NewExecutor(testDB.DB.Pool, "", logger), NewStatsFetcher(testDB.DB.Pool, "", logger)
}

func TestStatsFetcher_ForeignKeys(t *testing.T) {
	_, fetcher := setupExecutor(t)

	stats, err := fetcher.FetchTableStats(context.Background(), "child")
	require.NoError(t, err)

	require.Len(t, stats.Columns, 3)
	assert.Equal(t, "child", stats.Table)
	assert.Equal(t, []string{"id"}, stats.PrimaryKey())

	name, ok := stats.Column("name")
	require.True(t, ok)
	assert.Equal(t, coltype.TypeVarChar, name.Type)
	assert.False(t, name.IsNullable)
	assert.False(t, name.IsForeignKey)

	parent, ok := stats.Column("parent_id")
	require.True(t, ok)
	assert.True(t, parent.IsForeignKey)
	assert.True(t, parent.IsNullable)
	require.NotNil(t, parent.ForeignKeyTable)
	require.NotNil(t, parent.ForeignKeyColumn)
	assert.Equal(t, "adult", *parent.ForeignKeyTable)
	assert.Equal(t, "id", *parent.ForeignKeyColumn)
}

func TestStatsFetcher_Types(t *testing.T) {
	_, fetcher := setupExecutor(t)

	stats, err := fetcher.FetchTableStats(context.Background(), "type_test")
	require.NoError(t, err)

	types := stats.ColumnTypes()
	assert.Equal(t, coltype.TypeInt, types["id"])
	assert.Equal(t, coltype.TypeCitext, types["t_citext"])
	assert.Equal(t, coltype.TypeHStore, types["t_hstore"])
	assert.Equal(t, coltype.TypeDecimal, types["t_decimal"])
	assert.Equal(t, coltype.TypeTimestampTZ, types["t_timestamptz"])

	// Arrays are listed but have no supported type.
	arr, ok := stats.Column("t_int_array")
	require.True(t, ok)
	assert.Equal(t, "_int4", arr.SQLType)
	assert.False(t, arr.Type.Valid())
}

func TestStatsFetcher_MissingTable(t *testing.T) {
	_, fetcher := setupExecutor(t)

	_, err := fetcher.FetchTableStats(context.Background(), "no_such_table")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestExecutor_ListTables(t *testing.T) {
	exec, _ := setupExecutor(t)

	tables, err := exec.ListTables(context.Background())
	require.NoError(t, err)
	assert.Subset(t, tables, []string{"adult", "child", "company", "type_test", "upsert_test"})
}

func TestExecutor_RoundTripsEveryType(t *testing.T) {
	exec, fetcher := setupExecutor(t)
	ctx := context.Background()

	stats, err := fetcher.FetchTableStats(ctx, "type_test")
	require.NoError(t, err)

	body := `{
		"t_bigint": 9007199254740993,
		"t_bool": true,
		"t_bytea": "AQID",
		"t_char": "abcd",
		"t_citext": "MiXeD",
		"t_date": "2024-02-29",
		"t_decimal": 12345.6789,
		"t_double": 1.5,
		"t_hstore": {"a": "1", "b": null},
		"t_int": -7,
		"t_json": {"k": [1, 2]},
		"t_jsonb": {"k": "v"},
		"t_macaddr": "08:00:2b:01:02:03",
		"t_name": "pg_name",
		"t_oid": 42,
		"t_real": 0.25,
		"t_smallint": 12,
		"t_text": "hello",
		"t_time": "13:45:00.5",
		"t_timestamp": "2024-01-02T03:04:05.123456",
		"t_timestamptz": "2024-01-02T03:04:05Z",
		"t_uuid": "0b9e7b76-4a6c-4d5e-9d0a-6f0f3c1d2e3f",
		"t_varchar": "short"
	}`
	params, err := request.NewParser(request.Options{}).Insert("type_test",
		url.Values{"returning_columns": {"*"}}, []byte("["+body+"]"))
	require.NoError(t, err)

	stmt, err := statement.InsertBatch(params, params.Rows, stats)
	require.NoError(t, err)

	result, err := exec.Query(ctx, stmt)
	require.NoError(t, err)
	require.Len(t, result, 1)

	got := result[0]
	expectJSON(t, got, "t_bigint", `9007199254740993`)
	expectJSON(t, got, "t_bytea", `"AQID"`)
	expectJSON(t, got, "t_citext", `"MiXeD"`)
	expectJSON(t, got, "t_date", `"2024-02-29"`)
	expectJSON(t, got, "t_decimal", `12345.6789`)
	expectJSON(t, got, "t_hstore", `{"a": "1", "b": null}`)
	expectJSON(t, got, "t_json", `{"k": [1, 2]}`)
	expectJSON(t, got, "t_macaddr", `"08:00:2b:01:02:03"`)
	expectJSON(t, got, "t_oid", `42`)
	expectJSON(t, got, "t_real", `0.25`)
	expectJSON(t, got, "t_time", `"13:45:00.5"`)
	expectJSON(t, got, "t_timestamp", `"2024-01-02T03:04:05.123456"`)
	expectJSON(t, got, "t_uuid", `"0b9e7b76-4a6c-4d5e-9d0a-6f0f3c1d2e3f"`)
	expectJSON(t, got, "t_int_array", `null`)
}

func TestExecutor_UnsupportedResultType(t *testing.T) {
	exec, _ := setupExecutor(t)

	_, err := exec.Query(context.Background(), statement.Statement{
		Table:     "type_test",
		SQL:       "SELECT ARRAY[1, 2] AS t_int_array",
		Returning: true,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTypeConversion, apperrors.KindOf(err))
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedType)
}

func TestExecutor_DatabaseErrorCarriesSQLState(t *testing.T) {
	exec, _ := setupExecutor(t)

	_, err := exec.Exec(context.Background(), statement.Statement{
		SQL:  "INSERT INTO company (id, name) VALUES ($1, $2)",
		Args: []any{int64(1), "Duplicate"},
	})
	require.Error(t, err)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindDatabaseExecution, appErr.Kind)
	assert.Equal(t, "23505", appErr.SQLState)
}

func TestExecutor_InTxRollsBack(t *testing.T) {
	exec, _ := setupExecutor(t)
	ctx := context.Background()

	insert := statement.Statement{
		SQL:  "INSERT INTO upsert_test (code, label) VALUES ($1, $2)",
		Args: []any{"tx-rollback", "first"},
	}
	err := exec.InTx(ctx, func(r Runner) error {
		if _, err := r.Exec(ctx, insert); err != nil {
			return err
		}
		// Same primary key again: the whole transaction must roll back.
		_, err := r.Exec(ctx, insert)
		return err
	})
	require.Error(t, err)

	rows, err := exec.Query(ctx, statement.Statement{
		SQL:  "SELECT code FROM upsert_test WHERE code = $1",
		Args: []any{"tx-rollback"},
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExecutor_UsesConfiguredSchema(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	// Same table name in both schemas: statements must land in inventory.
	for _, ddl := range []string{
		"CREATE SCHEMA IF NOT EXISTS inventory",
		"CREATE TABLE IF NOT EXISTS inventory.widget (id serial PRIMARY KEY, label text NOT NULL)",
		"CREATE TABLE IF NOT EXISTS public.widget (id serial PRIMARY KEY, label text NOT NULL)",
	} {
		_, err := testDB.DB.Pool.Exec(ctx, ddl)
		require.NoError(t, err)
	}

	logger := zaptest.NewLogger(t)
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            testDB.ConnStr,
		Schema:         "inventory",
		MaxConnections: 2,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	exec := NewExecutor(db.Pool, "inventory", logger)
	fetcher := NewStatsFetcher(db.Pool, "inventory", logger)
	parser := request.NewParser(request.Options{})

	stats, err := fetcher.FetchTableStats(ctx, "widget")
	require.NoError(t, err)

	insert, err := parser.Insert("widget", url.Values{}, []byte(`[{"label": "schema-scoped"}]`))
	require.NoError(t, err)
	stmt, err := statement.InsertBatch(insert, insert.Rows, stats)
	require.NoError(t, err)
	affected, err := exec.Exec(ctx, stmt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	sel, err := parser.Select("widget", url.Values{"where": {"label = 'schema-scoped'"}})
	require.NoError(t, err)
	stmt, err = statement.Select(sel, nil)
	require.NoError(t, err)
	rows, err := exec.Query(ctx, stmt)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	expectJSON(t, rows[0], "label", `"schema-scoped"`)

	var inPublic int
	err = testDB.DB.Pool.QueryRow(ctx, "SELECT count(*) FROM public.widget WHERE label = 'schema-scoped'").Scan(&inPublic)
	require.NoError(t, err)
	assert.Zero(t, inPublic)

	tables, err := exec.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"widget"}, tables)
}

func expectJSON(t *testing.T, row request.Row, column, want string) {
	t.Helper()
	got, ok := row.Get(column)
	require.True(t, ok, "column %s missing", column)
	assert.JSONEq(t, want, string(got), "column %s", column)
}
