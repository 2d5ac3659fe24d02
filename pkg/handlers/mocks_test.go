package handlers

import (
	"context"
	"net/url"

	"github.com/ekaya-inc/ekaya-rest/pkg/services"
)

// mockTableService records the last call and returns canned results.
type mockTableService struct {
	result *services.QueryResult
	tables []string
	err    error

	method string
	table  string
	query  url.Values
	body   []byte
	resets int
}

var _ services.TableService = (*mockTableService)(nil)

func (m *mockTableService) record(method, table string, query url.Values, body []byte) (*services.QueryResult, error) {
	m.method, m.table, m.query, m.body = method, table, query, body
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockTableService) Select(ctx context.Context, table string, query url.Values) (*services.QueryResult, error) {
	return m.record("select", table, query, nil)
}

func (m *mockTableService) Insert(ctx context.Context, table string, query url.Values, body []byte) (*services.QueryResult, error) {
	return m.record("insert", table, query, body)
}

func (m *mockTableService) Update(ctx context.Context, table string, query url.Values, body []byte) (*services.QueryResult, error) {
	return m.record("update", table, query, body)
}

func (m *mockTableService) Delete(ctx context.Context, table string, query url.Values) (*services.QueryResult, error) {
	return m.record("delete", table, query, nil)
}

func (m *mockTableService) ListTables(ctx context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tables, nil
}

func (m *mockTableService) EnableCache() {}

func (m *mockTableService) ResetCache(ctx context.Context) error {
	m.resets++
	return m.err
}

func (m *mockTableService) SetResetTimer(seconds uint32) {}
