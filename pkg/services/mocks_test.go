package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ekaya-inc/ekaya-rest/pkg/adapters/postgres"
	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rest/pkg/request"
	"github.com/ekaya-inc/ekaya-rest/pkg/statement"
	"github.com/ekaya-inc/ekaya-rest/pkg/tablestats"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// mockStatsCache serves fixed table stats.
type mockStatsCache struct {
	mu       sync.Mutex
	tables   map[string]*tablestats.TableStats
	err      error
	gets     []string
	enabled  bool
	resetErr error
	resets   int
	interval uint32
}

func (m *mockStatsCache) Get(ctx context.Context, table string) (*tablestats.TableStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets = append(m.gets, table)
	if m.err != nil {
		return nil, m.err
	}
	stats, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", table, apperrors.ErrNotFound)
	}
	return stats, nil
}

func (m *mockStatsCache) Enable() {
	m.enabled = true
}

func (m *mockStatsCache) Reset(ctx context.Context) error {
	m.resets++
	return m.resetErr
}

func (m *mockStatsCache) SetResetTimer(seconds uint32) {
	m.interval = seconds
}

// mockExecutor records every statement it is asked to run.
type mockExecutor struct {
	mu       sync.Mutex
	queries  []statement.Statement
	execs    []statement.Statement
	txCalls  int
	rows     []request.Row
	affected int64
	err      error
	// failAt makes the nth statement (1-based, across Query and Exec) fail.
	failAt int
	tables []string
}

func (m *mockExecutor) fail() error {
	if m.err != nil {
		return m.err
	}
	if m.failAt > 0 && len(m.queries)+len(m.execs) == m.failAt {
		return apperrors.Database("23505", fmt.Errorf("duplicate key value violates unique constraint"))
	}
	return nil
}

func (m *mockExecutor) Query(ctx context.Context, stmt statement.Statement) ([]request.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, stmt)
	if err := m.fail(); err != nil {
		return nil, err
	}
	return m.rows, nil
}

func (m *mockExecutor) Exec(ctx context.Context, stmt statement.Statement) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs = append(m.execs, stmt)
	if err := m.fail(); err != nil {
		return 0, err
	}
	return m.affected, nil
}

func (m *mockExecutor) InTx(ctx context.Context, fn func(postgres.Runner) error) error {
	m.mu.Lock()
	m.txCalls++
	m.mu.Unlock()
	return fn(m)
}

func (m *mockExecutor) ListTables(ctx context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tables, nil
}

func jsonRow(kv ...string) request.Row {
	r := orderedmap.New[string, json.RawMessage]()
	for i := 0; i < len(kv); i += 2 {
		r.Set(kv[i], json.RawMessage(kv[i+1]))
	}
	return r
}
