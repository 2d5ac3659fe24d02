package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rest/pkg/adapters/postgres"
	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rest/pkg/foreignkeys"
	"github.com/ekaya-inc/ekaya-rest/pkg/request"
	"github.com/ekaya-inc/ekaya-rest/pkg/statement"
	"github.com/ekaya-inc/ekaya-rest/pkg/tablestats"
)

// TableService turns REST requests on a table into SQL and runs it.
type TableService interface {
	// Row operations
	Select(ctx context.Context, table string, query url.Values) (*QueryResult, error)
	Insert(ctx context.Context, table string, query url.Values, body []byte) (*QueryResult, error)
	Update(ctx context.Context, table string, query url.Values, body []byte) (*QueryResult, error)
	Delete(ctx context.Context, table string, query url.Values) (*QueryResult, error)

	// Schema
	ListTables(ctx context.Context) ([]string, error)

	// Cache control
	EnableCache()
	ResetCache(ctx context.Context) error
	SetResetTimer(seconds uint32)
}

// StatsCache is the table metadata source. *tablestats.Cache implements it.
type StatsCache interface {
	Get(ctx context.Context, table string) (*tablestats.TableStats, error)
	Enable()
	Reset(ctx context.Context) error
	SetResetTimer(seconds uint32)
}

// StatementExecutor runs statements. *postgres.Executor implements it.
type StatementExecutor interface {
	postgres.Runner
	InTx(ctx context.Context, fn func(postgres.Runner) error) error
	ListTables(ctx context.Context) ([]string, error)
}

// TableServiceConfig tunes statement execution.
type TableServiceConfig struct {
	// InsertBatchSize is the number of rows per INSERT statement.
	InsertBatchSize int
	// PerBatchCommit commits every INSERT batch on its own instead of
	// running all batches of a request in one transaction.
	PerBatchCommit bool
}

type tableService struct {
	cache    StatsCache
	resolver *foreignkeys.Resolver
	exec     StatementExecutor
	parser   *request.Parser
	cfg      TableServiceConfig
	logger   *zap.Logger
}

var _ TableService = (*tableService)(nil)

// NewTableService creates a TableService.
func NewTableService(
	cache StatsCache,
	exec StatementExecutor,
	parser *request.Parser,
	cfg TableServiceConfig,
	logger *zap.Logger,
) TableService {
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = statement.DefaultBatchSize
	}
	return &tableService{
		cache:    cache,
		resolver: foreignkeys.NewResolver(cache),
		exec:     exec,
		parser:   parser,
		cfg:      cfg,
		logger:   logger.Named("tables"),
	}
}

// Select runs a SELECT, joining the tables named by dotted column references.
func (s *tableService) Select(ctx context.Context, table string, query url.Values) (*QueryResult, error) {
	params, err := s.parser.Select(table, query)
	if err != nil {
		return nil, err
	}

	refs := referencedColumns(params)
	fks, err := s.resolver.Resolve(ctx, params.Table, refs)
	if err != nil {
		return nil, s.statsError(params.Table, err)
	}
	if unmatched := foreignkeys.Unmatched(refs, fks); len(unmatched) > 0 {
		s.logger.Debug("Column references without a matching foreign key",
			zap.String("table", params.Table),
			zap.Strings("columns", unmatched))
	}

	stmt, err := statement.Select(params, fks)
	if err != nil {
		return nil, err
	}
	return run(ctx, s.exec, stmt)
}

// Insert runs one INSERT per batch of rows. Unless PerBatchCommit is set,
// a request with several batches commits all of them or none.
func (s *tableService) Insert(ctx context.Context, table string, query url.Values, body []byte) (*QueryResult, error) {
	params, err := s.parser.Insert(table, query, body)
	if err != nil {
		return nil, err
	}
	stats, err := s.stats(ctx, params.Table)
	if err != nil {
		return nil, err
	}

	// Build every batch before touching the database so a bad value in the
	// last row cannot leave earlier batches committed.
	batches := statement.BatchRows(params.Rows, s.cfg.InsertBatchSize)
	stmts := make([]statement.Statement, 0, len(batches))
	for _, batch := range batches {
		stmt, err := statement.InsertBatch(params, batch, stats)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}

	s.logger.Debug("Inserting rows",
		zap.String("table", params.Table),
		zap.Int("rows", len(params.Rows)),
		zap.Int("batches", len(stmts)))

	if len(stmts) == 1 || s.cfg.PerBatchCommit {
		return runAll(ctx, s.exec, stmts)
	}

	var result *QueryResult
	err = s.exec.InTx(ctx, func(r postgres.Runner) error {
		var err error
		result, err = runAll(ctx, r, stmts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update runs a single UPDATE.
func (s *tableService) Update(ctx context.Context, table string, query url.Values, body []byte) (*QueryResult, error) {
	params, err := s.parser.Update(table, query, body)
	if err != nil {
		return nil, err
	}
	stats, err := s.stats(ctx, params.Table)
	if err != nil {
		return nil, err
	}

	stmt, err := statement.Update(params, stats)
	if err != nil {
		return nil, err
	}
	return run(ctx, s.exec, stmt)
}

// Delete runs a single DELETE. The request must carry confirm_delete.
func (s *tableService) Delete(ctx context.Context, table string, query url.Values) (*QueryResult, error) {
	params, err := s.parser.Delete(table, query)
	if err != nil {
		return nil, err
	}
	return run(ctx, s.exec, statement.Delete(params))
}

func (s *tableService) ListTables(ctx context.Context) ([]string, error) {
	tables, err := s.exec.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

func (s *tableService) EnableCache() {
	s.cache.Enable()
}

func (s *tableService) ResetCache(ctx context.Context) error {
	return s.cache.Reset(ctx)
}

func (s *tableService) SetResetTimer(seconds uint32) {
	s.cache.SetResetTimer(seconds)
}

func (s *tableService) stats(ctx context.Context, table string) (*tablestats.TableStats, error) {
	stats, err := s.cache.Get(ctx, table)
	if err != nil {
		return nil, s.statsError(table, fmt.Errorf("failed to get stats for %s: %w", table, err))
	}
	return stats, nil
}

// statsError classifies a metadata failure. A missing table is the caller's
// mistake; anything else is a database failure.
func (s *tableService) statsError(table string, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return apperrors.TableNotFound(table)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case apperrors.KindOf(err) != 0:
		return err
	}
	s.logger.Error("Failed to load table stats", zap.String("table", table), zap.Error(err))
	return apperrors.Database(postgres.SQLState(err), err)
}

// referencedColumns lists every column a SELECT names, so dotted references
// in distinct, group_by and order_by get joined too.
func referencedColumns(params *request.SelectParams) []string {
	refs := make([]string, 0, len(params.Columns)+len(params.Distinct)+len(params.GroupBy)+len(params.OrderBy))
	refs = append(refs, params.Columns...)
	refs = append(refs, params.Distinct...)
	refs = append(refs, params.GroupBy...)
	for _, term := range params.OrderBy {
		col, _, _ := strings.Cut(term, " ")
		refs = append(refs, col)
	}
	return refs
}
