package services

import (
	"context"
	"encoding/json"

	"github.com/ekaya-inc/ekaya-rest/pkg/adapters/postgres"
	"github.com/ekaya-inc/ekaya-rest/pkg/request"
	"github.com/ekaya-inc/ekaya-rest/pkg/statement"
)

// QueryResult is either the rows a statement returned or, for statements
// without RETURNING, the number of rows it affected.
type QueryResult struct {
	Rows      []request.Row
	NumRows   int64
	Returning bool
}

// MarshalJSON writes the rows as an array, or {"num_rows": n}.
func (r *QueryResult) MarshalJSON() ([]byte, error) {
	if r.Returning {
		rows := r.Rows
		if rows == nil {
			rows = []request.Row{}
		}
		return json.Marshal(rows)
	}
	return json.Marshal(struct {
		NumRows int64 `json:"num_rows"`
	}{r.NumRows})
}

func run(ctx context.Context, r postgres.Runner, stmt statement.Statement) (*QueryResult, error) {
	if stmt.Returning {
		rows, err := r.Query(ctx, stmt)
		if err != nil {
			return nil, err
		}
		return &QueryResult{Rows: rows, Returning: true}, nil
	}

	n, err := r.Exec(ctx, stmt)
	if err != nil {
		return nil, err
	}
	return &QueryResult{NumRows: n}, nil
}

// runAll runs stmts in order and merges their results. Every statement of a
// request has the same RETURNING clause.
func runAll(ctx context.Context, r postgres.Runner, stmts []statement.Statement) (*QueryResult, error) {
	total := &QueryResult{}
	for _, stmt := range stmts {
		res, err := run(ctx, r, stmt)
		if err != nil {
			return nil, err
		}
		total.Returning = res.Returning
		total.Rows = append(total.Rows, res.Rows...)
		total.NumRows += res.NumRows
	}
	return total, nil
}
