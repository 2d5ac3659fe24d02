// Package request turns query-string parameters and JSON bodies into typed
// statement descriptors.
package request

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Row is one JSON object from a request body. Keys keep the order in which
// they appeared.
type Row = *orderedmap.OrderedMap[string, json.RawMessage]

// ConflictAction is the action of an ON CONFLICT clause.
type ConflictAction string

const (
	ConflictNothing ConflictAction = "nothing"
	ConflictUpdate  ConflictAction = "update"
)

// SelectParams describes a SELECT. Optional clauses are nil or empty when absent.
type SelectParams struct {
	Distinct   []string
	Columns    []string
	Table      string
	Conditions string
	GroupBy    []string
	OrderBy    []string
	Limit      int64
	Offset     int64
}

// InsertParams describes a multi-row INSERT. ConflictAction is empty exactly
// when ConflictTarget is nil.
type InsertParams struct {
	Table            string
	Rows             []Row
	ConflictAction   ConflictAction
	ConflictTarget   []string
	ReturningColumns []string
}

// UpdateParams describes an UPDATE.
type UpdateParams struct {
	Table            string
	ColumnValues     Row
	From             []string
	Conditions       string
	ReturningColumns []string
}

// DeleteParams describes a DELETE. Confirmed is always true once parsed.
type DeleteParams struct {
	Table            string
	Conditions       string
	ReturningColumns []string
	Confirmed        bool
}
