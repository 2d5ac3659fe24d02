package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	sqlutil "github.com/ekaya-inc/ekaya-rest/pkg/sql"
)

// Query-string parameter names.
const (
	ParamColumns          = "columns"
	ParamConfirmDelete    = "confirm_delete"
	ParamConflictAction   = "conflict_action"
	ParamConflictTarget   = "conflict_target"
	ParamDistinct         = "distinct"
	ParamFrom             = "from"
	ParamGroupBy          = "group_by"
	ParamLimit            = "limit"
	ParamOffset           = "offset"
	ParamOrderBy          = "order_by"
	ParamReturningColumns = "returning_columns"
	ParamWhere            = "where"
)

// DefaultLimit is the SELECT row limit when the caller does not pass one.
const DefaultLimit = 10000

// Options tunes the parser.
type Options struct {
	// DefaultLimit replaces the SELECT limit when limit is absent. Zero means DefaultLimit.
	DefaultLimit int64
	// InspectWhere runs libinjection over where clauses.
	InspectWhere bool
}

// Parser validates raw request input. It holds no mutable state.
type Parser struct {
	defaultLimit int64
	inspectWhere bool
}

// NewParser creates a Parser.
func NewParser(opts Options) *Parser {
	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Parser{defaultLimit: limit, inspectWhere: opts.InspectWhere}
}

// Select parses a GET request. Without columns every column is selected.
func (p *Parser) Select(table string, query url.Values) (*SelectParams, error) {
	params := &SelectParams{Columns: []string{"*"}}

	var err error
	if params.Table, err = tableName(table); err != nil {
		return nil, err
	}
	if query.Has(ParamColumns) {
		if params.Columns, err = selectColumns(query.Get(ParamColumns)); err != nil {
			return nil, err
		}
	}
	if params.Distinct, err = optionalColumnList(query, ParamDistinct, sqlutil.ValidateColumnRef); err != nil {
		return nil, err
	}
	if params.GroupBy, err = optionalColumnList(query, ParamGroupBy, sqlutil.ValidateColumnRef); err != nil {
		return nil, err
	}
	if params.OrderBy, err = orderBy(query); err != nil {
		return nil, err
	}
	if params.Conditions, err = p.where(query); err != nil {
		return nil, err
	}
	if params.Limit, err = nonNegative(query, ParamLimit, p.defaultLimit); err != nil {
		return nil, err
	}
	if params.Offset, err = nonNegative(query, ParamOffset, 0); err != nil {
		return nil, err
	}
	return params, nil
}

// Insert parses a POST request. body must be a JSON array of objects.
func (p *Parser) Insert(table string, query url.Values, body []byte) (*InsertParams, error) {
	params := &InsertParams{}

	var err error
	if params.Table, err = tableName(table); err != nil {
		return nil, err
	}

	hasAction, hasTarget := query.Has(ParamConflictAction), query.Has(ParamConflictTarget)
	if hasAction != hasTarget {
		return nil, apperrors.RequestValidation("`conflict_action` and `conflict_target` must both be present for the `ON CONFLICT` clause to be generated correctly.")
	}
	if hasAction {
		action := ConflictAction(strings.ToLower(strings.TrimSpace(query.Get(ParamConflictAction))))
		if action != ConflictNothing && action != ConflictUpdate {
			return nil, apperrors.RequestValidation("Valid options for `conflict_action` are: `nothing`, `update`.")
		}
		params.ConflictAction = action
		if params.ConflictTarget, err = columnList(ParamConflictTarget, query.Get(ParamConflictTarget), sqlutil.ValidateIdentifier); err != nil {
			return nil, err
		}
	}

	if params.ReturningColumns, err = returningColumns(query); err != nil {
		return nil, err
	}

	if params.Rows, err = insertRows(body); err != nil {
		return nil, err
	}
	return params, nil
}

// Update parses a PUT or PATCH request. body must be a single JSON object.
func (p *Parser) Update(table string, query url.Values, body []byte) (*UpdateParams, error) {
	params := &UpdateParams{}

	var err error
	if params.Table, err = tableName(table); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, apperrors.RequestValidation("Request body must be a JSON object whose key-values represent column names and the values to set.")
	}
	if params.ColumnValues, err = decodeRow(trimmed); err != nil {
		return nil, err
	}
	if params.ColumnValues.Len() == 0 {
		return nil, apperrors.RequestValidation("Request body must set at least one column.")
	}

	if params.From, err = optionalColumnList(query, ParamFrom, sqlutil.ValidateIdentifier); err != nil {
		return nil, err
	}
	if params.Conditions, err = p.where(query); err != nil {
		return nil, err
	}
	if params.ReturningColumns, err = returningColumns(query); err != nil {
		return nil, err
	}
	return params, nil
}

// Delete parses a DELETE request, which must carry confirm_delete.
func (p *Parser) Delete(table string, query url.Values) (*DeleteParams, error) {
	params := &DeleteParams{}

	var err error
	if params.Table, err = tableName(table); err != nil {
		return nil, err
	}
	if !query.Has(ParamConfirmDelete) || strings.EqualFold(strings.TrimSpace(query.Get(ParamConfirmDelete)), "false") {
		return nil, apperrors.RequestValidation("The query parameter `confirm_delete` is required for DELETE operations.")
	}
	params.Confirmed = true

	if params.Conditions, err = p.where(query); err != nil {
		return nil, err
	}
	if params.ReturningColumns, err = returningColumns(query); err != nil {
		return nil, err
	}
	return params, nil
}

func tableName(raw string) (string, error) {
	table := strings.ToLower(strings.TrimSpace(raw))
	if !sqlutil.IsIdentifier(table) {
		return "", apperrors.RequestValidation("%q is not a valid table name.", raw)
	}
	return table, nil
}

func selectColumns(raw string) ([]string, error) {
	return columnList(ParamColumns, raw, func(col string) error {
		if col == "*" {
			return nil
		}
		return sqlutil.ValidateColumnRef(col)
	})
}

func optionalColumnList(query url.Values, name string, validate func(string) error) ([]string, error) {
	if !query.Has(name) {
		return nil, nil
	}
	return columnList(name, query.Get(name), validate)
}

func columnList(name, raw string, validate func(string) error) ([]string, error) {
	items, err := sqlutil.SplitList(strings.ToLower(raw))
	if err != nil {
		return nil, apperrors.RequestValidation("`%s` must be a comma-separated list of column names without empty entries.", name)
	}
	for _, item := range items {
		if err := validate(item); err != nil {
			return nil, apperrors.RequestValidation("`%s`: %v", name, err)
		}
	}
	return items, nil
}

func orderBy(query url.Values) ([]string, error) {
	if !query.Has(ParamOrderBy) {
		return nil, nil
	}
	items, err := sqlutil.SplitList(strings.ToLower(query.Get(ParamOrderBy)))
	if err != nil {
		return nil, apperrors.RequestValidation("`order_by` must be a comma-separated list of column names without empty entries.")
	}
	for i, item := range items {
		if items[i], err = sqlutil.NormalizeOrderTerm(item); err != nil {
			return nil, apperrors.RequestValidation("`order_by`: %v", err)
		}
	}
	return items, nil
}

func returningColumns(query url.Values) ([]string, error) {
	if !query.Has(ParamReturningColumns) {
		return nil, nil
	}
	if query.Get(ParamReturningColumns) == "" {
		return nil, apperrors.RequestValidation("`returning_columns` must be a comma-separated list of column names and include at least one column name.")
	}
	return columnList(ParamReturningColumns, query.Get(ParamReturningColumns), func(col string) error {
		if col == "*" {
			return nil
		}
		return sqlutil.ValidateIdentifier(col)
	})
}

func (p *Parser) where(query url.Values) (string, error) {
	if !query.Has(ParamWhere) {
		return "", nil
	}
	clause, err := sqlutil.ValidateClause(query.Get(ParamWhere))
	if err != nil {
		return "", apperrors.RequestValidation("`where`: %v", err)
	}
	clause = sqlutil.LowercaseOutsideLiterals(clause)

	if p.inspectWhere {
		if res := sqlutil.CheckClauseForInjection(ParamWhere, clause); res != nil {
			return "", apperrors.InjectionRejected(ParamWhere, res.Fingerprint)
		}
	}
	return clause, nil
}

func nonNegative(query url.Values, name string, def int64) (int64, error) {
	if !query.Has(name) {
		return def, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(query.Get(name)), 10, 64)
	if err != nil || n < 0 {
		return 0, apperrors.RequestValidation("`%s` must be a non-negative integer.", name)
	}
	return n, nil
}

const insertBodyMessage = "The body needs to be an array of objects where each object represents a row and whose key-values represent column names and their values."

func insertRows(body []byte) ([]Row, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, apperrors.RequestValidation(insertBodyMessage)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, apperrors.RequestValidation(insertBodyMessage)
	}
	if len(elems) == 0 {
		return nil, apperrors.RequestValidation("The body must contain at least one row.")
	}

	rows := make([]Row, 0, len(elems))
	for _, elem := range elems {
		elem = bytes.TrimSpace(elem)
		if len(elem) == 0 || elem[0] != '{' {
			return nil, apperrors.RequestValidation(insertBodyMessage)
		}
		row, err := decodeRow(elem)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// decodeRow decodes one JSON object, lowercasing and validating its keys.
func decodeRow(obj []byte) (Row, error) {
	raw := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(obj, raw); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, apperrors.RequestValidation("Request body is not valid JSON: %v", err)
		}
		return nil, apperrors.RequestValidation("Request body could not be decoded: %v", err)
	}

	row := orderedmap.New[string, json.RawMessage](raw.Len())
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		key := strings.ToLower(pair.Key)
		if err := sqlutil.ValidateIdentifier(key); err != nil {
			return nil, apperrors.RequestValidation("Column %q: %v", pair.Key, err)
		}
		if _, present := row.Set(key, pair.Value); present {
			return nil, apperrors.RequestValidation("Column %q appears more than once.", key)
		}
	}
	return row, nil
}
