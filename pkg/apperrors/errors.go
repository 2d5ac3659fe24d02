package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnsupportedType     = errors.New("unsupported column type")
	ErrTypeMismatch        = errors.New("value does not match column type")
	ErrCacheNotEnabled     = errors.New("table stats cache is not enabled")
	ErrCacheNotInitialized = errors.New("table stats cache was not initialized")
)

// Error codes surfaced to API callers.
const (
	CodeIncorrectRequestBody = "INCORRECT_REQUEST_BODY"
	CodeCacheNotEnabled      = "TABLE_STATS_CACHE_NOT_ENABLED"
	CodeCacheNotInitialized  = "TABLE_STATS_CACHE_NOT_INITIALIZED"
	CodeUnsupportedDataType  = "UNSUPPORTED_DATA_TYPE"
	CodeInvalidColumnValue   = "INVALID_COLUMN_VALUE"
	CodeTableNotFound        = "TABLE_NOT_FOUND"
	CodeDatabaseError        = "DATABASE_ERROR"
	CodeInternalError        = "INTERNAL_ERROR"
)

// Kind classifies an Error for propagation and status mapping.
type Kind int

const (
	KindRequestValidation Kind = iota + 1
	KindTypeConversion
	KindCacheMisuse
	KindDatabaseExecution
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindRequestValidation:
		return "request_validation"
	case KindTypeConversion:
		return "type_conversion"
	case KindCacheMisuse:
		return "cache_misuse"
	case KindDatabaseExecution:
		return "database_execution"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a coded error carrying the caller-facing code and message.
// Err holds the sentinel or driver error it was built from, so errors.Is
// and errors.As keep working through it.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// SQLState is set for database errors when the driver reports one.
	SQLState string
	Err      error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RequestValidation builds an INCORRECT_REQUEST_BODY error.
func RequestValidation(format string, args ...any) *Error {
	return &Error{
		Kind:    KindRequestValidation,
		Code:    CodeIncorrectRequestBody,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrInvalidRequest,
	}
}

// TypeConversion wraps a conversion failure for a column of a table.
func TypeConversion(table, column string, err error) *Error {
	code := CodeInvalidColumnValue
	if errors.Is(err, ErrUnsupportedType) {
		code = CodeUnsupportedDataType
	}
	return &Error{
		Kind:    KindTypeConversion,
		Code:    code,
		Message: fmt.Sprintf("column %q of table %q: %v", column, table, err),
		Err:     err,
	}
}

// InjectionError marks a clause that libinjection fingerprinted as SQL
// injection. It matches ErrInvalidRequest.
type InjectionError struct {
	Param       string
	Fingerprint string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("suspected SQL injection in %s (fingerprint %s)", e.Param, e.Fingerprint)
}

func (e *InjectionError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// InjectionRejected builds an INCORRECT_REQUEST_BODY error for a clause
// rejected by injection inspection.
func InjectionRejected(param, fingerprint string) *Error {
	return &Error{
		Kind:    KindRequestValidation,
		Code:    CodeIncorrectRequestBody,
		Message: fmt.Sprintf("`%s` was rejected as a likely SQL injection (fingerprint %s).", param, fingerprint),
		Err:     &InjectionError{Param: param, Fingerprint: fingerprint},
	}
}

// CacheNotEnabled is returned when a reset is requested on a disabled cache.
func CacheNotEnabled() *Error {
	return &Error{
		Kind: KindCacheMisuse,
		Code: CodeCacheNotEnabled,
		Err:  ErrCacheNotEnabled,
	}
}

// CacheNotInitialized is returned when caching is on but the store is missing.
func CacheNotInitialized() *Error {
	return &Error{
		Kind:    KindCacheMisuse,
		Code:    CodeCacheNotInitialized,
		Message: "The cache to be reset was not found.",
		Err:     ErrCacheNotInitialized,
	}
}

// TableNotFound is returned when a request names a table that has no columns
// in the served schema.
func TableNotFound(table string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeTableNotFound,
		Message: fmt.Sprintf("Table %q does not exist.", table),
		Err:     ErrNotFound,
	}
}

// Database wraps a driver error without altering its message.
func Database(sqlState string, err error) *Error {
	return &Error{
		Kind:     KindDatabaseExecution,
		Code:     CodeDatabaseError,
		Message:  err.Error(),
		SQLState: sqlState,
		Err:      err,
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return 0
}
