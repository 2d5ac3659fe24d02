package sql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyListItem indicates a comma-separated list with an empty entry.
	ErrEmptyListItem = errors.New("empty value in list")
	// ErrInvalidIdentifier indicates a name that is not a plain lowercase SQL identifier.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrInvalidOrderTerm indicates an order_by term that is not "column [asc|desc] [nulls first|last]".
	ErrInvalidOrderTerm = errors.New("invalid order by term")
)

// SplitList splits a comma-separated parameter value and trims each entry.
// Any empty entry, including an empty input, is an error.
func SplitList(value string) ([]string, error) {
	parts := strings.Split(value, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, ErrEmptyListItem
		}
		parts[i] = p
	}
	return parts, nil
}

// MaxIdentifierLength is the longest identifier PostgreSQL keeps without
// truncating it.
const MaxIdentifierLength = 63

// IsIdentifier reports whether s matches [a-z_][a-z0-9_$]*.
// Generated statements splice identifiers unquoted, so nothing else passes.
func IsIdentifier(s string) bool {
	if s == "" || len(s) > MaxIdentifierLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_' || (c >= 'a' && c <= 'z'):
		case i > 0 && ((c >= '0' && c <= '9') || c == '$'):
		default:
			return false
		}
	}
	return true
}

// ValidateIdentifier returns an error naming s when it is not an identifier.
func ValidateIdentifier(s string) error {
	if !IsIdentifier(s) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return nil
}

// ValidateColumnRef accepts a plain column name or a dotted foreign key path
// whose every segment is an identifier. A dotted path is also used whole as a
// quoted alias, so it may not exceed MaxIdentifierLength either.
func ValidateColumnRef(s string) error {
	if len(s) > MaxIdentifierLength {
		return fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidIdentifier, s, MaxIdentifierLength)
	}
	for _, segment := range strings.Split(s, ".") {
		if !IsIdentifier(segment) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
		}
	}
	return nil
}

// NormalizeOrderTerm validates one order_by entry and returns it with single
// spaces between its words.
func NormalizeOrderTerm(term string) (string, error) {
	fields := strings.Fields(term)
	if len(fields) == 0 {
		return "", ErrEmptyListItem
	}
	if err := ValidateColumnRef(fields[0]); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderTerm, term)
	}

	rest := fields[1:]
	if len(rest) > 0 && (rest[0] == "asc" || rest[0] == "desc") {
		rest = rest[1:]
	}
	if len(rest) > 0 {
		if len(rest) != 2 || rest[0] != "nulls" || (rest[1] != "first" && rest[1] != "last") {
			return "", fmt.Errorf("%w: %q", ErrInvalidOrderTerm, term)
		}
	}
	return strings.Join(fields, " "), nil
}
