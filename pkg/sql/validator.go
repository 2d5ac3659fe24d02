// Package sql provides validation for the SQL fragments and identifiers that
// callers pass through to generated statements.
package sql

import (
	"errors"
	"strings"
	"unicode"
)

var (
	// ErrMultipleStatements indicates the fragment contains a statement separator.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrComment indicates the fragment contains a comment, which would swallow
	// the clauses generated after it.
	ErrComment = errors.New("SQL comments are not allowed in clauses")
	// ErrPlaceholder indicates the fragment uses a positional parameter or a
	// dollar-quoted string.
	ErrPlaceholder = errors.New("'$' is not allowed outside string literals")
	// ErrUnterminatedLiteral indicates a quote that is never closed.
	ErrUnterminatedLiteral = errors.New("unterminated quoted literal or identifier")
)

// ValidateClause checks a caller-supplied fragment (the body of a WHERE or
// FROM clause) and returns it trimmed, without a trailing semicolon.
//
// The validation order is:
// 1. Strip trailing semicolon and whitespace (normalize)
// 2. Scan outside quoted literals for ';', comments and '$'
func ValidateClause(clause string) (string, error) {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return "", nil
	}

	normalized := stripTrailingSemicolon(clause)
	if err := scanClause(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// scanClause walks the fragment with a small state machine. Backslashes are
// literal inside '...' as with standard_conforming_strings; a doubled quote
// leaves and immediately re-enters the literal.
func scanClause(clause string) error {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range clause {
		switch state {
		case stateNormal:
			switch {
			case char == ';':
				return ErrMultipleStatements
			case char == '$':
				return ErrPlaceholder
			case char == '-' && prevChar == '-':
				return ErrComment
			case char == '*' && prevChar == '/':
				return ErrComment
			case char == '\'':
				state = stateSingleQuote
			case char == '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if char == '\'' {
				state = stateNormal
				// Keep "'-" from pairing with a following '-'.
				char = 0
			}
		case stateDoubleQuote:
			if char == '"' {
				state = stateNormal
				char = 0
			}
		}
		prevChar = char
	}

	if state != stateNormal {
		return ErrUnterminatedLiteral
	}
	return nil
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(clause string) string {
	clause = strings.TrimRight(clause, " \t\n\r")

	if strings.HasSuffix(clause, ";") {
		clause = strings.TrimSuffix(clause, ";")
		clause = strings.TrimRight(clause, " \t\n\r")
	}

	return clause
}

// LowercaseOutsideLiterals lowercases keywords and identifiers in a clause
// and leaves the contents of '...' and "..." untouched.
func LowercaseOutsideLiterals(clause string) string {
	var b strings.Builder
	b.Grow(len(clause))

	var quote rune
	for _, char := range clause {
		switch {
		case quote != 0:
			if char == quote {
				quote = 0
			}
		case char == '\'' || char == '"':
			quote = char
		default:
			char = unicode.ToLower(char)
		}
		b.WriteRune(char)
	}
	return b.String()
}
