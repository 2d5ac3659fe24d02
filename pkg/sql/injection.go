package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a clause.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Name of the query parameter that failed the check
	ParamValue  string // The value that was checked
}

// CheckClauseForInjection uses libinjection to look for SQL injection
// fingerprints in a caller-supplied clause.
//
// Returns nil if no injection is detected, or an InjectionCheckResult with
// details about the detected pattern.
//
// Example:
//
//	result := CheckClauseForInjection("where", "status = 'open'")
//	// result == nil
//
//	result = CheckClauseForInjection("where", "' or 1=1--")
//	// result.IsSQLi == true
//	// result.ParamName == "where"
func CheckClauseForInjection(paramName, clause string) *InjectionCheckResult {
	if clause == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(clause)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		ParamName:   paramName,
		ParamValue:  clause,
	}
}
