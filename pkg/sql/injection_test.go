package sql

import (
	"testing"
)

func TestCheckClauseForInjection(t *testing.T) {
	tests := []struct {
		name            string
		clause          string
		expectInjection bool
	}{
		{
			name:            "empty clause",
			clause:          "",
			expectInjection: false,
		},
		{
			name:            "classic quote injection",
			clause:          "' or '1'='1",
			expectInjection: true,
		},
		{
			name:            "or injection with comment",
			clause:          "' or 1=1--",
			expectInjection: true,
		},
		{
			name:            "union select injection",
			clause:          "1 union select * from passwords",
			expectInjection: true,
		},
		{
			name:            "time-based blind injection",
			clause:          "1' and sleep(5)--",
			expectInjection: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckClauseForInjection("where", tt.clause)

			if !tt.expectInjection {
				if result != nil {
					t.Errorf("expected no injection, got fingerprint %q", result.Fingerprint)
				}
				return
			}
			if result == nil {
				t.Fatalf("expected injection detection, got nil")
			}
			if !result.IsSQLi {
				t.Errorf("expected IsSQLi=true, got false")
			}
			if result.ParamName != "where" {
				t.Errorf("expected ParamName=%q, got %q", "where", result.ParamName)
			}
			if result.ParamValue != tt.clause {
				t.Errorf("expected ParamValue=%q, got %q", tt.clause, result.ParamValue)
			}
			if result.Fingerprint == "" {
				t.Errorf("expected non-empty fingerprint, got empty string")
			}
		})
	}
}
