// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rest/pkg/logging"
	"github.com/ekaya-inc/ekaya-rest/pkg/middleware"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a where clause.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventRequestValidation is logged when a request is rejected as malformed.
	EventRequestValidation SecurityEventType = "request_validation_failure"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	RequestID string            `json:"request_id,omitempty"`
	Method    string            `json:"method"`
	Table     string            `json:"table"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	ParamName  string `json:"param_name"`
	ParamValue string `json:"param_value"`
	// Fingerprint is the libinjection token pattern.
	Fingerprint string `json:"fingerprint"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The "security_audit" name makes the events easy to filter.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a rejected where clause at ERROR level with
// "critical" severity. The clause is truncated and its literals redacted
// before logging.
func (a *SecurityAuditor) LogInjectionAttempt(
	ctx context.Context,
	method, table string,
	details SQLInjectionDetails,
	clientIP string,
) {
	details.ParamValue = logging.SanitizeQuery(details.ParamValue)
	event := a.event(ctx, EventSQLInjectionAttempt, method, table, clientIP, details, "critical")

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", event),
		zap.String("request_id", middleware.RequestID(ctx)),
		zap.String("table", table),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.String("severity", "critical"),
	)
}

// LogRequestValidation records a rejected request at WARN level. These are
// usually client mistakes rather than attacks.
func (a *SecurityAuditor) LogRequestValidation(
	ctx context.Context,
	method, table string,
	errorMessage string,
	clientIP string,
) {
	event := a.event(ctx, EventRequestValidation, method, table, clientIP,
		map[string]string{"error": errorMessage}, "warning")

	a.logger.Warn("Request validation failed",
		zap.String("event_json", event),
		zap.String("request_id", middleware.RequestID(ctx)),
		zap.String("table", table),
		zap.String("error", errorMessage),
		zap.String("client_ip", clientIP),
		zap.String("severity", "warning"),
	)
}

func (a *SecurityAuditor) event(
	ctx context.Context,
	eventType SecurityEventType,
	method, table, clientIP string,
	details any,
	severity string,
) string {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		RequestID: middleware.RequestID(ctx),
		Method:    method,
		Table:     table,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  severity,
	}

	// Marshaling these known types cannot fail.
	eventJSON, _ := json.Marshal(event)
	return string(eventJSON)
}
