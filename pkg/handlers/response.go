package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rest/pkg/logging"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// StatusFor maps an error from the table service to an HTTP status.
// Database errors in SQLSTATE classes 22 (data exception), 23 (integrity
// constraint violation), 42 (syntax error or access rule violation) and
// 44 (check option violation) are the caller's fault.
func StatusFor(err error) int {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}

	switch appErr.Kind {
	case apperrors.KindRequestValidation, apperrors.KindTypeConversion:
		return http.StatusBadRequest
	case apperrors.KindCacheMisuse:
		return http.StatusConflict
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindDatabaseExecution:
		if len(appErr.SQLState) >= 2 {
			switch appErr.SQLState[:2] {
			case "22", "23", "42", "44":
				return http.StatusBadRequest
			}
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": code, "message": msg}. Errors that are
// not coded keep their text out of the response.
func writeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := StatusFor(err)
	code, message := apperrors.CodeInternalError, "Internal server error."

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		code, message = appErr.Code, appErr.Message
		if message == "" && appErr.Err != nil {
			message = appErr.Err.Error()
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.Int("status", status),
			zap.String("code", code),
			zap.String("error", logging.SanitizeError(err)))
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
