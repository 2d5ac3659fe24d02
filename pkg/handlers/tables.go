package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rest/pkg/audit"
	"github.com/ekaya-inc/ekaya-rest/pkg/services"
)

// MaxBodyBytes bounds the request bodies of insert and update calls.
const MaxBodyBytes = 10 << 20

// TableListResponse for GET /api
type TableListResponse struct {
	Tables []string `json:"tables"`
}

// CacheResetResponse for POST /api/_cache/reset
type CacheResetResponse struct {
	Status string `json:"status"`
}

// TableHandler maps REST verbs on /api/{table} onto the table service.
type TableHandler struct {
	tableService services.TableService
	auditor      *audit.SecurityAuditor
	logger       *zap.Logger
}

// NewTableHandler creates a new table handler. Rejected requests are
// reported to auditor.
func NewTableHandler(tableService services.TableService, auditor *audit.SecurityAuditor, logger *zap.Logger) *TableHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditor == nil {
		auditor = audit.NewSecurityAuditor(logger)
	}
	return &TableHandler{
		tableService: tableService,
		auditor:      auditor,
		logger:       logger,
	}
}

// RegisterRoutes registers the table handler's routes on the given mux.
func (h *TableHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api", h.List)
	mux.HandleFunc("POST /api/_cache/reset", h.ResetCache)

	mux.HandleFunc("GET /api/{table}", h.Select)
	mux.HandleFunc("POST /api/{table}", h.Insert)
	mux.HandleFunc("PUT /api/{table}", h.Update)
	mux.HandleFunc("PATCH /api/{table}", h.Update)
	mux.HandleFunc("DELETE /api/{table}", h.Delete)
}

// List handles GET /api
func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	tables, err := h.tableService.ListTables(r.Context())
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	if tables == nil {
		tables = []string{}
	}
	if err := WriteJSON(w, http.StatusOK, TableListResponse{Tables: tables}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Select handles GET /api/{table}
func (h *TableHandler) Select(w http.ResponseWriter, r *http.Request) {
	result, err := h.tableService.Select(r.Context(), r.PathValue("table"), r.URL.Query())
	h.respond(w, r, result, err)
}

// Insert handles POST /api/{table}
func (h *TableHandler) Insert(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	result, err := h.tableService.Insert(r.Context(), r.PathValue("table"), r.URL.Query(), body)
	h.respond(w, r, result, err)
}

// Update handles PUT and PATCH /api/{table}
func (h *TableHandler) Update(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	result, err := h.tableService.Update(r.Context(), r.PathValue("table"), r.URL.Query(), body)
	h.respond(w, r, result, err)
}

// Delete handles DELETE /api/{table}
func (h *TableHandler) Delete(w http.ResponseWriter, r *http.Request) {
	result, err := h.tableService.Delete(r.Context(), r.PathValue("table"), r.URL.Query())
	h.respond(w, r, result, err)
}

// ResetCache handles POST /api/_cache/reset
func (h *TableHandler) ResetCache(w http.ResponseWriter, r *http.Request) {
	if err := h.tableService.ResetCache(r.Context()); err != nil {
		writeError(w, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, CacheResetResponse{Status: "reset"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *TableHandler) respond(w http.ResponseWriter, r *http.Request, result *services.QueryResult, err error) {
	if err != nil {
		h.audit(r, err)
		writeError(w, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// audit reports rejected requests. Injection hits are kept apart from
// ordinary validation failures.
func (h *TableHandler) audit(r *http.Request, err error) {
	if apperrors.KindOf(err) != apperrors.KindRequestValidation {
		return
	}
	table := r.PathValue("table")

	var injErr *apperrors.InjectionError
	if errors.As(err, &injErr) {
		h.auditor.LogInjectionAttempt(r.Context(), r.Method, table, audit.SQLInjectionDetails{
			ParamName:   injErr.Param,
			ParamValue:  r.URL.Query().Get(injErr.Param),
			Fingerprint: injErr.Fingerprint,
		}, r.RemoteAddr)
		return
	}
	h.auditor.LogRequestValidation(r.Context(), r.Method, table, err.Error(), r.RemoteAddr)
}

func (h *TableHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err == nil {
		return body, true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		if err := ErrorResponse(w, http.StatusRequestEntityTooLarge, apperrors.CodeIncorrectRequestBody,
			"Request body is too large."); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}

	h.logger.Warn("Failed to read request body", zap.Error(err))
	if err := ErrorResponse(w, http.StatusBadRequest, apperrors.CodeIncorrectRequestBody,
		"Request body could not be read."); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
	return nil, false
}
