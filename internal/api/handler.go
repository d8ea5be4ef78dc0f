package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/workpaper"
)

// maxBodyBytes bounds request bodies; ledger imports are the largest.
const maxBodyBytes = 64 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *workpaper.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, version string) *Handler {
	return &Handler{
		svc:     deps.Service,
		repo:    deps.Repository,
		cache:   deps.Cache,
		bus:     deps.Bus,
		version: version,
	}
}

// AccountMappingsRequest is the body of PUT /clients/{clientId}/account-mappings.
type AccountMappingsRequest struct {
	Mappings []domain.AccountMapping `json:"mappings"`
}

// ImportRequest is the body of POST /ledgers/{clientId}/{fiscalYear}/transactions.
type ImportRequest struct {
	Transactions []domain.TransactionRequest `json:"transactions"`
}

// PopulationRequest is the body of POST /ledgers/{clientId}/{fiscalYear}/population.
type PopulationRequest struct {
	Scope domain.PopulationScope `json:"scope"`
}

// PlanRequest is the body of both plan endpoints. The ledger comes from the path.
type PlanRequest struct {
	RequestID  string                 `json:"requestId,omitempty"`
	Scope      domain.PopulationScope `json:"scope"`
	Parameters domain.ParameterSpec   `json:"parameters"`
}

// PlanResponse is the response of POST /ledgers/{clientId}/{fiscalYear}/plans.
type PlanResponse struct {
	Run    *domain.SamplingRun `json:"run"`
	Cached bool                `json:"cached"`
	Meta   struct {
		TraceID string `json:"traceId"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// AcceptedResponse is the response of POST /ledgers/{clientId}/{fiscalYear}/plans/async.
type AcceptedResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Topic     string `json:"topic"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// SaveAccountMappings handles PUT /clients/{clientId}/account-mappings.
func (h *Handler) SaveAccountMappings(w http.ResponseWriter, r *http.Request) {
	var req AccountMappingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	clientID := chi.URLParam(r, "clientId")
	if err := h.svc.SaveAccountMappings(r.Context(), GetTenantID(r.Context()), clientID, req.Mappings); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"clientId": clientID,
		"mappings": len(req.Mappings),
	})
}

// ImportTransactions handles POST /ledgers/{clientId}/{fiscalYear}/transactions.
func (h *Handler) ImportTransactions(w http.ResponseWriter, r *http.Request) {
	ledger, ok := ledgerParam(w, r)
	if !ok {
		return
	}
	var req ImportRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.ImportTransactions(r.Context(), GetTenantID(r.Context()), ledger, req.Transactions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Population handles POST /ledgers/{clientId}/{fiscalYear}/population.
func (h *Handler) Population(w http.ResponseWriter, r *http.Request) {
	ledger, ok := ledgerParam(w, r)
	if !ok {
		return
	}
	var req PopulationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	preview, err := h.svc.Population(r.Context(), GetTenantID(r.Context()), ledger, req.Scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// GeneratePlan handles POST /ledgers/{clientId}/{fiscalYear}/plans.
// ?fresh=true bypasses the result cache.
func (h *Handler) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	ledger, ok := ledgerParam(w, r)
	if !ok {
		return
	}
	var req PlanRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))
	requestID := req.RequestID
	if requestID == "" {
		requestID, _ = ctx.Value(RequestIDKey).(string)
	}

	result, err := h.svc.Generate(ctx, GetTenantID(ctx), domain.SamplingRequest{
		RequestID:  requestID,
		Ledger:     ledger,
		Scope:      req.Scope,
		Parameters: req.Parameters,
	}, fresh)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := PlanResponse{Run: result.Run, Cached: result.Cached}
	resp.Meta.TraceID = GetTraceID(ctx)
	resp.Meta.Version = h.version
	writeJSON(w, http.StatusOK, resp)
}

// RequestPlan handles POST /ledgers/{clientId}/{fiscalYear}/plans/async.
// The request is queued for the worker; the plan arrives on kestrel.plan.generated.
func (h *Handler) RequestPlan(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "event bus not configured"})
		return
	}
	ledger, ok := ledgerParam(w, r)
	if !ok {
		return
	}
	var req PlanRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// Reject what the worker would reject, while the caller is still here.
	if _, err := domain.NewSamplingParameters(req.Parameters); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	msg := domain.SamplingRequest{
		RequestID:  requestID,
		Ledger:     ledger,
		Scope:      req.Scope,
		Parameters: req.Parameters,
	}
	if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicSamplingRequested, msg); err != nil {
		slog.Error("failed to queue sampling request",
			"tenant_id", tenantID,
			"request_id", requestID,
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "failed to queue sampling request"})
		return
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		RequestID: requestID,
		Status:    "queued",
		Topic:     domain.TopicPlanGenerated,
	})
}

// ListPlans handles GET /ledgers/{clientId}/{fiscalYear}/plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	ledger, ok := ledgerParam(w, r)
	if !ok {
		return
	}

	plans, err := h.svc.ListPlans(r.Context(), GetTenantID(r.Context()), ledger)
	if err != nil {
		writeError(w, err)
		return
	}
	if plans == nil {
		plans = []*domain.SamplingPlan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ledger": ledger,
		"plans":  plans,
		"count":  len(plans),
	})
}

// GetPlan handles GET /plans/{id}.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.svc.GetRun(r.Context(), GetTenantID(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	for _, err := range h.ping(r) {
		if err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports 503 until every configured backend answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	for name, err := range h.ping(r) {
		checks[name] = "ok"
		if err != nil {
			checks[name] = err.Error()
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

func (h *Handler) ping(r *http.Request) map[string]error {
	ctx := r.Context()
	results := make(map[string]error)
	if h.repo != nil {
		results["repository"] = h.repo.Ping(ctx)
	}
	if h.cache != nil {
		results["cache"] = h.cache.Ping(ctx)
	}
	if h.bus != nil {
		results["eventBus"] = h.bus.Ping(ctx)
	}
	return results
}

func ledgerParam(w http.ResponseWriter, r *http.Request) (domain.LedgerKey, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "fiscalYear"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "fiscalYear must be an integer"})
		return domain.LedgerKey{}, false
	}
	return domain.LedgerKey{ClientID: chi.URLParam(r, "clientId"), FiscalYear: year}, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON request body"})
		return false
	}
	return true
}

// writeError maps domain errors to status codes. Parameter errors are 422 and name the field.
func writeError(w http.ResponseWriter, err error) {
	var perr *domain.ParameterError
	switch {
	case errors.As(err, &perr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Field: perr.Field})
	case errors.Is(err, domain.ErrInvalidParameters):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
