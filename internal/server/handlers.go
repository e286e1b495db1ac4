package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/alexisbeaulieu97/tuner/internal/app/decision"
	"github.com/alexisbeaulieu97/tuner/internal/domain/actionplan"
	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/domain/strategy"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

type Handler struct {
	runner  *decision.Runner
	audits  ports.AuditStore
	plans   ports.PlanStore
	catalog ports.StrategyCatalog
}

func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		runner:  deps.Runner,
		audits:  deps.Audits,
		plans:   deps.Plans,
		catalog: deps.Catalog,
	}
}

// CreateAuditRequest is the body of POST /api/v1/audits.
type CreateAuditRequest struct {
	Name       string                 `json:"name"`
	Goal       string                 `json:"goal,omitempty"`
	StrategyID string                 `json:"strategy_id,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// ExecuteResponse is returned by a successful execution.
type ExecuteResponse struct {
	Audit      *audit.Audit           `json:"audit"`
	ActionPlan *actionplan.ActionPlan `json:"action_plan"`
}

// ErrorResponse carries a domain error code to clients.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	var descs []strategy.Descriptor
	if goal := r.URL.Query().Get("goal"); goal != "" {
		descs = h.catalog.ListByGoal(goal)
	} else {
		descs = h.catalog.List()
	}
	if descs == nil {
		descs = []strategy.Descriptor{}
	}
	writeJSON(w, r, http.StatusOK, descs)
}

func (h *Handler) CreateAudit(w http.ResponseWriter, r *http.Request) {
	var req CreateAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, audit.NewError(audit.ErrCodeValidation, "malformed request body", err, nil))
		return
	}

	a, err := h.runner.Create(r.Context(), decision.CreateRequest{
		Name:       req.Name,
		Goal:       req.Goal,
		StrategyID: req.StrategyID,
		Parameters: req.Parameters,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, a)
}

func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	audits, err := h.audits.ListAudits(r.Context(), audit.Filter{
		State:      audit.State(q.Get("state")),
		Goal:       q.Get("goal"),
		StrategyID: q.Get("strategy_id"),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if audits == nil {
		audits = []audit.Audit{}
	}
	writeJSON(w, r, http.StatusOK, audits)
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	a, err := h.audits.GetAudit(r.Context(), chi.URLParam(r, "audit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

// ExecuteAudit runs the audit within the request. A client that disconnects
// cancels the execution and leaves the audit CANCELLED.
func (h *Handler) ExecuteAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "audit")

	plan, err := h.runner.Execute(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	a, err := h.audits.GetAudit(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ExecuteResponse{Audit: a, ActionPlan: plan})
}

func (h *Handler) CancelAudit(w http.ResponseWriter, r *http.Request) {
	a, err := h.runner.Cancel(r.Context(), chi.URLParam(r, "audit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

func (h *Handler) GetAuditPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.plans.GetPlanForAudit(r.Context(), chi.URLParam(r, "audit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, plan)
}

func (h *Handler) ListActionPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	includeDeleted, err := queryBool(q.Get("include_deleted"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	desc, err := queryBool(q.Get("desc"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	plans, err := h.plans.ListActionPlans(r.Context(), actionplan.Filter{
		AuditID:        q.Get("audit_id"),
		State:          actionplan.State(q.Get("state")),
		IncludeDeleted: includeDeleted,
		Limit:          limit,
		SortKey:        actionplan.SortKey(q.Get("sort")),
		SortDesc:       desc,
		Marker:         q.Get("marker"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if plans == nil {
		plans = []actionplan.ActionPlan{}
	}
	writeJSON(w, r, http.StatusOK, plans)
}

func (h *Handler) GetActionPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.plans.GetActionPlan(r.Context(), chi.URLParam(r, "plan"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, plan)
}

func (h *Handler) DeleteActionPlan(w http.ResponseWriter, r *http.Request) {
	if err := h.plans.SoftDeleteActionPlan(r.Context(), chi.URLParam(r, "plan")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, audit.NewError(audit.ErrCodeValidation, "invalid integer query parameter", err, map[string]interface{}{"value": raw})
	}
	return n, nil
}

func queryBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, audit.NewError(audit.ErrCodeValidation, "invalid boolean query parameter", err, map[string]interface{}{"value": raw})
	}
	return b, nil
}

// StatusFor maps an error code onto an HTTP status.
func StatusFor(code audit.ErrorCode) int {
	switch code {
	case audit.ErrCodeValidation:
		return http.StatusBadRequest
	case audit.ErrCodeNotFound:
		return http.StatusNotFound
	case audit.ErrCodeInvalidState, audit.ErrCodeAlreadyRunning, audit.ErrCodeCancelled:
		return http.StatusConflict
	case audit.ErrCodeNoSuchStrategy, audit.ErrCodeNoStrategyForGoal, audit.ErrCodeAmbiguousGoal,
		audit.ErrCodePrecondition, audit.ErrCodeInvalidAction:
		return http.StatusUnprocessableEntity
	case audit.ErrCodeModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Code: string(audit.ErrCodeInternal), Message: err.Error()}

	var de *audit.DomainError
	if errors.As(err, &de) {
		resp.Code = string(de.Code)
		resp.Message = de.Message
		if de.Cause != nil {
			resp.Message = de.Message + ": " + de.Cause.Error()
		}
		resp.Context = de.Context
	}

	status := StatusFor(audit.ErrorCode(resp.Code))
	logger := zerolog.Ctx(r.Context())
	event := logger.Debug()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Str("code", resp.Code).Int("status", status).Msg("request failed")

	writeJSON(w, r, status, resp)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().
			Err(err).
			Msg("failed to encode response")
	}
}
