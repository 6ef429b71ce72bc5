/*
handlers.go - HTTP request handlers

PURPOSE:
  Translates HTTP requests into engine calls and engine results into JSON.
  No business rules live here; the handlers validate shape, delegate, and
  map domain errors onto status codes.

ERROR MAPPING:
  404  Not found (unknown case or agency)
  400  Client errors (invalid attributes, invalid transition, bad settings)
  409  Allocation conflicts (no eligible agency, capacity races)
  500  Everything else, including audit write failures

SEE ALSO:
  - dto.go: Wire shapes and converters
  - server.go: Route registration
  - engine/errors.go: The predicates behind the mapping
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/engine"
	"github.com/warp/allocation-engine/factory"
)

// SettingsStore persists the live settings document between restarts.
type SettingsStore interface {
	SaveSettings(ctx context.Context, document string) error
	LoadSettings(ctx context.Context) (string, bool, error)
}

// Handler holds the engine services the HTTP layer delegates to.
type Handler struct {
	Lifecycle *engine.Lifecycle
	Registry  *engine.Registry
	Audit     engine.AuditRecorder
	Config    *engine.Holder
	Factory   *factory.SettingsFactory
	Settings  SettingsStore // nil = settings changes are not persisted
}

func NewHandler(lifecycle *engine.Lifecycle, registry *engine.Registry, audit engine.AuditRecorder, cfg *engine.Holder, settings SettingsStore) *Handler {
	return &Handler{
		Lifecycle: lifecycle,
		Registry:  registry,
		Audit:     audit,
		Config:    cfg,
		Factory:   factory.NewSettingsFactory(),
		Settings:  settings,
	}
}

// =============================================================================
// CASE ENDPOINTS
// =============================================================================

// CreateCase creates, classifies and allocates a new case.
// POST /api/cases
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpDuration.WithLabelValues("POST", "/api/cases"))
	defer timer.ObserveDuration()

	var req CreateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	attrs := engine.CaseAttributes{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		OverdueAmount: decimal.NewFromFloat(req.OverdueAmount),
		AgeingDays:    req.AgeingDays,
		Notes:         req.Notes,
	}

	var manualID *engine.AgencyID
	mode := "auto"
	if req.AgencyID != nil {
		id := engine.AgencyID(*req.AgencyID)
		manualID = &id
		mode = "manual"
	}

	c, err := h.Lifecycle.CreateCase(r.Context(), actorFrom(r), attrs, manualID)
	if err != nil {
		allocationsTotal.WithLabelValues(mode, "error").Inc()
		writeDomainError(w, "Failed to create case", err)
		return
	}
	allocationsTotal.WithLabelValues(mode, "ok").Inc()
	writeJSON(w, http.StatusCreated, toCaseDTO(c))
}

// GetCase returns a single case with its SLA projection refreshed.
// GET /api/cases/{id}
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id := engine.CaseID(chi.URLParam(r, "id"))
	c, err := h.Lifecycle.GetCase(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get case", err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseDTO(c))
}

// ListCases returns filtered cases, newest first.
// GET /api/cases?status=&priority=&sla_status=&agency_id=&limit=
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpDuration.WithLabelValues("GET", "/api/cases"))
	defer timer.ObserveDuration()

	filter := engine.CaseFilter{}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status := engine.CaseStatus(v)
		filter.Status = &status
	}
	if v := q.Get("priority"); v != "" {
		priority := engine.Priority(v)
		filter.Priority = &priority
	}
	if v := q.Get("sla_status"); v != "" {
		slaStatus := engine.SLAStatus(v)
		filter.SLAStatus = &slaStatus
	}
	if v := q.Get("agency_id"); v != "" {
		agencyID := engine.AgencyID(v)
		filter.AgencyID = &agencyID
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	cases, err := h.Lifecycle.ListCases(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list cases", err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseDTOs(cases))
}

// Transition endpoints. Each maps one route to one lifecycle action.
// POST /api/cases/{id}/start
func (h *Handler) StartCase(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, engine.ActionStart)
}

// POST /api/cases/{id}/complete
func (h *Handler) CompleteCase(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, engine.ActionComplete)
}

// POST /api/cases/{id}/reject
func (h *Handler) RejectCase(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, engine.ActionReject)
}

// POST /api/cases/{id}/escalate
func (h *Handler) EscalateCase(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, engine.ActionEscalate)
}

// POST /api/cases/{id}/delay
func (h *Handler) RecordDelay(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, engine.ActionRecordDelay)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action engine.Action) {
	timer := prometheus.NewTimer(httpDuration.WithLabelValues("POST", "/api/cases/{id}/"+string(action)))
	defer timer.ObserveDuration()

	id := engine.CaseID(chi.URLParam(r, "id"))

	var req TransitionRequest
	// An empty body is fine for actions that don't need a reason.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	actor := req.ActorID
	if actor == "" {
		actor = actorFrom(r)
	}

	c, err := h.Lifecycle.Transition(r.Context(), actor, id, action, req.Reason)
	if err != nil {
		transitionsTotal.WithLabelValues(string(action), "error").Inc()
		writeDomainError(w, "Transition failed", err)
		return
	}
	transitionsTotal.WithLabelValues(string(action), "ok").Inc()
	writeJSON(w, http.StatusOK, toCaseDTO(c))
}

// =============================================================================
// AGENCY ENDPOINTS
// =============================================================================

// CreateAgency registers a new collection agency.
// POST /api/agencies
func (h *Handler) CreateAgency(w http.ResponseWriter, r *http.Request) {
	var req AgencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Registry.Register(r.Context(), engine.Agency{
		ID:            engine.AgencyID(req.ID),
		Name:          req.Name,
		ContactPerson: req.ContactPerson,
		Email:         req.Email,
		Phone:         req.Phone,
		Capacity:      req.Capacity,
		MinDebt:       decimal.NewFromFloat(req.MinDebt),
		MaxDebt:       decimal.NewFromFloat(req.MaxDebt),
	})
	if err != nil {
		writeDomainError(w, "Failed to register agency", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgencyDTO(a))
}

// GetAgency returns one agency snapshot.
// GET /api/agencies/{id}
func (h *Handler) GetAgency(w http.ResponseWriter, r *http.Request) {
	a, err := h.Registry.Snapshot(engine.AgencyID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get agency", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgencyDTO(a))
}

// ListAgencies returns all agencies ordered by ID. With ?eligible_for=AMOUNT
// it narrows to agencies that could take a case of that amount right now.
// GET /api/agencies
func (h *Handler) ListAgencies(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("eligible_for"); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid eligible_for amount", err)
			return
		}
		writeJSON(w, http.StatusOK, toAgencyDTOs(h.Registry.ListEligible(amount)))
		return
	}
	writeJSON(w, http.StatusOK, toAgencyDTOs(h.Registry.List()))
}

// UpdateAgency edits contact details, capacity and the debt range.
// PUT /api/agencies/{id}
func (h *Handler) UpdateAgency(w http.ResponseWriter, r *http.Request) {
	var req AgencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Registry.Update(r.Context(), engine.AgencyID(chi.URLParam(r, "id")), func(a *engine.Agency) error {
		a.Name = req.Name
		a.ContactPerson = req.ContactPerson
		a.Email = req.Email
		a.Phone = req.Phone
		a.Capacity = req.Capacity
		a.MinDebt = decimal.NewFromFloat(req.MinDebt)
		a.MaxDebt = decimal.NewFromFloat(req.MaxDebt)
		return nil
	})
	if err != nil {
		writeDomainError(w, "Failed to update agency", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgencyDTO(a))
}

// DeactivateAgency takes the agency out of allocation without deleting it.
// POST /api/agencies/{id}/deactivate
func (h *Handler) DeactivateAgency(w http.ResponseWriter, r *http.Request) {
	a, err := h.Registry.Deactivate(r.Context(), engine.AgencyID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to deactivate agency", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgencyDTO(a))
}

// ReactivateAgency puts the agency back into the eligible pool.
// POST /api/agencies/{id}/reactivate
func (h *Handler) ReactivateAgency(w http.ResponseWriter, r *http.Request) {
	a, err := h.Registry.Reactivate(r.Context(), engine.AgencyID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to reactivate agency", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgencyDTO(a))
}

// =============================================================================
// AUDIT ENDPOINTS
// =============================================================================

// QueryAudit returns audit entries, timestamp ascending.
// GET /api/audit?case_id=&actor_id=&action=&from=&to=
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter := engine.AuditFilter{}
	q := r.URL.Query()
	if v := q.Get("case_id"); v != "" {
		id := engine.CaseID(v)
		filter.CaseID = &id
	}
	if v := q.Get("actor_id"); v != "" {
		filter.ActorID = &v
	}
	for _, v := range q["action"] {
		filter.Actions = append(filter.Actions, engine.AuditAction(v))
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp", err)
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp", err)
			return
		}
		filter.To = &t
	}

	entries, err := h.Audit.Query(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to query audit log", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// =============================================================================
// SETTINGS ENDPOINTS
// =============================================================================

// GetSettings returns the live settings document.
// GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Factory.Render(*h.Config.Current()))
}

// UpdateSettings applies a (possibly partial) settings document on top of
// the current snapshot, installs the new snapshot and persists the full
// document. In-flight operations keep the snapshot they started with.
// PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var doc factory.SettingsJSON
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings document", err)
		return
	}

	cfg, err := h.Factory.Apply(doc, *h.Config.Current())
	if err != nil {
		writeDomainError(w, "Settings rejected", err)
		return
	}
	installed, err := h.Config.Replace(cfg)
	if err != nil {
		writeDomainError(w, "Settings rejected", err)
		return
	}

	if h.Settings != nil {
		rendered, err := json.Marshal(h.Factory.Render(*installed))
		if err == nil {
			err = h.Settings.SaveSettings(r.Context(), string(rendered))
		}
		if err != nil {
			// The snapshot is live; losing durability is worth reporting.
			writeError(w, http.StatusInternalServerError, "Settings applied but not persisted", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.Factory.Render(*installed))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// TriggerSLARefresh recomputes the cached SLA projection for every open
// case, same as the periodic job.
// POST /api/admin/sla-refresh
func (h *Handler) TriggerSLARefresh(w http.ResponseWriter, r *http.Request) {
	changed, err := h.Lifecycle.RefreshSLAStatuses(r.Context())
	if err != nil {
		writeDomainError(w, "SLA refresh failed", err)
		return
	}
	slaRefreshChanged.Add(float64(changed))
	writeJSON(w, http.StatusOK, RefreshResultDTO{Changed: changed})
}

// Health is the liveness probe.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// actorFrom identifies the caller for audit attribution. There is no auth
// layer yet, so a header fills the gap.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor-ID"); actor != "" {
		return actor
	}
	return "system"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, engine.ErrNoEligibleAgency), engine.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
