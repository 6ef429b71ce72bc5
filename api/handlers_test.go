package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/api"
	"github.com/warp/allocation-engine/engine"
	"github.com/warp/allocation-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type env struct {
	router   http.Handler
	registry *engine.Registry
	mem      *store.Memory
	holder   *engine.Holder
}

func newTestEnv(t *testing.T) *env {
	t.Helper()

	holder, err := engine.NewHolder(engine.DefaultConfig())
	require.NoError(t, err)

	mem := store.NewMemory()
	registry := engine.NewRegistry(mem)
	lifecycle := engine.NewLifecycle(mem, registry, mem, engine.HeuristicScorer{}, holder)

	handler := api.NewHandler(lifecycle, registry, mem, holder, nil)
	return &env{
		router:   api.NewRouter(handler),
		registry: registry,
		mem:      mem,
		holder:   holder,
	}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "test-operator")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (e *env) addAgency(t *testing.T, id string, capacity int, minDebt, maxDebt float64) {
	t.Helper()
	_, err := e.registry.Register(context.Background(), engine.Agency{
		ID:       engine.AgencyID(id),
		Name:     "Agency " + id,
		Capacity: capacity,
		MinDebt:  decimal.NewFromFloat(minDebt),
		MaxDebt:  decimal.NewFromFloat(maxDebt),
	})
	require.NoError(t, err)
}

func (e *env) createCase(t *testing.T, overdue float64, ageing int) api.CaseDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/cases", api.CreateCaseRequest{
		CustomerName:  "Acme Corp",
		OverdueAmount: overdue,
		AgeingDays:    ageing,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJSON[api.CaseDTO](t, rec)
}

// =============================================================================
// CASE ENDPOINT TESTS
// =============================================================================

func TestAPI_CreateCase(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "dca-1", 10, 0, 100000)

	c := e.createCase(t, 25000, 10)

	assert.Equal(t, "P2", c.Priority)
	assert.Equal(t, "Open", c.Status)
	assert.Equal(t, "On Track", c.SLAStatus)
	require.NotNil(t, c.AgencyID)
	assert.Equal(t, "dca-1", *c.AgencyID)
	assert.Greater(t, c.RecoveryScore, 0.0)
	assert.Regexp(t, `^CASE-\d{4}-\d{6}$`, c.ID)
}

func TestAPI_CreateCase_InvalidAttributes(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "dca-1", 10, 0, 100000)

	rec := e.do(t, http.MethodPost, "/api/cases", api.CreateCaseRequest{
		CustomerName:  "",
		OverdueAmount: 1000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeJSON[api.ErrorResponse](t, rec)
	assert.Contains(t, resp.Details, "customer_name")
}

func TestAPI_CreateCase_NoEligibleAgency(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/cases", api.CreateCaseRequest{
		CustomerName:  "Acme Corp",
		OverdueAmount: 1000,
		AgeingDays:    5,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_CreateCase_ManualIneligible(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "dca-1", 10, 0, 10000)

	agencyID := "dca-1"
	rec := e.do(t, http.MethodPost, "/api/cases", api.CreateCaseRequest{
		CustomerName:  "Acme Corp",
		OverdueAmount: 50000,
		AgeingDays:    5,
		AgencyID:      &agencyID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GetCase_NotFound(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/cases/CASE-2026-999999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ListCases_StatusFilter(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "dca-1", 10, 0, 100000)
	first := e.createCase(t, 1000, 5)
	e.createCase(t, 2000, 5)

	rec := e.do(t, http.MethodPost, "/api/cases/"+first.ID+"/start", api.TransitionRequest{ActorID: "agent-7"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/cases?status=In+Progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cases := decodeJSON[[]api.CaseDTO](t, rec)
	require.Len(t, cases, 1)
	assert.Equal(t, first.ID, cases[0].ID)
}

// =============================================================================
// TRANSITION ENDPOINT TESTS
// =============================================================================

func TestAPI_TransitionFlow(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "dca-1", 10, 0, 100000)
	c := e.createCase(t, 1000, 5)

	rec := e.do(t, http.MethodPost, "/api/cases/"+c.ID+"/start", api.TransitionRequest{ActorID: "agent-7"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "In Progress", decodeJSON[api.CaseDTO](t, rec).Status)

	rec = e.do(t, http.MethodPost, "/api/cases/"+c.ID+"/complete", api.TransitionRequest{ActorID: "agent-7"})
	require.Equal(t, http.StatusOK, rec.Code)
	done := decodeJSON[api.CaseDTO](t, rec)
	assert.Equal(t, "Closed", done.Status)
	assert.NotNil(t, done.CompletedAt)
}

func TestAPI_Transition_InvalidFromState(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "dca-1", 10, 0, 100000)
	c := e.createCase(t, 1000, 5)

	// Complete straight from Open is a state machine violation.
	rec := e.do(t, http.MethodPost, "/api/cases/"+c.ID+"/complete", api.TransitionRequest{ActorID: "agent-7"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Escalate_RequiresReason(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "dca-1", 10, 0, 100000)
	c := e.createCase(t, 1000, 5)

	rec := e.do(t, http.MethodPost, "/api/cases/"+c.ID+"/escalate", api.TransitionRequest{ActorID: "ops"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/cases/"+c.ID+"/escalate", api.TransitionRequest{
		ActorID: "ops",
		Reason:  "customer unreachable",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	escalated := decodeJSON[api.CaseDTO](t, rec)
	assert.True(t, escalated.Escalated)
	assert.Equal(t, "Open", escalated.Status)
}

func TestAPI_Reject_Requeues(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "dca-a", 10, 0, 100000)
	e.addAgency(t, "dca-b", 10, 0, 100000)
	c := e.createCase(t, 1000, 5)

	rec := e.do(t, http.MethodPost, "/api/cases/"+c.ID+"/reject", api.TransitionRequest{
		ActorID: "agent-7",
		Reason:  "disputed debt",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rejected := decodeJSON[api.CaseDTO](t, rec)
	assert.Equal(t, "Open", rejected.Status)
	require.NotNil(t, rejected.AgencyID)
	assert.Equal(t, "dca-b", *rejected.AgencyID)
}

// =============================================================================
// AGENCY ENDPOINT TESTS
// =============================================================================

func TestAPI_AgencyCRUD(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/agencies", api.AgencyRequest{
		ID:       "dca-1",
		Name:     "Northwind Collections",
		Capacity: 25,
		MinDebt:  1000,
		MaxDebt:  75000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeJSON[api.AgencyDTO](t, rec)
	assert.Equal(t, "TBD", created.PerformanceScore)
	assert.True(t, created.Active)

	rec = e.do(t, http.MethodGet, "/api/agencies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON[[]api.AgencyDTO](t, rec), 1)

	rec = e.do(t, http.MethodPut, "/api/agencies/dca-1", api.AgencyRequest{
		Name:     "Northwind Collections",
		Capacity: 30,
		MinDebt:  1000,
		MaxDebt:  90000,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, decodeJSON[api.AgencyDTO](t, rec).Capacity)

	rec = e.do(t, http.MethodPost, "/api/agencies/dca-1/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeJSON[api.AgencyDTO](t, rec).Active)

	rec = e.do(t, http.MethodPost, "/api/agencies/dca-1/reactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeJSON[api.AgencyDTO](t, rec).Active)
}

func TestAPI_CreateAgency_InvalidCapacity(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/agencies", api.AgencyRequest{
		ID:       "dca-1",
		Name:     "Bad Agency",
		Capacity: 0,
		MaxDebt:  1000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ListAgencies_EligibleFor(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "small", 10, 0, 10000)
	e.addAgency(t, "large", 10, 10000, 100000)

	rec := e.do(t, http.MethodGet, "/api/agencies?eligible_for=50000", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	agencies := decodeJSON[[]api.AgencyDTO](t, rec)
	require.Len(t, agencies, 1)
	assert.Equal(t, "large", agencies[0].ID)
}

// =============================================================================
// AUDIT ENDPOINT TESTS
// =============================================================================

func TestAPI_AuditTrailPerCase(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "dca-1", 10, 0, 100000)
	c := e.createCase(t, 1000, 5)

	rec := e.do(t, http.MethodPost, "/api/cases/"+c.ID+"/start", api.TransitionRequest{ActorID: "agent-7"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/audit?case_id="+c.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decodeJSON[[]api.AuditEntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "case_created", entries[0].Action)
	assert.Equal(t, "case_started", entries[1].Action)
	assert.Equal(t, "agent-7", entries[1].ActorID)
}

// =============================================================================
// SETTINGS ENDPOINT TESTS
// =============================================================================

func TestAPI_Settings_GetDefaults(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	assert.Equal(t, 50000.0, doc["p1_amount_threshold"])
	assert.Equal(t, 3.0, doc["p1_sla_days"])
}

func TestAPI_Settings_PartialUpdateTakesEffect(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "dca-1", 10, 0, 100000)

	before := e.holder.Current().Version
	rec := e.do(t, http.MethodPut, "/api/settings", map[string]any{
		"p2_amount_threshold": 30000,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, before+1, e.holder.Current().Version)

	// 25000 is below the new P2 cutoff: the case now classifies P3.
	c := e.createCase(t, 25000, 10)
	assert.Equal(t, "P3", c.Priority)
}

func TestAPI_Settings_RejectsInvalidDocument(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPut, "/api/settings", map[string]any{
		"p1_amount_threshold": 10000, // below the P2 threshold
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The live snapshot is untouched.
	assert.True(t, e.holder.Current().P1Amount.Equal(decimal.NewFromInt(50000)))
}

// =============================================================================
// ADMIN ENDPOINT TESTS
// =============================================================================

func TestAPI_SLARefreshEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.addAgency(t, "dca-1", 10, 0, 100000)
	e.createCase(t, 1000, 5)

	rec := e.do(t, http.MethodPost, "/api/admin/sla-refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeJSON[api.RefreshResultDTO](t, rec)
	assert.Zero(t, result.Changed, "nothing is overdue yet")
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dca_sla_refresh_changed_total")
}
