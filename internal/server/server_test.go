package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/tuner/internal/app/decision"
	"github.com/alexisbeaulieu97/tuner/internal/domain/actionplan"
	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/strategy"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/catalog"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/clustermodel"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/metrics"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/store/memory"
	"github.com/alexisbeaulieu97/tuner/internal/strategies"
)

type testAPI struct {
	handler http.Handler
	store   *memory.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.New()
	reg := catalog.NewRegistry()
	require.NoError(t, strategies.RegisterAll(reg))

	model, err := cluster.NewModel(cluster.Snapshot{
		Nodes: []cluster.Node{
			{ID: "n1", Capacity: cluster.Resources{VCPUs: 8}},
			{ID: "n2", Capacity: cluster.Resources{VCPUs: 8}},
		},
	})
	require.NoError(t, err)

	selector, err := decision.NewSelector(reg, clustermodel.NewStaticProvider(model))
	require.NoError(t, err)
	collector := metrics.NewCollector()
	runner := decision.NewRunner(store, selector, decision.NewPlanner(store), decision.WithMetrics(collector))

	api := NewWebAPI(zerolog.Nop(), Config{
		Addr: "127.0.0.1:0",
		Dependencies: Dependencies{
			Runner:  runner,
			Audits:  store,
			Plans:   store,
			Catalog: reg,
			Metrics: collector.Handler(),
		},
	})
	return &testAPI{handler: api.Handler(), store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func (a *testAPI) createAudit(t *testing.T, req CreateAuditRequest) audit.Audit {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/audits", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created audit.Audit
	decode(t, rec, &created)
	return created
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestListStrategies(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/v1/strategies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []strategy.Descriptor
	decode(t, rec, &all)
	assert.Len(t, all, len(strategies.Builtins()))

	rec = api.do(t, http.MethodGet, "/api/v1/strategies?goal=dummy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var byGoal []strategy.Descriptor
	decode(t, rec, &byGoal)
	require.Len(t, byGoal, 1)
	assert.Equal(t, "dummy", byGoal[0].ID)

	rec = api.do(t, http.MethodGet, "/api/v1/strategies?goal=unknown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAuditLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	created := api.createAudit(t, CreateAuditRequest{Name: "smoke", Goal: "dummy"})
	assert.Equal(t, audit.StatePending, created.State)

	rec := api.do(t, http.MethodPost, "/api/v1/audits/"+created.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var executed ExecuteResponse
	decode(t, rec, &executed)
	assert.Equal(t, audit.StateSucceeded, executed.Audit.State)
	require.NotNil(t, executed.ActionPlan)
	assert.Equal(t, "dummy", executed.ActionPlan.StrategyID)
	assert.Len(t, executed.ActionPlan.Actions, 3)

	rec = api.do(t, http.MethodGet, "/api/v1/audits/"+created.ID+"/action_plan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var plan actionplan.ActionPlan
	decode(t, rec, &plan)
	assert.Equal(t, executed.ActionPlan.ID, plan.ID)

	rec = api.do(t, http.MethodPost, "/api/v1/audits/"+created.ID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errResp ErrorResponse
	decode(t, rec, &errResp)
	assert.Equal(t, string(audit.ErrCodeInvalidState), errResp.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/audits?state=succeeded", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []audit.Audit
	decode(t, rec, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
}

func TestExecuteFailureIsRecorded(t *testing.T) {
	api := newTestAPI(t)
	created := api.createAudit(t, CreateAuditRequest{Goal: "no_such_goal"})

	rec := api.do(t, http.MethodPost, "/api/v1/audits/"+created.ID+"/execute", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var errResp ErrorResponse
	decode(t, rec, &errResp)
	assert.Equal(t, string(audit.ErrCodeNoStrategyForGoal), errResp.Code)

	stored, err := api.store.GetAudit(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.StateFailed, stored.State)
	assert.Equal(t, audit.ErrCodeNoStrategyForGoal, stored.FailureCode)
}

func TestCancelAudit(t *testing.T) {
	api := newTestAPI(t)
	created := api.createAudit(t, CreateAuditRequest{StrategyID: "dummy"})

	rec := api.do(t, http.MethodPost, "/api/v1/audits/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled audit.Audit
	decode(t, rec, &cancelled)
	assert.Equal(t, audit.StateCancelled, cancelled.State)

	rec = api.do(t, http.MethodPost, "/api/v1/audits/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/audits/"+created.ID+"/action_plan", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActionPlanEndpoints(t *testing.T) {
	api := newTestAPI(t)
	created := api.createAudit(t, CreateAuditRequest{Goal: "dummy"})
	rec := api.do(t, http.MethodPost, "/api/v1/audits/"+created.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var executed ExecuteResponse
	decode(t, rec, &executed)
	planID := executed.ActionPlan.ID

	rec = api.do(t, http.MethodGet, "/api/v1/action_plans/"+planID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/v1/action_plans/"+planID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/action_plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/v1/action_plans?include_deleted=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var plans []actionplan.ActionPlan
	decode(t, rec, &plans)
	require.Len(t, plans, 1)
	assert.Equal(t, actionplan.StateDeleted, plans[0].State)

	rec = api.do(t, http.MethodGet, "/api/v1/action_plans?include_deleted=true&marker="+planID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestActionPlanListPaging(t *testing.T) {
	api := newTestAPI(t)
	for i := 0; i < 3; i++ {
		created := api.createAudit(t, CreateAuditRequest{Goal: "dummy"})
		rec := api.do(t, http.MethodPost, "/api/v1/audits/"+created.ID+"/execute", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	var all []actionplan.ActionPlan
	rec := api.do(t, http.MethodGet, "/api/v1/action_plans?sort=id", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &all)
	require.Len(t, all, 3)

	var first, second []actionplan.ActionPlan
	rec = api.do(t, http.MethodGet, "/api/v1/action_plans?sort=id&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &first)
	require.Len(t, first, 2)

	rec = api.do(t, http.MethodGet, "/api/v1/action_plans?sort=id&limit=2&marker="+first[1].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &second)
	require.Len(t, second, 1)
	assert.Equal(t, all[2].ID, second[0].ID)
}

func TestRequestErrors(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   audit.ErrorCode
	}{
		{"missing goal and strategy", http.MethodPost, "/api/v1/audits", CreateAuditRequest{Name: "empty"}, http.StatusBadRequest, audit.ErrCodeValidation},
		{"unknown audit", http.MethodGet, "/api/v1/audits/missing", nil, http.StatusNotFound, audit.ErrCodeNotFound},
		{"execute unknown audit", http.MethodPost, "/api/v1/audits/missing/execute", nil, http.StatusNotFound, audit.ErrCodeNotFound},
		{"bad limit", http.MethodGet, "/api/v1/audits?limit=abc", nil, http.StatusBadRequest, audit.ErrCodeValidation},
		{"bad state filter", http.MethodGet, "/api/v1/audits?state=bogus", nil, http.StatusBadRequest, audit.ErrCodeValidation},
		{"bad sort key", http.MethodGet, "/api/v1/action_plans?sort=bogus", nil, http.StatusBadRequest, audit.ErrCodeValidation},
		{"bad bool", http.MethodGet, "/api/v1/action_plans?desc=maybe", nil, http.StatusBadRequest, audit.ErrCodeValidation},
		{"unknown marker", http.MethodGet, "/api/v1/action_plans?marker=missing", nil, http.StatusBadRequest, audit.ErrCodeValidation},
		{"unknown plan", http.MethodDelete, "/api/v1/action_plans/missing", nil, http.StatusNotFound, audit.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var errResp ErrorResponse
			decode(t, rec, &errResp)
			assert.Equal(t, string(tt.code), errResp.Code)
		})
	}
}

func TestMalformedBody(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/audits", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	created := api.createAudit(t, CreateAuditRequest{Goal: "dummy"})
	rec := api.do(t, http.MethodPost, "/api/v1/audits/"+created.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tuner_audit_executions_total")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(audit.ErrCodeModelUnavailable))
	assert.Equal(t, http.StatusConflict, StatusFor(audit.ErrCodeAlreadyRunning))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(audit.ErrCodeInvalidAction))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(audit.ErrCodePersistence))
	assert.Equal(t, http.StatusInternalServerError, StatusFor("SOMETHING_ELSE"))
}
