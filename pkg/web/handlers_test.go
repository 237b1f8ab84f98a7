package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukex/conduit/pkg/budget"
	"github.com/dukex/conduit/pkg/engine"
	"github.com/dukex/conduit/pkg/llm"
	"github.com/dukex/conduit/pkg/metrics"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence/file"
	"github.com/dukex/conduit/pkg/pipelinecontext"
	"github.com/dukex/conduit/pkg/registry"
	"github.com/dukex/conduit/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transformGraph = `{
	"nodes": [
		{"id": "start", "kind": "trigger", "config": {"source": "api"}},
		{"id": "greet", "kind": "transform", "config": {"mapping": {"greeting": "Hello {{start.name}}"}}}
	],
	"edges": [{"from": "start", "to": "greet"}]
}`

const approvalGraph = `{
	"nodes": [
		{"id": "start", "kind": "trigger", "config": {}},
		{"id": "review", "kind": "human_approval", "config": {"prompt": "Ship it?"}},
		{"id": "done", "kind": "end", "config": {}}
	],
	"edges": [{"from": "start", "to": "review"}, {"from": "review", "to": "done"}]
}`

const agentGraph = `{
	"nodes": [
		{"id": "start", "kind": "trigger", "config": {}},
		{"id": "writer", "kind": "llm_agent", "config": {"prompt": "Describe {{start.topic}}", "model": "gpt-4o-mini"}}
	],
	"edges": [{"from": "start", "to": "writer"}]
}`

type testApp struct {
	app    *fiber.App
	engine *engine.Engine
}

func setupTestApp(t *testing.T, withBudget bool) *testApp {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	backend := file.NewPersistence(t.TempDir())
	contextStore := pipelinecontext.NewStore(backend.ContextRepository(), logger)

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(registry.Dependencies{LLMProvider: llm.Simulated{}})

	var guard *budget.Guard
	if withBudget {
		guard = budget.NewGuard(backend.BudgetRepository(), budget.Config{
			DefaultLimits: models.BudgetLimits{DailyLimitUSD: 5, MonthlyLimitUSD: 50, AlertThresholdPercent: 80},
		}, logger)
	}

	m := metrics.New()

	deps := engine.Dependencies{
		Persistence: backend,
		Registry:    reg,
		Context:     contextStore,
		Metrics:     m,
		Logger:      logger,
	}
	if guard != nil {
		deps.Budget = guard
	}

	e, err := engine.New(deps, engine.Config{})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	handlers := web.NewAPIHandlers(e, contextStore, guard, backend, reg, validator.New(validator.WithRequiredStructEnabled()), logger)

	return &testApp{app: web.NewApp(handlers, m), engine: e}
}

func (a *testApp) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func (a *testApp) start(t *testing.T, graph string, input map[string]any) string {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"workflow_id": "wf-1",
		"user_id":     "user-1",
		"graph":       json.RawMessage(graph),
		"input":       input,
	})
	require.NoError(t, err)

	resp, body := a.do(t, http.MethodPost, "/executions", string(payload))
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var started web.StartExecutionResponse
	require.NoError(t, json.Unmarshal(body, &started))
	require.NotEmpty(t, started.ExecutionID)

	return started.ExecutionID
}

func (a *testApp) wait(t *testing.T, id string) web.ExecutionResponse {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, a.engine.Wait(ctx, id))

	resp, body := a.do(t, http.MethodGet, "/executions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execution web.ExecutionResponse
	require.NoError(t, json.Unmarshal(body, &execution))

	return execution
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	kind, _ := problem["type"].(string)

	return kind
}

func nodeState(execution web.ExecutionResponse, nodeID string) *models.NodeExecutionState {
	for _, state := range execution.NodeStates {
		if state.NodeID == nodeID {
			return state
		}
	}

	return nil
}

func TestAPIHandlers_StartExecution(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, false)

	id := a.start(t, transformGraph, map[string]any{"name": "Ada"})
	execution := a.wait(t, id)

	assert.Equal(t, id, execution.Record.ID)
	assert.Equal(t, "wf-1", execution.Record.WorkflowID)
	assert.Equal(t, "user-1", execution.Record.UserID)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Record.Status)
	require.Len(t, execution.NodeStates, 2)
	assert.Equal(t, "Hello Ada", nodeState(execution, "greet").Output["greeting"])
}

func TestAPIHandlers_StartExecutionRejectsBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		body          string
		expectedError string
	}{
		{
			name:          "invalid JSON",
			body:          "invalid-json",
			expectedError: "Invalid JSON format",
		},
		{
			name:          "missing graph",
			body:          `{"workflow_id": "wf-1"}`,
			expectedError: "Graph",
		},
		{
			name:          "unknown node kind",
			body:          `{"graph": {"nodes": [{"id": "a", "kind": "teleport"}]}}`,
			expectedError: "invalid graph document",
		},
		{
			name: "cycle",
			body: `{"graph": {
				"nodes": [
					{"id": "start", "kind": "trigger", "config": {}},
					{"id": "a", "kind": "transform", "config": {"mapping": {"x": "1"}}},
					{"id": "b", "kind": "transform", "config": {"mapping": {"x": "2"}}}
				],
				"edges": [{"from": "start", "to": "a"}, {"from": "a", "to": "b"}, {"from": "b", "to": "a"}]
			}}`,
			expectedError: "cycle",
		},
	}

	a := setupTestApp(t, false)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := a.do(t, http.MethodPost, "/executions", tt.body)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "validation_error", problemType(t, body))
			assert.Contains(t, string(body), tt.expectedError)
		})
	}
}

func TestAPIHandlers_GetExecutionNotFound(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, false)

	resp, body := a.do(t, http.MethodGet, "/executions/3f1c8a2e-0000-4000-8000-000000000000", "")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "execution_not_found", problemType(t, body))
}

func TestAPIHandlers_Approval(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, false)
	id := a.start(t, approvalGraph, nil)

	resp, body := a.do(t, http.MethodPost, "/executions/"+id+"/nodes/review/approval", `{"decided_by": "ops"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, _ = a.do(t, http.MethodPost, "/executions/"+id+"/nodes/start/approval", `{"approved": true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = a.do(t, http.MethodPost, "/executions/"+id+"/nodes/ghost/approval", `{"approved": true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "node_not_found", problemType(t, body))

	resp, body = a.do(t, http.MethodPost, "/executions/"+id+"/nodes/review/approval", `{"approved": true, "decided_by": "ops", "comment": "lgtm"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	execution := a.wait(t, id)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Record.Status)
	assert.Equal(t, "lgtm", nodeState(execution, "review").Output["comment"])

	resp, body = a.do(t, http.MethodPost, "/executions/"+id+"/nodes/review/approval", `{"approved": true}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", problemType(t, body))
}

func TestAPIHandlers_CancelExecution(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, false)
	id := a.start(t, approvalGraph, nil)

	resp, body := a.do(t, http.MethodPost, "/executions/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var execution web.ExecutionResponse
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, models.ExecutionStatusError, execution.Record.Status)
	assert.True(t, execution.Record.Cancelled)
	assert.Equal(t, models.NodeStatusCancelled, nodeState(execution, "review").Status)

	resp, _ = a.do(t, http.MethodPost, "/executions/"+id+"/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_GetExecutionContext(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)
	id := a.start(t, agentGraph, map[string]any{"topic": "tides"})

	execution := a.wait(t, id)
	require.Equal(t, models.ExecutionStatusSuccess, execution.Record.Status, execution.Record.ErrorMessage)

	resp, body := a.do(t, http.MethodGet, "/executions/"+id+"/context", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var contextResponse web.ContextResponse
	require.NoError(t, json.Unmarshal(body, &contextResponse))
	require.NotEmpty(t, contextResponse.Entries)
	assert.Equal(t, "writer", contextResponse.Entries[0].ProducingNodeID)
	assert.Equal(t, models.NodeKindLLMAgent, contextResponse.Entries[0].NodeType)
}

func TestAPIHandlers_PurgeExecution(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, false)

	active := a.start(t, approvalGraph, nil)
	resp, _ := a.do(t, http.MethodDelete, "/executions/"+active, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	finished := a.start(t, transformGraph, map[string]any{"name": "Ada"})
	a.wait(t, finished)

	resp, _ = a.do(t, http.MethodDelete, "/executions/"+finished, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/executions/"+finished, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, "/executions/"+active+"/cancel", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIHandlers_Budget(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, true)

	resp, body := a.do(t, http.MethodGet, "/users/alice/budget", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status models.BudgetStatus
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "alice", status.UserID)
	assert.InDelta(t, 5.0, status.DailyLimitUSD, 1e-9)
	assert.Zero(t, status.DailySpendUSD)

	resp, body = a.do(t, http.MethodPut, "/users/alice/budget", `{"daily_limit_usd": 1, "monthly_limit_usd": 20, "alert_threshold_percent": 75}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &status))
	assert.InDelta(t, 1.0, status.DailyLimitUSD, 1e-9)
	assert.InDelta(t, 20.0, status.MonthlyLimitUSD, 1e-9)

	resp, _ = a.do(t, http.MethodPut, "/users/alice/budget", `{"daily_limit_usd": -1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPut, "/users/alice/budget", `{"alert_threshold_percent": 120}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_BudgetRoutesNeedGuard(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, false)

	resp, _ := a.do(t, http.MethodGet, "/users/alice/budget", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ProjectBudget(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, false)

	resp, body := a.do(t, http.MethodPost, "/budget/projection",
		`{"cron": "0 9 * * *", "model": "gpt-4o-mini", "prompt": "Summarise the news", "max_tokens": 500, "from": "2026-06-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var projection web.ProjectionResponse
	require.NoError(t, json.Unmarshal(body, &projection))
	assert.Equal(t, 30, projection.Runs)
	assert.Equal(t, "gpt-4o-mini", projection.Estimate.Model)
	assert.Positive(t, projection.PerRunUSD)
	assert.InDelta(t, 30*projection.PerRunUSD, projection.MonthlyUSD, 1e-9)

	resp, body = a.do(t, http.MethodPost, "/budget/projection", `{"cron": "every day", "model": "gpt-4o"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "invalid cron expression")

	resp, _ = a.do(t, http.MethodPost, "/budget/projection", `{"cron": "@daily"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, false)

	resp, body := a.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)

	a.wait(t, a.start(t, transformGraph, nil))

	resp, body = a.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "conduit_executions_started_total 1"), string(body))
}
