package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchantiq/matchd/internal/agents"
	"github.com/merchantiq/matchd/internal/config"
	"github.com/merchantiq/matchd/internal/engine"
	"github.com/merchantiq/matchd/internal/escalation"
	"github.com/merchantiq/matchd/internal/logging"
	"github.com/merchantiq/matchd/internal/model"
	"github.com/merchantiq/matchd/internal/store"
)

func setupTestServer(t *testing.T) (*Server, *agents.FakeClient, store.Store) {
	t.Helper()

	cfg := config.Default()
	cfg.Retry.InitialBackoff = config.Duration(time.Millisecond)
	cfg.Retry.MaxBackoff = config.Duration(5 * time.Millisecond)

	logger := logging.NewTestLogger(t)
	client := agents.NewFakeClient()
	st := store.NewMemory()
	esc := escalation.NewManager(st, nil, logger)
	coord := engine.NewCoordinator(cfg, client, st, st, esc, logger)

	server, err := NewServer(coord, st, logger, cfg.Server)
	require.NoError(t, err)
	return server, client, st
}

func TestNewServer_Validation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	st := store.NewMemory()

	_, err := NewServer(nil, st, logger, config.ServerConfig{})
	assert.Error(t, err)

	cfg := config.Default()
	coord := engine.NewCoordinator(cfg, agents.NewFakeClient(), st, st,
		escalation.NewManager(st, nil, logger), logger)

	_, err = NewServer(coord, nil, logger, config.ServerConfig{})
	assert.Error(t, err)

	_, err = NewServer(coord, st, nil, config.ServerConfig{})
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleRunBatch(t *testing.T) {
	server, client, _ := setupTestServer(t)

	client.Evaluations[1] = &agents.Evaluation{ConfidenceScore: 0.5}
	client.Generations[1] = []*agents.Generation{{Pattern: "STARBUCKS", AllowList: []int{5814}}}
	client.MatchSets[1] = []model.Record{
		{ID: 1, Narrative: "STARBUCKS STORE #1234 SEATTLE", CategoryCode: 5814},
	}

	body, err := json.Marshal(BatchRequest{
		Candidates: []model.Candidate{{ID: 1, Name: "Starbucks", Sector: "restaurant"}},
		Categories: []model.CategoryInfo{{Code: 5814, Sector: "restaurant"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary engine.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.StatusBreakdown[engine.StatusCompleted])
	assert.Equal(t, 1, summary.Decisions.Confirmed)
}

func TestHandleRunBatch_EmptyBody(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetWorkflow(t *testing.T) {
	server, client, _ := setupTestServer(t)

	client.Evaluations[7] = &agents.Evaluation{ConfidenceScore: 0.5}
	client.Generations[7] = []*agents.Generation{{Pattern: "STARBUCKS", AllowList: []int{5814}}}
	client.MatchSets[7] = []model.Record{
		{ID: 1, Narrative: "STARBUCKS STORE #1234 SEATTLE", CategoryCode: 5814},
	}

	body, _ := json.Marshal(BatchRequest{
		Candidates: []model.Candidate{{ID: 7, Name: "Starbucks", Sector: "restaurant"}},
		Categories: []model.CategoryInfo{{Code: 5814, Sector: "restaurant"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	server.echo.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/workflows/7", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp WorkflowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.State)
	assert.Equal(t, engine.StatusCompleted, resp.State.Status)
	assert.NotEmpty(t, resp.Decisions, "audit trail is returned with the state")
}

func TestHandleGetWorkflow_NotFound(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/999", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/workflows/abc", nil)
	rec = httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListWorkflows(t *testing.T) {
	server, client, _ := setupTestServer(t)

	for _, id := range []int64{1, 2} {
		client.Evaluations[id] = &agents.Evaluation{ConfidenceScore: 0.9}
		client.Generations[id] = []*agents.Generation{{Pattern: "X", AllowList: []int{1}}}
	}
	body, _ := json.Marshal(BatchRequest{Candidates: []model.Candidate{
		{ID: 1, Name: "A", Sector: "s"}, {ID: 2, Name: "B", Sector: "s"},
	}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	server.echo.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var states []*engine.WorkflowState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	assert.Len(t, states, 2)
}

func TestHandleSummary(t *testing.T) {
	server, client, _ := setupTestServer(t)

	client.Evaluations[1] = &agents.Evaluation{ConfidenceScore: 0.9}
	client.Generations[1] = []*agents.Generation{{Pattern: "X", AllowList: []int{1}}}
	body, _ := json.Marshal(BatchRequest{Candidates: []model.Candidate{{ID: 1, Name: "A", Sector: "s"}}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	server.echo.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summary engine.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.StatusBreakdown[engine.StatusCompleted])
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
