package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairo-hq/kairo/api"
	"github.com/kairo-hq/kairo/internal/integrity"
	"github.com/kairo-hq/kairo/internal/mcp"
	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/orchestrator"
	"github.com/kairo-hq/kairo/internal/ratelimit"
	"github.com/kairo-hq/kairo/internal/server"
	"github.com/kairo-hq/kairo/internal/storage"
	"github.com/kairo-hq/kairo/internal/testutil"
	"github.com/kairo-hq/kairo/internal/tuner"
)

type stubReasoner struct {
	rec model.ParsedRecommendation
	err error
}

func (s stubReasoner) Recommend(context.Context, model.DecisionRequest, model.TuningConfig, []model.DecisionRecord) (model.ParsedRecommendation, error) {
	return s.rec, s.err
}

func (stubReasoner) Provider() string { return "stub" }

func recommend(confidence float64) stubReasoner {
	pb := "pb-restart"
	return stubReasoner{rec: model.ParsedRecommendation{
		Recommendation: model.RecommendYes,
		PlaybookID:     &pb,
		Reason:         "restart clears the leaked connections",
		Confidence:     confidence,
		Urgency:        model.UrgencyHigh,
	}}
}

// failingAppends wraps a store so audit appends fail.
type failingAppends struct {
	storage.Store
}

func (failingAppends) Append(context.Context, model.DecisionRecord) (string, error) {
	return "", errors.New("disk full")
}

// brokenStore fails every operation.
type brokenStore struct {
	storage.Store
}

func (brokenStore) Ping(context.Context) error { return errors.New("connection refused") }
func (brokenStore) ReadTuning(context.Context) (model.TuningConfig, error) {
	return model.TuningConfig{}, errors.New("connection refused")
}
func (brokenStore) ListRecent(context.Context, int) ([]model.DecisionRecord, error) {
	return nil, errors.New("connection refused")
}

type stubRetuner struct{ err error }

func (s stubRetuner) Retune(context.Context) (model.TuningConfig, error) {
	return model.TuningConfig{}, s.err
}

type env struct {
	srv    *httptest.Server
	store  storage.Store
	broker *server.Broker
}

type envOption func(*server.ServerConfig)

func withLimiter(l ratelimit.Limiter) envOption {
	return func(c *server.ServerConfig) { c.Limiter = l }
}

func withRetuner(r server.Retuner) envOption {
	return func(c *server.ServerConfig) { c.Retuner = r }
}

func withBodyLimit(n int64) envOption {
	return func(c *server.ServerConfig) { c.MaxRequestBodyBytes = n }
}

func withOpenAPISpec(spec []byte) envOption {
	return func(c *server.ServerConfig) { c.OpenAPISpec = spec }
}

func newEnv(t *testing.T, reasoner orchestrator.Reasoner, wrap func(storage.Store) storage.Store, opts ...envOption) *env {
	t.Helper()
	logger := testutil.TestLogger()

	var store storage.Store = testutil.NewSQLite(t)
	if wrap != nil {
		store = wrap(store)
	}
	orch := orchestrator.New(store, store, reasoner, orchestrator.WithLogger(logger))
	tun := tuner.New(store, store, tuner.WithLogger(logger))
	broker := server.NewBroker(logger)

	cfg := server.ServerConfig{
		Store:               store,
		Decider:             orch,
		Retuner:             tun,
		Logger:              logger,
		Broker:              broker,
		MCPServer:           mcp.New(store, orch, tun, logger, "test").MCPServer(),
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		Provider:            "stub",
		MaxRequestBodyBytes: 1 << 20,
	}
	for _, o := range opts {
		o(&cfg)
	}

	srv := httptest.NewServer(server.New(cfg).Handler())
	t.Cleanup(srv.Close)
	return &env{srv: srv, store: store, broker: broker}
}

func (e *env) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// decodeData unwraps the success envelope into target.
func decodeData(t *testing.T, body []byte, target any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage    `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.NotEmpty(t, envelope.Meta.RequestID)
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func decodeError(t *testing.T, body []byte) model.ErrorDetail {
	t.Helper()
	var apiErr model.APIError
	require.NoError(t, json.Unmarshal(body, &apiErr))
	return apiErr.Error
}

func decideBody(mode model.Mode) model.DecisionRequest {
	return model.DecisionRequest{
		Module:  "payments",
		Metrics: json.RawMessage(`{"p99_ms":2300,"error_rate":0.08}`),
		Context: "connection pool exhausted after deploy",
		AvailablePlaybooks: []model.Playbook{
			{ID: "pb-restart", Title: "Restart service"},
			{ID: "pb-scale", Title: "Scale out"},
		},
		Mode: mode,
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)

	resp, body := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var health model.HealthResponse
	decodeData(t, body, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "sqlite", health.Store)
	assert.Equal(t, "connected", health.StoreStatus)
	assert.Equal(t, "stub", health.Reasoning)
	assert.Equal(t, "test", health.Version)
}

func TestHealthUnhealthyStore(t *testing.T) {
	e := newEnv(t, recommend(0.9), func(s storage.Store) storage.Store { return brokenStore{s} })

	resp, body := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var health model.HealthResponse
	decodeData(t, body, &health)
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "disconnected", health.StoreStatus)
}

func TestRequestIDIsEchoed(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-me")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "trace-me", resp.Header.Get("X-Request-ID"))
}

func TestDecideAutoExecutes(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)

	resp, body := e.do(t, http.MethodPost, "/v1/decide", decideBody(model.ModeAuto))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var decision model.EnrichedDecision
	decodeData(t, body, &decision)
	assert.True(t, decision.ShouldExecute)
	assert.Equal(t, 0.85, decision.AppliedThreshold)
	assert.Equal(t, model.RecommendYes, decision.Recommendation)
	assert.Equal(t, "stub", decision.Processing.Provider)
	assert.NotEmpty(t, decision.DecisionID)
}

func TestDecideManualHolds(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)

	resp, body := e.do(t, http.MethodPost, "/v1/decide", decideBody(model.ModeManual))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision model.EnrichedDecision
	decodeData(t, body, &decision)
	assert.False(t, decision.ShouldExecute)
	assert.Equal(t, 0.95, decision.AppliedThreshold)
}

func TestDecideInvalidInput(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)

	cases := map[string]any{
		"missing module": model.DecisionRequest{Mode: model.ModeAuto},
		"unknown mode":   model.DecisionRequest{Module: "payments", Mode: "yolo"},
		"malformed json": `{"module":`,
		"unknown field":  `{"module":"payments","severity":"high"}`,
		"trailing data":  `{"module":"payments"} {}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, data := e.do(t, http.MethodPost, "/v1/decide", body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(data))
			assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, data).Code)
		})
	}
}

func TestDecideBodyTooLarge(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil, withBodyLimit(64))

	resp, data := e.do(t, http.MethodPost, "/v1/decide", decideBody(model.ModeAuto))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, data).Code)
}

func TestDecideReasoningFailure(t *testing.T) {
	e := newEnv(t, stubReasoner{err: errors.New("upstream 503: secret-key-123")}, nil)

	resp, data := e.do(t, http.MethodPost, "/v1/decide", decideBody(model.ModeAuto))
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	detail := decodeError(t, data)
	assert.Equal(t, model.ErrCodeReasoningFailed, detail.Code)
	assert.Equal(t, string(orchestrator.StageReasoned), detail.Stage)
	assert.NotContains(t, string(data), "secret-key-123")

	recs, err := e.store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs, "a failed decide must not leave a record")
}

func TestDecideAuditWriteFailure(t *testing.T) {
	e := newEnv(t, recommend(0.9), func(s storage.Store) storage.Store { return failingAppends{s} })

	resp, data := e.do(t, http.MethodPost, "/v1/decide", decideBody(model.ModeAuto))
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, model.ErrCodeAuditWriteFailed, decodeError(t, data).Code)
}

func TestRecordOutcomeAndRecent(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)

	_, body := e.do(t, http.MethodPost, "/v1/decide", decideBody(model.ModeAuto))
	var decision model.EnrichedDecision
	decodeData(t, body, &decision)

	impact := "pool recovered"
	resp, body := e.do(t, http.MethodPost, "/v1/audit", model.RecordOutcomeRequest{
		ParentID: decision.DecisionID,
		Outcome:  model.OutcomeExecuted,
		Impact:   &impact,
		Actor:    "sre-bot",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created model.RecordOutcomeResponse
	decodeData(t, body, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.ActionPlaybookOutcome, created.Record.ActionType)

	resp, body = e.do(t, http.MethodGet, "/v1/audit/recent?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recent model.RecentDecisionsResponse
	decodeData(t, body, &recent)
	require.Equal(t, 2, recent.Count)
	assert.Equal(t, created.ID, recent.Records[0].ID)
	assert.Equal(t, decision.DecisionID, recent.Records[1].ID)
	assert.Equal(t, model.OutcomePending, recent.Records[1].Outcome)
	assert.Equal(t, integrity.Digest(recent.Records), recent.Digest)
}

func TestRecordOutcomeValidation(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)

	const parent = "0b6f3d2a-8c41-4e7b-b5d9-3a1e6c7f9d20"
	bad := []model.RecordOutcomeRequest{
		{Outcome: model.OutcomeExecuted, Actor: "sre-bot"},
		{ParentID: "d-1", Outcome: model.OutcomeExecuted, Actor: "sre-bot"},
		{ParentID: parent, Outcome: model.OutcomePending, Actor: "sre-bot"},
		{ParentID: parent, Outcome: model.OutcomeFailed},
	}
	for _, req := range bad {
		resp, data := e.do(t, http.MethodPost, "/v1/audit", req)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(data))
	}

	conf := 1.7
	resp, data := e.do(t, http.MethodPost, "/v1/audit", model.RecordOutcomeRequest{
		ParentID: parent, Outcome: model.OutcomeFailed, Actor: "sre-bot", Confidence: &conf,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(data))
}

func TestRecentLimitValidation(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)

	for _, q := range []string{"0", "-3", "ten"} {
		resp, _ := e.do(t, http.MethodGet, "/v1/audit/recent?limit="+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}

	resp, body := e.do(t, http.MethodGet, "/v1/audit/recent", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recent model.RecentDecisionsResponse
	decodeData(t, body, &recent)
	assert.NotNil(t, recent.Records)
	assert.Zero(t, recent.Count)
}

func TestRecentHistoryUnavailable(t *testing.T) {
	e := newEnv(t, recommend(0.9), func(s storage.Store) storage.Store { return brokenStore{s} })

	resp, data := e.do(t, http.MethodGet, "/v1/audit/recent", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, model.ErrCodeHistoryUnavailable, decodeError(t, data).Code)
}

func TestRetuneAndTuning(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)

	resp, body := e.do(t, http.MethodGet, "/v1/tuning", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view model.TuningView
	decodeData(t, body, &view)
	assert.False(t, view.Stored)
	assert.False(t, view.Valid)
	assert.Equal(t, model.DefaultTuning(), view.Tuning)

	resp, body = e.do(t, http.MethodPost, "/v1/retune", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var cfg model.TuningConfig
	decodeData(t, body, &cfg)
	require.NoError(t, cfg.Validate())

	resp, body = e.do(t, http.MethodGet, "/v1/tuning", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, body, &view)
	assert.True(t, view.Stored)
	assert.True(t, view.Valid)
	assert.InDelta(t, cfg.ConfidenceThreshold, view.Tuning.ConfidenceThreshold, 1e-9)
}

func TestRetuneErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{tuner.ErrRetuneInProgress, http.StatusConflict, model.ErrCodeRetuneInProgress},
		{tuner.ErrHistoryUnavailable, http.StatusServiceUnavailable, model.ErrCodeHistoryUnavailable},
		{tuner.ErrTuningWriteFailed, http.StatusInternalServerError, model.ErrCodeTuningWriteFailed},
		{errors.New("boom"), http.StatusInternalServerError, model.ErrCodeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			e := newEnv(t, recommend(0.9), nil, withRetuner(stubRetuner{err: tc.err}))
			resp, data := e.do(t, http.MethodPost, "/v1/retune", nil)
			require.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, decodeError(t, data).Code)
		})
	}
}

func TestDecideIsRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 2)
	t.Cleanup(func() { _ = limiter.Close() })
	e := newEnv(t, recommend(0.9), nil, withLimiter(limiter))

	for i := range 2 {
		resp, _ := e.do(t, http.MethodPost, "/v1/decide", decideBody(model.ModeAuto))
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
	}
	resp, data := e.do(t, http.MethodPost, "/v1/decide", decideBody(model.ModeAuto))
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, model.ErrCodeRateLimited, decodeError(t, data).Code)

	// Reads are not metered.
	resp, _ = e.do(t, http.MethodGet, "/v1/audit/recent", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubscribeStreamsDecisions(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/v1/subscribe", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return e.broker.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, body := e.do(t, http.MethodPost, "/v1/decide", decideBody(model.ModeAuto))
	var decision model.EnrichedDecision
	decodeData(t, body, &decision)

	buf := make([]byte, 4096)
	var got strings.Builder
	for !strings.Contains(got.String(), "\n\n") {
		n, err := resp.Body.Read(buf)
		require.NoError(t, err)
		got.Write(buf[:n])
	}
	assert.True(t, strings.HasPrefix(got.String(), "event: decision\ndata: "))
	assert.Contains(t, got.String(), decision.DecisionID)
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)
	resp, _ := e.do(t, http.MethodGet, "/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/v1/decide", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/openapi.yaml", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no OpenAPI document configured")
}

func TestOpenAPISpec(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil, withOpenAPISpec(api.OpenAPISpec))
	resp, body := e.do(t, http.MethodGet, "/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "/v1/decide:")
	// The document must describe the fixed per-mode gate.
	assert.Contains(t, string(body), "auto 0.85, manual 0.95")
	assert.NotContains(t, string(body), "self-tuned\n    confidence threshold")
}

func newMCPClient(t *testing.T, e *env) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewStreamableHttpClient(e.srv.URL + "/mcp")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	return c
}

func TestMCPListTools(t *testing.T) {
	e := newEnv(t, recommend(0.9), nil)
	c := newMCPClient(t, e)

	toolsResult, err := c.ListTools(context.Background(), mcplib.ListToolsRequest{})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, tool := range toolsResult.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"kairo_decide", "kairo_record_outcome", "kairo_recent_decisions", "kairo_retune"} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestMCPDecideRoundTrip(t *testing.T) {
	e := newEnv(t, recommend(0.97), nil)
	c := newMCPClient(t, e)

	result, err := c.CallTool(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "kairo_decide",
			Arguments: map[string]any{
				"module": "payments",
				"mode":   "manual",
				"available_playbooks": []map[string]any{
					{"id": "pb-restart", "title": "Restart service"},
				},
			},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	var decision model.EnrichedDecision
	require.NoError(t, json.Unmarshal([]byte(text.Text), &decision))
	assert.True(t, decision.ShouldExecute, "0.97 clears the manual threshold")

	recs, err := e.store.ListRecent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, decision.DecisionID, recs[0].ID)
}
