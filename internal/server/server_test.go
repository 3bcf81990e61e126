package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaizen/internal/mcp"
	"github.com/ashita-ai/kaizen/internal/orchestrator"
	"github.com/ashita-ai/kaizen/internal/ratelimit"
	"github.com/ashita-ai/kaizen/internal/server"
)

type fakeStatus struct {
	health  float64
	running bool
}

func (f fakeStatus) GetAgentStatusReport() orchestrator.StatusReport {
	return orchestrator.StatusReport{OverallHealth: f.health, GeneratedAt: time.Now()}
}

func (f fakeStatus) Running() bool { return f.running }

func (f fakeStatus) RunOrchestration(context.Context) (*orchestrator.OrchestrationResult, error) {
	return &orchestrator.OrchestrationResult{}, nil
}

func (f fakeStatus) ShouldRunOrchestration(context.Context) (orchestrator.OrchestrationDecision, error) {
	return orchestrator.OrchestrationDecision{}, nil
}

func (f fakeStatus) ExecuteEmergencyOptimization(context.Context) (*orchestrator.EmergencyResult, error) {
	return &orchestrator.EmergencyResult{}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(t *testing.T, status fakeStatus, storage server.Pinger) *httptest.Server {
	t.Helper()
	srv := server.New(server.Config{
		Status:         status,
		Storage:        storage,
		MCPServer:      mcp.New(status, slog.New(slog.DiscardHandler), "test").MCPServer(),
		Logger:         slog.New(slog.DiscardHandler),
		Version:        "test",
		DegradedHealth: 0.7,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		status     fakeStatus
		storage    server.Pinger
		wantCode   int
		wantStatus string
		wantStore  string
	}{
		{"healthy", fakeStatus{health: 0.9}, fakePinger{}, http.StatusOK, "healthy", "connected"},
		{"no storage", fakeStatus{health: 0.9}, nil, http.StatusOK, "healthy", "in-memory"},
		{"not yet assessed", fakeStatus{health: -1}, fakePinger{}, http.StatusOK, "healthy", "connected"},
		{"degraded", fakeStatus{health: 0.4, running: true}, fakePinger{}, http.StatusOK, "degraded", "connected"},
		{"storage down", fakeStatus{health: 0.4}, fakePinger{err: errors.New("refused")}, http.StatusServiceUnavailable, "unhealthy", "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.status, tt.storage)

			resp, err := http.Get(ts.URL + "/health")
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
			assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

			var body server.HealthResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.wantStore, body.Storage)
			assert.Equal(t, tt.status.running, body.Orchestrating)
			assert.Equal(t, "test", body.Version)
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, fakeStatus{health: 1}, nil)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestMCPOverHTTP(t *testing.T) {
	ts := newTestServer(t, fakeStatus{health: 1}, nil)

	c, err := mcpclient.NewStreamableHttpClient(ts.URL + "/mcp")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	initResult, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "kaizen", initResult.ServerInfo.Name)
	assert.Equal(t, "test", initResult.ServerInfo.Version)

	tools, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"kaizen_run_orchestration",
		"kaizen_should_run",
		"kaizen_status_report",
		"kaizen_emergency_optimization",
	} {
		assert.True(t, names[want], "expected %s tool", want)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	ts := newTestServer(t, fakeStatus{health: 1}, nil)

	resp, err := http.Get(ts.URL + "/v1/decisions")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMCPIsRateLimitedPerAddress(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.01, 1)
	defer func() { _ = limiter.Close() }()
	status := fakeStatus{health: 1}
	srv := server.New(server.Config{
		Status:    status,
		MCPServer: mcp.New(status, slog.New(slog.DiscardHandler), "test").MCPServer(),
		Limiter:   limiter,
		Logger:    slog.New(slog.DiscardHandler),
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	post := func() *http.Response {
		resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp
	}
	assert.NotEqual(t, http.StatusTooManyRequests, post().StatusCode)
	resp := post()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Health is never limited.
	for range 3 {
		h, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		_ = h.Body.Close()
		assert.Equal(t, http.StatusOK, h.StatusCode)
	}
}
