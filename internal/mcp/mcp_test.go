package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/orchestrator"
	"github.com/ashita-ai/kaizen/internal/testutil"
)

type fakeOperator struct {
	decision  orchestrator.OrchestrationDecision
	runErr    error
	emergErr  error
	runs      atomic.Int32
	emergency atomic.Int32
}

func (f *fakeOperator) RunOrchestration(context.Context) (*orchestrator.OrchestrationResult, error) {
	f.runs.Add(1)
	if f.runErr != nil {
		return nil, f.runErr
	}
	done := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return &orchestrator.OrchestrationResult{
		Session: model.OrchestrationSession{
			ID:                   uuid.New(),
			StartedAt:            done.Add(-time.Minute),
			CompletedAt:          &done,
			Strategy:             model.StrategyParallel,
			AgentsExecuted:       []model.AgentName{model.AgentPatternDiscovery, model.AgentPersonalization},
			SuccessfulExecutions: 2,
			TotalImprovements:    1,
			EfficiencyScore:      0.98765,
		},
		Results: []*model.AgentRunResult{
			{Agent: model.AgentPatternDiscovery, Patterns: make([]model.DiscoveredPattern, 3)},
		},
		Ranked: []model.ImprovementOpportunity{
			{ID: uuid.New(), SourceAgent: model.AgentPatternDiscovery, Title: "adopt hour 9", PriorityScore: 0.71234, Status: model.OpportunityPendingApproval},
		},
	}, nil
}

func (f *fakeOperator) ShouldRunOrchestration(context.Context) (orchestrator.OrchestrationDecision, error) {
	return f.decision, nil
}

func (f *fakeOperator) GetAgentStatusReport() orchestrator.StatusReport {
	return orchestrator.StatusReport{
		OverallHealth: 0.8,
		AgentStatuses: []model.AgentDescriptor{
			{Name: model.AgentQualityMonitoring, Status: model.AgentStatusIdle, HealthScore: 0.8},
			{Name: model.AgentPersonalization, Status: model.AgentStatusError, LastError: "boom"},
		},
		Recommendations: []string{"agent personalization health 0.00 is below 0.70"},
	}
}

func (f *fakeOperator) ExecuteEmergencyOptimization(context.Context) (*orchestrator.EmergencyResult, error) {
	f.emergency.Add(1)
	if f.emergErr != nil {
		return nil, f.emergErr
	}
	return &orchestrator.EmergencyResult{StabilityRestored: true, RecoveryTimeMs: 12}, nil
}

func newTestServer(op *fakeOperator) *Server {
	return New(op, testutil.TestLogger(), "test")
}

func callTool(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{Params: mcplib.CallToolParams{Name: name, Arguments: args}}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected TextContent")
	return tc.Text
}

func decodeTool(t *testing.T, result *mcplib.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, result.IsError, parseToolText(t, result))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	return out
}

func TestRunOrchestrationCompact(t *testing.T) {
	op := &fakeOperator{}
	s := newTestServer(op)

	result, err := s.handleRunOrchestration(context.Background(), callTool("kaizen_run_orchestration", nil))
	require.NoError(t, err)
	out := decodeTool(t, result)

	assert.Equal(t, 0.988, out["efficiency_score"])
	assert.Equal(t, float64(2), out["successful_executions"])
	assert.Equal(t, map[string]any{"pattern_discovery": float64(3)}, out["findings"])
	top := out["top_improvements"].([]any)
	require.Len(t, top, 1)
	assert.Equal(t, 0.712, top[0].(map[string]any)["priority_score"])
	assert.NotContains(t, out, "errors")
}

func TestRunOrchestrationVerbose(t *testing.T) {
	s := newTestServer(&fakeOperator{})
	result, err := s.handleRunOrchestration(context.Background(),
		callTool("kaizen_run_orchestration", map[string]any{"verbose": true}))
	require.NoError(t, err)
	out := decodeTool(t, result)
	assert.Contains(t, out, "session")
	assert.Contains(t, out, "results")
}

func TestRunOrchestrationOnlyIfDue(t *testing.T) {
	op := &fakeOperator{decision: orchestrator.OrchestrationDecision{
		Reasons:           []string{"not due until 2026-03-10T13:00:00Z"},
		Priority:          model.PriorityLow,
		EstimatedDuration: 90 * time.Second,
	}}
	s := newTestServer(op)

	result, err := s.handleRunOrchestration(context.Background(),
		callTool("kaizen_run_orchestration", map[string]any{"only_if_due": true}))
	require.NoError(t, err)
	out := decodeTool(t, result)
	assert.Equal(t, false, out["ran"])
	decision := out["decision"].(map[string]any)
	assert.Equal(t, "1m30s", decision["estimated_duration"])
	assert.Zero(t, op.runs.Load())
}

func TestRunOrchestrationErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"concurrent", fmt.Errorf("orchestrator: run: %w", model.ErrConcurrencyViolation), "already running"},
		{"other", errors.New("config drift"), "orchestration failed: config drift"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeOperator{runErr: tt.err})
			result, err := s.handleRunOrchestration(context.Background(), callTool("kaizen_run_orchestration", nil))
			require.NoError(t, err)
			require.True(t, result.IsError)
			assert.Contains(t, parseToolText(t, result), tt.want)
		})
	}
}

func TestShouldRun(t *testing.T) {
	op := &fakeOperator{decision: orchestrator.OrchestrationDecision{
		ShouldRun: true,
		Reasons:   []string{"2 critical anomalies open", "overall health 0.50 below 0.70"},
		Priority:  model.PriorityUrgent,
	}}
	s := newTestServer(op)
	result, err := s.handleShouldRun(context.Background(), callTool("kaizen_should_run", nil))
	require.NoError(t, err)
	out := decodeTool(t, result)
	assert.Equal(t, true, out["should_run"])
	assert.Equal(t, "urgent", out["priority"])
	assert.Len(t, out["reasons"], 2)
}

func TestStatusReportToolAndResource(t *testing.T) {
	s := newTestServer(&fakeOperator{})

	result, err := s.handleStatusReport(context.Background(), callTool("kaizen_status_report", nil))
	require.NoError(t, err)
	out := decodeTool(t, result)
	assert.Equal(t, 0.8, out["overall_health"])

	contents, err := s.handleStatusResource(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: statusURI},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcplib.TextResourceContents)
	assert.Equal(t, resourceMIMEType, text.MIMEType)
	assert.Contains(t, text.Text, "agent personalization health")
}

func TestAgentStatusResource(t *testing.T) {
	s := newTestServer(&fakeOperator{})

	contents, err := s.handleAgentStatusResource(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "kaizen://agent/personalization/status"},
	})
	require.NoError(t, err)
	var d model.AgentDescriptor
	require.NoError(t, json.Unmarshal([]byte(contents[0].(mcplib.TextResourceContents).Text), &d))
	assert.Equal(t, model.AgentStatusError, d.Status)
	assert.Equal(t, "boom", d.LastError)

	_, err = s.handleAgentStatusResource(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "kaizen://agent/telepathy/status"},
	})
	assert.ErrorContains(t, err, "unknown agent")
}

func TestParseAgentStatusURI(t *testing.T) {
	tests := []struct {
		uri       string
		want      model.AgentName
		errSubstr string
	}{
		{uri: "kaizen://agent/pattern_discovery/status", want: model.AgentPatternDiscovery},
		{uri: "kaizen://agent/status-checker/status", want: "status-checker"},
		{uri: "kaizen://agent//status", errSubstr: "empty or nested"},
		{uri: "kaizen://agent/a/b/status", errSubstr: "empty or nested"},
		{uri: "kaizen://agent/pattern_discovery", errSubstr: "invalid agent status URI"},
		{uri: "other://agent/x/status", errSubstr: "invalid agent status URI"},
		{uri: "", errSubstr: "invalid agent status URI"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := parseAgentStatusURI(tt.uri)
			if tt.errSubstr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmergencyCooldown(t *testing.T) {
	op := &fakeOperator{}
	s := newTestServer(op)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.cooldown.now = func() time.Time { return now }
	ctx := context.Background()

	result, err := s.handleEmergency(ctx, callTool("kaizen_emergency_optimization", map[string]any{"reason": "error spike"}))
	require.NoError(t, err)
	assert.Equal(t, true, decodeTool(t, result)["stability_restored"])

	now = now.Add(2 * time.Minute)
	result, err = s.handleEmergency(ctx, callTool("kaizen_emergency_optimization", nil))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "retry in 3m0s")

	result, err = s.handleEmergency(ctx, callTool("kaizen_emergency_optimization", map[string]any{"force": true}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, int32(2), op.emergency.Load())
}

func TestEmergencyFailureReleasesCooldown(t *testing.T) {
	op := &fakeOperator{emergErr: fmt.Errorf("orchestrator: emergency optimization: %w", model.ErrConcurrencyViolation)}
	s := newTestServer(op)
	ctx := context.Background()

	result, err := s.handleEmergency(ctx, callTool("kaizen_emergency_optimization", nil))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "already running")

	op.emergErr = nil
	result, err = s.handleEmergency(ctx, callTool("kaizen_emergency_optimization", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError, "a rejected attempt does not start the cooldown")
}

func TestHealthTriagePrompt(t *testing.T) {
	s := newTestServer(&fakeOperator{})
	res, err := s.handleHealthTriagePrompt(context.Background(), mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{Name: "health-triage", Arguments: map[string]string{"symptom": "error spike"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	text := res.Messages[0].Content.(mcplib.TextContent).Text
	assert.Contains(t, text, "trigger: error spike")
	assert.Contains(t, text, "0.80 across 2 agents")
}
