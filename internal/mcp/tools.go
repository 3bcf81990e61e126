package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/orchestrator"
)

func (s *Server) registerTools() {
	// kaizen_run_orchestration: run one orchestration cycle.
	s.mcpServer.AddTool(
		mcplib.NewTool("kaizen_run_orchestration",
			mcplib.WithDescription(`Run one orchestration cycle over the five agents.

Each agent decides whether it is due; due agents run on a bounded pool with
per-agent timeouts, their improvement opportunities are ranked and turned
into coordination plans, and the session is persisted. One agent failing
never aborts the cycle; failures are listed under "errors".

Fails immediately if a cycle or emergency optimization is already running.
Set only_if_due=true to skip the cycle when kaizen_should_run says no.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithBoolean("only_if_due",
				mcplib.Description("Check the orchestration trigger first and skip the cycle when it is not due"),
				mcplib.DefaultBool(false),
			),
			mcplib.WithBoolean("verbose",
				mcplib.Description("Return full agent results instead of a compact summary"),
				mcplib.DefaultBool(false),
			),
		),
		s.handleRunOrchestration,
	)

	// kaizen_should_run: evaluate the orchestration trigger.
	s.mcpServer.AddTool(
		mcplib.NewTool("kaizen_should_run",
			mcplib.WithDescription(`Ask whether an orchestration cycle is warranted now.

Returns should_run, the reasons, a priority (low, normal, high, urgent) and
the estimated cycle duration. Open critical anomalies always make a cycle
urgent.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleShouldRun,
	)

	// kaizen_status_report: last known-good status report.
	s.mcpServer.AddTool(
		mcplib.NewTool("kaizen_status_report",
			mcplib.WithDescription(`Read the last known-good status report: overall health, every agent's
descriptor (status, health, success rate, last error) and recommendations.
Never blocks on a running cycle.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleStatusReport,
	)

	// kaizen_emergency_optimization: assess, remediate, re-assess.
	s.mcpServer.AddTool(
		mcplib.NewTool("kaizen_emergency_optimization",
			mcplib.WithDescription(`Run emergency optimization: assess system health, retry eligible corrective
actions (low risk, success probability above the auto-apply threshold) on open
anomalies not yet corrected, and re-assess. Other actions stay recommendations.

Reports the actions taken and whether stability was restored (no open
critical anomaly and health at or above the degraded threshold). Refused
within five minutes of a previous request unless force=true.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("reason",
				mcplib.Description("Why emergency optimization is needed; recorded in the server log"),
			),
			mcplib.WithBoolean("force",
				mcplib.Description("Bypass the cooldown between emergency optimizations"),
				mcplib.DefaultBool(false),
			),
		),
		s.handleEmergency,
	)
}

func (s *Server) handleRunOrchestration(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if request.GetBool("only_if_due", false) {
		d, err := s.op.ShouldRunOrchestration(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("should-run check failed: %v", err)), nil
		}
		if !d.ShouldRun {
			return jsonResult(map[string]any{
				"ran":      false,
				"decision": decisionView(d),
			}), nil
		}
	}

	res, err := s.op.RunOrchestration(ctx)
	if errors.Is(err, model.ErrConcurrencyViolation) {
		return errorResult("an orchestration cycle or emergency optimization is already running"), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("orchestration failed: %v", err)), nil
	}
	s.logger.Info("mcp: orchestration run", "session_id", res.Session.ID)

	if request.GetBool("verbose", false) {
		return jsonResult(res), nil
	}
	return jsonResult(compactRun(res)), nil
}

func (s *Server) handleShouldRun(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	d, err := s.op.ShouldRunOrchestration(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("should-run check failed: %v", err)), nil
	}
	return jsonResult(decisionView(d)), nil
}

func (s *Server) handleStatusReport(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(s.op.GetAgentStatusReport()), nil
}

func (s *Server) handleEmergency(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	force := request.GetBool("force", false)
	ok, wait := s.cooldown.Acquire(force)
	if !ok {
		return errorResult(fmt.Sprintf("emergency optimization ran recently; retry in %s or set force=true", wait.Round(time.Second))), nil
	}

	s.logger.Warn("mcp: emergency optimization requested",
		"reason", request.GetString("reason", ""), "force", force)
	res, err := s.op.ExecuteEmergencyOptimization(ctx)
	if errors.Is(err, model.ErrConcurrencyViolation) {
		s.cooldown.Release()
		return errorResult("an orchestration cycle or emergency optimization is already running"), nil
	}
	if err != nil {
		s.cooldown.Release()
		return errorResult(fmt.Sprintf("emergency optimization failed: %v", err)), nil
	}
	return jsonResult(res), nil
}

// decisionView renders a decision with a readable duration.
func decisionView(d orchestrator.OrchestrationDecision) map[string]any {
	return map[string]any{
		"should_run":            d.ShouldRun,
		"reasons":               d.Reasons,
		"priority":              d.Priority,
		"estimated_duration":    d.EstimatedDuration.String(),
		"estimated_duration_ms": d.EstimatedDuration.Milliseconds(),
	}
}
