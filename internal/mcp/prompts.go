package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// health-triage: walks an operator from the status report to remediation.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("health-triage",
			mcplib.WithPromptDescription("Triage Kaizen health: read the report, decide between a normal cycle and emergency optimization"),
			mcplib.WithArgument("symptom",
				mcplib.ArgumentDescription("What prompted the triage, e.g. 'accuracy complaints' or 'error spike after deploy'"),
			),
		),
		s.handleHealthTriagePrompt,
	)
}

func (s *Server) handleHealthTriagePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	symptom := request.Params.Arguments["symptom"]
	if symptom == "" {
		symptom = "routine check"
	}
	report := s.op.GetAgentStatusReport()

	text := fmt.Sprintf(`Triage Kaizen health (trigger: %s).

Current overall health: %.2f across %d agents, %d recommendations.

1. Call kaizen_status_report and read every recommendation.
2. If a critical anomaly is open, call kaizen_emergency_optimization with a
   reason, then check stability_restored in the result.
3. Otherwise call kaizen_should_run; if it is due, call
   kaizen_run_orchestration and review the errors and top improvements.
4. Agents in error state list their last error in the report. Report any
   agent whose health stays below the degraded threshold after a cycle.`,
		symptom, report.OverallHealth, len(report.AgentStatuses), len(report.Recommendations))

	return &mcplib.GetPromptResult{
		Description: "Kaizen health triage",
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: text},
			},
		},
	}, nil
}
