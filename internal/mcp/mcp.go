// Package mcp implements the Model Context Protocol operator surface for Kaizen.
//
// Operators (human or agent) use the tools to trigger orchestration cycles,
// ask whether a cycle is due, read the status report and run emergency
// optimization. The same report is exposed as the kaizen://status resource.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kaizen/internal/orchestrator"
)

// defaultEmergencyCooldown is the minimum spacing between emergency
// optimizations requested through MCP unless the caller forces one.
const defaultEmergencyCooldown = 5 * time.Minute

// Operator is the orchestration surface the tools drive.
type Operator interface {
	RunOrchestration(ctx context.Context) (*orchestrator.OrchestrationResult, error)
	ShouldRunOrchestration(ctx context.Context) (orchestrator.OrchestrationDecision, error)
	GetAgentStatusReport() orchestrator.StatusReport
	ExecuteEmergencyOptimization(ctx context.Context) (*orchestrator.EmergencyResult, error)
}

// Server wraps the MCP server with the orchestrator.
type Server struct {
	mcpServer *mcpserver.MCPServer
	op        Operator
	logger    *slog.Logger
	cooldown  *cooldown
}

// New creates and configures a new MCP server with all resources, tools and prompts.
func New(op Operator, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		op:       op,
		logger:   logger,
		cooldown: newCooldown(defaultEmergencyCooldown),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kaizen",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const serverInstructions = `Kaizen coordinates five analysis agents (pattern discovery, research
enhancement, personalization, quality monitoring, proactive improvement).

Start with kaizen_status_report or the kaizen://status resource. Use
kaizen_should_run before kaizen_run_orchestration unless you have a reason to
force a cycle. Reserve kaizen_emergency_optimization for open critical
anomalies; it only applies low-risk actions above the auto-apply threshold and
leaves everything else as a recommendation for you to act on.`

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
