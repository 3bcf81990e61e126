package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kaizen/internal/model"
)

const (
	statusURI          = "kaizen://status"
	agentURIPrefix     = "kaizen://agent/"
	agentStatusSuffix  = "/status"
	resourceMIMEType   = "application/json"
	agentStatusPattern = "kaizen://agent/{name}/status"
)

func (s *Server) registerResources() {
	// kaizen://status: last known-good status report.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			statusURI,
			"Status Report",
			mcplib.WithResourceDescription("Overall health, agent descriptors and recommendations from the last cycle"),
			mcplib.WithMIMEType(resourceMIMEType),
		),
		s.handleStatusResource,
	)

	// kaizen://agent/{name}/status: one agent's descriptor.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			agentStatusPattern,
			"Agent Status",
			mcplib.WithTemplateDescription("Descriptor of a single agent: status, health, success rate, schedule and last error"),
			mcplib.WithTemplateMIMEType(resourceMIMEType),
		),
		s.handleAgentStatusResource,
	)
}

func (s *Server) handleStatusResource(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.op.GetAgentStatusReport(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal status: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: statusURI, MIMEType: resourceMIMEType, Text: string(data)},
	}, nil
}

func (s *Server) handleAgentStatusResource(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	name, err := parseAgentStatusURI(uri)
	if err != nil {
		return nil, err
	}

	for _, d := range s.op.GetAgentStatusReport().AgentStatuses {
		if d.Name != name {
			continue
		}
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("mcp: marshal agent status: %w", err)
		}
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{URI: uri, MIMEType: resourceMIMEType, Text: string(data)},
		}, nil
	}
	return nil, fmt.Errorf("mcp: unknown agent %q", name)
}

// parseAgentStatusURI extracts the agent name from kaizen://agent/{name}/status.
func parseAgentStatusURI(uri string) (model.AgentName, error) {
	if !strings.HasPrefix(uri, agentURIPrefix) || !strings.HasSuffix(uri, agentStatusSuffix) {
		return "", fmt.Errorf("mcp: invalid agent status URI: %q", uri)
	}
	name := strings.TrimSuffix(strings.TrimPrefix(uri, agentURIPrefix), agentStatusSuffix)
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("mcp: invalid agent status URI: empty or nested agent name in %q", uri)
	}
	return model.AgentName(name), nil
}
