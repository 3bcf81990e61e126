// Package model defines the core domain types for Kaizen.
//
// Types map one-to-one onto persisted records and onto the values exchanged
// between the orchestrator, its agents and the quality monitor. Payloads that
// vary by kind (pattern data, personalization rules, corrective action
// details) are tagged unions rather than free-form maps.
package model

import (
	"time"

	"github.com/google/uuid"
)

// AgentName identifies one of the autonomous agents.
type AgentName string

const (
	AgentPatternDiscovery     AgentName = "pattern_discovery"
	AgentResearchEnhancement  AgentName = "research_enhancement"
	AgentPersonalization      AgentName = "personalization"
	AgentQualityMonitoring    AgentName = "quality_monitoring"
	AgentProactiveImprovement AgentName = "proactive_improvement"
)

// AllAgents lists the agents in their canonical registration order.
var AllAgents = []AgentName{
	AgentPatternDiscovery,
	AgentResearchEnhancement,
	AgentPersonalization,
	AgentQualityMonitoring,
	AgentProactiveImprovement,
}

// AgentStatus is the lifecycle state of an agent descriptor.
type AgentStatus string

const (
	AgentStatusIdle        AgentStatus = "idle"
	AgentStatusRunning     AgentStatus = "running"
	AgentStatusError       AgentStatus = "error"
	AgentStatusMaintenance AgentStatus = "maintenance"
)

// Priority ranks how urgently a run is warranted.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns the numeric rank of a priority (higher = more urgent).
// Unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 0
	}
}

// MaxPriority returns the more urgent of a and b.
func MaxPriority(a, b Priority) Priority {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// AgentDescriptor is the orchestrator-owned view of an agent.
// It is the only record persisted by upsert rather than append.
type AgentDescriptor struct {
	Name             AgentName   `json:"name"`
	Version          string      `json:"version"`
	Status           AgentStatus `json:"status"`
	LastRun          *time.Time  `json:"last_run,omitempty"`
	NextScheduledRun *time.Time  `json:"next_scheduled_run,omitempty"`
	HealthScore      float64     `json:"health_score"`
	SuccessRate      float64     `json:"success_rate"`
	LastError        string      `json:"last_error,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// RunDecision is the answer an agent gives to "should you run now?".
type RunDecision struct {
	ShouldRun           bool     `json:"should_run"`
	Reason              string   `json:"reason"`
	Priority            Priority `json:"priority"`
	EstimatedOutputSize int      `json:"estimated_output_size"`
}

// AgentMetrics is a read-only summary derived from an agent's run history.
type AgentMetrics struct {
	Version          string     `json:"version"`
	LastRun          *time.Time `json:"last_run,omitempty"`
	NextScheduledRun *time.Time `json:"next_scheduled_run,omitempty"`
	SuccessRate      float64    `json:"success_rate"`
	HealthScore      float64    `json:"health_score"`
	TotalRuns        int        `json:"total_runs"`
}

// LearningInsight is a human-readable finding emitted by an agent run.
type LearningInsight struct {
	ID          uuid.UUID `json:"id"`
	SourceAgent AgentName `json:"source_agent"`
	Kind        string    `json:"kind"`
	Summary     string    `json:"summary"`
	Confidence  float64   `json:"confidence"`
	Objectives  []string  `json:"objectives,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AgentRunResult is everything a single successful agent run produced.
// Findings are already persisted by the time the result is returned.
type AgentRunResult struct {
	RunID         uuid.UUID                `json:"run_id"`
	Agent         AgentName                `json:"agent"`
	StartedAt     time.Time                `json:"started_at"`
	CompletedAt   time.Time                `json:"completed_at"`
	Patterns      []DiscoveredPattern      `json:"patterns,omitempty"`
	Anomalies     []PerformanceAnomaly     `json:"anomalies,omitempty"`
	Profiles      []PersonalizationProfile `json:"profiles,omitempty"`
	Insights      []LearningInsight        `json:"insights,omitempty"`
	Opportunities []ImprovementOpportunity `json:"opportunities,omitempty"`
}

// FindingsCount returns the number of persisted findings in the result.
func (r *AgentRunResult) FindingsCount() int {
	if r == nil {
		return 0
	}
	return len(r.Patterns) + len(r.Anomalies) + len(r.Profiles)
}
