package kaizen

import (
	"time"

	"github.com/google/uuid"
)

// CorrectiveAction is the public representation of a remediation the quality
// monitor wants applied. No internal package imports: safe to use from
// outside the module.
type CorrectiveAction struct {
	ID                 uuid.UUID
	AnomalyID          uuid.UUID
	ActionType         string
	TargetComponents   []string
	ExpectedImpact     map[string]float64
	RiskLevel          string
	SuccessProbability float64
	// Details carries the type-specific parameters (for example the cache
	// TTL or the alert threshold) keyed by field name.
	Details map[string]any
}

// Improvement is an improvement opportunity cleared for auto-implementation.
type Improvement struct {
	ID                       uuid.UUID
	SourceAgent              string
	OpportunityType          string
	Title                    string
	Objectives               []string
	PotentialImpact          map[string]float64
	ImplementationComplexity string
	SuccessProbability       float64
	PriorityScore            float64
	CreatedAt                time.Time
}

// AgentFailure describes one agent failing during a cycle.
type AgentFailure struct {
	Agent string
	// Kind classifies Err, for example "timeout".
	Kind string
	Err  error
}
