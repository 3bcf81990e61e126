package model

import (
	"time"

	"github.com/google/uuid"
)

// Complexity grades how hard an improvement is to implement.
type Complexity string

const (
	ComplexityLow          Complexity = "low"
	ComplexityMedium       Complexity = "medium"
	ComplexityHigh         Complexity = "high"
	ComplexityExperimental Complexity = "experimental"
)

// OpportunityStatus is the disposition of a ranked opportunity.
type OpportunityStatus string

const (
	OpportunityProposed        OpportunityStatus = "proposed"
	OpportunityAutoImplemented OpportunityStatus = "auto_implemented"
	OpportunityPendingApproval OpportunityStatus = "pending_approval"
	OpportunityExperiment      OpportunityStatus = "experiment"
)

// ImprovementOpportunity is a candidate enhancement derived from agent output.
// Transient per cycle; persisted for audit and never re-mutated afterward.
type ImprovementOpportunity struct {
	ID                       uuid.UUID          `json:"id"`
	SourceAgent              AgentName          `json:"source_agent"`
	OpportunityType          string             `json:"opportunity_type"`
	Title                    string             `json:"title"`
	Objectives               []string           `json:"objectives,omitempty"`
	PotentialImpact          map[string]float64 `json:"potential_impact"`
	ImplementationComplexity Complexity         `json:"implementation_complexity"`
	SuccessProbability       float64            `json:"success_probability"`
	InnovationScore          float64            `json:"innovation_score"`
	PriorityScore            float64            `json:"priority_score"`
	Status                   OpportunityStatus  `json:"status"`
	CreatedAt                time.Time          `json:"created_at"`
}

// CoordinationType is how the agents of a coordination plan are sequenced.
type CoordinationType string

const (
	CoordinationParallel    CoordinationType = "parallel"
	CoordinationSequential  CoordinationType = "sequential"
	CoordinationConditional CoordinationType = "conditional"
)

// CoordinationPlan groups opportunities sharing an objective across agents.
// It is executed once by the orchestrator and then discarded.
type CoordinationPlan struct {
	ID                    uuid.UUID          `json:"id"`
	CoordinatedAgents     []AgentName        `json:"coordinated_agents"`
	CoordinationType      CoordinationType   `json:"coordination_type"`
	SharedObjectives      []string           `json:"shared_objectives"`
	SynchronizationPoints []string           `json:"synchronization_points"`
	SuccessMetrics        map[string]float64 `json:"success_metrics"`
	OpportunityIDs        []uuid.UUID        `json:"opportunity_ids"`
}

// ExperimentStatus is the lifecycle state of an innovation experiment.
type ExperimentStatus string

const (
	ExperimentProposed ExperimentStatus = "proposed"
)

// InnovationExperiment is a time-boxed, resource-capped trial of a
// low-probability, high-impact opportunity. Never auto-implemented.
type InnovationExperiment struct {
	ID            uuid.UUID        `json:"id"`
	OpportunityID uuid.UUID        `json:"opportunity_id"`
	Title         string           `json:"title"`
	Hypothesis    string           `json:"hypothesis"`
	StartsAt      time.Time        `json:"starts_at"`
	EndsAt        time.Time        `json:"ends_at"`
	ResourceCap   float64          `json:"resource_cap"`
	Status        ExperimentStatus `json:"status"`
}
