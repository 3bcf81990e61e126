package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStrategy is how the agents of a plan are executed.
type ExecutionStrategy string

const (
	StrategySequential ExecutionStrategy = "sequential"
	StrategyParallel   ExecutionStrategy = "parallel"
)

// ErrorKind classifies a per-agent failure recorded in a session.
type ErrorKind string

const (
	ErrorKindTransientData ErrorKind = "transient_data"
	ErrorKindExecution     ErrorKind = "execution"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindConcurrency   ErrorKind = "concurrency"
)

// AgentError is a per-agent failure captured in an orchestration session.
type AgentError struct {
	Agent   AgentName `json:"agent"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// OrchestrationSession is one end-to-end orchestration cycle.
// It is mutated while the cycle runs and persisted exactly once after
// CompletedAt is set; at that point
// SuccessfulExecutions+FailedExecutions == len(AgentsExecuted).
type OrchestrationSession struct {
	ID                        uuid.UUID         `json:"id"`
	StartedAt                 time.Time         `json:"started_at"`
	CompletedAt               *time.Time        `json:"completed_at,omitempty"`
	Strategy                  ExecutionStrategy `json:"strategy"`
	AgentsExecuted            []AgentName       `json:"agents_executed"`
	SuccessfulExecutions      int               `json:"successful_executions"`
	FailedExecutions          int               `json:"failed_executions"`
	TotalImprovements         int               `json:"total_improvements"`
	TotalInsights             int               `json:"total_insights"`
	CoordinationPlansExecuted int               `json:"coordination_plans_executed"`
	EfficiencyScore           float64           `json:"efficiency_score"`
	Errors                    []AgentError      `json:"errors,omitempty"`
}

// Completed reports whether the session has been finalized.
func (s *OrchestrationSession) Completed() bool {
	return s.CompletedAt != nil
}

// Balanced reports whether the execution counters add up.
func (s *OrchestrationSession) Balanced() bool {
	return s.SuccessfulExecutions+s.FailedExecutions == len(s.AgentsExecuted)
}
