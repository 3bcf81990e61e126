// Package planner turns agent run decisions and a health snapshot into a
// deterministic execution plan.
package planner

import (
	"fmt"
	"slices"

	"github.com/ashita-ai/kaizen/internal/model"
)

// Config bounds a plan.
type Config struct {
	MaxConcurrentAgents int
	// DegradedHealth halves concurrency when overall health is below it.
	DegradedHealth float64
	// SequentialOnCritical forces sequential execution while critical
	// anomalies are open, so the monitor finishes before anything else starts.
	SequentialOnCritical bool
	// Monitor is the agent moved to the front when critical anomalies are open.
	Monitor model.AgentName
}

// Health is the subset of the quality snapshot the planner needs.
type Health struct {
	OpenCriticalAnomalies int
	OverallHealth         float64 // negative means unknown
}

// Candidate is one registered agent and its answer to ShouldRun.
// Candidates are passed in registration order.
type Candidate struct {
	Name        model.AgentName
	Decision    model.RunDecision
	Err         error
	Maintenance bool
}

// Entry is an agent selected for execution.
type Entry struct {
	Name     model.AgentName
	Priority model.Priority
	Reason   string
}

// Skip is an agent left out of the plan and why.
type Skip struct {
	Name   model.AgentName
	Reason string
}

// Plan is the ordered list of agents to run and how to run them.
type Plan struct {
	Agents      []Entry
	Strategy    model.ExecutionStrategy
	Concurrency int
	Skipped     []Skip
}

// Names returns the planned agent names in order.
func (p Plan) Names() []model.AgentName {
	out := make([]model.AgentName, len(p.Agents))
	for i, e := range p.Agents {
		out[i] = e.Name
	}
	return out
}

// Planner builds plans. It is stateless and safe for concurrent use.
type Planner struct {
	cfg Config
}

// New creates a planner.
func New(cfg Config) (*Planner, error) {
	if cfg.MaxConcurrentAgents < 1 {
		return nil, model.NewConfigError("MaxConcurrentAgents", "must be at least 1")
	}
	return &Planner{cfg: cfg}, nil
}

// Build produces the plan for one orchestration cycle. Same input, same plan.
func (p *Planner) Build(h Health, candidates []Candidate) Plan {
	critical := h.OpenCriticalAnomalies > 0

	type ranked struct {
		Entry
		order int
		first bool
	}
	var selected []ranked
	var plan Plan

	for i, c := range candidates {
		monitorFirst := critical && c.Name == p.cfg.Monitor
		switch {
		case c.Maintenance:
			plan.Skipped = append(plan.Skipped, Skip{Name: c.Name, Reason: "in maintenance"})
			continue
		case c.Err != nil && !monitorFirst:
			plan.Skipped = append(plan.Skipped, Skip{Name: c.Name, Reason: fmt.Sprintf("should-run failed: %v", c.Err)})
			continue
		case !c.Decision.ShouldRun && c.Decision.Priority != model.PriorityUrgent && !monitorFirst:
			plan.Skipped = append(plan.Skipped, Skip{Name: c.Name, Reason: "not due: " + c.Decision.Reason})
			continue
		}

		e := Entry{Name: c.Name, Priority: c.Decision.Priority, Reason: c.Decision.Reason}
		if monitorFirst {
			e.Priority = model.PriorityUrgent
			e.Reason = fmt.Sprintf("%d critical anomalies open", h.OpenCriticalAnomalies)
		}
		if e.Priority == "" {
			e.Priority = model.PriorityNormal
		}
		selected = append(selected, ranked{Entry: e, order: i, first: monitorFirst})
	}

	slices.SortStableFunc(selected, func(a, b ranked) int {
		if a.first != b.first {
			if a.first {
				return -1
			}
			return 1
		}
		if d := b.Priority.Rank() - a.Priority.Rank(); d != 0 {
			return d
		}
		return a.order - b.order
	})
	for _, r := range selected {
		plan.Agents = append(plan.Agents, r.Entry)
	}

	plan.Concurrency = p.cfg.MaxConcurrentAgents
	if h.OverallHealth >= 0 && h.OverallHealth < p.cfg.DegradedHealth {
		plan.Concurrency = max(1, plan.Concurrency/2)
	}
	switch {
	case critical && p.cfg.SequentialOnCritical:
		plan.Strategy = model.StrategySequential
	case plan.Concurrency <= 1 || len(plan.Agents) <= 1:
		plan.Strategy = model.StrategySequential
	default:
		plan.Strategy = model.StrategyParallel
	}
	if plan.Strategy == model.StrategySequential {
		plan.Concurrency = 1
	}
	return plan
}
