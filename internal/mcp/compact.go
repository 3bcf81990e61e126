package mcp

import (
	"math"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/orchestrator"
)

const maxCompactItems = 10

// compactRun returns a minimal representation of an orchestration result.
// Per-agent payloads (patterns, profiles) are reduced to counts; ranked
// improvements keep only what an operator acts on.
func compactRun(r *orchestrator.OrchestrationResult) map[string]any {
	s := r.Session
	m := map[string]any{
		"session_id":                  s.ID,
		"strategy":                    s.Strategy,
		"agents_executed":             s.AgentsExecuted,
		"successful_executions":       s.SuccessfulExecutions,
		"failed_executions":           s.FailedExecutions,
		"total_improvements":          s.TotalImprovements,
		"total_insights":              s.TotalInsights,
		"coordination_plans_executed": s.CoordinationPlansExecuted,
		"efficiency_score":            round3(s.EfficiencyScore),
	}
	if len(s.Errors) > 0 {
		m["errors"] = s.Errors
	}
	if len(r.Skipped) > 0 {
		m["skipped"] = r.Skipped
	}

	findings := map[model.AgentName]int{}
	for _, res := range r.Results {
		if res != nil {
			findings[res.Agent] = res.FindingsCount()
		}
	}
	if len(findings) > 0 {
		m["findings"] = findings
	}

	var improvements []map[string]any
	for i, o := range r.Ranked {
		if i == maxCompactItems {
			break
		}
		improvements = append(improvements, compactImprovement(o))
	}
	if len(improvements) > 0 {
		m["top_improvements"] = improvements
	}
	if n := len(r.Experiments); n > 0 {
		m["experiments"] = n
	}
	if n := len(r.Plans); n > 0 {
		m["plans"] = n
	}
	return m
}

func compactImprovement(o model.ImprovementOpportunity) map[string]any {
	return map[string]any{
		"id":             o.ID,
		"source_agent":   o.SourceAgent,
		"title":          o.Title,
		"objectives":     o.Objectives,
		"complexity":     o.ImplementationComplexity,
		"priority_score": round3(o.PriorityScore),
		"status":         o.Status,
	}
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
