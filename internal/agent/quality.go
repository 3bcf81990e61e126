package agent

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/quality"
)

// QualityConfig controls the quality monitoring agent.
type QualityConfig struct {
	Interval time.Duration
}

// QualityMonitoring runs the quality monitor cycle as an agent and turns
// actions left for an operator into follow-up opportunities.
type QualityMonitoring struct {
	*base
	monitor *quality.Monitor
}

// NewQualityMonitoring creates the agent around monitor. The monitor is also
// the agent's health source.
func NewQualityMonitoring(cfg QualityConfig, monitor *quality.Monitor, deps Deps) *QualityMonitoring {
	deps.Health = monitor
	return &QualityMonitoring{
		base:    newBase(model.AgentQualityMonitoring, cfg.Interval, cfg.Interval, deps),
		monitor: monitor,
	}
}

// ShouldRun implements Agent.
func (a *QualityMonitoring) ShouldRun(ctx context.Context) (model.RunDecision, error) {
	return a.decide(ctx, func(int) int { return len(a.monitor.Config().Metrics) })
}

// Run implements Agent.
func (a *QualityMonitoring) Run(ctx context.Context) (*model.AgentRunResult, error) {
	return a.run(ctx, a.monitorCycle)
}

func (a *QualityMonitoring) monitorCycle(ctx context.Context, rc runContext) (*model.AgentRunResult, error) {
	cycle, err := a.monitor.RunCycle(ctx)
	if err != nil {
		return nil, err
	}

	res := &model.AgentRunResult{Anomalies: cycle.Anomalies}
	for _, an := range cycle.Anomalies {
		objectives := make([]string, len(an.MetricsInvolved))
		for i, m := range an.MetricsInvolved {
			objectives[i] = m.Name
		}
		res.Insights = append(res.Insights, a.insight(rc, "anomaly",
			fmt.Sprintf("%s (%s) on %v", an.Type, an.Severity, objectives), 0.9, objectives...))

		for _, act := range an.RecommendedActions {
			if act.Applied {
				continue
			}
			impact := make(map[string]float64, len(act.ExpectedImpact))
			for k, v := range act.ExpectedImpact {
				impact[k] = math.Abs(v)
			}
			res.Opportunities = append(res.Opportunities, a.opportunity(rc, "corrective_followup",
				fmt.Sprintf("Apply %s for %s", act.ActionType, an.Type),
				riskComplexity(act.RiskLevel), act.SuccessProbability, 0.1, impact, objectives...))
		}
	}
	res.Opportunities = focused(res.Opportunities, rc.Focus)

	a.deps.Logger.Info("quality_monitoring: run complete",
		"metrics", len(cycle.Metrics),
		"anomalies", len(cycle.Anomalies),
		"applied", len(cycle.Applied),
		"overall_health", cycle.OverallHealth,
	)
	return res, nil
}

func riskComplexity(r model.RiskLevel) model.Complexity {
	switch r {
	case model.RiskLow:
		return model.ComplexityLow
	case model.RiskMedium:
		return model.ComplexityMedium
	default:
		return model.ComplexityHigh
	}
}
