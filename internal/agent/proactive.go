package agent

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/quality"
)

// Target is the value a metric should reach.
type Target struct {
	Value     float64
	Direction quality.Direction
}

// ProactiveConfig controls the proactive improvement agent.
type ProactiveConfig struct {
	Interval time.Duration
	// VolumeWindow is compared against the window before it.
	VolumeWindow          time.Duration
	VolumeGrowthThreshold float64
	// TargetGap is the relative distance from target that makes a stable
	// metric worth an opportunity.
	TargetGap float64
	Targets   map[string]Target
}

// DefaultProactiveConfig returns the standard configuration.
func DefaultProactiveConfig() ProactiveConfig {
	return ProactiveConfig{
		Interval:              24 * time.Hour,
		VolumeWindow:          7 * 24 * time.Hour,
		VolumeGrowthThreshold: 0.5,
		TargetGap:             0.1,
		Targets: map[string]Target{
			"accuracy":      {Value: 0.85, Direction: quality.HigherIsBetter},
			"satisfaction":  {Value: 0.8, Direction: quality.HigherIsBetter},
			"effectiveness": {Value: 0.7, Direction: quality.HigherIsBetter},
			"error_rate":    {Value: 0.02, Direction: quality.LowerIsBetter},
			"response_time": {Value: 500, Direction: quality.LowerIsBetter},
		},
	}
}

// ProactiveImprovement looks for upside rather than problems: metrics that
// are improving, stable metrics far from target and growing volume.
type ProactiveImprovement struct {
	*base
	cfg ProactiveConfig
}

// NewProactiveImprovement creates the agent.
func NewProactiveImprovement(cfg ProactiveConfig, deps Deps) *ProactiveImprovement {
	return &ProactiveImprovement{
		base: newBase(model.AgentProactiveImprovement, cfg.Interval, cfg.Interval, deps),
		cfg:  cfg,
	}
}

// ShouldRun implements Agent.
func (a *ProactiveImprovement) ShouldRun(ctx context.Context) (model.RunDecision, error) {
	return a.decide(ctx, func(int) int { return len(a.cfg.Targets) + 1 })
}

// Run implements Agent.
func (a *ProactiveImprovement) Run(ctx context.Context) (*model.AgentRunResult, error) {
	return a.run(ctx, a.propose)
}

func (a *ProactiveImprovement) propose(ctx context.Context, rc runContext) (*model.AgentRunResult, error) {
	res := &model.AgentRunResult{}

	if a.deps.Health != nil {
		for _, m := range a.deps.Health.Snapshot().Metrics {
			switch m.Trend {
			case model.TrendImproving:
				res.Insights = append(res.Insights, a.insight(rc, "improving_metric",
					fmt.Sprintf("%s improved %.1f%% over baseline", m.Name, -m.Deviation*100), 0.7, m.Name))
				res.Opportunities = append(res.Opportunities, a.opportunity(rc, "amplify_success",
					"Amplify what is improving "+m.Name, model.ComplexityLow, 0.7, 0.5,
					map[string]float64{m.Name: math.Abs(m.Deviation)}, m.Name))
			case model.TrendStable:
				t, ok := a.cfg.Targets[m.Name]
				if !ok {
					continue
				}
				gap := quality.Degradation(t.Direction, m.CurrentValue, t.Value)
				if gap <= a.cfg.TargetGap {
					continue
				}
				res.Opportunities = append(res.Opportunities, a.opportunity(rc, "target_gap",
					fmt.Sprintf("Close %.0f%% gap to %s target", gap*100, m.Name), model.ComplexityMedium, 0.5, 0.3,
					map[string]float64{m.Name: min(1, gap)}, m.Name))
			}
		}
	}

	cur, err := a.deps.Source.CountRecords(ctx, model.RecordQuery{Since: rc.Now.Add(-a.cfg.VolumeWindow), Until: rc.Now})
	if err != nil {
		return nil, model.NewTransientDataError("proactive_improvement: count current volume", err)
	}
	prev, err := a.deps.Source.CountRecords(ctx, model.RecordQuery{
		Since: rc.Now.Add(-2 * a.cfg.VolumeWindow),
		Until: rc.Now.Add(-a.cfg.VolumeWindow),
	})
	if err != nil {
		return nil, model.NewTransientDataError("proactive_improvement: count previous volume", err)
	}
	if prev > 0 {
		growth := float64(cur-prev) / float64(prev)
		if growth > a.cfg.VolumeGrowthThreshold {
			res.Insights = append(res.Insights, a.insight(rc, "volume_growth",
				fmt.Sprintf("volume grew %.0f%% (%d -> %d records)", growth*100, prev, cur), 0.9, "response_time"))
			res.Opportunities = append(res.Opportunities, a.opportunity(rc, "capacity_scaling",
				"Scale capacity ahead of volume growth", model.ComplexityHigh, 0.3, 0.8,
				map[string]float64{"response_time": min(1, growth)}, "response_time"))
		}
	}
	res.Opportunities = focused(res.Opportunities, rc.Focus)

	a.deps.Logger.Info("proactive_improvement: run complete", "opportunities", len(res.Opportunities))
	return res, nil
}
