package agent

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ashita-ai/kaizen/internal/model"
)

// GroupScoreFunc scores the research quality of one group of sessions.
// ok is false when the group carries nothing to score.
type GroupScoreFunc func(recs []model.BehavioralRecord) (score float64, ok bool)

// DefaultGroupScore averages the mean accuracy and mean satisfaction of the
// group, using whichever of the two is present.
func DefaultGroupScore(recs []model.BehavioralRecord) (float64, bool) {
	var acc, sat float64
	na, ns := 0, 0
	for _, r := range recs {
		if r.Accuracy != nil {
			acc += *r.Accuracy
			na++
		}
		if r.Satisfaction != nil {
			sat += *r.Satisfaction
			ns++
		}
	}
	switch {
	case na > 0 && ns > 0:
		return (acc/float64(na) + sat/float64(ns)) / 2, true
	case na > 0:
		return acc / float64(na), true
	case ns > 0:
		return sat / float64(ns), true
	default:
		return 0, false
	}
}

// ResearchConfig controls the research enhancement agent.
type ResearchConfig struct {
	Interval       time.Duration
	Lookback       time.Duration
	GroupAttribute string
	MinGroupSize   int
	QualityFloor   float64
	QualityCeiling float64
	Score          GroupScoreFunc
}

// DefaultResearchConfig returns the standard configuration.
func DefaultResearchConfig() ResearchConfig {
	return ResearchConfig{
		Interval:       12 * time.Hour,
		Lookback:       7 * 24 * time.Hour,
		GroupAttribute: "source",
		MinGroupSize:   5,
		QualityFloor:   0.5,
		QualityCeiling: 0.85,
		Score:          DefaultGroupScore,
	}
}

// ResearchEnhancement grades research quality per source group and proposes
// fixes for weak sources and expansion of strong ones.
type ResearchEnhancement struct {
	*base
	cfg ResearchConfig
}

// NewResearchEnhancement creates the agent.
func NewResearchEnhancement(cfg ResearchConfig, deps Deps) *ResearchEnhancement {
	if cfg.Score == nil {
		cfg.Score = DefaultGroupScore
	}
	return &ResearchEnhancement{
		base: newBase(model.AgentResearchEnhancement, cfg.Interval, cfg.Lookback, deps),
		cfg:  cfg,
	}
}

// ShouldRun implements Agent.
func (a *ResearchEnhancement) ShouldRun(ctx context.Context) (model.RunDecision, error) {
	return a.decide(ctx, func(n int) int { return n / max(1, a.cfg.MinGroupSize) })
}

// Run implements Agent.
func (a *ResearchEnhancement) Run(ctx context.Context) (*model.AgentRunResult, error) {
	return a.run(ctx, a.enhance)
}

func (a *ResearchEnhancement) enhance(ctx context.Context, rc runContext) (*model.AgentRunResult, error) {
	recs, err := a.deps.Source.Records(ctx, model.RecordQuery{Since: rc.Since, Until: rc.Now})
	if err != nil {
		return nil, model.NewTransientDataError("research_enhancement: read records", err)
	}

	groups := make(map[string][]model.BehavioralRecord)
	for _, r := range recs {
		if v, ok := r.Attributes[a.cfg.GroupAttribute]; ok && v != "" {
			groups[v] = append(groups[v], r)
		}
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	slices.Sort(names)

	res := &model.AgentRunResult{}
	for _, name := range names {
		members := groups[name]
		if len(members) < a.cfg.MinGroupSize {
			continue
		}
		score, ok := a.cfg.Score(members)
		if !ok {
			continue
		}
		summary := fmt.Sprintf("%s %q scored %.2f over %d records", a.cfg.GroupAttribute, name, score, len(members))
		switch {
		case score < a.cfg.QualityFloor:
			res.Insights = append(res.Insights, a.insight(rc, "weak_source", summary, 1-score, "accuracy", "satisfaction"))
			gap := a.cfg.QualityFloor - score
			res.Opportunities = append(res.Opportunities, a.opportunity(rc, "source_quality_improvement",
				fmt.Sprintf("Improve research quality for %s %q", a.cfg.GroupAttribute, name),
				model.ComplexityMedium, 0.6, 0.2,
				map[string]float64{"accuracy": gap, "satisfaction": gap / 2},
				"accuracy", "satisfaction"))
		case score > a.cfg.QualityCeiling:
			res.Insights = append(res.Insights, a.insight(rc, "strong_source", summary, score, "effectiveness"))
			res.Opportunities = append(res.Opportunities, a.opportunity(rc, "source_expansion",
				fmt.Sprintf("Expand use of %s %q", a.cfg.GroupAttribute, name),
				model.ComplexityLow, 0.7, 0.4,
				map[string]float64{"effectiveness": score - a.cfg.QualityCeiling + 0.1},
				"effectiveness"))
		}
	}
	res.Opportunities = focused(res.Opportunities, rc.Focus)

	a.deps.Logger.Info("research_enhancement: run complete",
		"groups", len(groups), "opportunities", len(res.Opportunities))
	return res, nil
}
