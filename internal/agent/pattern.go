package agent

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kaizen/internal/model"
)

// ConfidenceFunc scores a candidate pattern from its support and lift.
// It must be pure and return a value in [0,1].
type ConfidenceFunc func(support int, lift float64) float64

// DefaultConfidence weighs support saturation and lift equally. Support
// saturates towards 1 as sessions accumulate; a lift of 1.5 or more counts
// as full lift.
func DefaultConfidence(support int, lift float64) float64 {
	s := float64(support) / float64(support+10)
	l := min(1, max(0, (lift-1)/0.5))
	return 0.5*s + 0.5*l
}

// PatternConfig controls the pattern discovery agent.
type PatternConfig struct {
	Interval            time.Duration
	Lookback            time.Duration
	MinSupport          int
	MinLift             float64
	ValidationThreshold float64
	MaxPatterns         int
	Confidence          ConfidenceFunc
}

// DefaultPatternConfig returns the standard configuration.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		Interval:            6 * time.Hour,
		Lookback:            30 * 24 * time.Hour,
		MinSupport:          5,
		MinLift:             1.1,
		ValidationThreshold: 0.75,
		MaxPatterns:         20,
		Confidence:          DefaultConfidence,
	}
}

// PatternDiscovery mines timing, attribute and failure patterns from
// sessions since its last run.
type PatternDiscovery struct {
	*base
	cfg PatternConfig
}

// NewPatternDiscovery creates the agent.
func NewPatternDiscovery(cfg PatternConfig, deps Deps) *PatternDiscovery {
	if cfg.Confidence == nil {
		cfg.Confidence = DefaultConfidence
	}
	return &PatternDiscovery{
		base: newBase(model.AgentPatternDiscovery, cfg.Interval, cfg.Lookback, deps),
		cfg:  cfg,
	}
}

// ShouldRun implements Agent.
func (a *PatternDiscovery) ShouldRun(ctx context.Context) (model.RunDecision, error) {
	return a.decide(ctx, func(n int) int {
		return min(a.cfg.MaxPatterns, n/max(1, a.cfg.MinSupport))
	})
}

// Run implements Agent.
func (a *PatternDiscovery) Run(ctx context.Context) (*model.AgentRunResult, error) {
	return a.run(ctx, a.discover)
}

type patternCandidate struct {
	pattern model.DiscoveredPattern
	lift    float64
}

func (a *PatternDiscovery) discover(ctx context.Context, rc runContext) (*model.AgentRunResult, error) {
	recs, err := a.deps.Source.Records(ctx, model.RecordQuery{Since: rc.Since, Until: rc.Now, Kind: model.RecordSession})
	if err != nil {
		return nil, model.NewTransientDataError("pattern_discovery: read sessions", err)
	}
	sessions := sessionsOnly(recs)
	res := &model.AgentRunResult{}
	if len(sessions) == 0 {
		return res, nil
	}

	cands := a.candidates(sessions, rc.Now)
	slices.SortFunc(cands, func(x, y patternCandidate) int {
		if c := cmp.Compare(y.pattern.ConfidenceScore, x.pattern.ConfidenceScore); c != 0 {
			return c
		}
		if c := cmp.Compare(y.pattern.SupportingSessionCount, x.pattern.SupportingSessionCount); c != 0 {
			return c
		}
		return cmp.Compare(x.pattern.Name, y.pattern.Name)
	})
	if len(cands) > a.cfg.MaxPatterns {
		cands = cands[:a.cfg.MaxPatterns]
	}

	for _, c := range cands {
		p := c.pattern
		if err := a.deps.Sink.InsertPattern(ctx, p); err != nil {
			return nil, fmt.Errorf("pattern_discovery: insert pattern %s: %w", p.Name, err)
		}
		res.Patterns = append(res.Patterns, p)
		if p.ValidationStatus != model.ValidationValidated {
			continue
		}
		res.Insights = append(res.Insights, a.insight(rc, "pattern", p.Description, p.ConfidenceScore, "effectiveness"))
		impact := map[string]float64{"effectiveness": min(1, c.lift-1)}
		if p.Type == model.PatternFailure {
			res.Opportunities = append(res.Opportunities, a.opportunity(rc, "failure_mitigation",
				"Mitigate failure pattern: "+p.Name, model.ComplexityMedium, p.ConfidenceScore, 0.2,
				map[string]float64{"error_rate": min(1, c.lift-1)}, "effectiveness", "error_rate"))
			continue
		}
		res.Opportunities = append(res.Opportunities, a.opportunity(rc, "pattern_adoption",
			"Adopt pattern: "+p.Name, model.ComplexityLow, p.ConfidenceScore, 0.3, impact, "effectiveness"))
	}
	res.Opportunities = focused(res.Opportunities, rc.Focus)

	a.deps.Logger.Info("pattern_discovery: run complete",
		"sessions", len(sessions), "patterns", len(res.Patterns), "validated", len(res.Insights))
	return res, nil
}

type tally struct {
	total, successes, failures int
}

// candidates returns every pattern with enough support and lift.
// Low-lift groups are dropped here and never persisted.
func (a *PatternDiscovery) candidates(sessions []model.BehavioralRecord, now time.Time) []patternCandidate {
	var overall tally
	hours := make(map[int]*tally)
	attrs := make(map[[2]string]*tally)
	for _, s := range sessions {
		bump(&overall, s)
		h := s.OccurredAt.UTC().Hour()
		if hours[h] == nil {
			hours[h] = &tally{}
		}
		bump(hours[h], s)
		for k, v := range s.Attributes {
			key := [2]string{k, v}
			if attrs[key] == nil {
				attrs[key] = &tally{}
			}
			bump(attrs[key], s)
		}
	}
	baseSuccess := rate(overall.successes, overall.total)
	baseFailure := rate(overall.failures, overall.total)

	var out []patternCandidate
	add := func(name, desc string, support int, lift float64, data model.PatternData) {
		if support < a.cfg.MinSupport || lift < a.cfg.MinLift {
			return
		}
		conf := a.cfg.Confidence(support, lift)
		status := model.ValidationPending
		if conf > a.cfg.ValidationThreshold {
			status = model.ValidationValidated
		}
		out = append(out, patternCandidate{lift: lift, pattern: model.DiscoveredPattern{
			ID:                     uuid.New(),
			Type:                   data.PatternType(),
			Name:                   name,
			Description:            desc,
			ConfidenceScore:        conf,
			SupportingSessionCount: support,
			ValidationStatus:       status,
			Data:                   data,
			DiscoveredAt:           now,
		}})
	}

	if baseSuccess > 0 {
		for h, t := range hours {
			r := rate(t.successes, t.total)
			lift := r / baseSuccess
			add(fmt.Sprintf("hour_%02d_success", h),
				fmt.Sprintf("Sessions at %02d:00 UTC succeed %.0f%% of the time (%.2fx overall)", h, r*100, lift),
				t.total, lift, model.TimingData{Hour: h, SuccessRate: r, Lift: lift})
		}
	}
	for key, t := range attrs {
		if baseSuccess > 0 {
			r := rate(t.successes, t.total)
			lift := r / baseSuccess
			add(fmt.Sprintf("%s=%s_success", key[0], key[1]),
				fmt.Sprintf("Sessions with %s=%s succeed %.0f%% of the time (%.2fx overall)", key[0], key[1], r*100, lift),
				t.total, lift, model.AttributeData{Key: key[0], Value: key[1], SuccessRate: r, Lift: lift})
		}
		if baseFailure > 0 {
			r := rate(t.failures, t.total)
			lift := r / baseFailure
			add(fmt.Sprintf("%s=%s_failure", key[0], key[1]),
				fmt.Sprintf("Sessions with %s=%s fail %.0f%% of the time (%.2fx overall)", key[0], key[1], r*100, lift),
				t.total, lift, model.FailureData{Key: key[0], Value: key[1], FailureRate: r, Lift: lift})
		}
	}
	return out
}

func bump(t *tally, s model.BehavioralRecord) {
	t.total++
	switch s.Outcome {
	case model.OutcomeSuccess:
		t.successes++
	case model.OutcomeFailure:
		t.failures++
	}
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
