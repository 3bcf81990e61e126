// Package improvement ranks improvement opportunities, splits off innovation
// experiments and groups opportunities that share objectives into
// coordination plans for the orchestrator.
package improvement

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/store"
	"github.com/ashita-ai/kaizen/internal/telemetry"
)

// PriorityFunc scores an opportunity. It must be pure and return a value in
// [0,1]; the coordinator sorts on it and filters against MinPriority.
type PriorityFunc func(o model.ImprovementOpportunity) float64

// Config controls ranking, auto-implementation and experiments.
type Config struct {
	Priority    PriorityFunc
	MinPriority float64
	MaxPerRun   int

	AutoImplementEnabled    bool
	AutoImplementConfidence float64

	ExperimentMaxProbability float64
	ExperimentMinImpact      float64
	ExperimentDuration       time.Duration
	ExperimentResourceCap    float64

	// Feeds lists, per agent, the agents that consume its output. Plans whose
	// members are linked by a feed run sequentially.
	Feeds map[model.AgentName][]model.AgentName
}

// DefaultConfig returns the standard coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Priority:                 DefaultPriority,
		MinPriority:              0.5,
		MaxPerRun:                10,
		AutoImplementEnabled:     true,
		AutoImplementConfidence:  0.85,
		ExperimentMaxProbability: 0.4,
		ExperimentMinImpact:      0.3,
		ExperimentDuration:       14 * 24 * time.Hour,
		ExperimentResourceCap:    0.1,
		Feeds:                    DefaultFeeds(),
	}
}

// DefaultFeeds is the standard producer to consumer graph between agents.
func DefaultFeeds() map[model.AgentName][]model.AgentName {
	return map[model.AgentName][]model.AgentName{
		model.AgentResearchEnhancement: {model.AgentPatternDiscovery},
		model.AgentPatternDiscovery:    {model.AgentPersonalization, model.AgentProactiveImprovement},
		model.AgentQualityMonitoring:   {model.AgentProactiveImprovement},
	}
}

// ComplexityPenalty maps complexity onto [0,1]; unknown values count as experimental.
func ComplexityPenalty(c model.Complexity) float64 {
	switch c {
	case model.ComplexityLow:
		return 0
	case model.ComplexityMedium:
		return 0.33
	case model.ComplexityHigh:
		return 0.66
	default:
		return 1
	}
}

// Impact collapses an opportunity's per-metric impact into [0,1].
func Impact(o model.ImprovementOpportunity) float64 {
	var sum float64
	for _, v := range o.PotentialImpact {
		sum += math.Abs(v)
	}
	return min(1, sum)
}

// DefaultPriority is
// 0.4*impact + 0.3*successProbability + 0.2*(1-complexityPenalty) + 0.1*innovation.
func DefaultPriority(o model.ImprovementOpportunity) float64 {
	return 0.4*Impact(o) +
		0.3*o.SuccessProbability +
		0.2*(1-ComplexityPenalty(o.ImplementationComplexity)) +
		0.1*o.InnovationScore
}

// Implementer carries out an auto-implementable opportunity.
type Implementer interface {
	Implement(ctx context.Context, o model.ImprovementOpportunity) error
}

// LogImplementer records implementations in the log only.
type LogImplementer struct {
	Logger *slog.Logger
}

// Implement implements Implementer.
func (l LogImplementer) Implement(_ context.Context, o model.ImprovementOpportunity) error {
	l.Logger.Info("improvement: auto-implemented",
		"opportunity_id", o.ID, "type", o.OpportunityType, "title", o.Title)
	return nil
}

// Input is one cycle's aggregated agent output.
type Input struct {
	Opportunities []model.ImprovementOpportunity
	Insights      []model.LearningInsight
	Metrics       []model.QualityMetric
}

// Outcome is what the coordinator decided for a cycle.
type Outcome struct {
	// Ranked holds the opportunities that passed the filter, best first.
	Ranked      []model.ImprovementOpportunity
	Experiments []model.InnovationExperiment
	Plans       []model.CoordinationPlan
	// Dropped counts opportunities below MinPriority or past MaxPerRun.
	Dropped int
}

// Coordinator ranks and groups opportunities.
type Coordinator struct {
	cfg         Config
	sink        store.Sink
	implementer Implementer
	logger      *slog.Logger
	now         func() time.Time

	ranked metric.Int64Counter
}

// New creates a coordinator. A nil implementer logs only.
func New(cfg Config, sink store.Sink, implementer Implementer, logger *slog.Logger) (*Coordinator, error) {
	var errs []error
	if cfg.Priority == nil {
		cfg.Priority = DefaultPriority
	}
	if cfg.MaxPerRun < 1 {
		errs = append(errs, model.NewConfigError("MaxPerRun", "must be at least 1"))
	}
	if cfg.MinPriority < 0 || cfg.MinPriority > 1 {
		errs = append(errs, model.NewConfigError("MinPriority", "must be within [0,1]"))
	}
	if cfg.ExperimentDuration <= 0 {
		errs = append(errs, model.NewConfigError("ExperimentDuration", "must be positive"))
	}
	if cfg.ExperimentResourceCap <= 0 || cfg.ExperimentResourceCap > 1 {
		errs = append(errs, model.NewConfigError("ExperimentResourceCap", "must be within (0,1]"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("improvement: %w", err)
	}
	if implementer == nil {
		implementer = LogImplementer{Logger: logger}
	}
	counter, _ := telemetry.Meter("kaizen/improvement").Int64Counter("kaizen.improvements.ranked",
		metric.WithDescription("Improvement opportunities by disposition"),
	)
	return &Coordinator{
		cfg:         cfg,
		sink:        sink,
		implementer: implementer,
		logger:      logger,
		now:         time.Now,
		ranked:      counter,
	}, nil
}

// SetClock overrides the time source. Intended for tests.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// IsExperiment reports whether an opportunity is a low-probability,
// high-impact candidate for an innovation experiment.
func (c *Coordinator) IsExperiment(o model.ImprovementOpportunity) bool {
	return o.SuccessProbability < c.cfg.ExperimentMaxProbability && Impact(o) >= c.cfg.ExperimentMinImpact
}

// Rank scores, sorts (stable, descending), filters and caps opportunities.
// It does not persist or implement anything.
func (c *Coordinator) Rank(opps []model.ImprovementOpportunity) (ranked []model.ImprovementOpportunity, dropped int) {
	scored := make([]model.ImprovementOpportunity, len(opps))
	for i, o := range opps {
		o.PriorityScore = c.cfg.Priority(o)
		scored[i] = o
	}
	slices.SortStableFunc(scored, func(a, b model.ImprovementOpportunity) int {
		return cmp.Compare(b.PriorityScore, a.PriorityScore)
	})
	for _, o := range scored {
		if o.PriorityScore < c.cfg.MinPriority || len(ranked) >= c.cfg.MaxPerRun {
			dropped++
			continue
		}
		ranked = append(ranked, o)
	}
	return ranked, dropped
}

// Process handles one cycle: recovery opportunities from degrading metrics,
// experiment split, ranking, disposition, persistence and plan building.
// Sink failures are collected and returned after all work is done.
func (c *Coordinator) Process(ctx context.Context, in Input) (*Outcome, error) {
	now := c.now().UTC()
	all := slices.Clone(in.Opportunities)
	all = append(all, recoveryOpportunities(in.Metrics, now)...)

	var regular []model.ImprovementOpportunity
	out := &Outcome{}
	var errs []error

	for _, o := range all {
		if !c.IsExperiment(o) {
			regular = append(regular, o)
			continue
		}
		o.PriorityScore = c.cfg.Priority(o)
		o.Status = model.OpportunityExperiment
		exp := model.InnovationExperiment{
			ID:            uuid.New(),
			OpportunityID: o.ID,
			Title:         o.Title,
			Hypothesis:    fmt.Sprintf("%s lifts %s", o.Title, impactSummary(o.PotentialImpact)),
			StartsAt:      now,
			EndsAt:        now.Add(c.cfg.ExperimentDuration),
			ResourceCap:   c.cfg.ExperimentResourceCap,
			Status:        model.ExperimentProposed,
		}
		out.Experiments = append(out.Experiments, exp)
		c.count(ctx, o.Status)
		if err := c.sink.InsertImprovement(ctx, o); err != nil {
			errs = append(errs, fmt.Errorf("opportunity %s: %w", o.ID, err))
		}
		if err := c.sink.InsertExperiment(ctx, exp); err != nil {
			errs = append(errs, fmt.Errorf("experiment %s: %w", exp.ID, err))
		}
	}

	out.Ranked, out.Dropped = c.Rank(regular)
	for i := range out.Ranked {
		o := &out.Ranked[i]
		o.Status = model.OpportunityPendingApproval
		if c.autoImplementable(*o) {
			if err := c.implementer.Implement(ctx, *o); err != nil {
				c.logger.Warn("improvement: auto-implement failed", "opportunity_id", o.ID, "error", err)
			} else {
				o.Status = model.OpportunityAutoImplemented
			}
		}
		c.count(ctx, o.Status)
		if err := c.sink.InsertImprovement(ctx, *o); err != nil {
			errs = append(errs, fmt.Errorf("opportunity %s: %w", o.ID, err))
		}
	}

	out.Plans = c.Plans(out.Ranked)

	if err := errors.Join(errs...); err != nil {
		return out, fmt.Errorf("improvement: persist: %w", err)
	}
	return out, nil
}

func (c *Coordinator) autoImplementable(o model.ImprovementOpportunity) bool {
	return c.cfg.AutoImplementEnabled &&
		o.ImplementationComplexity == model.ComplexityLow &&
		o.SuccessProbability >= c.cfg.AutoImplementConfidence
}

func (c *Coordinator) count(ctx context.Context, s model.OpportunityStatus) {
	c.ranked.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(s))))
}

// recoveryOpportunities proposes one metric_recovery per degrading metric.
func recoveryOpportunities(metrics []model.QualityMetric, now time.Time) []model.ImprovementOpportunity {
	var out []model.ImprovementOpportunity
	for _, m := range metrics {
		if !m.Degrading() {
			continue
		}
		complexity := model.ComplexityMedium
		if m.Trend == model.TrendCritical {
			complexity = model.ComplexityHigh
		}
		out = append(out, model.ImprovementOpportunity{
			ID:                       uuid.New(),
			SourceAgent:              model.AgentQualityMonitoring,
			OpportunityType:          "metric_recovery",
			Title:                    fmt.Sprintf("Recover %s to baseline", m.Name),
			Objectives:               []string{m.Name},
			PotentialImpact:          map[string]float64{m.Name: math.Abs(m.Deviation)},
			ImplementationComplexity: complexity,
			SuccessProbability:       0.6,
			InnovationScore:          0.1,
			Status:                   model.OpportunityProposed,
			CreatedAt:                now,
		})
	}
	return out
}

func impactSummary(impact map[string]float64) string {
	if len(impact) == 0 {
		return "overall quality"
	}
	keys := make([]string, 0, len(impact))
	for k := range impact {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s by %.2f", k, impact[k])
	}
	return s
}
