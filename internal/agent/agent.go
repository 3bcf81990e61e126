// Package agent implements the five autonomous analysis agents.
//
// Every agent satisfies the same Agent interface and embeds a base that
// provides single-flight execution, a bounded run history for metrics and
// the trigger signals behind ShouldRun. Agents read from a store.Source and
// write their findings to a store.Sink before Run returns.
package agent

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/quality"
	"github.com/ashita-ai/kaizen/internal/store"
	"github.com/ashita-ai/kaizen/internal/trigger"
)

// historySize bounds the run history kept for metrics.
const historySize = 50

// Agent is the contract the orchestrator drives.
type Agent interface {
	Name() model.AgentName
	// ShouldRun answers whether a run is warranted now. A failed read of the
	// data source is returned as a *model.TransientDataError.
	ShouldRun(ctx context.Context) (model.RunDecision, error)
	// Run executes one run. Concurrent calls fail fast with an error
	// wrapping model.ErrConcurrencyViolation. Findings are persisted before
	// Run returns.
	Run(ctx context.Context) (*model.AgentRunResult, error)
	Metrics() model.AgentMetrics
	// Coordinate hands the agent a coordination plan it takes part in.
	Coordinate(ctx context.Context, plan model.CoordinationPlan) error
}

// HealthSource exposes the quality monitor's latest assessment.
type HealthSource interface {
	Snapshot() quality.Snapshot
}

// Deps are the collaborators shared by all agents.
type Deps struct {
	Source  store.Source
	Sink    store.Sink
	Trigger *trigger.Evaluator
	// Health is optional; without it health signals are unknown.
	Health  HealthSource
	Logger  *slog.Logger
	Version string
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// runContext is what a run body sees.
type runContext struct {
	ID    uuid.UUID
	Now   time.Time
	Since time.Time
	Focus []string
}

type runRecord struct {
	at       time.Time
	ok       bool
	findings int
}

// base carries the state every agent shares.
type base struct {
	name     model.AgentName
	interval time.Duration
	lookback time.Duration
	deps     Deps

	running atomic.Bool

	mu          sync.Mutex
	history     []runRecord
	totalRuns   int
	lastRun     *time.Time
	focus       []string
	coordinated bool
}

func newBase(name model.AgentName, interval, lookback time.Duration, deps Deps) *base {
	if lookback <= 0 {
		lookback = interval
	}
	return &base{name: name, interval: interval, lookback: lookback, deps: deps}
}

// Name implements Agent.
func (b *base) Name() model.AgentName { return b.name }

// Coordinate implements Agent. The plan's shared objectives become the focus
// of the next run, and the next ShouldRun returns at least normal priority.
func (b *base) Coordinate(_ context.Context, plan model.CoordinationPlan) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, obj := range plan.SharedObjectives {
		if !slices.Contains(b.focus, obj) {
			b.focus = append(b.focus, obj)
		}
	}
	b.coordinated = true
	b.deps.Logger.Info("agent: coordination plan accepted",
		"agent", b.name, "plan_id", plan.ID, "objectives", plan.SharedObjectives)
	return nil
}

// Metrics implements Agent.
func (b *base) Metrics() model.AgentMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := model.AgentMetrics{
		Version:     b.deps.Version,
		TotalRuns:   b.totalRuns,
		SuccessRate: 1,
		HealthScore: 1,
	}
	if b.lastRun != nil {
		last := *b.lastRun
		next := last.Add(b.interval)
		m.LastRun = &last
		m.NextScheduledRun = &next
	}
	if len(b.history) == 0 {
		return m
	}
	m.SuccessRate = successRatio(b.history)
	recent := b.history[max(0, len(b.history)-5):]
	m.HealthScore = math.Round((0.5*m.SuccessRate+0.5*successRatio(recent))*1000) / 1000
	return m
}

func successRatio(h []runRecord) float64 {
	ok := 0
	for _, r := range h {
		if r.ok {
			ok++
		}
	}
	return float64(ok) / float64(len(h))
}

// since returns the start of the window of fresh data.
func (b *base) since(now time.Time) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	floor := now.Add(-b.lookback)
	if b.lastRun == nil || b.lastRun.Before(floor) {
		return floor
	}
	return *b.lastRun
}

// decide evaluates the trigger signals for this agent. estimate converts
// the number of fresh records into an expected output size.
func (b *base) decide(ctx context.Context, estimate func(newRecords int) int) (model.RunDecision, error) {
	now := b.deps.now()
	since := b.since(now)
	n, err := b.deps.Source.CountRecords(ctx, model.RecordQuery{Since: since, Until: now})
	if err != nil {
		return model.RunDecision{}, model.NewTransientDataError(string(b.name)+": count records", err)
	}

	b.mu.Lock()
	sig := trigger.Signals{
		Now:           now,
		LastRun:       b.lastRun,
		Interval:      b.interval,
		NewRecords:    n,
		OverallHealth: -1,
		Coordinated:   b.coordinated,
	}
	b.mu.Unlock()
	if b.deps.Health != nil {
		snap := b.deps.Health.Snapshot()
		if !snap.AssessedAt.IsZero() {
			sig.OverallHealth = snap.OverallHealth
			sig.OpenCriticalAnomalies = snap.OpenCritical
		}
	}

	d := b.deps.Trigger.Evaluate(sig)
	out := model.RunDecision{ShouldRun: d.ShouldRun, Reason: d.Reason(), Priority: d.Priority}
	if estimate != nil {
		out.EstimatedOutputSize = estimate(n)
	}
	return out, nil
}

// run executes body under the single-flight guard and records the outcome.
// Errors are returned as *model.AgentExecutionError.
func (b *base) run(ctx context.Context, body func(ctx context.Context, rc runContext) (*model.AgentRunResult, error)) (*model.AgentRunResult, error) {
	if !b.running.CompareAndSwap(false, true) {
		return nil, &model.AgentExecutionError{Agent: b.name, Err: model.ErrConcurrencyViolation}
	}
	defer b.running.Store(false)

	now := b.deps.now()
	b.mu.Lock()
	focus := slices.Clone(b.focus)
	b.mu.Unlock()
	rc := runContext{ID: uuid.New(), Now: now, Since: b.since(now), Focus: focus}

	res, err := body(ctx, rc)
	if err == nil && res == nil {
		res = &model.AgentRunResult{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalRuns++
	rec := runRecord{at: now, ok: err == nil}
	if err == nil {
		rec.findings = res.FindingsCount()
		b.lastRun = &now
		b.focus = nil
		b.coordinated = false
	}
	b.history = append(b.history, rec)
	if len(b.history) > historySize {
		b.history = slices.Delete(b.history, 0, len(b.history)-historySize)
	}
	if err != nil {
		return nil, &model.AgentExecutionError{Agent: b.name, Err: err}
	}
	res.RunID = rc.ID
	res.Agent = b.name
	res.StartedAt = now
	res.CompletedAt = b.deps.now()
	return res, nil
}

func (b *base) insight(rc runContext, kind, summary string, confidence float64, objectives ...string) model.LearningInsight {
	return model.LearningInsight{
		ID:          uuid.New(),
		SourceAgent: b.name,
		Kind:        kind,
		Summary:     summary,
		Confidence:  confidence,
		Objectives:  objectives,
		CreatedAt:   rc.Now,
	}
}

func (b *base) opportunity(rc runContext, typ, title string, c model.Complexity, prob, innovation float64, impact map[string]float64, objectives ...string) model.ImprovementOpportunity {
	return model.ImprovementOpportunity{
		ID:                       uuid.New(),
		SourceAgent:              b.name,
		OpportunityType:          typ,
		Title:                    title,
		Objectives:               objectives,
		PotentialImpact:          impact,
		ImplementationComplexity: c,
		SuccessProbability:       prob,
		InnovationScore:          innovation,
		Status:                   model.OpportunityProposed,
		CreatedAt:                rc.Now,
	}
}

// focused moves opportunities touching a focus objective to the front.
func focused(opps []model.ImprovementOpportunity, focus []string) []model.ImprovementOpportunity {
	if len(focus) == 0 {
		return opps
	}
	slices.SortStableFunc(opps, func(a, b model.ImprovementOpportunity) int {
		fa := slices.ContainsFunc(a.Objectives, func(o string) bool { return slices.Contains(focus, o) })
		fb := slices.ContainsFunc(b.Objectives, func(o string) bool { return slices.Contains(focus, o) })
		switch {
		case fa == fb:
			return 0
		case fa:
			return -1
		default:
			return 1
		}
	})
	return opps
}

func sessionsOnly(recs []model.BehavioralRecord) []model.BehavioralRecord {
	out := make([]model.BehavioralRecord, 0, len(recs))
	for _, r := range recs {
		if r.Kind == model.RecordSession {
			out = append(out, r)
		}
	}
	return out
}
