// Package orchestrator runs orchestration cycles over the registered agents.
//
// A cycle asks every agent whether it should run, builds an execution plan,
// runs the planned agents on a bounded pool with per-agent timeouts,
// aggregates their output through the improvement coordinator, hands the
// resulting coordination plans back to the agents and persists the session.
// One agent failing never aborts the cycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kaizen/internal/agent"
	"github.com/ashita-ai/kaizen/internal/improvement"
	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/planner"
	"github.com/ashita-ai/kaizen/internal/quality"
	"github.com/ashita-ai/kaizen/internal/store"
	"github.com/ashita-ai/kaizen/internal/telemetry"
	"github.com/ashita-ai/kaizen/internal/trigger"
)

// Config controls orchestration.
type Config struct {
	MaxConcurrentAgents   int
	AgentTimeout          time.Duration
	OrchestrationInterval time.Duration
	DegradedHealth        float64
	SequentialOnCritical  bool
	// Disabled agents are kept registered but held in maintenance.
	Disabled []model.AgentName
}

// DefaultConfig returns the standard orchestration configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentAgents:   3,
		AgentTimeout:          5 * time.Minute,
		OrchestrationInterval: time.Hour,
		DegradedHealth:        0.7,
		SequentialOnCritical:  true,
	}
}

// FailureHook is notified of every agent failure. It runs synchronously on
// the orchestrating goroutine; a panic inside it is recovered and logged.
type FailureHook func(ctx context.Context, name model.AgentName, err error)

// Monitor is the part of the quality monitor the orchestrator drives.
type Monitor interface {
	Snapshot() quality.Snapshot
	RunCycle(ctx context.Context) (*quality.CycleResult, error)
	Remediate(ctx context.Context) ([]model.CorrectiveAction, error)
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	// Agents in registration order.
	Agents      []agent.Agent
	Monitor     Monitor
	Coordinator *improvement.Coordinator
	Trigger     *trigger.Evaluator
	Source      store.Source
	Sink        store.Sink
	Logger      *slog.Logger
	Version     string
	// FailureHook is optional.
	FailureHook FailureHook
}

// OrchestrationResult is everything one cycle produced.
type OrchestrationResult struct {
	Session     model.OrchestrationSession     `json:"session"`
	Skipped     []planner.Skip                 `json:"skipped,omitempty"`
	Results     []*model.AgentRunResult        `json:"results,omitempty"`
	Ranked      []model.ImprovementOpportunity `json:"ranked,omitempty"`
	Experiments []model.InnovationExperiment   `json:"experiments,omitempty"`
	Plans       []model.CoordinationPlan       `json:"plans,omitempty"`
}

// OrchestrationDecision answers whether a cycle is due.
type OrchestrationDecision struct {
	ShouldRun         bool           `json:"should_run"`
	Reasons           []string       `json:"reasons"`
	Priority          model.Priority `json:"priority"`
	EstimatedDuration time.Duration  `json:"estimated_duration"`
}

// Orchestrator coordinates the agents. RunOrchestration and
// ExecuteEmergencyOptimization are mutually exclusive and single-flight.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	planner *planner.Planner
	logger  *slog.Logger
	now     func() time.Time

	running atomic.Bool
	report  atomic.Pointer[StatusReport]

	mu          sync.Mutex
	descriptors map[model.AgentName]*model.AgentDescriptor
	lastRun     *time.Time
	durations   []time.Duration
	lastOutcome *improvement.Outcome

	tracer        trace.Tracer
	runDuration   metric.Float64Histogram
	agentDuration metric.Float64Histogram
	agentFailures metric.Int64Counter
}

// New creates an orchestrator. Invalid configuration is returned as one or
// more *model.ConfigurationError joined together.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	var errs []error
	if cfg.MaxConcurrentAgents < 1 {
		errs = append(errs, model.NewConfigError("MaxConcurrentAgents", "must be at least 1"))
	}
	if cfg.AgentTimeout <= 0 {
		errs = append(errs, model.NewConfigError("AgentTimeout", "must be positive"))
	}
	if cfg.OrchestrationInterval <= 0 {
		errs = append(errs, model.NewConfigError("OrchestrationInterval", "must be positive"))
	}
	if len(deps.Agents) == 0 {
		errs = append(errs, model.NewConfigError("Agents", "at least one agent is required"))
	}
	if deps.Monitor == nil || deps.Coordinator == nil || deps.Trigger == nil || deps.Source == nil || deps.Sink == nil {
		errs = append(errs, model.NewConfigError("Deps", "monitor, coordinator, trigger, source and sink are required"))
	}
	seen := make(map[model.AgentName]bool)
	for _, a := range deps.Agents {
		if seen[a.Name()] {
			errs = append(errs, model.NewConfigError("Agents", fmt.Sprintf("duplicate agent %q", a.Name())))
		}
		seen[a.Name()] = true
	}
	for _, name := range cfg.Disabled {
		if !seen[name] {
			errs = append(errs, model.NewConfigError("Disabled", fmt.Sprintf("unknown agent %q", name)))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	p, err := planner.New(planner.Config{
		MaxConcurrentAgents:  cfg.MaxConcurrentAgents,
		DegradedHealth:       cfg.DegradedHealth,
		SequentialOnCritical: cfg.SequentialOnCritical,
		Monitor:              model.AgentQualityMonitoring,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	meter := telemetry.Meter("kaizen/orchestrator")
	runDur, _ := meter.Float64Histogram("kaizen.orchestration.duration",
		metric.WithDescription("Orchestration cycle duration (ms)"),
		metric.WithUnit("ms"),
	)
	agentDur, _ := meter.Float64Histogram("kaizen.agent.duration",
		metric.WithDescription("Agent run duration (ms)"),
		metric.WithUnit("ms"),
	)
	failures, _ := meter.Int64Counter("kaizen.agent.failures",
		metric.WithDescription("Agent runs that failed or timed out"),
	)

	o := &Orchestrator{
		cfg:           cfg,
		deps:          deps,
		planner:       p,
		logger:        deps.Logger,
		now:           time.Now,
		descriptors:   make(map[model.AgentName]*model.AgentDescriptor, len(deps.Agents)),
		tracer:        telemetry.Tracer("kaizen/orchestrator"),
		runDuration:   runDur,
		agentDuration: agentDur,
		agentFailures: failures,
	}
	now := o.now().UTC()
	for _, a := range deps.Agents {
		status := model.AgentStatusIdle
		if slices.Contains(cfg.Disabled, a.Name()) {
			status = model.AgentStatusMaintenance
		}
		m := a.Metrics()
		o.descriptors[a.Name()] = &model.AgentDescriptor{
			Name:        a.Name(),
			Version:     m.Version,
			Status:      status,
			HealthScore: m.HealthScore,
			SuccessRate: m.SuccessRate,
			UpdatedAt:   now,
		}
	}
	o.refreshReport()
	return o, nil
}

// SetClock overrides the time source. Intended for tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Running reports whether a cycle or emergency optimization is in progress.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// RunOrchestration runs one cycle. A concurrent call returns an error
// wrapping model.ErrConcurrencyViolation without side effects. Agent failures
// are recorded in the session, never returned.
func (o *Orchestrator) RunOrchestration(ctx context.Context) (*OrchestrationResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("orchestrator: run: %w", model.ErrConcurrencyViolation)
	}
	defer o.running.Store(false)

	ctx, span := o.tracer.Start(ctx, "orchestrator.run")
	defer span.End()

	start := o.now().UTC()
	session := model.OrchestrationSession{ID: uuid.New(), StartedAt: start}
	log := o.logger.With("session_id", session.ID)
	span.SetAttributes(attribute.String("session_id", session.ID.String()))

	snap := o.deps.Monitor.Snapshot()
	health := planner.Health{OverallHealth: -1}
	if !snap.AssessedAt.IsZero() {
		health = planner.Health{OpenCriticalAnomalies: snap.OpenCritical, OverallHealth: snap.OverallHealth}
	}
	plan := o.planner.Build(health, o.candidates(ctx))
	session.Strategy = plan.Strategy
	session.AgentsExecuted = plan.Names()
	for _, s := range plan.Skipped {
		log.Debug("orchestrator: agent skipped", "agent", s.Name, "reason", s.Reason)
	}
	log.Info("orchestrator: cycle started",
		"strategy", plan.Strategy, "concurrency", plan.Concurrency, "agents", session.AgentsExecuted)

	outcomes := o.execute(ctx, plan)

	result := &OrchestrationResult{Skipped: plan.Skipped}
	var in improvement.Input
	for _, out := range outcomes {
		if out.err != nil {
			session.FailedExecutions++
			session.Errors = append(session.Errors, model.AgentError{
				Agent:   out.name,
				Kind:    model.ClassifyError(out.err),
				Message: out.err.Error(),
			})
			o.notifyFailure(ctx, out.name, out.err)
			continue
		}
		session.SuccessfulExecutions++
		result.Results = append(result.Results, out.result)
		in.Opportunities = append(in.Opportunities, out.result.Opportunities...)
		in.Insights = append(in.Insights, out.result.Insights...)
	}
	in.Metrics = o.deps.Monitor.Snapshot().Metrics

	outcome, err := o.deps.Coordinator.Process(ctx, in)
	if err != nil {
		log.Warn("orchestrator: improvement coordination incomplete", "error", err)
	}
	if outcome != nil {
		result.Ranked = outcome.Ranked
		result.Experiments = outcome.Experiments
		result.Plans = outcome.Plans
		session.TotalImprovements = len(outcome.Ranked)
		session.CoordinationPlansExecuted = o.executePlans(ctx, outcome.Plans)
	}
	session.TotalInsights = len(in.Insights)

	end := o.now().UTC()
	session.CompletedAt = &end
	session.EfficiencyScore = efficiency(outcomes, o.cfg.AgentTimeout)
	pctx, cancel := persistContext(ctx)
	if err := o.deps.Sink.InsertSession(pctx, session); err != nil {
		log.Error("orchestrator: persist session failed", "error", err)
	}
	cancel()
	result.Session = session

	elapsed := end.Sub(start)
	o.mu.Lock()
	o.lastRun = &start
	o.durations = append(o.durations, elapsed)
	if len(o.durations) > 20 {
		o.durations = o.durations[1:]
	}
	o.lastOutcome = outcome
	o.mu.Unlock()
	o.refreshReport()

	o.runDuration.Record(ctx, telemetry.Milliseconds(elapsed), metric.WithAttributes(
		attribute.String("strategy", string(session.Strategy)),
	))
	span.SetAttributes(
		attribute.Int("agents", len(session.AgentsExecuted)),
		attribute.Int("failed", session.FailedExecutions),
	)
	log.Info("orchestrator: cycle complete",
		"successful", session.SuccessfulExecutions,
		"failed", session.FailedExecutions,
		"improvements", session.TotalImprovements,
		"insights", session.TotalInsights,
		"plans", session.CoordinationPlansExecuted,
		"efficiency", session.EfficiencyScore,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

// persistTimeout bounds writes that outlive the caller's cancellation.
const persistTimeout = 10 * time.Second

// persistContext detaches ctx from cancellation so a finished cycle is still
// recorded when the caller gives up, e.g. during shutdown.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// candidates asks every agent whether it should run.
func (o *Orchestrator) candidates(ctx context.Context) []planner.Candidate {
	out := make([]planner.Candidate, 0, len(o.deps.Agents))
	for _, a := range o.deps.Agents {
		c := planner.Candidate{Name: a.Name(), Maintenance: slices.Contains(o.cfg.Disabled, a.Name())}
		if !c.Maintenance {
			c.Decision, c.Err = a.ShouldRun(ctx)
			if c.Err != nil {
				o.logger.Warn("orchestrator: should-run failed", "agent", a.Name(), "error", c.Err)
			}
		}
		out = append(out, c)
	}
	return out
}

// executePlans hands each plan to its member agents in plan order and
// returns the number of plans every member accepted.
func (o *Orchestrator) executePlans(ctx context.Context, plans []model.CoordinationPlan) int {
	executed := 0
	for _, p := range plans {
		ok := true
		for _, name := range p.CoordinatedAgents {
			a := o.agent(name)
			if a == nil || slices.Contains(o.cfg.Disabled, name) {
				ok = false
				continue
			}
			if err := a.Coordinate(ctx, p); err != nil {
				o.logger.Warn("orchestrator: coordination rejected", "agent", name, "plan_id", p.ID, "error", err)
				ok = false
			}
		}
		if ok {
			executed++
		}
	}
	return executed
}

func (o *Orchestrator) agent(name model.AgentName) agent.Agent {
	for _, a := range o.deps.Agents {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

// notifyFailure calls the failure hook, recovering from panics.
func (o *Orchestrator) notifyFailure(ctx context.Context, name model.AgentName, err error) {
	if o.deps.FailureHook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestrator: failure hook panicked", "agent", name, "panic", r)
		}
	}()
	o.deps.FailureHook(ctx, name, err)
}

// ShouldRunOrchestration evaluates the orchestration-level trigger: the
// configured interval, fresh records since the last cycle and the health
// snapshot. A failed record count is logged and treated as no new records.
func (o *Orchestrator) ShouldRunOrchestration(ctx context.Context) (OrchestrationDecision, error) {
	now := o.now().UTC()

	o.mu.Lock()
	lastRun := o.lastRun
	estimate := o.cfg.AgentTimeout
	if len(o.durations) > 0 {
		var sum time.Duration
		for _, d := range o.durations {
			sum += d
		}
		estimate = sum / time.Duration(len(o.durations))
	}
	o.mu.Unlock()

	if o.running.Load() {
		return OrchestrationDecision{
			Reasons:           []string{"orchestration already running"},
			Priority:          model.PriorityLow,
			EstimatedDuration: estimate,
		}, nil
	}

	since := now.Add(-o.cfg.OrchestrationInterval)
	if lastRun != nil {
		since = *lastRun
	}
	sig := trigger.Signals{Now: now, LastRun: lastRun, Interval: o.cfg.OrchestrationInterval, OverallHealth: -1}
	var countFailed bool
	n, err := o.deps.Source.CountRecords(ctx, model.RecordQuery{Since: since, Until: now})
	if err != nil {
		o.logger.Warn("orchestrator: count records failed", "error", err)
		countFailed = true
	}
	sig.NewRecords = n

	snap := o.deps.Monitor.Snapshot()
	if !snap.AssessedAt.IsZero() {
		sig.OverallHealth = snap.OverallHealth
		sig.OpenCriticalAnomalies = snap.OpenCritical
	}

	d := o.deps.Trigger.Evaluate(sig)
	out := OrchestrationDecision{
		ShouldRun:         d.ShouldRun,
		Reasons:           d.Reasons,
		Priority:          d.Priority,
		EstimatedDuration: estimate,
	}
	if countFailed {
		out.Reasons = append(out.Reasons, "record count unavailable")
	}
	return out, nil
}

// efficiency is 0.7 x success ratio + 0.3 x timeliness, where timeliness is
// the share of agents finishing within half their timeout. An empty cycle
// scores 1.
func efficiency(outcomes []agentOutcome, timeout time.Duration) float64 {
	if len(outcomes) == 0 {
		return 1
	}
	ok, timely := 0, 0
	for _, out := range outcomes {
		if out.err == nil {
			ok++
		}
		if out.err == nil && out.duration <= timeout/2 {
			timely++
		}
	}
	n := float64(len(outcomes))
	return 0.7*float64(ok)/n + 0.3*float64(timely)/n
}
