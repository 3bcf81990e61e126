// Package quality watches system-health metrics against rolling baselines,
// raises performance anomalies and applies low-risk corrective actions.
package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/store"
	"github.com/ashita-ai/kaizen/internal/telemetry"
)

const day = 24 * time.Hour

// Config controls the monitor.
type Config struct {
	// BaselineWindow is averaged day by day, ending where CurrentWindow starts.
	BaselineWindow time.Duration
	CurrentWindow  time.Duration
	Thresholds     Thresholds

	AutoApplyEnabled   bool
	AutoApplyThreshold float64

	Metrics       []MetricSpec
	RelatedGroups [][]string
	Templates     map[model.AnomalyType]ActionTemplate
}

// DefaultConfig returns the standard monitor configuration.
func DefaultConfig() Config {
	return Config{
		BaselineWindow:     7 * day,
		CurrentWindow:      day,
		Thresholds:         Thresholds{Degrade: 0.15, Critical: 0.30},
		AutoApplyEnabled:   true,
		AutoApplyThreshold: 0.8,
		Metrics:            DefaultMetrics(),
		RelatedGroups:      DefaultRelatedGroups(),
		Templates:          DefaultTemplates(),
	}
}

func (c Config) validate() error {
	var errs []error
	if c.BaselineWindow <= 0 {
		errs = append(errs, model.NewConfigError("BaselineWindow", "must be positive"))
	}
	if c.CurrentWindow <= 0 {
		errs = append(errs, model.NewConfigError("CurrentWindow", "must be positive"))
	}
	if c.Thresholds.Degrade <= 0 || c.Thresholds.Critical <= c.Thresholds.Degrade {
		errs = append(errs, model.NewConfigError("Thresholds", "require 0 < degrade < critical"))
	}
	if c.AutoApplyThreshold < 0 || c.AutoApplyThreshold > 1 {
		errs = append(errs, model.NewConfigError("AutoApplyThreshold", "must be within [0,1]"))
	}
	known := make(map[string]bool, len(c.Metrics))
	for _, m := range c.Metrics {
		if m.Name == "" || m.Extract == nil {
			errs = append(errs, model.NewConfigError("Metrics", "each metric needs a name and an extractor"))
			continue
		}
		known[m.Name] = true
	}
	if len(c.Metrics) == 0 {
		errs = append(errs, model.NewConfigError("Metrics", "must not be empty"))
	}
	for _, g := range c.RelatedGroups {
		for _, name := range g {
			if !known[name] {
				errs = append(errs, model.NewConfigError("RelatedGroups", fmt.Sprintf("references unknown metric %q", name)))
			}
		}
	}
	return errors.Join(errs...)
}

// Snapshot is the monitor's latest assessment. AssessedAt is zero until the
// first cycle completes.
type Snapshot struct {
	Metrics       []model.QualityMetric      `json:"metrics"`
	OpenAnomalies []model.PerformanceAnomaly `json:"open_anomalies"`
	OverallHealth float64                    `json:"overall_health"`
	OpenCritical  int                        `json:"open_critical"`
	AssessedAt    time.Time                  `json:"assessed_at"`
}

// CycleResult is what one monitoring cycle produced.
type CycleResult struct {
	Metrics []model.QualityMetric
	// Anomalies holds anomalies first seen in this cycle; all were logged.
	Anomalies []model.PerformanceAnomaly
	// Applied holds actions auto-applied in this cycle.
	Applied []model.CorrectiveAction
	// Recommended holds actions left for an operator.
	Recommended   []model.CorrectiveAction
	OverallHealth float64
}

// Monitor computes metric snapshots and tracks open anomalies by fingerprint.
// Cycles are single-flight.
type Monitor struct {
	cfg     Config
	specs   map[string]MetricSpec
	src     store.Source
	sink    store.Sink
	applier ActionApplier
	logger  *slog.Logger
	now     func() time.Time

	running atomic.Bool
	snap    atomic.Pointer[Snapshot]

	mu   sync.Mutex
	open map[string]model.PerformanceAnomaly

	anomaliesDetected metric.Int64Counter
	actionsApplied    metric.Int64Counter
}

// New creates a monitor. A nil applier logs actions without side effects.
func New(cfg Config, src store.Source, sink store.Sink, applier ActionApplier, logger *slog.Logger) (*Monitor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("quality: %w", err)
	}
	if applier == nil {
		applier = LogApplier{Logger: logger}
	}
	specs := make(map[string]MetricSpec, len(cfg.Metrics))
	for _, s := range cfg.Metrics {
		specs[s.Name] = s
	}

	meter := telemetry.Meter("kaizen/quality")
	detected, _ := meter.Int64Counter("kaizen.anomalies.detected",
		metric.WithDescription("Performance anomalies logged"),
	)
	applied, _ := meter.Int64Counter("kaizen.actions.applied",
		metric.WithDescription("Corrective actions applied"),
	)

	m := &Monitor{
		cfg:               cfg,
		specs:             specs,
		src:               src,
		sink:              sink,
		applier:           applier,
		logger:            logger,
		now:               time.Now,
		open:              make(map[string]model.PerformanceAnomaly),
		anomaliesDetected: detected,
		actionsApplied:    applied,
	}
	m.snap.Store(&Snapshot{OverallHealth: 1})
	return m, nil
}

// SetClock overrides the monitor's time source. Intended for tests.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Config returns the monitor configuration.
func (m *Monitor) Config() Config { return m.cfg }

// Snapshot returns the latest assessment.
func (m *Monitor) Snapshot() Snapshot {
	return *m.snap.Load()
}

// RunCycle computes metrics, logs anomalies not already open, applies
// eligible actions once per anomaly and closes anomalies whose metrics
// recovered. A concurrent call fails with ErrConcurrencyViolation.
func (m *Monitor) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("quality: run cycle: %w", model.ErrConcurrencyViolation)
	}
	defer m.running.Store(false)

	now := m.now().UTC()
	metrics, err := m.assess(ctx, now)
	if err != nil {
		return nil, err
	}

	candidates := m.detect(metrics, now)
	res := &CycleResult{Metrics: metrics, OverallHealth: OverallHealth(metrics)}

	m.mu.Lock()
	seen := make(map[string]bool, len(candidates))
	for _, a := range candidates {
		seen[a.Fingerprint] = true
		if _, ok := m.open[a.Fingerprint]; ok {
			continue
		}
		for i := range a.RecommendedActions {
			act := &a.RecommendedActions[i]
			if !AutoApplicable(*act, m.cfg.AutoApplyEnabled, m.cfg.AutoApplyThreshold) {
				res.Recommended = append(res.Recommended, *act)
				continue
			}
			if m.apply(ctx, act, now) {
				a.AutoCorrected = true
				res.Applied = append(res.Applied, *act)
			} else {
				res.Recommended = append(res.Recommended, *act)
			}
		}
		m.open[a.Fingerprint] = a
		res.Anomalies = append(res.Anomalies, a)
	}
	for fp, a := range m.open {
		if !seen[fp] {
			m.logger.Info("quality: anomaly recovered", "fingerprint", fp, "anomaly_id", a.ID)
			delete(m.open, fp)
		}
	}
	m.storeSnapshotLocked(metrics, res.OverallHealth, now)
	m.mu.Unlock()

	var errs []error
	for _, a := range res.Anomalies {
		m.anomaliesDetected.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(a.Type)),
			attribute.String("severity", string(a.Severity)),
		))
		m.logger.Warn("quality: anomaly detected",
			"anomaly_id", a.ID,
			"type", a.Type,
			"severity", a.Severity,
			"auto_corrected", a.AutoCorrected,
		)
		if err := m.sink.InsertAnomaly(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("anomaly %s: %w", a.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return res, fmt.Errorf("quality: log anomalies: %w", err)
	}
	return res, nil
}

// Remediate retries eligible actions on open anomalies that no action has
// corrected yet, such as ones whose apply failed or that were detected while
// auto-apply was disabled. Eligibility is the same as in RunCycle: low risk
// and success probability above AutoApplyThreshold. Everything else stays a
// recommendation. An anomaly is corrected at most once. It shares the
// single-flight guard with RunCycle.
func (m *Monitor) Remediate(ctx context.Context) ([]model.CorrectiveAction, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("quality: remediate: %w", model.ErrConcurrencyViolation)
	}
	defer m.running.Store(false)

	now := m.now().UTC()
	var applied []model.CorrectiveAction

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fp := range m.sortedFingerprintsLocked() {
		a := m.open[fp]
		if a.AutoCorrected {
			continue
		}
		a.RecommendedActions = slices.Clone(a.RecommendedActions)
		for i := range a.RecommendedActions {
			act := &a.RecommendedActions[i]
			if act.Applied || !AutoApplicable(*act, true, m.cfg.AutoApplyThreshold) {
				continue
			}
			if m.apply(ctx, act, now) {
				a.AutoCorrected = true
				applied = append(applied, *act)
			}
		}
		m.open[fp] = a
	}
	cur := m.snap.Load()
	m.storeSnapshotLocked(cur.Metrics, cur.OverallHealth, cur.AssessedAt)
	return applied, nil
}

// apply runs the applier and marks the action. Failures are logged and the
// action stays unapplied.
func (m *Monitor) apply(ctx context.Context, act *model.CorrectiveAction, now time.Time) bool {
	if err := m.applier.Apply(ctx, *act); err != nil {
		m.logger.Warn("quality: corrective action failed",
			"action_id", act.ID, "action_type", act.ActionType, "error", err)
		return false
	}
	act.Applied = true
	act.AppliedAt = &now
	m.actionsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("action_type", string(act.ActionType))))
	return true
}

// assess reads the baseline and current windows in one query and computes
// every metric that has current samples.
func (m *Monitor) assess(ctx context.Context, now time.Time) ([]model.QualityMetric, error) {
	currentStart := now.Add(-m.cfg.CurrentWindow)
	baselineStart := currentStart.Add(-m.cfg.BaselineWindow)

	recs, err := m.src.Records(ctx, model.RecordQuery{Since: baselineStart, Until: now})
	if err != nil {
		return nil, model.NewTransientDataError("quality: read records", err)
	}

	var current []model.BehavioralRecord
	days := make(map[int][]model.BehavioralRecord)
	for _, r := range recs {
		if !r.OccurredAt.Before(currentStart) {
			current = append(current, r)
			continue
		}
		idx := int(r.OccurredAt.Sub(baselineStart) / day)
		days[idx] = append(days[idx], r)
	}
	dayKeys := make([]int, 0, len(days))
	for k := range days {
		dayKeys = append(dayKeys, k)
	}
	slices.Sort(dayKeys)

	var metrics []model.QualityMetric
	for _, spec := range m.cfg.Metrics {
		cur, n, ok := spec.Extract(current)
		if !ok {
			continue
		}
		var sum float64
		count := 0
		for _, k := range dayKeys {
			if v, _, ok := spec.Extract(days[k]); ok {
				sum += v
				count++
			}
		}
		baseline := cur
		if count > 0 {
			baseline = sum / float64(count)
		}
		metrics = append(metrics, Classify(spec, cur, baseline, n, m.cfg.Thresholds, now))
	}
	return metrics, nil
}

// detect turns degrading metrics into anomalies. Related groups with two or
// more unconsumed degrading members become one composite anomaly one
// severity level above its worst member.
func (m *Monitor) detect(metrics []model.QualityMetric, now time.Time) []model.PerformanceAnomaly {
	degrading := make(map[string]model.QualityMetric)
	for _, qm := range metrics {
		if qm.Degrading() {
			degrading[qm.Name] = qm
		}
	}
	consumed := make(map[string]bool)
	var out []model.PerformanceAnomaly

	for _, group := range m.cfg.RelatedGroups {
		var members []model.QualityMetric
		for _, name := range group {
			if qm, ok := degrading[name]; ok && !consumed[name] {
				members = append(members, qm)
			}
		}
		if len(members) < 2 {
			continue
		}
		for _, qm := range members {
			consumed[qm.Name] = true
		}
		out = append(out, m.newAnomaly(model.AnomalyComposite, members, now))
	}

	for _, qm := range metrics {
		if !qm.Degrading() || consumed[qm.Name] {
			continue
		}
		out = append(out, m.newAnomaly(m.specs[qm.Name].Anomaly, []model.QualityMetric{qm}, now))
	}
	return out
}

func (m *Monitor) newAnomaly(t model.AnomalyType, members []model.QualityMetric, now time.Time) model.PerformanceAnomaly {
	worst := members[0]
	for _, qm := range members[1:] {
		if qm.Deviation > worst.Deviation {
			worst = qm
		}
	}
	severity := worst.ImpactSeverity
	if t == model.AnomalyComposite {
		severity = severity.Escalate()
	}

	a := model.PerformanceAnomaly{
		ID:              uuid.New(),
		Fingerprint:     Fingerprint(t, members),
		DetectedAt:      now,
		Type:            t,
		Severity:        severity,
		MetricsInvolved: members,
		RootCause: model.RootCause{
			PrimaryMetric: worst.Name,
			Deviation:     worst.Deviation,
		},
	}

	seenComponent := make(map[string]bool)
	seenAction := make(map[model.ActionType]bool)
	for _, qm := range members {
		spec := m.specs[qm.Name]
		if !seenComponent[spec.Component] {
			seenComponent[spec.Component] = true
			a.AffectedComponents = append(a.AffectedComponents, spec.Component)
		}
		if qm.Name != worst.Name {
			a.RootCause.CorrelatedMetrics = append(a.RootCause.CorrelatedMetrics, qm.Name)
		}
		tmpl, ok := m.cfg.Templates[spec.Anomaly]
		if !ok || seenAction[tmpl.Type] {
			continue
		}
		seenAction[tmpl.Type] = true
		a.RecommendedActions = append(a.RecommendedActions, buildAction(a.ID, tmpl, spec, qm))
	}
	if len(members) > 1 {
		a.RootCause.Notes = append(a.RootCause.Notes, fmt.Sprintf("%d related metrics degraded together", len(members)))
	}
	a.RootCause.Notes = append(a.RootCause.Notes, fmt.Sprintf("%s moved %.1f%% from baseline %.4g to %.4g",
		worst.Name, worst.Deviation*100, worst.BaselineValue, worst.CurrentValue))
	return a
}

// Fingerprint identifies an anomaly across cycles: its type plus the sorted
// names of the metrics involved.
func Fingerprint(t model.AnomalyType, members []model.QualityMetric) string {
	names := make([]string, len(members))
	for i, qm := range members {
		names[i] = qm.Name
	}
	slices.Sort(names)
	return string(t) + ":" + strings.Join(names, ",")
}

func (m *Monitor) sortedFingerprintsLocked() []string {
	fps := make([]string, 0, len(m.open))
	for fp := range m.open {
		fps = append(fps, fp)
	}
	slices.Sort(fps)
	return fps
}

func (m *Monitor) storeSnapshotLocked(metrics []model.QualityMetric, health float64, at time.Time) {
	s := &Snapshot{Metrics: metrics, OverallHealth: health, AssessedAt: at}
	for _, fp := range m.sortedFingerprintsLocked() {
		a := m.open[fp]
		s.OpenAnomalies = append(s.OpenAnomalies, a)
		if a.Severity == model.SeverityCritical {
			s.OpenCritical++
		}
	}
	m.snap.Store(s)
}
