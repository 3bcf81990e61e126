package quality

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/store"
	"github.com/ashita-ai/kaizen/internal/testutil"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func ptr(f float64) *float64 { return &f }

func rec(at time.Time, acc, sat float64) model.BehavioralRecord {
	return model.BehavioralRecord{
		ID:             uuid.New(),
		UserID:         "u1",
		Kind:           model.RecordSession,
		Outcome:        model.OutcomeSuccess,
		OccurredAt:     at,
		ResponseTimeMs: 200,
		Accuracy:       ptr(acc),
		Satisfaction:   ptr(sat),
	}
}

// seedDegraded fills seven healthy baseline days and a current window where
// accuracy and satisfaction collapsed.
func seedDegraded(mem *store.Memory) {
	for d := 1; d <= 7; d++ {
		at := testNow.Add(-time.Duration(d)*day - time.Hour)
		mem.AddRecords(rec(at, 0.9, 0.8), rec(at, 0.9, 0.8), rec(at, 0.9, 0.8))
	}
	at := testNow.Add(-2 * time.Hour)
	mem.AddRecords(rec(at, 0.5, 0.5), rec(at, 0.5, 0.5), rec(at, 0.5, 0.5))
}

func newMonitor(t *testing.T, src store.Source, sink store.Sink, applier ActionApplier) *Monitor {
	t.Helper()
	m, err := New(DefaultConfig(), src, sink, applier, testutil.TestLogger())
	require.NoError(t, err)
	m.SetClock(func() time.Time { return testNow })
	return m
}

func TestClassify(t *testing.T) {
	th := Thresholds{Degrade: 0.15, Critical: 0.30}
	higher := MetricSpec{Name: "accuracy", Direction: HigherIsBetter}
	lower := MetricSpec{Name: "response_time", Direction: LowerIsBetter}

	tests := []struct {
		name     string
		spec     MetricSpec
		current  float64
		baseline float64
		trend    model.Trend
		severity model.Severity
	}{
		{"35% drop is critical", higher, 0.65, 1.0, model.TrendCritical, model.SeverityCritical},
		{"10% drop is stable", higher, 0.90, 1.0, model.TrendStable, model.SeverityLow},
		{"10% gain is improving", higher, 1.10, 1.0, model.TrendImproving, model.SeverityLow},
		{"20% drop is degrading medium", higher, 0.80, 1.0, model.TrendDegrading, model.SeverityMedium},
		{"25% drop is degrading high", higher, 0.75, 1.0, model.TrendDegrading, model.SeverityHigh},
		{"30% gain is improving", higher, 1.30, 1.0, model.TrendImproving, model.SeverityLow},
		{"35% latency rise is critical", lower, 135, 100, model.TrendCritical, model.SeverityCritical},
		{"10% latency rise is stable", lower, 110, 100, model.TrendStable, model.SeverityLow},
		{"10% latency drop is improving", lower, 90, 100, model.TrendImproving, model.SeverityLow},
		{"zero baseline is stable", lower, 5, 0, model.TrendStable, model.SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Classify(tt.spec, tt.current, tt.baseline, 10, th, testNow)
			assert.Equal(t, tt.trend, m.Trend)
			assert.Equal(t, tt.severity, m.ImpactSeverity)
			assert.Equal(t, 10, m.SampleSize)
		})
	}
}

func TestAutoApplicableRandomized(t *testing.T) {
	risks := []model.RiskLevel{model.RiskLow, model.RiskMedium, model.RiskHigh}
	r := rand.New(rand.NewPCG(1, 2))
	for range 1000 {
		a := model.CorrectiveAction{
			RiskLevel:          risks[r.IntN(len(risks))],
			SuccessProbability: r.Float64(),
		}
		enabled := r.IntN(4) != 0
		threshold := r.Float64()
		want := enabled && a.RiskLevel == model.RiskLow && a.SuccessProbability > threshold
		assert.Equal(t, want, AutoApplicable(a, enabled, threshold))
	}
	assert.False(t, AutoApplicable(model.CorrectiveAction{RiskLevel: model.RiskLow, SuccessProbability: 0.8}, true, 0.8))
}

func TestOverallHealth(t *testing.T) {
	assert.InDelta(t, 1.0, OverallHealth(nil), 1e-9)
	metrics := []model.QualityMetric{
		{Trend: model.TrendCritical},
		{Trend: model.TrendCritical},
		{Trend: model.TrendStable},
		{Trend: model.TrendImproving},
	}
	assert.InDelta(t, 0.5, OverallHealth(metrics), 1e-9)
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds = Thresholds{Degrade: 0.3, Critical: 0.15}
	cfg.RelatedGroups = append(cfg.RelatedGroups, []string{"latency_p99"})
	_, err := New(cfg, store.NewMemory(), store.NewMemory(), nil, testutil.TestLogger())
	require.Error(t, err)
	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "latency_p99")
}

func TestRunCycleCompositeAnomaly(t *testing.T) {
	mem := store.NewMemory()
	seedDegraded(mem)
	m := newMonitor(t, mem, mem, nil)

	res, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Metrics, 5)
	assert.InDelta(t, 0.6, res.OverallHealth, 1e-9)

	require.Len(t, res.Anomalies, 1)
	a := res.Anomalies[0]
	assert.Equal(t, model.AnomalyComposite, a.Type)
	assert.Equal(t, model.SeverityCritical, a.Severity)
	assert.Equal(t, "composite_degradation:accuracy,satisfaction", a.Fingerprint)
	assert.Equal(t, "accuracy", a.RootCause.PrimaryMetric)
	assert.Equal(t, []string{"satisfaction"}, a.RootCause.CorrelatedMetrics)
	assert.ElementsMatch(t, []string{"scoring", "personalization"}, a.AffectedComponents)
	assert.True(t, a.AutoCorrected)

	require.Len(t, a.RecommendedActions, 2)
	byType := map[model.ActionType]model.CorrectiveAction{}
	for _, act := range a.RecommendedActions {
		assert.Equal(t, a.ID, act.AnomalyID)
		byType[act.ActionType] = act
	}
	assert.True(t, byType[model.ActionThresholdAdjustment].Applied)
	assert.NotNil(t, byType[model.ActionThresholdAdjustment].AppliedAt)
	assert.False(t, byType[model.ActionPersonalizationReset].Applied)
	assert.Len(t, res.Applied, 1)
	assert.Len(t, res.Recommended, 1)

	logged := mem.Anomalies()
	require.Len(t, logged, 1)
	assert.True(t, logged[0].AutoCorrected)

	snap := m.Snapshot()
	assert.Equal(t, 1, snap.OpenCritical)
	assert.Equal(t, testNow, snap.AssessedAt)
}

func TestRunCycleOpenFingerprintNotRelogged(t *testing.T) {
	mem := store.NewMemory()
	seedDegraded(mem)

	var mu sync.Mutex
	applied := 0
	applier := ActionApplierFunc(func(context.Context, model.CorrectiveAction) error {
		mu.Lock()
		defer mu.Unlock()
		applied++
		return nil
	})
	m := newMonitor(t, mem, mem, applier)

	for range 3 {
		_, err := m.RunCycle(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, mem.Anomalies(), 1)
	assert.Equal(t, 1, applied)
}

func TestRunCycleClosesRecoveredAnomaly(t *testing.T) {
	mem := store.NewMemory()
	seedDegraded(mem)
	m := newMonitor(t, mem, mem, nil)

	_, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, m.Snapshot().OpenAnomalies, 1)

	later := testNow.Add(2 * day)
	mem.AddRecords(rec(later.Add(-2*time.Hour), 0.9, 0.8), rec(later.Add(-time.Hour), 0.9, 0.8))
	m.SetClock(func() time.Time { return later })

	res, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Anomalies)
	snap := m.Snapshot()
	assert.Empty(t, snap.OpenAnomalies)
	assert.Zero(t, snap.OpenCritical)
	assert.InDelta(t, 1.0, snap.OverallHealth, 1e-9)
}

func TestRunCycleFailedApplyStaysRecommended(t *testing.T) {
	mem := store.NewMemory()
	seedDegraded(mem)
	applier := ActionApplierFunc(func(context.Context, model.CorrectiveAction) error {
		return errors.New("threshold service unavailable")
	})
	m := newMonitor(t, mem, mem, applier)

	res, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.False(t, res.Anomalies[0].AutoCorrected)
	assert.Empty(t, res.Applied)
	assert.Len(t, res.Recommended, 2)
}

// toggleApplier fails until ok is set and records what it applied.
type toggleApplier struct {
	ok      bool
	applied []model.CorrectiveAction
}

func (a *toggleApplier) Apply(_ context.Context, act model.CorrectiveAction) error {
	if !a.ok {
		return errors.New("threshold service unavailable")
	}
	a.applied = append(a.applied, act)
	return nil
}

func TestRemediateAppliesOnlyEligibleActionsOnce(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(cfg *Config, a *toggleApplier)
		// applied is what Remediate applies after the first cycle.
		applied []model.ActionType
	}{
		{
			name:    "earlier apply failed",
			prepare: func(_ *Config, _ *toggleApplier) {},
			applied: []model.ActionType{model.ActionThresholdAdjustment},
		},
		{
			name:    "auto-apply disabled during the cycle",
			prepare: func(cfg *Config, _ *toggleApplier) { cfg.AutoApplyEnabled = false },
			applied: []model.ActionType{model.ActionThresholdAdjustment},
		},
		{
			name:    "already corrected",
			prepare: func(_ *Config, a *toggleApplier) { a.ok = true },
			applied: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			seedDegraded(mem)
			cfg := DefaultConfig()
			applier := &toggleApplier{}
			tt.prepare(&cfg, applier)
			if !cfg.AutoApplyEnabled {
				applier.ok = true
			}
			m, err := New(cfg, mem, mem, applier, testutil.TestLogger())
			require.NoError(t, err)
			m.SetClock(func() time.Time { return testNow })

			_, err = m.RunCycle(context.Background())
			require.NoError(t, err)
			before := len(applier.applied)

			applier.ok = true
			applied, err := m.Remediate(context.Background())
			require.NoError(t, err)
			var types []model.ActionType
			for _, act := range applied {
				types = append(types, act.ActionType)
			}
			assert.Equal(t, tt.applied, types)

			again, err := m.Remediate(context.Background())
			require.NoError(t, err)
			assert.Empty(t, again, "an anomaly is corrected at most once")

			for _, act := range applier.applied[before:] {
				assert.True(t, AutoApplicable(act, true, cfg.AutoApplyThreshold),
					"%s risk=%s p=%.2f applied without approval", act.ActionType, act.RiskLevel, act.SuccessProbability)
			}
			open := m.Snapshot().OpenAnomalies
			require.Len(t, open, 1)
			assert.True(t, open[0].AutoCorrected)
			for _, act := range open[0].RecommendedActions {
				if act.ActionType == model.ActionPersonalizationReset {
					assert.False(t, act.Applied, "medium risk stays a recommendation")
				}
			}
		})
	}
}

type failingSource struct{}

func (failingSource) Records(context.Context, model.RecordQuery) ([]model.BehavioralRecord, error) {
	return nil, errors.New("connection refused")
}

func (failingSource) CountRecords(context.Context, model.RecordQuery) (int, error) {
	return 0, errors.New("connection refused")
}

func TestRunCycleSourceErrorIsTransient(t *testing.T) {
	m := newMonitor(t, failingSource{}, store.NewMemory(), nil)
	_, err := m.RunCycle(context.Background())
	var tde *model.TransientDataError
	require.ErrorAs(t, err, &tde)
	assert.Equal(t, model.ErrorKindTransientData, model.ClassifyError(err))
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) Records(ctx context.Context, _ model.RecordQuery) ([]model.BehavioralRecord, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

func (b *blockingSource) CountRecords(context.Context, model.RecordQuery) (int, error) {
	return 0, nil
}

func TestRunCycleSingleFlight(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	m := newMonitor(t, src, store.NewMemory(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := m.RunCycle(context.Background())
		done <- err
	}()
	<-src.entered

	_, err := m.RunCycle(context.Background())
	assert.ErrorIs(t, err, model.ErrConcurrencyViolation)
	_, err = m.Remediate(context.Background())
	assert.ErrorIs(t, err, model.ErrConcurrencyViolation)

	close(src.release)
	require.NoError(t, <-done)
}
