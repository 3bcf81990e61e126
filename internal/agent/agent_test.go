package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/store"
	"github.com/ashita-ai/kaizen/internal/testutil"
	"github.com/ashita-ai/kaizen/internal/trigger"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testDeps(src store.Source, sink store.Sink, clk *clock) Deps {
	return Deps{
		Source:  src,
		Sink:    sink,
		Trigger: trigger.New(trigger.DefaultConfig()),
		Logger:  testutil.TestLogger(),
		Version: "test",
		Now:     clk.Now,
	}
}

func session(user string, at time.Time, outcome model.Outcome, attrs map[string]string) model.BehavioralRecord {
	return model.BehavioralRecord{
		ID:             uuid.New(),
		UserID:         user,
		Kind:           model.RecordSession,
		Outcome:        outcome,
		OccurredAt:     at,
		ResponseTimeMs: 150,
		Attributes:     attrs,
	}
}

type blockingSource struct {
	store.Source
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSource) Records(ctx context.Context, q model.RecordQuery) ([]model.BehavioralRecord, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Source.Records(ctx, q)
}

func TestRunSingleFlight(t *testing.T) {
	clk := &clock{t: testNow}
	mem := store.NewMemory()
	src := &blockingSource{Source: mem, entered: make(chan struct{}), release: make(chan struct{})}
	a := NewResearchEnhancement(DefaultResearchConfig(), testDeps(src, mem, clk))

	done := make(chan error, 1)
	go func() {
		_, err := a.Run(context.Background())
		done <- err
	}()
	<-src.entered

	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, model.ErrConcurrencyViolation)
	var execErr *model.AgentExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, model.AgentResearchEnhancement, execErr.Agent)
	assert.Equal(t, model.ErrorKindConcurrency, model.ClassifyError(err))

	close(src.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, a.Metrics().TotalRuns, "rejected call leaves no trace")
}

type failingSource struct{}

func (failingSource) Records(context.Context, model.RecordQuery) ([]model.BehavioralRecord, error) {
	return nil, errors.New("read timeout")
}

func (failingSource) CountRecords(context.Context, model.RecordQuery) (int, error) {
	return 0, errors.New("read timeout")
}

func TestShouldRunTransientError(t *testing.T) {
	clk := &clock{t: testNow}
	a := NewPatternDiscovery(DefaultPatternConfig(), testDeps(failingSource{}, store.NewMemory(), clk))
	_, err := a.ShouldRun(context.Background())
	var tde *model.TransientDataError
	require.ErrorAs(t, err, &tde)
}

func TestMetricsFromHistory(t *testing.T) {
	clk := &clock{t: testNow}
	mem := store.NewMemory()
	a := NewResearchEnhancement(DefaultResearchConfig(), testDeps(mem, mem, clk))

	m := a.Metrics()
	assert.Zero(t, m.TotalRuns)
	assert.Nil(t, m.LastRun)
	assert.InDelta(t, 1.0, m.SuccessRate, 1e-9)

	_, err := a.Run(context.Background())
	require.NoError(t, err)

	bad := NewResearchEnhancement(DefaultResearchConfig(), testDeps(failingSource{}, mem, clk))
	_, err = bad.Run(context.Background())
	var tde *model.TransientDataError
	require.ErrorAs(t, err, &tde)
	assert.Equal(t, model.ErrorKindTransientData, model.ClassifyError(err))

	m = a.Metrics()
	assert.Equal(t, 1, m.TotalRuns)
	require.NotNil(t, m.LastRun)
	assert.Equal(t, testNow, *m.LastRun)
	assert.Equal(t, testNow.Add(12*time.Hour), *m.NextScheduledRun)
	assert.Equal(t, "test", m.Version)

	bm := bad.Metrics()
	assert.Equal(t, 1, bm.TotalRuns)
	assert.Zero(t, bm.SuccessRate)
	assert.Zero(t, bm.HealthScore)
	assert.Nil(t, bm.LastRun)
}

func TestShouldRunScheduleAndCoordination(t *testing.T) {
	clk := &clock{t: testNow}
	mem := store.NewMemory()
	a := NewResearchEnhancement(DefaultResearchConfig(), testDeps(mem, mem, clk))

	d, err := a.ShouldRun(context.Background())
	require.NoError(t, err)
	assert.True(t, d.ShouldRun, "never run")

	_, err = a.Run(context.Background())
	require.NoError(t, err)

	clk.Advance(time.Hour)
	d, err = a.ShouldRun(context.Background())
	require.NoError(t, err)
	assert.False(t, d.ShouldRun)
	assert.Equal(t, model.PriorityLow, d.Priority)

	require.NoError(t, a.Coordinate(context.Background(), model.CoordinationPlan{
		ID:               uuid.New(),
		SharedObjectives: []string{"satisfaction"},
	}))
	d, err = a.ShouldRun(context.Background())
	require.NoError(t, err)
	assert.True(t, d.ShouldRun)
	assert.Equal(t, model.PriorityNormal, d.Priority)

	_, err = a.Run(context.Background())
	require.NoError(t, err)
	d, err = a.ShouldRun(context.Background())
	require.NoError(t, err)
	assert.False(t, d.ShouldRun, "follow-up consumed by the run")
}

func TestShouldRunHighVolume(t *testing.T) {
	clk := &clock{t: testNow}
	mem := store.NewMemory()
	a := NewPatternDiscovery(DefaultPatternConfig(), testDeps(mem, mem, clk))
	_, err := a.Run(context.Background())
	require.NoError(t, err)

	for i := range 150 {
		mem.AddRecords(session(fmt.Sprintf("u%d", i), testNow.Add(time.Minute), model.OutcomeSuccess, nil))
	}
	clk.Advance(10 * time.Minute)
	d, err := a.ShouldRun(context.Background())
	require.NoError(t, err)
	assert.True(t, d.ShouldRun)
	assert.Equal(t, model.PriorityHigh, d.Priority)
	assert.Equal(t, 20, d.EstimatedOutputSize)
}
