package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaizen/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(user string, at time.Time, outcome model.Outcome) model.BehavioralRecord {
	return model.BehavioralRecord{
		ID: uuid.New(), UserID: user, Kind: model.RecordSession, Outcome: outcome, OccurredAt: at,
	}
}

func TestMemoryRecordsAreChronological(t *testing.T) {
	m := NewMemory()
	// Seeded out of order on purpose.
	m.AddRecords(
		record("u2", t0.Add(2*time.Hour), model.OutcomeFailure),
		record("u1", t0, model.OutcomeSuccess),
	)
	m.AddRecords(record("u1", t0.Add(time.Hour), model.OutcomeSuccess))

	ctx := context.Background()
	all, err := m.Records(ctx, model.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].OccurredAt.Before(all[i-1].OccurredAt))
	}

	tests := []struct {
		name  string
		q     model.RecordQuery
		count int
		first time.Time
	}{
		{"window", model.RecordQuery{Since: t0.Add(time.Hour), Until: t0.Add(2 * time.Hour)}, 1, t0.Add(time.Hour)},
		{"user", model.RecordQuery{UserID: "u1"}, 2, t0},
		{"outcome", model.RecordQuery{Outcome: model.OutcomeFailure}, 1, t0.Add(2 * time.Hour)},
		{"limit keeps oldest", model.RecordQuery{Limit: 2}, 2, t0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := m.Records(ctx, tt.q)
			require.NoError(t, err)
			require.Len(t, recs, tt.count)
			assert.Equal(t, tt.first, recs[0].OccurredAt)

			if tt.q.Limit == 0 {
				n, err := m.CountRecords(ctx, tt.q)
				require.NoError(t, err)
				assert.Equal(t, tt.count, n)
			}
		})
	}
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Records(ctx, model.RecordQuery{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = m.CountRecords(ctx, model.RecordQuery{})
	assert.ErrorIs(t, err, context.Canceled)

	done := t0
	err = m.InsertSession(ctx, model.OrchestrationSession{ID: uuid.New(), CompletedAt: &done})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, m.UpsertAgentDescriptor(ctx, model.AgentDescriptor{Name: model.AgentPersonalization}), context.Canceled)
	assert.Empty(t, m.Sessions())
}

func TestMemorySinkRejectsIncompleteSession(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.Error(t, m.InsertSession(ctx, model.OrchestrationSession{ID: uuid.New()}))
	done := t0
	require.NoError(t, m.InsertSession(ctx, model.OrchestrationSession{ID: uuid.New(), CompletedAt: &done}))
	assert.Len(t, m.Sessions(), 1)
}

func TestMemoryUpsertsAreKeyed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	p := model.PersonalizationProfile{UserID: "u1", SessionCount: 3}
	require.NoError(t, m.UpsertPersonalizationProfile(ctx, "u1", p))
	p.SessionCount = 4
	require.NoError(t, m.UpsertPersonalizationProfile(ctx, "u1", p))

	got, ok := m.Profile("u1")
	require.True(t, ok)
	assert.Equal(t, 4, got.SessionCount)
	assert.Equal(t, 2, m.ProfileWrites())

	require.NoError(t, m.UpsertAgentDescriptor(ctx, model.AgentDescriptor{Name: model.AgentPersonalization, Status: model.AgentStatusRunning}))
	require.NoError(t, m.UpsertAgentDescriptor(ctx, model.AgentDescriptor{Name: model.AgentPersonalization, Status: model.AgentStatusIdle}))
	d, ok := m.Descriptor(model.AgentPersonalization)
	require.True(t, ok)
	assert.Equal(t, model.AgentStatusIdle, d.Status)
}

// gatedSource blocks every read until release is closed.
type gatedSource struct {
	release chan struct{}
	calls   atomic.Int32
	err     error
	recs    []model.BehavioralRecord
}

func (g *gatedSource) Records(ctx context.Context, _ model.RecordQuery) ([]model.BehavioralRecord, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.recs, g.err
}

func (g *gatedSource) CountRecords(ctx context.Context, q model.RecordQuery) (int, error) {
	recs, err := g.Records(ctx, q)
	return len(recs), err
}

func TestSharedSourceCollapsesIdenticalReads(t *testing.T) {
	src := &gatedSource{release: make(chan struct{}), recs: []model.BehavioralRecord{record("u1", t0, model.OutcomeSuccess)}}
	shared := NewSharedSource(src, time.Second)
	q := model.RecordQuery{Since: t0.Add(-time.Hour)}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := shared.Records(context.Background(), q)
			if err == nil {
				results[i] = len(recs)
			}
		}()
	}
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for i, n := range results {
		assert.Equal(t, 1, n, "caller %d", i)
	}
}

func TestSharedSourceDistinctQueriesAreNotShared(t *testing.T) {
	src := &gatedSource{release: make(chan struct{})}
	close(src.release)
	shared := NewSharedSource(src, time.Second)

	_, err := shared.Records(context.Background(), model.RecordQuery{UserID: "u1"})
	require.NoError(t, err)
	_, err = shared.CountRecords(context.Background(), model.RecordQuery{UserID: "u1"})
	require.NoError(t, err)
	_, err = shared.Records(context.Background(), model.RecordQuery{UserID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestSharedSourceCallerCancellationIsLocal(t *testing.T) {
	src := &gatedSource{release: make(chan struct{})}
	shared := NewSharedSource(src, time.Second)
	q := model.RecordQuery{UserID: "u1"}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := shared.Records(ctx, q)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	okCh := make(chan error, 1)
	go func() {
		_, err := shared.Records(context.Background(), q)
		okCh <- err
	}()

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(src.release)
	assert.NoError(t, <-okCh)
}

func TestSharedSourcePropagatesErrors(t *testing.T) {
	boom := errors.New("connection reset")
	src := &gatedSource{release: make(chan struct{}), err: boom}
	close(src.release)
	shared := NewSharedSource(src, time.Second)

	_, err := shared.Records(context.Background(), model.RecordQuery{})
	assert.ErrorIs(t, err, boom)
	_, err = shared.CountRecords(context.Background(), model.RecordQuery{})
	assert.ErrorIs(t, err, boom)
}
