package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/storage"
	"github.com/ashita-ai/kaizen/internal/storage/sqlite"
	"github.com/ashita-ai/kaizen/internal/testutil"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "kaizen.db"), testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *sqlite.DB) []model.BehavioralRecord {
	t.Helper()
	acc := 0.9
	recs := []model.BehavioralRecord{
		{ID: uuid.New(), UserID: "u1", Kind: model.RecordSession, Outcome: model.OutcomeSuccess, OccurredAt: base, Accuracy: &acc, Attributes: map[string]string{"layout": "grid"}},
		{ID: uuid.New(), UserID: "u1", Kind: model.RecordFeedback, OccurredAt: base.Add(time.Hour)},
		{ID: uuid.New(), UserID: "u2", TeamID: "t1", Kind: model.RecordSession, Outcome: model.OutcomeFailure, OccurredAt: base.Add(2 * time.Hour), Errored: true, ResponseTimeMs: 900},
		{ID: uuid.New(), UserID: "u2", TeamID: "t1", Kind: model.RecordSession, Outcome: model.OutcomeSuccess, OccurredAt: base.Add(26 * time.Hour)},
	}
	require.NoError(t, db.InsertRecords(context.Background(), recs))
	return recs
}

func TestRecordsFilters(t *testing.T) {
	db := openTestDB(t)
	recs := seed(t, db)
	ctx := context.Background()

	tests := []struct {
		name string
		q    model.RecordQuery
		want []uuid.UUID
	}{
		{"all", model.RecordQuery{}, []uuid.UUID{recs[0].ID, recs[1].ID, recs[2].ID, recs[3].ID}},
		{"window until exclusive", model.RecordQuery{Since: base, Until: base.Add(2 * time.Hour)}, []uuid.UUID{recs[0].ID, recs[1].ID}},
		{"sessions only", model.RecordQuery{Kind: model.RecordSession}, []uuid.UUID{recs[0].ID, recs[2].ID, recs[3].ID}},
		{"failures", model.RecordQuery{Outcome: model.OutcomeFailure}, []uuid.UUID{recs[2].ID}},
		{"team", model.RecordQuery{TeamID: "t1"}, []uuid.UUID{recs[2].ID, recs[3].ID}},
		{"limit", model.RecordQuery{UserID: "u2", Limit: 1}, []uuid.UUID{recs[2].ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.Records(ctx, tt.q)
			require.NoError(t, err)
			var ids []uuid.UUID
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)

			n, err := db.CountRecords(ctx, model.RecordQuery{Since: tt.q.Since, Until: tt.q.Until, Kind: tt.q.Kind, Outcome: tt.q.Outcome, TeamID: tt.q.TeamID})
			require.NoError(t, err)
			if tt.q.Limit == 0 {
				assert.Equal(t, len(tt.want), n)
			}
		})
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	recs := seed(t, db)

	got, err := db.Records(context.Background(), model.RecordQuery{UserID: "u1", Kind: model.RecordSession})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recs[0].OccurredAt, got[0].OccurredAt)
	require.NotNil(t, got[0].Accuracy)
	assert.InDelta(t, 0.9, *got[0].Accuracy, 1e-9)
	assert.Nil(t, got[0].Satisfaction)
	assert.Equal(t, "grid", got[0].Attributes["layout"])
}

func TestInsertSessionRequiresCompletion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s := model.OrchestrationSession{
		ID:                   uuid.New(),
		StartedAt:            base,
		Strategy:             model.StrategyParallel,
		AgentsExecuted:       []model.AgentName{model.AgentPatternDiscovery, model.AgentPersonalization},
		SuccessfulExecutions: 1,
		FailedExecutions:     1,
		Errors:               []model.AgentError{{Agent: model.AgentPersonalization, Kind: model.ErrorKindTimeout, Message: "agent timed out"}},
	}
	err := db.InsertSession(ctx, s)
	require.ErrorIs(t, err, storage.ErrSessionIncomplete)

	done := base.Add(time.Minute)
	s.CompletedAt = &done
	require.NoError(t, db.InsertSession(ctx, s))

	s.ID = uuid.New()
	s.FailedExecutions = 0
	assert.Error(t, db.InsertSession(ctx, s), "unbalanced counters violate the check constraint")

	n, err := db.CountRows(ctx, "orchestration_sessions")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertsAreKeyed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	profile := model.PersonalizationProfile{
		UserID: "u1",
		Body: model.ProfileBody{
			Interface: &model.InterfacePreference{Layout: "grid", Origin: model.OriginIndividual},
			Timing:    &model.TimingPreference{PreferredHours: []int{9, 14}, Origin: model.OriginCrossUser},
		},
		SessionCount: 7,
		LastUpdated:  base,
	}
	require.NoError(t, db.UpsertPersonalizationProfile(ctx, "u1", profile))
	require.NoError(t, db.UpsertPersonalizationProfile(ctx, "u1", profile))

	got, err := db.GetProfile(ctx, "u1")
	require.NoError(t, err)
	if diff := cmp.Diff(profile, got); diff != "" {
		t.Fatalf("profile mismatch (-want +got):\n%s", diff)
	}
	_, err = db.GetProfile(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	d := model.AgentDescriptor{Name: model.AgentQualityMonitoring, Version: "1", Status: model.AgentStatusRunning, HealthScore: 1, SuccessRate: 1, UpdatedAt: base}
	require.NoError(t, db.UpsertAgentDescriptor(ctx, d))
	d.Status = model.AgentStatusIdle
	d.LastRun = &base
	require.NoError(t, db.UpsertAgentDescriptor(ctx, d))

	for table, want := range map[string]int{"personalization_profiles": 1, "agent_descriptors": 1} {
		n, err := db.CountRows(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, want, n, table)
	}
}

func TestAppendOnlyFindings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	anomalyID := uuid.New()
	require.NoError(t, db.InsertAnomaly(ctx, model.PerformanceAnomaly{
		ID:                 anomalyID,
		Fingerprint:        "accuracy_drop:accuracy",
		DetectedAt:         base,
		Type:               model.AnomalyAccuracyDrop,
		Severity:           model.SeverityCritical,
		AffectedComponents: []string{"scoring"},
		RecommendedActions: []model.CorrectiveAction{{
			ID:         uuid.New(),
			AnomalyID:  anomalyID,
			ActionType: model.ActionThresholdAdjustment,
			RiskLevel:  model.RiskLow,
			Details:    model.ThresholdAdjustment{Metric: "accuracy", Delta: -0.05},
		}},
	}))
	require.NoError(t, db.InsertPattern(ctx, model.DiscoveredPattern{
		ID:               uuid.New(),
		Type:             model.PatternTiming,
		Name:             "hour_9",
		ConfidenceScore:  0.8,
		ValidationStatus: model.ValidationValidated,
		Data:             model.TimingData{Hour: 9, SuccessRate: 0.9, Lift: 1.4},
		DiscoveredAt:     base,
	}))
	oppID := uuid.New()
	require.NoError(t, db.InsertImprovement(ctx, model.ImprovementOpportunity{
		ID:                       oppID,
		SourceAgent:              model.AgentProactiveImprovement,
		OpportunityType:          "capacity_scaling",
		Title:                    "scale",
		ImplementationComplexity: model.ComplexityHigh,
		Status:                   model.OpportunityExperiment,
		CreatedAt:                base,
	}))
	require.NoError(t, db.InsertExperiment(ctx, model.InnovationExperiment{
		ID:            uuid.New(),
		OpportunityID: oppID,
		Title:         "scale",
		StartsAt:      base,
		EndsAt:        base.Add(14 * 24 * time.Hour),
		ResourceCap:   0.1,
		Status:        model.ExperimentProposed,
	}))

	for _, table := range []string{"performance_anomalies", "discovered_patterns", "improvement_opportunities", "innovation_experiments"} {
		n, err := db.CountRows(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
	_, err := db.CountRows(ctx, "behavioral_records; DROP TABLE x")
	assert.Error(t, err)
}
