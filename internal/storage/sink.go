package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kaizen/internal/model"
)

// InsertSession appends a completed orchestration session.
func (db *DB) InsertSession(ctx context.Context, s model.OrchestrationSession) error {
	if !s.Completed() {
		return fmt.Errorf("storage: insert session %s: %w", s.ID, ErrSessionIncomplete)
	}
	agentErrors := s.Errors
	if agentErrors == nil {
		agentErrors = []model.AgentError{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO orchestration_sessions (id, started_at, completed_at, strategy, agents_executed,
		 successful_executions, failed_executions, total_improvements, total_insights,
		 coordination_plans_executed, efficiency_score, errors)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.StartedAt, *s.CompletedAt, string(s.Strategy), Strings(s.AgentsExecuted),
		s.SuccessfulExecutions, s.FailedExecutions, s.TotalImprovements, s.TotalInsights,
		s.CoordinationPlansExecuted, s.EfficiencyScore, agentErrors,
	)
	if err != nil {
		return fmt.Errorf("storage: insert session: %w", err)
	}
	return nil
}

// InsertAnomaly appends a performance anomaly with its recommended actions.
func (db *DB) InsertAnomaly(ctx context.Context, a model.PerformanceAnomaly) error {
	actions, err := json.Marshal(nonNil(a.RecommendedActions))
	if err != nil {
		return fmt.Errorf("storage: encode anomaly actions: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO performance_anomalies (id, fingerprint, detected_at, anomaly_type, severity,
		 affected_components, metrics_involved, root_cause, recommended_actions, auto_corrected)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Fingerprint, a.DetectedAt, string(a.Type), string(a.Severity),
		nonNil(a.AffectedComponents), nonNil(a.MetricsInvolved), a.RootCause, actions, a.AutoCorrected,
	)
	if err != nil {
		return fmt.Errorf("storage: insert anomaly: %w", err)
	}
	return nil
}

// InsertPattern appends a discovered pattern. Data is stored as JSON tagged
// by pattern_type.
func (db *DB) InsertPattern(ctx context.Context, p model.DiscoveredPattern) error {
	data, err := json.Marshal(p.Data)
	if err != nil {
		return fmt.Errorf("storage: encode pattern data: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO discovered_patterns (id, pattern_type, name, description, confidence_score,
		 supporting_session_count, validation_status, data, discovered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, string(p.Type), p.Name, p.Description, p.ConfidenceScore,
		p.SupportingSessionCount, string(p.ValidationStatus), data, p.DiscoveredAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert pattern: %w", err)
	}
	return nil
}

// InsertImprovement appends a ranked improvement opportunity.
func (db *DB) InsertImprovement(ctx context.Context, o model.ImprovementOpportunity) error {
	impact := o.PotentialImpact
	if impact == nil {
		impact = map[string]float64{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO improvement_opportunities (id, source_agent, opportunity_type, title, objectives,
		 potential_impact, implementation_complexity, success_probability, innovation_score,
		 priority_score, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, string(o.SourceAgent), o.OpportunityType, o.Title, nonNil(o.Objectives),
		impact, string(o.ImplementationComplexity), o.SuccessProbability, o.InnovationScore,
		o.PriorityScore, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert improvement: %w", err)
	}
	return nil
}

// InsertExperiment appends a proposed innovation experiment.
func (db *DB) InsertExperiment(ctx context.Context, e model.InnovationExperiment) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO innovation_experiments (id, opportunity_id, title, hypothesis, starts_at,
		 ends_at, resource_cap, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.OpportunityID, e.Title, e.Hypothesis, e.StartsAt, e.EndsAt, e.ResourceCap, string(e.Status),
	)
	if err != nil {
		return fmt.Errorf("storage: insert experiment: %w", err)
	}
	return nil
}

// UpsertPersonalizationProfile writes the profile keyed by userID.
func (db *DB) UpsertPersonalizationProfile(ctx context.Context, userID string, p model.PersonalizationProfile) error {
	err := withRetry(ctx, retryConflicts, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO personalization_profiles (user_id, body, session_count, last_updated)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id) DO UPDATE
			 SET body = EXCLUDED.body, session_count = EXCLUDED.session_count,
			     last_updated = EXCLUDED.last_updated`,
			userID, p.Body, p.SessionCount, p.LastUpdated,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: upsert profile %s: %w", userID, err)
	}
	return nil
}

// UpsertAgentDescriptor writes the descriptor keyed by agent name.
func (db *DB) UpsertAgentDescriptor(ctx context.Context, d model.AgentDescriptor) error {
	err := withRetry(ctx, retryConflicts, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO agent_descriptors (name, version, status, last_run, next_scheduled_run,
			 health_score, success_rate, last_error, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (name) DO UPDATE
			 SET version = EXCLUDED.version, status = EXCLUDED.status, last_run = EXCLUDED.last_run,
			     next_scheduled_run = EXCLUDED.next_scheduled_run, health_score = EXCLUDED.health_score,
			     success_rate = EXCLUDED.success_rate, last_error = EXCLUDED.last_error,
			     updated_at = EXCLUDED.updated_at`,
			string(d.Name), d.Version, string(d.Status), d.LastRun, d.NextScheduledRun,
			d.HealthScore, d.SuccessRate, d.LastError, d.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: upsert agent descriptor %s: %w", d.Name, err)
	}
	return nil
}

// GetProfile returns the stored profile for userID.
func (db *DB) GetProfile(ctx context.Context, userID string) (model.PersonalizationProfile, error) {
	p := model.PersonalizationProfile{UserID: userID}
	err := db.pool.QueryRow(ctx,
		`SELECT body, session_count, last_updated FROM personalization_profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.Body, &p.SessionCount, &p.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PersonalizationProfile{}, fmt.Errorf("storage: get profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return model.PersonalizationProfile{}, fmt.Errorf("storage: get profile %s: %w", userID, err)
	}
	return p, nil
}

// GetAgentDescriptor returns the stored descriptor for name.
func (db *DB) GetAgentDescriptor(ctx context.Context, name model.AgentName) (model.AgentDescriptor, error) {
	d := model.AgentDescriptor{Name: name}
	var status string
	err := db.pool.QueryRow(ctx,
		`SELECT version, status, last_run, next_scheduled_run, health_score, success_rate,
		 last_error, updated_at
		 FROM agent_descriptors WHERE name = $1`,
		string(name),
	).Scan(&d.Version, &status, &d.LastRun, &d.NextScheduledRun, &d.HealthScore, &d.SuccessRate,
		&d.LastError, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AgentDescriptor{}, fmt.Errorf("storage: get agent descriptor %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return model.AgentDescriptor{}, fmt.Errorf("storage: get agent descriptor %s: %w", name, err)
	}
	d.Status = model.AgentStatus(status)
	return d, nil
}

// RecentSessions returns up to limit sessions, newest first.
func (db *DB) RecentSessions(ctx context.Context, limit int) ([]model.OrchestrationSession, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, started_at, completed_at, strategy, agents_executed, successful_executions,
		 failed_executions, total_improvements, total_insights, coordination_plans_executed,
		 efficiency_score, errors
		 FROM orchestration_sessions ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OrchestrationSession, error) {
		var s model.OrchestrationSession
		var strategy string
		var agents []string
		err := row.Scan(&s.ID, &s.StartedAt, &s.CompletedAt, &strategy, &agents, &s.SuccessfulExecutions,
			&s.FailedExecutions, &s.TotalImprovements, &s.TotalInsights, &s.CoordinationPlansExecuted,
			&s.EfficiencyScore, &s.Errors)
		s.Strategy = model.ExecutionStrategy(strategy)
		for _, a := range agents {
			s.AgentsExecuted = append(s.AgentsExecuted, model.AgentName(a))
		}
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan sessions: %w", err)
	}
	return sessions, nil
}

// Strings converts a slice of string-kinded values for array columns.
func Strings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

// nonNil returns an empty slice for nil so NOT NULL array and JSON columns
// receive '{}' or '[]' instead of NULL.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
