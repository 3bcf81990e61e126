// Package sqlite is the embedded SQLite adapter for the behavioral data
// source and the persistence sink. It mirrors the Postgres schema with JSON
// stored as TEXT and timestamps as fixed-width UTC strings, so range
// predicates compare lexicographically.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/storage"
	"github.com/ashita-ai/kaizen/internal/store"
)

var (
	_ store.Source = (*DB)(nil)
	_ store.Sink   = (*DB)(nil)
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB is a SQLite-backed Source and Sink.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" keeps everything on a single connection.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	if path == ":memory:" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("sqlite: opened", "path", path)
	return &DB{db: db, logger: logger}, nil
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Records returns behavioral records matching q in chronological order.
func (d *DB) Records(ctx context.Context, q model.RecordQuery) ([]model.BehavioralRecord, error) {
	where, args := storage.RecordWhere(q, question)
	query := `SELECT id, user_id, team_id, kind, outcome, occurred_at, response_time_ms,
		accuracy, satisfaction, errored, attributes FROM behavioral_records` + where +
		` ORDER BY occurred_at, id`
	args = bindTimes(args)
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.BehavioralRecord
	for rows.Next() {
		var r model.BehavioralRecord
		var id, kind, outcome, occurred, attrs string
		var accuracy, satisfaction sql.NullFloat64
		if err := rows.Scan(&id, &r.UserID, &r.TeamID, &kind, &outcome, &occurred,
			&r.ResponseTimeMs, &accuracy, &satisfaction, &r.Errored, &attrs); err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		if err := r.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("sqlite: record id %q: %w", id, err)
		}
		if r.OccurredAt, err = time.Parse(timeLayout, occurred); err != nil {
			return nil, fmt.Errorf("sqlite: record time %q: %w", occurred, err)
		}
		if accuracy.Valid {
			r.Accuracy = &accuracy.Float64
		}
		if satisfaction.Valid {
			r.Satisfaction = &satisfaction.Float64
		}
		if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
			return nil, fmt.Errorf("sqlite: record attributes: %w", err)
		}
		r.Kind = model.RecordKind(kind)
		r.Outcome = model.Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRecords returns the number of behavioral records matching q.
func (d *DB) CountRecords(ctx context.Context, q model.RecordQuery) (int, error) {
	where, args := storage.RecordWhere(q, question)
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM behavioral_records`+where, bindTimes(args)...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count records: %w", err)
	}
	return n, nil
}

// InsertRecords loads behavioral records in one transaction.
func (d *DB) InsertRecords(ctx context.Context, recs []model.BehavioralRecord) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin insert records: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO behavioral_records (id, user_id, team_id, kind,
		outcome, occurred_at, response_time_ms, accuracy, satisfaction, errored, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert records: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range recs {
		attrs, err := jsonText(r.Attributes, "{}")
		if err != nil {
			return fmt.Errorf("sqlite: encode attributes: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID.String(), r.UserID, r.TeamID, string(r.Kind),
			string(r.Outcome), formatTime(r.OccurredAt), r.ResponseTimeMs, r.Accuracy,
			r.Satisfaction, r.Errored, attrs); err != nil {
			return fmt.Errorf("sqlite: insert record %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit records: %w", err)
	}
	return nil
}

// InsertSession appends a completed orchestration session.
func (d *DB) InsertSession(ctx context.Context, s model.OrchestrationSession) error {
	if !s.Completed() {
		return fmt.Errorf("sqlite: insert session %s: %w", s.ID, storage.ErrSessionIncomplete)
	}
	agents, err := jsonText(storage.Strings(s.AgentsExecuted), "[]")
	if err != nil {
		return fmt.Errorf("sqlite: encode session agents: %w", err)
	}
	agentErrors, err := jsonText(s.Errors, "[]")
	if err != nil {
		return fmt.Errorf("sqlite: encode session errors: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO orchestration_sessions (id, started_at, completed_at, strategy, agents_executed,
		 successful_executions, failed_executions, total_improvements, total_insights,
		 coordination_plans_executed, efficiency_score, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), formatTime(s.StartedAt), formatTime(*s.CompletedAt), string(s.Strategy), agents,
		s.SuccessfulExecutions, s.FailedExecutions, s.TotalImprovements, s.TotalInsights,
		s.CoordinationPlansExecuted, s.EfficiencyScore, agentErrors,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert session: %w", err)
	}
	return nil
}

// InsertAnomaly appends a performance anomaly.
func (d *DB) InsertAnomaly(ctx context.Context, a model.PerformanceAnomaly) error {
	components, err := jsonText(a.AffectedComponents, "[]")
	if err != nil {
		return fmt.Errorf("sqlite: encode anomaly components: %w", err)
	}
	metrics, err := jsonText(a.MetricsInvolved, "[]")
	if err != nil {
		return fmt.Errorf("sqlite: encode anomaly metrics: %w", err)
	}
	cause, err := jsonText(a.RootCause, "{}")
	if err != nil {
		return fmt.Errorf("sqlite: encode anomaly root cause: %w", err)
	}
	actions, err := jsonText(a.RecommendedActions, "[]")
	if err != nil {
		return fmt.Errorf("sqlite: encode anomaly actions: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO performance_anomalies (id, fingerprint, detected_at, anomaly_type, severity,
		 affected_components, metrics_involved, root_cause, recommended_actions, auto_corrected)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.Fingerprint, formatTime(a.DetectedAt), string(a.Type), string(a.Severity),
		components, metrics, cause, actions, a.AutoCorrected,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert anomaly: %w", err)
	}
	return nil
}

// InsertPattern appends a discovered pattern.
func (d *DB) InsertPattern(ctx context.Context, p model.DiscoveredPattern) error {
	data, err := json.Marshal(p.Data)
	if err != nil {
		return fmt.Errorf("sqlite: encode pattern data: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO discovered_patterns (id, pattern_type, name, description, confidence_score,
		 supporting_session_count, validation_status, data, discovered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), string(p.Type), p.Name, p.Description, p.ConfidenceScore,
		p.SupportingSessionCount, string(p.ValidationStatus), string(data), formatTime(p.DiscoveredAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert pattern: %w", err)
	}
	return nil
}

// InsertImprovement appends a ranked improvement opportunity.
func (d *DB) InsertImprovement(ctx context.Context, o model.ImprovementOpportunity) error {
	objectives, err := jsonText(o.Objectives, "[]")
	if err != nil {
		return fmt.Errorf("sqlite: encode objectives: %w", err)
	}
	impact, err := jsonText(o.PotentialImpact, "{}")
	if err != nil {
		return fmt.Errorf("sqlite: encode impact: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO improvement_opportunities (id, source_agent, opportunity_type, title, objectives,
		 potential_impact, implementation_complexity, success_probability, innovation_score,
		 priority_score, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), string(o.SourceAgent), o.OpportunityType, o.Title, objectives, impact,
		string(o.ImplementationComplexity), o.SuccessProbability, o.InnovationScore,
		o.PriorityScore, string(o.Status), formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert improvement: %w", err)
	}
	return nil
}

// InsertExperiment appends a proposed innovation experiment.
func (d *DB) InsertExperiment(ctx context.Context, e model.InnovationExperiment) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO innovation_experiments (id, opportunity_id, title, hypothesis, starts_at,
		 ends_at, resource_cap, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.OpportunityID.String(), e.Title, e.Hypothesis, formatTime(e.StartsAt),
		formatTime(e.EndsAt), e.ResourceCap, string(e.Status),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert experiment: %w", err)
	}
	return nil
}

// UpsertPersonalizationProfile writes the profile keyed by userID.
func (d *DB) UpsertPersonalizationProfile(ctx context.Context, userID string, p model.PersonalizationProfile) error {
	body, err := json.Marshal(p.Body)
	if err != nil {
		return fmt.Errorf("sqlite: encode profile: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO personalization_profiles (user_id, body, session_count, last_updated)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE
		 SET body = excluded.body, session_count = excluded.session_count,
		     last_updated = excluded.last_updated`,
		userID, string(body), p.SessionCount, formatTime(p.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert profile %s: %w", userID, err)
	}
	return nil
}

// UpsertAgentDescriptor writes the descriptor keyed by agent name.
func (d *DB) UpsertAgentDescriptor(ctx context.Context, a model.AgentDescriptor) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO agent_descriptors (name, version, status, last_run, next_scheduled_run,
		 health_score, success_rate, last_error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE
		 SET version = excluded.version, status = excluded.status, last_run = excluded.last_run,
		     next_scheduled_run = excluded.next_scheduled_run, health_score = excluded.health_score,
		     success_rate = excluded.success_rate, last_error = excluded.last_error,
		     updated_at = excluded.updated_at`,
		string(a.Name), a.Version, string(a.Status), formatTimePtr(a.LastRun), formatTimePtr(a.NextScheduledRun),
		a.HealthScore, a.SuccessRate, a.LastError, formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert agent descriptor %s: %w", a.Name, err)
	}
	return nil
}

// GetProfile returns the stored profile for userID.
func (d *DB) GetProfile(ctx context.Context, userID string) (model.PersonalizationProfile, error) {
	p := model.PersonalizationProfile{UserID: userID}
	var body, updated string
	err := d.db.QueryRowContext(ctx,
		`SELECT body, session_count, last_updated FROM personalization_profiles WHERE user_id = ?`,
		userID,
	).Scan(&body, &p.SessionCount, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PersonalizationProfile{}, fmt.Errorf("sqlite: get profile %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return model.PersonalizationProfile{}, fmt.Errorf("sqlite: get profile %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(body), &p.Body); err != nil {
		return model.PersonalizationProfile{}, fmt.Errorf("sqlite: decode profile %s: %w", userID, err)
	}
	if p.LastUpdated, err = time.Parse(timeLayout, updated); err != nil {
		return model.PersonalizationProfile{}, fmt.Errorf("sqlite: decode profile time: %w", err)
	}
	return p, nil
}

// CountRows returns the row count of an orchestration output table.
func (d *DB) CountRows(ctx context.Context, table string) (int, error) {
	switch table {
	case "orchestration_sessions", "performance_anomalies", "discovered_patterns",
		"improvement_opportunities", "innovation_experiments", "personalization_profiles",
		"agent_descriptors":
	default:
		return 0, fmt.Errorf("sqlite: count rows: unknown table %q", table)
	}
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", table, err)
	}
	return n, nil
}

func question(int) string { return "?" }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// bindTimes renders time arguments in the stored layout.
func bindTimes(args []any) []any {
	for i, a := range args {
		if t, ok := a.(time.Time); ok {
			args[i] = formatTime(t)
		}
	}
	return args
}

// jsonText encodes v, substituting empty for nil maps and slices.
func jsonText(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}
