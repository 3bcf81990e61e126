package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kaizen/internal/model"
)

const recordColumns = `id, user_id, team_id, kind, outcome, occurred_at, response_time_ms,
	accuracy, satisfaction, errored, attributes`

// RecordWhere builds the WHERE clause for a record query. placeholder
// renders the n-th bind parameter (1-based) in the driver's dialect.
func RecordWhere(q model.RecordQuery, placeholder func(n int) string) (string, []any) {
	var conditions []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, placeholder(len(args))))
	}

	if !q.Since.IsZero() {
		add("occurred_at >= %s", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		add("occurred_at < %s", q.Until.UTC())
	}
	if q.Kind != "" {
		add("kind = %s", string(q.Kind))
	}
	if q.Outcome != "" {
		add("outcome = %s", string(q.Outcome))
	}
	if q.UserID != "" {
		add("user_id = %s", q.UserID)
	}
	if q.TeamID != "" {
		add("team_id = %s", q.TeamID)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// Records returns behavioral records matching q in chronological order.
func (db *DB) Records(ctx context.Context, q model.RecordQuery) ([]model.BehavioralRecord, error) {
	where, args := RecordWhere(q, pgPlaceholder)
	query := `SELECT ` + recordColumns + ` FROM behavioral_records` + where + ` ORDER BY occurred_at, id`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var recs []model.BehavioralRecord
	err := withRetry(ctx, retryReads, func() error {
		rows, err := db.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		recs, err = pgx.CollectRows(rows, scanRecord)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: query records: %w", err)
	}
	return recs, nil
}

// CountRecords returns the number of behavioral records matching q. Limit is ignored.
func (db *DB) CountRecords(ctx context.Context, q model.RecordQuery) (int, error) {
	where, args := RecordWhere(q, pgPlaceholder)
	var n int
	err := withRetry(ctx, retryReads, func() error {
		return db.pool.QueryRow(ctx, `SELECT count(*) FROM behavioral_records`+where, args...).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("storage: count records: %w", err)
	}
	return n, nil
}

// InsertRecords bulk-loads behavioral records with COPY. Kaizen never writes
// records during orchestration; this exists for seeding and backfills.
func (db *DB) InsertRecords(ctx context.Context, recs []model.BehavioralRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	columns := []string{"id", "user_id", "team_id", "kind", "outcome", "occurred_at",
		"response_time_ms", "accuracy", "satisfaction", "errored", "attributes"}
	n, err := db.pool.CopyFrom(ctx, pgx.Identifier{"behavioral_records"}, columns,
		pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
			r := recs[i]
			attrs := r.Attributes
			if attrs == nil {
				attrs = map[string]string{}
			}
			return []any{
				r.ID, r.UserID, r.TeamID, string(r.Kind), string(r.Outcome), r.OccurredAt.UTC(),
				r.ResponseTimeMs, r.Accuracy, r.Satisfaction, r.Errored, attrs,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: copy records: %w", err)
	}
	return n, nil
}

func scanRecord(row pgx.CollectableRow) (model.BehavioralRecord, error) {
	var r model.BehavioralRecord
	var kind, outcome string
	err := row.Scan(&r.ID, &r.UserID, &r.TeamID, &kind, &outcome, &r.OccurredAt,
		&r.ResponseTimeMs, &r.Accuracy, &r.Satisfaction, &r.Errored, &r.Attributes)
	r.Kind = model.RecordKind(kind)
	r.Outcome = model.Outcome(outcome)
	return r, err
}
