package model

import (
	"time"

	"github.com/google/uuid"
)

// RecordKind distinguishes behavioral record types.
type RecordKind string

const (
	RecordSession  RecordKind = "session"
	RecordFeedback RecordKind = "feedback"
)

// Outcome is how a recorded session ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeAbandoned Outcome = "abandoned"
)

// BehavioralRecord is a historical session or feedback entry read from the
// behavioral data source. Records are never written by Kaizen.
type BehavioralRecord struct {
	ID             uuid.UUID         `json:"id"`
	UserID         string            `json:"user_id"`
	TeamID         string            `json:"team_id,omitempty"`
	Kind           RecordKind        `json:"kind"`
	Outcome        Outcome           `json:"outcome"`
	OccurredAt     time.Time         `json:"occurred_at"`
	ResponseTimeMs int64             `json:"response_time_ms"`
	Accuracy       *float64          `json:"accuracy,omitempty"`     // 0.0-1.0
	Satisfaction   *float64          `json:"satisfaction,omitempty"` // 0.0-1.0
	Errored        bool              `json:"errored"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// Succeeded reports whether the record ended in success.
func (r BehavioralRecord) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// RecordQuery filters behavioral records. Zero values mean "no filter".
// Since is inclusive, Until is exclusive.
type RecordQuery struct {
	Since   time.Time
	Until   time.Time
	Kind    RecordKind
	Outcome Outcome
	UserID  string
	TeamID  string
	Limit   int
}

// Matches reports whether r satisfies the query filters (Limit is ignored).
func (q RecordQuery) Matches(r BehavioralRecord) bool {
	if !q.Since.IsZero() && r.OccurredAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !r.OccurredAt.Before(q.Until) {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	if q.UserID != "" && r.UserID != q.UserID {
		return false
	}
	if q.TeamID != "" && r.TeamID != q.TeamID {
		return false
	}
	return true
}
