// Package store defines the two external collaborators of the orchestration
// subsystem: the read-only behavioral data source and the append/upsert
// persistence sink. Postgres and SQLite adapters live in internal/storage;
// an in-memory implementation lives here for tests and single-process use.
package store

import (
	"context"

	"github.com/ashita-ai/kaizen/internal/model"
)

// Source is the read-only behavioral data source. Implementations must be
// safe for concurrent use; reads are consistent snapshots, not transactional
// across callers.
type Source interface {
	Records(ctx context.Context, q model.RecordQuery) ([]model.BehavioralRecord, error)
	CountRecords(ctx context.Context, q model.RecordQuery) (int, error)
}

// Sink is the persistence sink. Every method is either a pure append or a
// single-key upsert; no call spans multiple rows owned by different agents.
type Sink interface {
	InsertSession(ctx context.Context, s model.OrchestrationSession) error
	InsertAnomaly(ctx context.Context, a model.PerformanceAnomaly) error
	InsertPattern(ctx context.Context, p model.DiscoveredPattern) error
	InsertImprovement(ctx context.Context, o model.ImprovementOpportunity) error
	InsertExperiment(ctx context.Context, e model.InnovationExperiment) error
	UpsertPersonalizationProfile(ctx context.Context, userID string, p model.PersonalizationProfile) error
	UpsertAgentDescriptor(ctx context.Context, d model.AgentDescriptor) error
}
