package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ashita-ai/kaizen/internal/model"
)

// Memory is an in-process Source and Sink. Records are kept sorted by
// OccurredAt so window queries return chronological slices.
type Memory struct {
	mu            sync.RWMutex
	records       []model.BehavioralRecord
	sessions      []model.OrchestrationSession
	anomalies     []model.PerformanceAnomaly
	patterns      []model.DiscoveredPattern
	improvs       []model.ImprovementOpportunity
	experiments   []model.InnovationExperiment
	profiles      map[string]model.PersonalizationProfile
	descriptors   map[model.AgentName]model.AgentDescriptor
	profileWrites int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		profiles:    make(map[string]model.PersonalizationProfile),
		descriptors: make(map[model.AgentName]model.AgentDescriptor),
	}
}

// AddRecords appends behavioral records. Used to seed the source.
func (m *Memory) AddRecords(recs ...model.BehavioralRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recs...)
	sort.SliceStable(m.records, func(i, j int) bool {
		return m.records[i].OccurredAt.Before(m.records[j].OccurredAt)
	})
}

// Records implements Source.
func (m *Memory) Records(ctx context.Context, q model.RecordQuery) ([]model.BehavioralRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.BehavioralRecord
	for _, r := range m.records {
		if !q.Matches(r) {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// CountRecords implements Source.
func (m *Memory) CountRecords(ctx context.Context, q model.RecordQuery) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if q.Matches(r) {
			n++
		}
	}
	return n, nil
}

// InsertSession implements Sink. Sessions must be completed.
func (m *Memory) InsertSession(ctx context.Context, s model.OrchestrationSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Completed() {
		return fmt.Errorf("store: insert session %s: not completed", s.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s)
	return nil
}

// InsertAnomaly implements Sink.
func (m *Memory) InsertAnomaly(ctx context.Context, a model.PerformanceAnomaly) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies = append(m.anomalies, a)
	return nil
}

// InsertPattern implements Sink.
func (m *Memory) InsertPattern(ctx context.Context, p model.DiscoveredPattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, p)
	return nil
}

// InsertImprovement implements Sink.
func (m *Memory) InsertImprovement(ctx context.Context, o model.ImprovementOpportunity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.improvs = append(m.improvs, o)
	return nil
}

// InsertExperiment implements Sink.
func (m *Memory) InsertExperiment(ctx context.Context, e model.InnovationExperiment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiments = append(m.experiments, e)
	return nil
}

// UpsertPersonalizationProfile implements Sink.
func (m *Memory) UpsertPersonalizationProfile(ctx context.Context, userID string, p model.PersonalizationProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UserID = userID
	m.profiles[userID] = p
	m.profileWrites++
	return nil
}

// UpsertAgentDescriptor implements Sink.
func (m *Memory) UpsertAgentDescriptor(ctx context.Context, d model.AgentDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors[d.Name] = d
	return nil
}

// Sessions returns a copy of all inserted sessions.
func (m *Memory) Sessions() []model.OrchestrationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.sessions)
}

// Anomalies returns a copy of all inserted anomalies.
func (m *Memory) Anomalies() []model.PerformanceAnomaly {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.anomalies)
}

// Patterns returns a copy of all inserted patterns.
func (m *Memory) Patterns() []model.DiscoveredPattern {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.patterns)
}

// Improvements returns a copy of all inserted improvements.
func (m *Memory) Improvements() []model.ImprovementOpportunity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.improvs)
}

// Experiments returns a copy of all inserted experiments.
func (m *Memory) Experiments() []model.InnovationExperiment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.experiments)
}

// Profile returns the stored profile for a user.
func (m *Memory) Profile(userID string) (model.PersonalizationProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	return p, ok
}

// ProfileWrites returns the number of profile upserts received.
func (m *Memory) ProfileWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profileWrites
}

// Descriptor returns the stored descriptor for an agent.
func (m *Memory) Descriptor(name model.AgentName) (model.AgentDescriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.descriptors[name]
	return d, ok
}
