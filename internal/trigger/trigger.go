// Package trigger decides whether a run is warranted now.
//
// It combines two signal classes: schedule (time since the last run against
// an interval) and volume/urgency (fresh behavioral records, open critical
// anomalies, overall health). The evaluator holds configuration only and never
// mutates state, so agents and the orchestrator can query it concurrently.
package trigger

import (
	"fmt"
	"time"

	"github.com/ashita-ai/kaizen/internal/model"
)

// Config holds the thresholds used to grade signals.
type Config struct {
	// MinNewRecords is the fresh-record count below which a scheduled run is
	// skipped as not worth doing. Zero always runs on schedule.
	MinNewRecords int
	// HighVolumeRecords escalates to high priority (and triggers a run
	// regardless of schedule) once exceeded.
	HighVolumeRecords int
	// DegradedHealth escalates to high priority when overall health is below it.
	DegradedHealth float64
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{MinNewRecords: 10, HighVolumeRecords: 100, DegradedHealth: 0.7}
}

// Signals is the input to an evaluation.
type Signals struct {
	Now      time.Time
	LastRun  *time.Time // nil means never run
	Interval time.Duration
	// NewRecords is the number of behavioral records since LastRun.
	NewRecords int
	// OpenCriticalAnomalies is the number of critical anomalies currently open.
	OpenCriticalAnomalies int
	// OverallHealth is the last known health score in [0,1]; negative means unknown.
	OverallHealth float64
	// Coordinated marks a pending coordination follow-up for the caller.
	Coordinated bool
}

// Decision is the evaluator's verdict.
type Decision struct {
	ShouldRun bool
	Reasons   []string
	Priority  model.Priority
}

// Reason joins the reasons into one line.
func (d Decision) Reason() string {
	switch len(d.Reasons) {
	case 0:
		return ""
	case 1:
		return d.Reasons[0]
	}
	out := d.Reasons[0]
	for _, r := range d.Reasons[1:] {
		out += "; " + r
	}
	return out
}

// Evaluator grades schedule and volume signals.
type Evaluator struct {
	cfg Config
}

// New creates an evaluator.
func New(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Config returns the evaluator's thresholds.
func (e *Evaluator) Config() Config { return e.cfg }

// Evaluate returns whether a run is warranted and at which priority.
//
// Rules, strongest first:
//   - any open critical anomaly: run, urgent (overrides schedule)
//   - new records above HighVolumeRecords: run, high
//   - overall health below DegradedHealth: run, high
//   - never run: run, normal
//   - interval elapsed: run, normal, unless fewer than MinNewRecords arrived
//   - coordinated follow-up pending: run, normal
//   - otherwise: do not run, low
func (e *Evaluator) Evaluate(s Signals) Decision {
	d := Decision{Priority: model.PriorityLow}
	raise := func(p model.Priority, reason string) {
		d.ShouldRun = true
		d.Priority = model.MaxPriority(d.Priority, p)
		d.Reasons = append(d.Reasons, reason)
	}

	if s.OpenCriticalAnomalies > 0 {
		raise(model.PriorityUrgent, fmt.Sprintf("%d critical anomalies open", s.OpenCriticalAnomalies))
	}
	if e.cfg.HighVolumeRecords > 0 && s.NewRecords > e.cfg.HighVolumeRecords {
		raise(model.PriorityHigh, fmt.Sprintf("%d new records exceed high-volume tier %d", s.NewRecords, e.cfg.HighVolumeRecords))
	}
	if s.OverallHealth >= 0 && s.OverallHealth < e.cfg.DegradedHealth {
		raise(model.PriorityHigh, fmt.Sprintf("overall health %.2f below %.2f", s.OverallHealth, e.cfg.DegradedHealth))
	}

	switch {
	case s.LastRun == nil:
		raise(model.PriorityNormal, "never run")
	case s.Now.Sub(*s.LastRun) >= s.Interval:
		if s.NewRecords >= e.cfg.MinNewRecords {
			raise(model.PriorityNormal, fmt.Sprintf("interval %s elapsed", s.Interval))
		} else if !d.ShouldRun {
			d.Reasons = append(d.Reasons, fmt.Sprintf("interval elapsed but only %d new records (min %d)", s.NewRecords, e.cfg.MinNewRecords))
		}
	}

	if s.Coordinated {
		raise(model.PriorityNormal, "coordinated follow-up pending")
	}

	if !d.ShouldRun && len(d.Reasons) == 0 {
		next := s.LastRun.Add(s.Interval)
		d.Reasons = append(d.Reasons, fmt.Sprintf("not due until %s", next.Format(time.RFC3339)))
	}
	return d
}
