package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/kaizen/internal/model"
)

// StatusReport is the last known-good view of the subsystem.
type StatusReport struct {
	OverallHealth   float64                 `json:"overall_health"`
	AgentStatuses   []model.AgentDescriptor `json:"agent_statuses"`
	Recommendations []string                `json:"recommendations"`
	GeneratedAt     time.Time               `json:"generated_at"`
}

// GetAgentStatusReport returns the report built at the end of the last
// cycle or emergency optimization. It never blocks on a running cycle.
func (o *Orchestrator) GetAgentStatusReport() StatusReport {
	return *o.report.Load()
}

// refreshReport rebuilds the status report from descriptors, the monitor
// snapshot and the last coordination outcome.
func (o *Orchestrator) refreshReport() {
	snap := o.deps.Monitor.Snapshot()

	o.mu.Lock()
	statuses := make([]model.AgentDescriptor, 0, len(o.deps.Agents))
	for _, a := range o.deps.Agents {
		statuses = append(statuses, *o.descriptors[a.Name()])
	}
	outcome := o.lastOutcome
	o.mu.Unlock()

	var agentHealth float64
	var recs []string
	active := 0
	for _, d := range statuses {
		if d.Status == model.AgentStatusMaintenance {
			recs = append(recs, fmt.Sprintf("agent %s is in maintenance", d.Name))
			continue
		}
		active++
		agentHealth += d.HealthScore
		if d.HealthScore < o.cfg.DegradedHealth {
			rec := fmt.Sprintf("agent %s health %.2f is below %.2f", d.Name, d.HealthScore, o.cfg.DegradedHealth)
			if d.LastError != "" {
				rec += ": last error: " + d.LastError
			}
			recs = append(recs, rec)
		}
	}
	overall := 1.0
	if active > 0 {
		overall = agentHealth / float64(active)
	}
	if !snap.AssessedAt.IsZero() {
		overall = (overall + snap.OverallHealth) / 2
	}

	for _, a := range snap.OpenAnomalies {
		if a.Severity != model.SeverityCritical {
			continue
		}
		recs = append(recs, fmt.Sprintf("critical %s anomaly open since %s: run emergency optimization",
			a.Type, a.DetectedAt.Format(time.RFC3339)))
	}
	if outcome != nil {
		pending := 0
		for _, r := range outcome.Ranked {
			if r.Status == model.OpportunityPendingApproval {
				pending++
			}
		}
		if pending > 0 {
			recs = append(recs, fmt.Sprintf("%d improvements pending approval", pending))
		}
		if n := len(outcome.Experiments); n > 0 {
			recs = append(recs, fmt.Sprintf("%d innovation experiments proposed", n))
		}
	}

	o.report.Store(&StatusReport{
		OverallHealth:   overall,
		AgentStatuses:   statuses,
		Recommendations: recs,
		GeneratedAt:     o.now().UTC(),
	})
}

// EmergencyResult reports what an emergency optimization did.
type EmergencyResult struct {
	ActionsTaken      []model.CorrectiveAction `json:"actions_taken"`
	StabilityRestored bool                     `json:"stability_restored"`
	RecoveryTimeMs    int64                    `json:"recovery_time_ms"`
}

// ExecuteEmergencyOptimization runs a monitor cycle, retries the eligible
// actions of open anomalies not yet corrected, and re-assesses. Actions that
// are not low risk with success probability above the auto-apply threshold
// are left as recommendations. Stability is
// restored when no critical anomaly remains open and health is at least
// DegradedHealth. It is mutually exclusive with RunOrchestration.
func (o *Orchestrator) ExecuteEmergencyOptimization(ctx context.Context) (*EmergencyResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("orchestrator: emergency optimization: %w", model.ErrConcurrencyViolation)
	}
	defer o.running.Store(false)

	ctx, span := o.tracer.Start(ctx, "orchestrator.emergency")
	defer span.End()

	start := time.Now()
	res := &EmergencyResult{}

	cycle, err := o.deps.Monitor.RunCycle(ctx)
	if cycle != nil {
		res.ActionsTaken = append(res.ActionsTaken, cycle.Applied...)
	}
	if err != nil {
		o.logger.Warn("orchestrator: emergency assessment failed", "error", err)
	}

	remediated, err := o.deps.Monitor.Remediate(ctx)
	if err != nil {
		o.logger.Warn("orchestrator: emergency remediation failed", "error", err)
	}
	res.ActionsTaken = append(res.ActionsTaken, remediated...)

	if _, err := o.deps.Monitor.RunCycle(ctx); err != nil {
		o.logger.Warn("orchestrator: emergency re-assessment failed", "error", err)
	}

	snap := o.deps.Monitor.Snapshot()
	res.StabilityRestored = snap.OpenCritical == 0 && snap.OverallHealth >= o.cfg.DegradedHealth
	res.RecoveryTimeMs = time.Since(start).Milliseconds()
	o.refreshReport()

	o.logger.Warn("orchestrator: emergency optimization complete",
		"actions", len(res.ActionsTaken),
		"stability_restored", res.StabilityRestored,
		"open_critical", snap.OpenCritical,
		"overall_health", snap.OverallHealth,
	)
	return res, nil
}
