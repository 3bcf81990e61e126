package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kaizen/internal/agent"
	"github.com/ashita-ai/kaizen/internal/model"
	"github.com/ashita-ai/kaizen/internal/planner"
	"github.com/ashita-ai/kaizen/internal/telemetry"
)

// agentOutcome is the typed result of one agent execution.
type agentOutcome struct {
	name     model.AgentName
	result   *model.AgentRunResult
	err      error
	duration time.Duration
}

// execute runs the plan's agents on a pool bounded by plan.Concurrency and
// waits for all of them. Siblings are never cancelled; every outcome is
// returned in plan order.
func (o *Orchestrator) execute(ctx context.Context, plan planner.Plan) []agentOutcome {
	outcomes := make([]agentOutcome, len(plan.Agents))
	var g errgroup.Group
	g.SetLimit(max(1, plan.Concurrency))
	for i, e := range plan.Agents {
		a := o.agent(e.Name)
		g.Go(func() error {
			outcomes[i] = o.runAgent(ctx, a)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// runAgent runs one agent under AgentTimeout. A result arriving after the
// deadline is discarded; the agent is failed with model.ErrAgentTimeout.
func (o *Orchestrator) runAgent(ctx context.Context, a agent.Agent) agentOutcome {
	name := a.Name()
	ctx, span := o.tracer.Start(ctx, "orchestrator.agent")
	defer span.End()
	span.SetAttributes(attribute.String("agent", string(name)))

	o.setStatus(ctx, name, model.AgentStatusRunning, nil)
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
	defer cancel()

	type reply struct {
		res *model.AgentRunResult
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: &model.AgentExecutionError{Agent: name, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		res, err := a.Run(runCtx)
		ch <- reply{res: res, err: err}
	}()

	out := agentOutcome{name: name}
	select {
	case r := <-ch:
		out.result, out.err = r.res, r.err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			out.err = &model.AgentExecutionError{Agent: name, Err: fmt.Errorf("%w after %s", model.ErrAgentTimeout, o.cfg.AgentTimeout)}
		} else {
			out.err = &model.AgentExecutionError{Agent: name, Err: runCtx.Err()}
		}
	}
	out.duration = time.Since(start)

	attrs := metric.WithAttributes(attribute.String("agent", string(name)))
	o.agentDuration.Record(ctx, telemetry.Milliseconds(out.duration), attrs)
	if out.err != nil {
		o.agentFailures.Add(ctx, 1, attrs)
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		o.logger.Warn("orchestrator: agent failed",
			"agent", name, "kind", model.ClassifyError(out.err), "error", out.err)
		o.setStatus(ctx, name, model.AgentStatusError, out.err)
		return out
	}
	o.logger.Info("orchestrator: agent complete",
		"agent", name, "findings", out.result.FindingsCount(), "duration_ms", out.duration.Milliseconds())
	o.setStatus(ctx, name, model.AgentStatusIdle, nil)
	return out
}

// setStatus moves an agent descriptor through its lifecycle and upserts it.
// Sink failures are logged; descriptors are advisory.
func (o *Orchestrator) setStatus(ctx context.Context, name model.AgentName, status model.AgentStatus, runErr error) {
	m := o.agent(name).Metrics()

	o.mu.Lock()
	d := o.descriptors[name]
	d.Status = status
	d.Version = m.Version
	d.LastRun = m.LastRun
	d.NextScheduledRun = m.NextScheduledRun
	d.HealthScore = m.HealthScore
	d.SuccessRate = m.SuccessRate
	d.UpdatedAt = o.now().UTC()
	if runErr != nil {
		d.LastError = runErr.Error()
	} else if status == model.AgentStatusIdle {
		d.LastError = ""
	}
	snapshot := *d
	o.mu.Unlock()

	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := o.deps.Sink.UpsertAgentDescriptor(pctx, snapshot); err != nil {
		o.logger.Warn("orchestrator: upsert agent descriptor failed", "agent", name, "error", err)
	}
}
