package kaizen

import "context"

// ActionApplier carries out corrective actions against the running system.
// When provided via WithActionApplier, replaces the default applier that
// only logs. Apply must be safe for concurrent use.
type ActionApplier interface {
	Apply(ctx context.Context, action CorrectiveAction) error
}

// Implementer carries out improvements the coordinator cleared for
// auto-implementation. A returned error leaves the improvement pending
// approval.
type Implementer interface {
	Implement(ctx context.Context, improvement Improvement) error
}

// FailureHook receives a notification for every agent failure. Hooks run on
// the orchestrating goroutine and must not block; a panic is recovered and
// logged. Multiple hooks may be registered via multiple WithFailureHook calls.
type FailureHook func(ctx context.Context, failure AgentFailure)
