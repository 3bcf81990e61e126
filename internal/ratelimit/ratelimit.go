// Package ratelimit throttles operator requests to the MCP endpoint. Every
// tool call can start an orchestration cycle or an emergency optimization,
// so a misbehaving client is limited per address before it reaches them.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether the request may proceed. When it may not, wait
	// is how long until it would. An error signals a limiter malfunction;
	// callers fail open.
	Allow(ctx context.Context, key string) (ok bool, wait time.Duration, err error)

	// Close releases resources such as cleanup goroutines.
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always permits.
func (NoopLimiter) Allow(context.Context, string) (bool, time.Duration, error) { return true, 0, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
