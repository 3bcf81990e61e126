package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxRetries     = 3
	retryBaseDelay = 20 * time.Millisecond
	retryMaxDelay  = 500 * time.Millisecond
)

// retryClass selects which failures a statement may be retried on.
type retryClass int

const (
	// retryConflicts covers keyed upserts racing each other.
	retryConflicts retryClass = iota
	// retryReads also covers dropped connections, since reads have no side effects.
	retryReads
)

func (c retryClass) retriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return c == retryReads && pgconn.SafeToRetry(err)
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	}
	// Class 08: connection exception.
	return c == retryReads && strings.HasPrefix(pgErr.Code, "08")
}

// withRetry runs fn until it succeeds, fails with an error outside class,
// or maxRetries retries are spent. Delays double from retryBaseDelay with
// jitter and are capped at retryMaxDelay.
func withRetry(ctx context.Context, class retryClass, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || attempt == maxRetries || !class.retriable(err) {
			return err
		}
		wait := delay + time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
		delay = min(delay*2, retryMaxDelay)
	}
}
