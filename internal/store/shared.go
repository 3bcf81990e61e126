package store

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kaizen/internal/model"
)

// SharedSource collapses identical concurrent queries into a single read of
// the wrapped Source. Agents running in parallel routinely ask for the same
// window; only one of them reaches the backing store and all share the answer.
// Returned slices are shared between callers and must be treated as read-only.
type SharedSource struct {
	src     Source
	group   singleflight.Group
	timeout time.Duration
}

// NewSharedSource wraps src. timeout bounds each shared read; zero means 30s.
func NewSharedSource(src Source, timeout time.Duration) *SharedSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SharedSource{src: src, timeout: timeout}
}

// Records implements Source.
func (s *SharedSource) Records(ctx context.Context, q model.RecordQuery) ([]model.BehavioralRecord, error) {
	ch := s.group.DoChan("records:"+queryKey(q), func() (any, error) {
		// Not bound to any caller's ctx; other waiters share this read.
		readCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		return s.src.Records(readCtx, q)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		recs, _ := res.Val.([]model.BehavioralRecord)
		return recs, nil
	}
}

// CountRecords implements Source.
func (s *SharedSource) CountRecords(ctx context.Context, q model.RecordQuery) (int, error) {
	ch := s.group.DoChan("count:"+queryKey(q), func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		return s.src.CountRecords(readCtx, q)
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		n, _ := res.Val.(int)
		return n, nil
	}
}

func queryKey(q model.RecordQuery) string {
	return fmt.Sprintf("%d|%d|%s|%s|%s|%s|%d",
		q.Since.UnixNano(), q.Until.UnixNano(), q.Kind, q.Outcome, q.UserID, q.TeamID, q.Limit)
}
