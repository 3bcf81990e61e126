package storage

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrSessionIncomplete is returned when a session without CompletedAt is
// handed to the sink. Sessions are persisted exactly once, after completion.
var ErrSessionIncomplete = errors.New("storage: session not completed")
