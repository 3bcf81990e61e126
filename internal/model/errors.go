package model

import (
	"errors"
	"fmt"
)

// ErrConcurrencyViolation is returned when a run is attempted while another
// run of the same component is in progress. The attempt has no side effects.
var ErrConcurrencyViolation = errors.New("concurrency violation: run already in progress")

// ErrAgentTimeout marks an agent that exceeded its per-run deadline.
var ErrAgentTimeout = errors.New("agent timed out")

// ConfigurationError reports invalid configuration detected at construction time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigurationError.
func NewConfigError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// TransientDataError wraps a failed read from the behavioral data source.
// The affected agent is skipped for the cycle; the orchestration continues.
type TransientDataError struct {
	Op  string
	Err error
}

func (e *TransientDataError) Error() string {
	return fmt.Sprintf("transient data error: %s: %v", e.Op, e.Err)
}

func (e *TransientDataError) Unwrap() error { return e.Err }

// NewTransientDataError wraps err as a TransientDataError, or returns nil if err is nil.
func NewTransientDataError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientDataError{Op: op, Err: err}
}

// AgentExecutionError wraps a failure of an agent's own logic.
type AgentExecutionError struct {
	Agent AgentName
	Err   error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *AgentExecutionError) Unwrap() error { return e.Err }

// ClassifyError maps an agent failure to the kind recorded in the session.
func ClassifyError(err error) ErrorKind {
	var tde *TransientDataError
	switch {
	case errors.Is(err, ErrAgentTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrConcurrencyViolation):
		return ErrorKindConcurrency
	case errors.As(err, &tde):
		return ErrorKindTransientData
	default:
		return ErrorKindExecution
	}
}
