package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ValidationError marks input that can never succeed. It is permanent and
// must not be retried, so malformed data is not masked as a transient
// failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// TransientIOError wraps a network or store error that is expected to
// succeed on retry.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient I/O error during %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// TimeoutError records an operation that exceeded its configured deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// CyclicDependencyError is a fatal configuration error raised at graph
// build time when phase dependencies form a cycle.
type CyclicDependencyError struct {
	Phase string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency involving phase %q", e.Phase)
}

// UnknownDependencyError is a fatal configuration error raised when a
// phase depends on a phase that does not exist.
type UnknownDependencyError struct {
	Phase      string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("phase %q depends on unknown phase %q", e.Phase, e.Dependency)
}

// PartialPublishError is informational: some but not all stores committed
// an entity batch. It never aborts a run.
type PartialPublishError struct {
	Committed int
	Total     int
}

func (e *PartialPublishError) Error() string {
	return fmt.Sprintf("partially published: %d/%d stores committed", e.Committed, e.Total)
}

// Retryable classifies an error for retry purposes. Validation and graph
// configuration errors are permanent; cancellation is not retried because
// the caller has already given up. Everything else, including timeouts and
// transient I/O failures, is retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}
	var cyclic *CyclicDependencyError
	if errors.As(err, &cyclic) {
		return false
	}
	var unknown *UnknownDependencyError
	if errors.As(err, &unknown) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
