package pipeline

import (
	"time"

	"github.com/urbanmesh/urbanflow/internal/domain"
)

// BackoffStrategy names a deterministic delay curve.
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFibonacci   BackoffStrategy = "fibonacci"
)

// RetryPolicy is immutable configuration applied uniformly around agent
// executions and store writes. NextDelay is a pure function of the attempt
// number.
type RetryPolicy struct {
	Strategy    BackoffStrategy
	MaxAttempts int
	Base        time.Duration
	// Factor and Max apply to the exponential strategy only.
	Factor float64
	Max    time.Duration
}

// LinearBackoff waits base * attempt between attempts.
func LinearBackoff(base time.Duration, maxAttempts int) RetryPolicy {
	return RetryPolicy{Strategy: BackoffLinear, Base: base, MaxAttempts: maxAttempts}
}

// ExponentialBackoff waits base * factor^(attempt-1), capped at max.
func ExponentialBackoff(base time.Duration, factor float64, max time.Duration, maxAttempts int) RetryPolicy {
	return RetryPolicy{Strategy: BackoffExponential, Base: base, Factor: factor, Max: max, MaxAttempts: maxAttempts}
}

// FibonacciBackoff waits base * fib(attempt).
func FibonacciBackoff(base time.Duration, maxAttempts int) RetryPolicy {
	return RetryPolicy{Strategy: BackoffFibonacci, Base: base, MaxAttempts: maxAttempts}
}

// NextDelay returns the delay before the given retry attempt. Attempts are
// 1-based: NextDelay(1) is the wait after the first failure.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Strategy {
	case BackoffExponential:
		d := time.Duration(float64(p.Base) * pow(p.Factor, attempt-1))
		if p.Max > 0 && d > p.Max {
			return p.Max
		}
		return d
	case BackoffFibonacci:
		return p.Base * time.Duration(fib(attempt))
	default:
		return p.Base * time.Duration(attempt)
	}
}

// ShouldRetry reports whether another attempt is allowed. Permanent errors
// are never retried regardless of the attempt budget.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return domain.Retryable(err)
}

func pow(base float64, n int) float64 {
	if base <= 0 {
		base = 2
	}
	out := 1.0
	for i := 0; i < n; i++ {
		out *= base
	}
	return out
}

func fib(n int) int64 {
	a, b := int64(1), int64(1)
	for i := 1; i < n; i++ {
		a, b = b, a+b
	}
	return a
}
