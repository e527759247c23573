// Package resilience provides the failure-handling primitives wrapped around
// engine and broker calls: bounded immediate retries, a three-state circuit
// breaker, and backend failover groups.
//
// [Do] and [DoWithResult] cover transient single-call failures. For whole
// backends that degrade, [FallbackGroup] composes multiple instances of a
// provider type with per-entry circuit breakers so a failing primary is
// bypassed in favour of healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import "context"

// Do runs fn up to attempts times and returns nil on the first success.
// Retries are immediate; transient faults of the wrapped call either clear
// within a few attempts or the last error is returned for the caller to
// classify. A cancelled ctx stops further attempts and returns ctx.Err().
//
// attempts values below 1 are treated as 1.
func Do(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// DoWithResult is [Do] for calls that produce a value. On exhaustion it
// returns the zero value and the last error.
func DoWithResult[R any](ctx context.Context, attempts int, fn func() (R, error)) (R, error) {
	if attempts < 1 {
		attempts = 1
	}
	var (
		result  R
		lastErr error
	)
	for range attempts {
		if err := ctx.Err(); err != nil {
			var zero R
			return zero, err
		}
		if result, lastErr = fn(); lastErr == nil {
			return result, nil
		}
	}
	var zero R
	return zero, lastErr
}
