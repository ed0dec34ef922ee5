package qcache

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether a transient fetch failure is retried. attempt is
// the 1-based number of the attempt that just failed. Only errors for which
// IsTransient is true reach the policy.
type RetryPolicy interface {
	Next(attempt int, err error) (wait time.Duration, retry bool)
}

// NoRetry gives up after the first failure. It is the default.
type NoRetry struct{}

func (NoRetry) Next(int, error) (time.Duration, bool) { return 0, false }

// RetryFunc adapts a function to RetryPolicy.
type RetryFunc func(attempt int, err error) (time.Duration, bool)

func (f RetryFunc) Next(attempt int, err error) (time.Duration, bool) { return f(attempt, err) }

// ExponentialRetry retries with exponential backoff and jitter, up to
// MaxAttempts attempts in total.
type ExponentialRetry struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

func (p ExponentialRetry) Next(attempt int, _ error) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = coalesce(p.InitialInterval, b.InitialInterval)
	b.MaxInterval = coalesce(p.MaxInterval, b.MaxInterval)
	b.Multiplier = coalesce(p.Multiplier, b.Multiplier)
	if p.RandomizationFactor > 0 {
		b.RandomizationFactor = p.RandomizationFactor
	}
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}
