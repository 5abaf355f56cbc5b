package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy controls how many times an operation is attempted and how long
// to wait between attempts.
type Policy struct {
	MaxAttempts     int           // Total attempts including the first; <= 0 means 1
	InitialInterval time.Duration // Delay before the first retry
	MaxInterval     time.Duration // Upper bound for any single delay
	Multiplier      float64       // Growth factor between delays
}

// DefaultPolicy returns the policy used when a caller does not supply one
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

func (p Policy) backOff() backoff.BackOff {
	initial := p.InitialInterval
	if initial <= 0 {
		initial = backoff.DefaultInitialInterval
	}

	maxInterval := p.MaxInterval
	if maxInterval <= 0 {
		maxInterval = backoff.DefaultMaxInterval
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = backoff.DefaultMultiplier
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.Multiplier = multiplier
	return b
}

func (p Policy) attempts() uint {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return uint(p.MaxAttempts)
}

// Do runs op until it succeeds, returns a permanent error, the policy is
// exhausted or ctx is done. onFailure is called with the error of every
// attempt that is about to be retried; it may be nil.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error), onFailure func(err error)) (T, error) {
	operation := func() (T, error) {
		return op(ctx)
	}

	notify := func(err error, _ time.Duration) {
		if onFailure != nil {
			onFailure(err)
		}
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(policy.attempts()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
}

// Permanent marks err so that Do stops retrying and returns it unwrapped
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

