package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig defines an exponential backoff retry policy.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration

	// RetryIf reports whether an error is transient. When nil every
	// error is retried.
	RetryIf func(error) bool
}

// DefaultRetryConfig is the policy used for optimistic-lock conflicts:
// at most maxRetries quick attempts with doubling delays.
func DefaultRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:      maxRetries,
		InitialInterval: 25 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Second,
	}
}

func newBackOff(ctx context.Context, config RetryConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if config.InitialInterval > 0 {
		b.InitialInterval = config.InitialInterval
	}
	if config.MaxInterval > 0 {
		b.MaxInterval = config.MaxInterval
	}
	if config.Multiplier > 1 {
		b.Multiplier = config.Multiplier
	}
	if config.MaxElapsedTime > 0 {
		b.MaxElapsedTime = config.MaxElapsedTime
	}

	var bo backoff.BackOff = b
	if config.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(b, uint64(config.MaxRetries))
	}
	return backoff.WithContext(bo, ctx)
}

// Retry runs operation until it succeeds, the retry budget is spent, or
// the context is cancelled. Non-retryable errors abort immediately.
func Retry(ctx context.Context, config RetryConfig, operation func() error) error {
	return backoff.Retry(func() error {
		err := operation()
		if err != nil && config.RetryIf != nil && !config.RetryIf(err) {
			return backoff.Permanent(err)
		}
		return err
	}, newBackOff(ctx, config))
}

// RetryWithResult is Retry for operations that produce a value.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, operation func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, config, func() error {
		var opErr error
		result, opErr = operation()
		return opErr
	})
	return result, err
}
