package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with a flat, jittered backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// Timeout bounds each attempt. Zero means attempts only end with the
	// parent context.
	Timeout time.Duration

	// BaseBackoff is the fixed part of the delay between attempts.
	BaseBackoff time.Duration

	// Jitter is the upper bound of a random delay added to BaseBackoff, so
	// each sleep falls in [BaseBackoff, BaseBackoff+Jitter).
	Jitter time.Duration

	// ShouldRetry optionally overrides the default retryable-error check.
	// If nil, IsRetryable is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)

	// BeforeAttempt runs with the parent context before every attempt,
	// ahead of the attempt timeout. An error ends the operation unretried.
	BeforeAttempt func(ctx context.Context) error
}

// DefaultRetryConfig returns the policy used against the POI endpoints:
// three attempts of 20s each, 2-4s apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Timeout:     20 * time.Second,
		BaseBackoff: 2 * time.Second,
		Jitter:      2 * time.Second,
	}
}

// Do executes fn with retry logic according to cfg. Retryable failures are
// retried until MaxAttempts is reached, after which an *ExhaustedError
// wrapping the last failure is returned. Non-retryable errors and context
// cancellation are returned as they are, without further attempts.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with retry logic. Same semantics as Do
// but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if cfg.BeforeAttempt != nil {
			if err := cfg.BeforeAttempt(ctx); err != nil {
				return zero, err
			}
		}

		val, err := attemptOnce(ctx, cfg.Timeout, fn)
		if err == nil {
			return val, nil
		}
		lastErr = err

		// Don't retry on parent cancellation.
		if ctx.Err() != nil {
			return zero, lastErr
		}

		if !shouldRetry(lastErr) {
			return zero, lastErr
		}

		// Don't sleep after the last attempt.
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}

		timer := time.NewTimer(computeBackoff(cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, &ExhaustedError{Attempts: cfg.MaxAttempts, Err: lastErr}
}

func attemptOnce[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff < 0 {
		cfg.BaseBackoff = 0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return cfg
}

// computeBackoff is flat: the delay does not grow with the attempt number.
func computeBackoff(cfg RetryConfig) time.Duration {
	delay := cfg.BaseBackoff
	if cfg.Jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(cfg.Jitter)))
	}
	return delay
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
	}
}
