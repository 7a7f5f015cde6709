// Package retry runs operations with exponential backoff and jitter.
// The service uses it for email dispatch; it has no mailboxer dependencies.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of attempts after the first (default: 3).
	// Zero executes once.
	MaxRetries int

	// InitialBackoff is the delay before the first retry (default: 200ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration (default: 10s).
	MaxBackoff time.Duration

	// Multiplier increases backoff after each retry (default: 2.0).
	Multiplier float64

	// Jitter randomizes each wait by +/- the given fraction (default: 0.2).
	Jitter float64

	// IsRetryable decides whether an error deserves another attempt.
	// Defaults to DefaultIsRetryable.
	IsRetryable func(error) bool

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig returns the policy used for email dispatch.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
		IsRetryable:    DefaultIsRetryable,
	}
}

// Sentinel errors.
var (
	// ErrNotRetryable reports that an attempt failed with a permanent error.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrMaxRetries is returned when all attempts are exhausted.
	ErrMaxRetries = errors.New("retry: max retries exceeded")

	// ErrContextCanceled reports that the context ended between attempts.
	ErrContextCanceled = errors.New("retry: context canceled")
)

// RetryableFunc is the function type that can be retried.
type RetryableFunc func(ctx context.Context) error

// Do executes fn until it succeeds, fails permanently, runs out of attempts
// or ctx ends. Failures are returned as *RetryError.
func Do(ctx context.Context, cfg Config, fn RetryableFunc) error {
	cfg = applyDefaults(cfg)

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return err
			}
			return &RetryError{Cause: lastErr, Attempts: attempt, Err: ErrContextCanceled}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !cfg.IsRetryable(lastErr) {
			return &RetryError{Cause: lastErr, Attempts: attempt + 1, Err: ErrNotRetryable}
		}
		if attempt >= cfg.MaxRetries {
			return &RetryError{Cause: lastErr, Attempts: attempt + 1, Err: ErrMaxRetries}
		}

		wait := Backoff(cfg, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &RetryError{Cause: lastErr, Attempts: attempt + 1, Err: ErrContextCanceled}
		case <-timer.C:
		}
	}
}

// DoWithResult executes fn with retries and returns its result.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// RetryError provides details about a failed retry operation.
type RetryError struct {
	// Cause is the last error returned by the function.
	Cause error
	// Attempts is the number of attempts made.
	Attempts int
	// Err is ErrMaxRetries, ErrNotRetryable or ErrContextCanceled.
	Err error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts (%s): %s", e.Attempts, e.Err, e.Cause)
}

func (e *RetryError) Unwrap() []error {
	return []error{e.Err, e.Cause}
}

// Backoff returns the wait before retry number attempt+1.
func Backoff(cfg Config, attempt int) time.Duration {
	cfg = applyDefaults(cfg)
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	d = math.Min(d, float64(cfg.MaxBackoff))
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

func applyDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.Jitter = min(max(cfg.Jitter, 0), 1)
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	return cfg
}

// DefaultIsRetryable retries everything except context errors and errors
// that report Retryable() == false anywhere in their chain.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// MarkNotRetryable wraps err so DefaultIsRetryable stops retrying it.
func MarkNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &classified{cause: err, retryable: false}
}

// MarkRetryable wraps err so DefaultIsRetryable retries it.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &classified{cause: err, retryable: true}
}

type classified struct {
	cause     error
	retryable bool
}

func (e *classified) Error() string   { return e.cause.Error() }
func (e *classified) Unwrap() error   { return e.cause }
func (e *classified) Retryable() bool { return e.retryable }
