package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Config controls the backoff schedule. Zero values fall back to the
// defaults applied by New.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialInterval is the wait before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps the backoff growth.
	MaxInterval time.Duration
	// Multiplier scales the interval after each retry.
	Multiplier float64
	// JitterFactor randomizes each interval by up to this fraction.
	JitterFactor float64
}

// DefaultConfig backs off 1s, 2s, 4s, 8s, 16s, then 30s capped.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// Operation is retried until it returns nil, a permanent error, or the
// attempt budget runs out.
type Operation func(ctx context.Context) error

// RetryableError marks an error as worth retrying.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the retrier keeps trying.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// PermanentError stops the retry loop immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the retrier gives up without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Result reports how a retried operation ended.
type Result struct {
	// Err is nil on success, ErrMaxRetriesExceeded, ErrContextCanceled,
	// or the unwrapped permanent error.
	Err error
	// Attempts counts every call of the operation, the first included.
	Attempts int
	// TotalDuration includes the waits between attempts.
	TotalDuration time.Duration
	// LastError is what the final attempt returned.
	LastError error
}

// RetryCallback runs before each wait, with the attempt that just failed.
type RetryCallback func(attempt int, err error, nextInterval time.Duration)

// Retrier runs operations under one backoff schedule.
type Retrier struct {
	config *Config
}

// New builds a Retrier, filling in defaults for missing config values.
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = time.Second
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.JitterFactor < 0 {
		config.JitterFactor = 0
	}
	if config.JitterFactor > 1 {
		config.JitterFactor = 1
	}
	return &Retrier{config: config}
}

// Do runs op until it succeeds or the budget is spent.
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	return r.DoWithCallback(ctx, op, nil)
}

// DoWithCallback is Do with a hook invoked before every wait.
func (r *Retrier) DoWithCallback(ctx context.Context, op Operation, callback RetryCallback) *Result {
	started := time.Now()
	result := &Result{}

	finish := func(err error) *Result {
		result.Err = err
		result.TotalDuration = time.Since(started)
		return result
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return finish(ErrContextCanceled)
		}

		result.Attempts = attempt + 1
		err := op(ctx)
		if err == nil {
			return finish(nil)
		}
		result.LastError = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			result.LastError = perm.Err
			return finish(perm.Err)
		}

		if attempt == r.config.MaxRetries {
			return finish(ErrMaxRetriesExceeded)
		}

		wait := r.backoff(attempt)
		if callback != nil {
			callback(attempt+1, err, wait)
		}

		select {
		case <-ctx.Done():
			return finish(ErrContextCanceled)
		case <-time.After(wait):
		}
	}
}

// backoff returns the wait after the given zero-based attempt.
func (r *Retrier) backoff(attempt int) time.Duration {
	interval := float64(r.config.InitialInterval) * math.Pow(r.config.Multiplier, float64(attempt))

	if r.config.JitterFactor > 0 {
		spread := interval * r.config.JitterFactor
		interval += (rand.Float64()*2 - 1) * spread
	}

	if interval > float64(r.config.MaxInterval) {
		interval = float64(r.config.MaxInterval)
	}
	if interval < 0 {
		interval = float64(r.config.InitialInterval)
	}
	return time.Duration(interval)
}

// Do runs op with a one-off Retrier.
func Do(ctx context.Context, config *Config, op Operation) *Result {
	return New(config).Do(ctx, op)
}

// DoWithCallback runs op with a one-off Retrier and a per-retry hook.
func DoWithCallback(ctx context.Context, config *Config, op Operation, callback RetryCallback) *Result {
	return New(config).DoWithCallback(ctx, op, callback)
}
