// Package retry runs calls to external systems with bounded attempts,
// exponential backoff and a per-attempt timeout.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config bounds a retried call.
type Config struct {
	MaxAttempts     int           `env:"BILLING_PROCESSOR_MAX_ATTEMPTS" envDefault:"3"`
	AttemptTimeout  time.Duration `env:"BILLING_PROCESSOR_TIMEOUT" envDefault:"10s"`
	InitialInterval time.Duration `env:"BILLING_PROCESSOR_RETRY_INTERVAL" envDefault:"200ms"`
	MaxInterval     time.Duration `env:"BILLING_PROCESSOR_RETRY_MAX_INTERVAL" envDefault:"2s"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		AttemptTimeout:  10 * time.Second,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Retrier retries operations whose errors satisfy the retryable predicate.
type Retrier struct {
	cfg       Config
	retryable func(error) bool
	notify    func(err error, wait time.Duration)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithNotify registers a callback invoked before each wait.
func WithNotify(fn func(err error, wait time.Duration)) Option {
	return func(r *Retrier) {
		if fn != nil {
			r.notify = fn
		}
	}
}

// New creates a Retrier. Errors for which retryable returns false end the loop immediately.
func New(cfg Config, retryable func(error) bool, opts ...Option) *Retrier {
	if retryable == nil {
		panic("retry: retryable predicate is required")
	}
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	r := &Retrier{cfg: cfg, retryable: retryable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. Each attempt gets its own timeout when
// AttemptTimeout is set. The last error is returned unwrapped.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.InitialInterval
	eb.MaxInterval = r.cfg.MaxInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.cfg.MaxAttempts-1)), ctx)

	op := func() error {
		attemptCtx := ctx
		if r.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
			defer cancel()
		}
		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !r.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if r.notify != nil {
		notify = r.notify
	}

	err := backoff.RetryNotify(op, policy, notify)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
