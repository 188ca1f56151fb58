package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
)

// RetryConfig controls exponential backoff between attempts.
type RetryConfig struct {
	MaxAttempts    int           `default:"3"   usage:"Total attempts including the first call"`
	InitialBackoff time.Duration `default:"1s"  usage:"Delay before the second attempt"`
	Multiplier     float64       `default:"2"   usage:"Backoff growth factor"`
	MaxBackoff     time.Duration `default:"10s" usage:"Upper bound for a single backoff delay"`
}

// DefaultRetryConfig returns 3 attempts with 1s, 2s backoff capped at 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     10 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	return c
}

// RetryNotifyFunc is called before sleeping ahead of the next attempt.
type RetryNotifyFunc func(attempt int, err error, wait time.Duration)

// RetrierOption customizes a Retrier.
type RetrierOption func(*Retrier)

// WithRetryNotify registers a hook called before each backoff sleep.
func WithRetryNotify(fn RetryNotifyFunc) RetrierOption {
	return func(r *Retrier) { r.notify = fn }
}

// WithTimer overrides the backoff timer. Tests use it to skip real sleeps.
func WithTimer(newTimer func() backoff.Timer) RetrierOption {
	return func(r *Retrier) { r.newTimer = newTimer }
}

// Retrier retries an operation with exponential backoff while the returned
// error is classified as retryable.
type Retrier struct {
	cfg       RetryConfig
	retryable func(error) bool
	notify    RetryNotifyFunc
	newTimer  func() backoff.Timer
}

// NewRetrier creates a Retrier. Errors for which retryable returns false stop
// the loop immediately. A CircuitOpenError is never retried.
func NewRetrier(cfg RetryConfig, retryable func(error) bool, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		cfg:       cfg.withDefaults(),
		retryable: retryable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. The last error is returned as is.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !r.shouldRetry(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if r.notify != nil {
		notify = func(err error, wait time.Duration) { r.notify(attempt, err, wait) }
	}
	var timer backoff.Timer
	if r.newTimer != nil {
		timer = r.newTimer()
	}
	return backoff.RetryNotifyWithTimer(op, r.backOff(ctx), notify, timer)
}

func (r *Retrier) shouldRetry(ctx context.Context, err error) bool {
	var open *CircuitOpenError
	if errors.As(err, &open) {
		return false
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return false
	}
	return r.retryable == nil || r.retryable(err)
}

func (r *Retrier) backOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.InitialBackoff
	exp.Multiplier = r.cfg.Multiplier
	exp.MaxInterval = r.cfg.MaxBackoff
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.cfg.MaxAttempts-1)), ctx)
}

// Executor runs every attempt of a retried operation through a breaker, so a
// breaker that opens mid-loop stops the remaining attempts.
type Executor struct {
	breaker *Breaker
	retrier *Retrier
}

// NewExecutor combines a breaker and a retrier.
func NewExecutor(breaker *Breaker, retrier *Retrier) *Executor {
	return &Executor{breaker: breaker, retrier: retrier}
}

// Breaker returns the underlying breaker.
func (e *Executor) Breaker() *Breaker { return e.breaker }

// Execute runs fn with retries, each attempt guarded by the breaker.
func (e *Executor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.retrier.Do(ctx, func(ctx context.Context) error {
		return e.breaker.Call(ctx, fn)
	})
}
