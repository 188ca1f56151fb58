// Package resilience provides the fault-tolerance primitives used in front of
// slow or flaky downstream dependencies: a circuit breaker, an exponential
// backoff retrier and an Executor combining both.
//
// The breaker is process-wide shared state. Every method is safe for
// concurrent use; the state machine is guarded by a single mutex and the
// protected function itself runs outside the lock.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// State is the circuit breaker state.
type State int32

const (
	// StateClosed lets every call through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls without invoking the protected function.
	StateOpen
	// StateHalfOpen lets trial calls through after the open timeout elapsed.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CircuitOpenError is returned by Breaker.Call while the breaker is open.
// The protected function was not invoked.
type CircuitOpenError struct {
	Name  string
	Until time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open until %s", e.Name, e.Until.Format(time.RFC3339))
}

// BreakerConfig controls breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens a
	// closed breaker.
	FailureThreshold int `default:"5" usage:"Consecutive failures before the breaker opens"`
	// SuccessThreshold is the number of consecutive half-open successes that
	// closes the breaker again.
	SuccessThreshold int `default:"2" usage:"Consecutive half-open successes before the breaker closes"`
	// OpenTimeout is how long the breaker stays open before the next call is
	// let through as a trial.
	OpenTimeout time.Duration `default:"60s" usage:"How long the breaker stays open"`
}

// DefaultBreakerConfig returns the thresholds used for the PG partner.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = def.OpenTimeout
	}
	return c
}

// StateChangeFunc is invoked after every state transition. It runs while the
// breaker lock is held, so it must not call back into the breaker.
type StateChangeFunc func(name string, from, to State)

// BreakerOption customizes a Breaker.
type BreakerOption func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a transition hook.
func WithStateChange(fn StateChangeFunc) BreakerOption {
	return func(b *Breaker) { b.onStateChange = fn }
}

// WithFailurePredicate decides which errors count as failures. Errors that do
// not count are returned to the caller and leave the breaker untouched: they
// neither reset the failure count nor count as half-open successes.
func WithFailurePredicate(fn func(error) bool) BreakerOption {
	return func(b *Breaker) { b.isFailure = fn }
}

// Breaker is a consecutive-failure circuit breaker.
//
//	closed    --FailureThreshold consecutive failures-->  open
//	open      --next call after OpenTimeout----------->  half_open
//	half_open --SuccessThreshold consecutive successes->  closed
//	half_open --any failure--------------------------->  open
type Breaker struct {
	name          string
	cfg           BreakerConfig
	now           func() time.Time
	onStateChange StateChangeFunc
	isFailure     func(error) bool

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:      name,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		isFailure: defaultIsFailure,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state. An open breaker whose timeout elapsed is
// still reported as open until the next call moves it to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs fn if the breaker admits the call and records its outcome.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	until := b.openedAt.Add(b.cfg.OpenTimeout)
	if b.now().Before(until) {
		return &CircuitOpenError{Name: b.name, Until: until}
	}
	b.transition(StateHalfOpen)
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := b.isFailure(err)
	if err != nil && !failed {
		return
	}
	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		if failed {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	case StateOpen:
		// Admitted before another caller opened the breaker; the outcome is stale.
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if from != to && b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
