package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantTimer fires as soon as it is started.
type instantTimer struct {
	c chan time.Time
}

func newInstantTimer() backoff.Timer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(time.Duration) { t.c <- time.Time{} }
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

var errPermanent = errors.New("invalid request")

func isTransient(err error) bool {
	return !errors.Is(err, errPermanent)
}

func TestRetrier_Do(t *testing.T) {
	tests := []struct {
		name      string
		results   []error
		wantCalls int
		wantErr   error
		wantOpen  bool
	}{
		{
			name:      "first attempt succeeds",
			results:   []error{nil},
			wantCalls: 1,
		},
		{
			name:      "transient then success",
			results:   []error{errDownstream, errDownstream, nil},
			wantCalls: 3,
		},
		{
			name:      "attempts exhausted returns last error",
			results:   []error{errDownstream, errDownstream, errDownstream, nil},
			wantCalls: 3,
			wantErr:   errDownstream,
		},
		{
			name:      "permanent error is not retried",
			results:   []error{errPermanent, nil},
			wantCalls: 1,
			wantErr:   errPermanent,
		},
		{
			name:      "circuit open is not retried",
			results:   []error{&CircuitOpenError{Name: "payple"}, nil},
			wantCalls: 1,
			wantOpen:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetrier(DefaultRetryConfig(), isTransient, WithTimer(newInstantTimer))

			var calls int
			err := r.Do(context.Background(), func(context.Context) error {
				res := tt.results[calls]
				calls++
				return res
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			if tt.wantOpen {
				var openErr *CircuitOpenError
				require.ErrorAs(t, err, &openErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRetrier_BackoffSchedule(t *testing.T) {
	var waits []time.Duration
	var attempts []int
	r := NewRetrier(RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     5 * time.Second,
	}, nil,
		WithTimer(newInstantTimer),
		WithRetryNotify(func(attempt int, _ error, wait time.Duration) {
			attempts = append(attempts, attempt)
			waits = append(waits, wait)
		}),
	)

	err := r.Do(context.Background(), func(context.Context) error { return errDownstream })
	require.ErrorIs(t, err, errDownstream)

	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
	}, waits)
}

func TestRetrier_DefaultSchedule(t *testing.T) {
	var waits []time.Duration
	r := NewRetrier(DefaultRetryConfig(), nil,
		WithTimer(newInstantTimer),
		WithRetryNotify(func(_ int, _ error, wait time.Duration) {
			waits = append(waits, wait)
		}),
	)

	_ = r.Do(context.Background(), func(context.Context) error { return errDownstream })
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestRetrier_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(DefaultRetryConfig(), nil, WithTimer(newInstantTimer))

	var calls int
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errDownstream
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecutor_BreakerStopsRetries(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("payple", BreakerConfig{FailureThreshold: 2}, WithClock(clock.Now))
	r := NewRetrier(DefaultRetryConfig(), nil, WithTimer(newInstantTimer))
	ex := NewExecutor(b, r)

	var calls int
	err := ex.Execute(context.Background(), func(context.Context) error {
		calls++
		return errDownstream
	})

	// Two attempts open the breaker; the third is rejected without a call.
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateOpen, ex.Breaker().State())
}

func TestExecutor_EachAttemptCountsTowardsBreaker(t *testing.T) {
	b := NewBreaker("payple", DefaultBreakerConfig())
	r := NewRetrier(DefaultRetryConfig(), nil, WithTimer(newInstantTimer))
	ex := NewExecutor(b, r)

	var calls int
	err := ex.Execute(context.Background(), func(context.Context) error {
		calls++
		return errDownstream
	})
	require.ErrorIs(t, err, errDownstream)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StateClosed, b.State())

	// Two more failing attempts reach the threshold of five.
	calls = 0
	_ = ex.Execute(context.Background(), func(context.Context) error {
		calls++
		return errDownstream
	})
	assert.Equal(t, 2, calls)
	assert.Equal(t, StateOpen, b.State())
}
