package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"fuelbot/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testTimeoutConfig() model.TimeoutConfig {
	return model.TimeoutConfig{
		ExternalAI:  10 * time.Second,
		PriceQuery:  5 * time.Second,
		Analytics:   3 * time.Second,
		Webhook:     25 * time.Second,
		Default:     8 * time.Second,
		BaseDelay:   500 * time.Millisecond,
		MaxRetries:  3,
		Multipliers: []float64{1, 2, 4},
	}
}

func newTestTimeoutManager(clock *fakeClock, rec *sleepRecorder) *TimeoutManager {
	return NewTimeoutManager(testTimeoutConfig(), WithTimeoutClock(clock.Now), WithSleep(rec.sleep))
}

func TestRunRetriesThenReportsFailure(t *testing.T) {
	clock, rec := newFakeClock(), &sleepRecorder{}
	m := newTestTimeoutManager(clock, rec)

	calls := 0
	err := m.Execute(context.Background(), ClassPriceQuery, 3, func(context.Context) error {
		calls++
		return errBoom
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, rec.delays)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, opErr.Attempts)
	assert.Equal(t, FailureMessage(ClassPriceQuery), opErr.UserMessage())
}

func TestRunJudgesElapsedTimeAgainstBudget(t *testing.T) {
	clock, rec := newFakeClock(), &sleepRecorder{}
	m := newTestTimeoutManager(clock, rec)

	calls := 0
	_, err := Run(context.Background(), m, ClassExternalAI, 3, func(context.Context) (string, error) {
		calls++
		clock.Advance(11 * time.Second)
		return "late", nil
	})

	assert.Equal(t, 3, calls)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, ClassExternalAI, timeoutErr.Class)
	assert.Equal(t, 10*time.Second, timeoutErr.Budget)
	assert.Equal(t, TimeoutMessage(ClassExternalAI), timeoutErr.UserMessage())

	msg, ok := UserMessage(err)
	require.True(t, ok)
	assert.Equal(t, TimeoutMessage(ClassExternalAI), msg)
}

func TestRunBackoffIsCappedAtLastMultiplier(t *testing.T) {
	clock, rec := newFakeClock(), &sleepRecorder{}
	m := newTestTimeoutManager(clock, rec)

	_ = m.Execute(context.Background(), ClassDefault, 5, fail)

	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		2 * time.Second,
	}, rec.delays)
}

func TestRunUsesDefaultAttempts(t *testing.T) {
	clock, rec := newFakeClock(), &sleepRecorder{}
	m := newTestTimeoutManager(clock, rec)

	calls := 0
	_ = m.Execute(context.Background(), ClassDefault, 0, func(context.Context) error {
		calls++
		return errBoom
	})
	assert.Equal(t, 3, calls)
}

func TestRunSucceedsAfterRetry(t *testing.T) {
	clock, rec := newFakeClock(), &sleepRecorder{}
	m := newTestTimeoutManager(clock, rec)

	calls := 0
	got, err := Run(context.Background(), m, ClassPriceQuery, 3, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errBoom
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Len(t, rec.delays, 1)
}

func TestRunStopsOnOpenBreakerAndPermanentErrors(t *testing.T) {
	clock, rec := newFakeClock(), &sleepRecorder{}
	m := newTestTimeoutManager(clock, rec)

	calls := 0
	err := m.Execute(context.Background(), ClassExternalAI, 3, func(context.Context) error {
		calls++
		return &OpenError{Breaker: "ai"}
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)

	calls = 0
	err = m.Execute(context.Background(), ClassPriceQuery, 3, func(context.Context) error {
		calls++
		return Permanent(errBoom)
	})
	assert.Equal(t, errBoom, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestRunCancelsAttemptAtBudget(t *testing.T) {
	cfg := testTimeoutConfig()
	cfg.PriceQuery = 20 * time.Millisecond
	rec := &sleepRecorder{}
	m := NewTimeoutManager(cfg, WithSleep(rec.sleep))

	err := m.Execute(context.Background(), ClassPriceQuery, 2, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 2, timeoutErr.Attempts)
}

func TestRunReturnsParentCancellation(t *testing.T) {
	clock, rec := newFakeClock(), &sleepRecorder{}
	m := newTestTimeoutManager(clock, rec)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := m.Execute(ctx, ClassDefault, 3, func(context.Context) error {
		calls++
		cancel()
		return errBoom
	})
	assert.True(t, errors.Is(err, errBoom) || errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestTimeoutConfigReport(t *testing.T) {
	m := NewTimeoutManager(testTimeoutConfig())
	cfg := m.Config()
	assert.Equal(t, int64(10000), cfg.BudgetsMs[ClassExternalAI])
	assert.Equal(t, int64(5000), cfg.BudgetsMs[ClassPriceQuery])
	assert.Equal(t, int64(8000), cfg.BudgetsMs[ClassDefault])
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 8*time.Second, m.Budget("unknown"))
}

func TestGuardedCallCountsEveryAttemptInBreaker(t *testing.T) {
	ctx := context.Background()
	clock, rec := newFakeClock(), &sleepRecorder{}
	m := newTestTimeoutManager(clock, rec)
	cb := NewCircuitBreaker(ctx, "ai", model.BreakerConfig{FailureThreshold: 2, CooldownPeriod: time.Minute, SuccessThreshold: 1}, nil, WithBreakerClock(clock.Now))
	g := NewGuard(cb, m, ClassExternalAI, WithAttempts(3))

	calls := 0
	err := g.Do(ctx, func(context.Context) error {
		calls++
		return errBoom
	})

	assert.Equal(t, 2, calls, "breaker opens after the second attempt and ends the loop")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateOpen, cb.State())
}

func TestGuardedCallCountsLateSuccessAsBreakerFailure(t *testing.T) {
	ctx := context.Background()
	clock, rec := newFakeClock(), &sleepRecorder{}
	m := newTestTimeoutManager(clock, rec)
	cb := NewCircuitBreaker(ctx, "ai", model.BreakerConfig{FailureThreshold: 2, CooldownPeriod: time.Minute, SuccessThreshold: 1}, nil, WithBreakerClock(clock.Now))
	g := NewGuard(cb, m, ClassExternalAI, WithAttempts(2))

	calls := 0
	err := g.Do(ctx, func(context.Context) error {
		calls++
		clock.Advance(11 * time.Second)
		return nil
	})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, ClassExternalAI, timeoutErr.Class)
	assert.Equal(t, 2, calls, "two late answers open the breaker")
	assert.Equal(t, StateOpen, cb.State())

	// an answer inside the budget is still a success
	clock.Advance(time.Minute)
	require.NoError(t, g.Do(ctx, func(context.Context) error {
		clock.Advance(time.Second)
		return nil
	}))
	assert.Equal(t, StateClosed, cb.State())
}

func TestGuardedCallReturnsValue(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(nil, NewTimeoutManager(testTimeoutConfig()), ClassDefault)

	got, err := GuardedCall(ctx, g, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
