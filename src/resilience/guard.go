package resilience

import "context"

// Guard applies one dependency's breaker and one timeout class to every call made through it.
// Each attempt passes through the breaker, so attempts made while retrying are counted by it,
// attempts that overrun the class budget count as failures, and an opened breaker ends the
// retry loop.
type Guard struct {
	breaker  *CircuitBreaker
	timeouts *TimeoutManager
	class    TimeoutClass
	attempts int
}

type GuardOption func(*Guard)

// WithAttempts overrides the number of attempts. Zero uses the timeout manager default.
func WithAttempts(n int) GuardOption {
	return func(g *Guard) { g.attempts = n }
}

// NewGuard builds a guard. breaker may be nil for calls with no dependency-level tracking.
func NewGuard(breaker *CircuitBreaker, timeouts *TimeoutManager, class TimeoutClass, opts ...GuardOption) *Guard {
	g := &Guard{breaker: breaker, timeouts: timeouts, class: class}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Class() TimeoutClass { return g.class }

func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }

// Do runs op under the guard.
func (g *Guard) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := GuardedCall(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// GuardedCall runs op under g and returns its result or the resilience error that ended it.
func GuardedCall[T any](ctx context.Context, g *Guard, op func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return op(ctx)
	}
	if g.timeouts == nil {
		return Call(ctx, g.breaker, op)
	}
	budget := g.timeouts.Budget(g.class)
	attempt := func(ctx context.Context) (T, error) {
		start := g.timeouts.now()
		// judged by the same clock and budget as the retry loop, so an attempt that
		// returns late counts against the breaker too
		return call(ctx, g.breaker, op, func() bool {
			return g.timeouts.now().Sub(start) > budget
		})
	}
	return Run(ctx, g.timeouts, g.class, g.attempts, attempt)
}
