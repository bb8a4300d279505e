package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"fuelbot/src/logger"
	"fuelbot/src/model"
	"fuelbot/src/storage"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// State of a circuit breaker.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Breaker names used across the bot.
const (
	BreakerExternalAI = "external_ai"
	BreakerDatabase   = "database"
	BreakerTelegram   = "telegram"
)

const breakerKeyPrefix = "circuit:"

type breakerState struct {
	State             State  `json:"state"`
	Failures          int    `json:"failures"`
	Successes         int    `json:"successes"`
	LastFailureTimeMs int64  `json:"last_failure_time_ms"`
	ForcedOpen        bool   `json:"forced_open,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// BreakerStats is a snapshot exposed on the status endpoint.
type BreakerStats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	Failures         int       `json:"failures"`
	Successes        int       `json:"successes"`
	LastFailureTime  time.Time `json:"last_failure_time,omitempty"`
	ForcedOpen       bool      `json:"forced_open,omitempty"`
	FailureThreshold int       `json:"failure_threshold"`
	SuccessThreshold int       `json:"success_threshold"`
	CooldownMs       int64     `json:"cooldown_ms"`
}

// CircuitBreaker counts consecutive failures of one dependency and stops calling it
// for a cooldown period once the failure threshold is reached.
// State is mirrored to the shared store so a restarted process resumes where it left off.
type CircuitBreaker struct {
	name   string
	config model.BreakerConfig
	kv     storage.Store
	now    func() time.Time
	log    zerolog.Logger

	mu sync.Mutex
	st breakerState
	// probing is set while the single HALF_OPEN trial call is in flight
	probing bool
}

type BreakerOption func(*CircuitBreaker)

func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

func WithBreakerLogger(l zerolog.Logger) BreakerOption {
	return func(cb *CircuitBreaker) { cb.log = l }
}

// NewCircuitBreaker builds a breaker and reloads its persisted state. kv may be nil for a
// process-local breaker.
func NewCircuitBreaker(ctx context.Context, name string, config model.BreakerConfig, kv storage.Store, opts ...BreakerOption) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.CooldownPeriod <= 0 {
		config.CooldownPeriod = 60 * time.Second
	}

	cb := &CircuitBreaker{
		name:   name,
		config: config,
		kv:     kv,
		now:    time.Now,
		log:    logger.Component("breaker").With().Str("breaker", name).Logger(),
		st:     breakerState{State: StateClosed},
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.load(ctx)
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

func (cb *CircuitBreaker) load(ctx context.Context) {
	if cb.kv == nil {
		return
	}
	data, err := cb.kv.Get(ctx, breakerKeyPrefix+cb.name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			cb.log.Warn().Err(err).Msg("failed to load breaker state")
		}
		return
	}
	var st breakerState
	if err := sonic.Unmarshal(data, &st); err != nil {
		cb.log.Warn().Err(err).Msg("discarding unreadable breaker state")
		return
	}
	switch st.State {
	case StateClosed, StateOpen, StateHalfOpen:
		cb.st = st
		cb.log.Debug().Str("state", string(st.State)).Int("failures", st.Failures).Msg("breaker state restored")
	default:
		cb.log.Warn().Str("state", string(st.State)).Msg("discarding unknown breaker state")
	}
}

// persist stores a snapshot taken under the lock. Failures are only logged.
func (cb *CircuitBreaker) persist(ctx context.Context, st breakerState) {
	if cb.kv == nil {
		return
	}
	data, err := sonic.Marshal(st)
	if err != nil {
		cb.log.Warn().Err(err).Msg("failed to encode breaker state")
		return
	}
	if err := cb.kv.Set(context.WithoutCancel(ctx), breakerKeyPrefix+cb.name, data, 0); err != nil {
		cb.log.Warn().Err(err).Msg("failed to persist breaker state")
	}
}

// refreshLocked applies the lazy OPEN -> HALF_OPEN transition. Caller holds mu.
func (cb *CircuitBreaker) refreshLocked() bool {
	if cb.st.State != StateOpen || cb.st.ForcedOpen {
		return false
	}
	if cb.now().UnixMilli()-cb.st.LastFailureTimeMs < cb.config.CooldownPeriod.Milliseconds() {
		return false
	}
	cb.st.State = StateHalfOpen
	cb.st.Successes = 0
	cb.log.Info().Msg("circuit breaker half-open, probing dependency")
	return true
}

func (cb *CircuitBreaker) retryAfterLocked() time.Duration {
	elapsed := time.Duration(cb.now().UnixMilli()-cb.st.LastFailureTimeMs) * time.Millisecond
	if d := cb.config.CooldownPeriod - elapsed; d > 0 {
		return d
	}
	return 0
}

// State returns the current state, moving OPEN to HALF_OPEN once the cooldown has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	changed := cb.refreshLocked()
	st := cb.st
	cb.mu.Unlock()

	if changed {
		cb.persist(context.Background(), st)
	}
	return st.State
}

// CanAttempt reports whether a call would be let through.
func (cb *CircuitBreaker) CanAttempt() bool {
	return cb.State() != StateOpen
}

// Execute runs op unless the breaker is open. The error returned by op is passed back unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Call(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Call is the generic form of Execute.
func Call[T any](ctx context.Context, cb *CircuitBreaker, op func(ctx context.Context) (T, error)) (T, error) {
	return call(ctx, cb, op, nil)
}

// call runs op through the breaker. When overran is not nil and reports true after a call that
// returned no error, the call is recorded as a failure: it answered, but too late.
func call[T any](ctx context.Context, cb *CircuitBreaker, op func(ctx context.Context) (T, error), overran func() bool) (T, error) {
	var zero T
	if cb == nil {
		return op(ctx)
	}

	cb.mu.Lock()
	changed := cb.refreshLocked()
	st := cb.st
	var rejected *OpenError
	probe := false
	switch {
	case st.State == StateOpen:
		rejected = &OpenError{Breaker: cb.name, RetryAfter: cb.retryAfterLocked(), Forced: st.ForcedOpen}
	case st.State == StateHalfOpen && cb.probing:
		// only one trial call at a time while half-open
		rejected = &OpenError{Breaker: cb.name}
	case st.State == StateHalfOpen:
		cb.probing = true
		probe = true
	}
	cb.mu.Unlock()

	if changed {
		cb.persist(ctx, st)
	}
	if rejected != nil {
		return zero, rejected
	}
	if probe {
		defer cb.endProbe()
	}

	result, err := op(ctx)
	switch {
	case err == nil && overran != nil && overran():
		cb.OnFailure(ctx)
	case err == nil:
		cb.OnSuccess(ctx)
	case isPermanent(err):
		// the dependency answered, the request itself was bad
		cb.OnSuccess(ctx)
	case errors.Is(err, context.Canceled):
		// the caller gave up; says nothing about the dependency
	default:
		cb.OnFailure(ctx)
	}
	return result, err
}

func (cb *CircuitBreaker) endProbe() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

// OnSuccess records a successful call.
func (cb *CircuitBreaker) OnSuccess(ctx context.Context) {
	cb.mu.Lock()
	changed := cb.refreshLocked()
	switch cb.st.State {
	case StateHalfOpen:
		cb.st.Successes++
		changed = true
		if cb.st.Successes >= cb.config.SuccessThreshold {
			cb.st = breakerState{State: StateClosed}
			cb.log.Info().Msg("circuit breaker closed")
		}
	case StateClosed:
		if cb.st.Failures > 0 {
			cb.st.Failures = 0
			changed = true
		}
	}
	st := cb.st
	cb.mu.Unlock()

	if changed {
		cb.persist(ctx, st)
	}
}

// OnFailure records a failed call and trips the breaker when the threshold is reached.
func (cb *CircuitBreaker) OnFailure(ctx context.Context) {
	cb.mu.Lock()
	cb.refreshLocked()
	cb.st.Failures++
	cb.st.LastFailureTimeMs = cb.now().UnixMilli()
	switch cb.st.State {
	case StateHalfOpen:
		cb.st.State = StateOpen
		cb.st.Successes = 0
		cb.log.Warn().Msg("probe failed, circuit breaker re-opened")
	case StateClosed:
		if cb.st.Failures >= cb.config.FailureThreshold {
			cb.st.State = StateOpen
			cb.log.Warn().Int("failures", cb.st.Failures).Msg("circuit breaker opened")
		}
	}
	st := cb.st
	cb.mu.Unlock()

	cb.persist(ctx, st)
}

// ForceOpen rejects every call until ForceClose or Reset.
func (cb *CircuitBreaker) ForceOpen(ctx context.Context, reason string) {
	cb.mu.Lock()
	cb.st.State = StateOpen
	cb.st.ForcedOpen = true
	cb.st.Reason = reason
	cb.st.LastFailureTimeMs = cb.now().UnixMilli()
	st := cb.st
	cb.mu.Unlock()

	cb.log.Warn().Str("reason", reason).Msg("circuit breaker forced open")
	cb.persist(ctx, st)
}

// ForceClose closes the breaker and clears its counters.
func (cb *CircuitBreaker) ForceClose(ctx context.Context, reason string) {
	cb.mu.Lock()
	cb.st = breakerState{State: StateClosed}
	st := cb.st
	cb.mu.Unlock()

	cb.log.Warn().Str("reason", reason).Msg("circuit breaker forced closed")
	cb.persist(ctx, st)
}

// Reset returns the breaker to its initial state.
func (cb *CircuitBreaker) Reset(ctx context.Context) {
	cb.ForceClose(ctx, "reset")
}

func (cb *CircuitBreaker) Stats() BreakerStats {
	state := cb.State()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	stats := BreakerStats{
		Name:             cb.name,
		State:            state,
		Failures:         cb.st.Failures,
		Successes:        cb.st.Successes,
		ForcedOpen:       cb.st.ForcedOpen,
		FailureThreshold: cb.config.FailureThreshold,
		SuccessThreshold: cb.config.SuccessThreshold,
		CooldownMs:       cb.config.CooldownPeriod.Milliseconds(),
	}
	if cb.st.LastFailureTimeMs > 0 {
		stats.LastFailureTime = time.UnixMilli(cb.st.LastFailureTimeMs).UTC()
	}
	return stats
}

// ====================== Breakers ======================

// Breakers is the set of named breakers owned by the process.
type Breakers struct {
	mu     sync.RWMutex
	byName map[string]*CircuitBreaker
}

// NewBreakers builds one breaker per name with the shared configuration.
func NewBreakers(ctx context.Context, config model.BreakerConfig, kv storage.Store, names []string, opts ...BreakerOption) *Breakers {
	b := &Breakers{byName: make(map[string]*CircuitBreaker, len(names))}
	for _, name := range names {
		b.byName[name] = NewCircuitBreaker(ctx, name, config, kv, opts...)
	}
	return b
}

// Get returns the breaker for name, or nil.
func (b *Breakers) Get(name string) *CircuitBreaker {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byName[name]
}

// Add registers an externally built breaker.
func (b *Breakers) Add(cb *CircuitBreaker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byName[cb.Name()] = cb
}

// All returns the breakers sorted by name.
func (b *Breakers) All() []*CircuitBreaker {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	out := make([]*CircuitBreaker, 0, len(b.byName))
	for _, cb := range b.byName {
		out = append(out, cb)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (b *Breakers) Stats() []BreakerStats {
	all := b.All()
	out := make([]BreakerStats, len(all))
	for i, cb := range all {
		out[i] = cb.Stats()
	}
	return out
}
