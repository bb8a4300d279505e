package resilience

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"fuelbot/src/logger"
	"fuelbot/src/model"
	"fuelbot/src/storage"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	activeSetKey       = "concurrency:active"
	conversationPrefix = "concurrency:conversation:"
	queueKey           = "concurrency:queue"
)

// QueuedRequest is an inbound message deferred while the bot was at capacity.
type QueuedRequest struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	ChatID   int64     `json:"chat_id"`
	Message  string    `json:"message"`
	QueuedAt time.Time `json:"queued_at"`
	Priority int       `json:"priority,omitempty"`
}

// ConcurrencyStats is reported on the status endpoint.
type ConcurrencyStats struct {
	Active            int     `json:"active"`
	Max               int     `json:"max"`
	Queued            int64   `json:"queued"`
	Utilization       float64 `json:"utilization"`
	UnderBackpressure bool    `json:"under_backpressure"`
}

// ConcurrencyManager bounds the number of simultaneously active conversations and keeps
// a FIFO queue of requests that could not be admitted.
type ConcurrencyManager struct {
	kv     storage.Store
	config model.ConcurrencyConfig
	now    func() time.Time
	log    zerolog.Logger

	// serializes admission so the check and the insert are not interleaved within a process
	mu sync.Mutex
}

type ConcurrencyOption func(*ConcurrencyManager)

func WithConcurrencyClock(now func() time.Time) ConcurrencyOption {
	return func(m *ConcurrencyManager) { m.now = now }
}

func NewConcurrencyManager(kv storage.Store, config model.ConcurrencyConfig, opts ...ConcurrencyOption) *ConcurrencyManager {
	if config.MaxConversations <= 0 {
		config.MaxConversations = 100
	}
	if config.ConversationTTL <= 0 {
		config.ConversationTTL = 2 * time.Minute
	}
	if config.QueueTTL <= 0 {
		config.QueueTTL = 5 * time.Minute
	}
	if config.BackpressureRatio <= 0 || config.BackpressureRatio > 1 {
		config.BackpressureRatio = 0.8
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = 5 * time.Second
	}

	m := &ConcurrencyManager{
		kv:     kv,
		config: config,
		now:    time.Now,
		log:    logger.Component("concurrency"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func conversationKey(userID string) string { return conversationPrefix + userID }

// RegisterConversation admits userID. It returns false when the bot is at capacity.
// An already active user is refreshed and admitted. When the store cannot be reached the
// user is admitted rather than locked out.
func (m *ConcurrencyManager) RegisterConversation(ctx context.Context, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	refreshed, err := m.kv.Expire(ctx, conversationKey(userID), m.config.ConversationTTL)
	if err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("admission check failed, admitting")
		return true
	}
	if refreshed {
		if err := m.kv.SAdd(ctx, activeSetKey, userID); err != nil {
			m.log.Warn().Err(err).Str("user_id", userID).Msg("failed to refresh active set")
		}
		return true
	}

	active, err := m.reconcile(ctx)
	if err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("admission check failed, admitting")
		return true
	}
	if active >= m.config.MaxConversations {
		m.log.Info().Str("user_id", userID).Int("active", active).Msg("conversation rejected, at capacity")
		return false
	}

	stamp := []byte(strconv.FormatInt(m.now().UnixMilli(), 10))
	if err := m.kv.Set(ctx, conversationKey(userID), stamp, m.config.ConversationTTL); err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("failed to mark conversation active")
		return true
	}
	if err := m.kv.SAdd(ctx, activeSetKey, userID); err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("failed to add conversation to active set")
	}
	return true
}

// TouchConversation extends the activity window of userID. It reports whether the user was active.
func (m *ConcurrencyManager) TouchConversation(ctx context.Context, userID string) (bool, error) {
	return m.kv.Expire(ctx, conversationKey(userID), m.config.ConversationTTL)
}

func (m *ConcurrencyManager) UnregisterConversation(ctx context.Context, userID string) error {
	if err := m.kv.Delete(ctx, conversationKey(userID)); err != nil {
		return err
	}
	return m.kv.SRem(ctx, activeSetKey, userID)
}

// reconcile prunes members of the active set whose marker has expired and returns the live count.
func (m *ConcurrencyManager) reconcile(ctx context.Context) (int, error) {
	members, err := m.kv.SMembers(ctx, activeSetKey)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, len(members))
	for i, id := range members {
		keys[i] = conversationKey(id)
	}
	values, err := m.kv.MGet(ctx, keys...)
	if err != nil {
		return 0, err
	}

	var stale []string
	for i, v := range values {
		if v == nil {
			stale = append(stale, members[i])
		}
	}
	if len(stale) > 0 {
		if err := m.kv.SRem(ctx, activeSetKey, stale...); err != nil {
			m.log.Warn().Err(err).Int("count", len(stale)).Msg("failed to prune expired conversations")
		} else {
			m.log.Debug().Int("count", len(stale)).Msg("pruned expired conversations")
		}
	}
	return len(members) - len(stale), nil
}

// ActiveCount returns the number of live conversations, pruning expired ones first.
func (m *ConcurrencyManager) ActiveCount(ctx context.Context) int {
	n, err := m.reconcile(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to count active conversations")
	}
	return n
}

func (m *ConcurrencyManager) CanAcceptNewConversation(ctx context.Context) bool {
	return m.ActiveCount(ctx) < m.config.MaxConversations
}

// IsUnderBackpressure is true once the active count reaches the backpressure ratio of the max.
func (m *ConcurrencyManager) IsUnderBackpressure(ctx context.Context) bool {
	return float64(m.ActiveCount(ctx)) >= m.config.BackpressureRatio*float64(m.config.MaxConversations)
}

// QueueRequest appends req to the overflow queue, filling in its id and timestamp.
func (m *ConcurrencyManager) QueueRequest(ctx context.Context, req QueuedRequest) (QueuedRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.QueuedAt.IsZero() {
		req.QueuedAt = m.now()
	}
	data, err := sonic.Marshal(req)
	if err != nil {
		return req, err
	}
	if err := m.kv.RPush(ctx, queueKey, data); err != nil {
		return req, err
	}
	if _, err := m.kv.Expire(ctx, queueKey, m.config.QueueTTL); err != nil {
		m.log.Warn().Err(err).Msg("failed to set queue expiry")
	}
	m.log.Info().Str("user_id", req.UserID).Str("request_id", req.ID).Msg("request queued")
	return req, nil
}

func (m *ConcurrencyManager) QueueLength(ctx context.Context) int64 {
	n, err := m.kv.LLen(ctx, queueKey)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to read queue length")
	}
	return n
}

// ProcessQueuedRequests drains the queue while capacity allows. Each request is admitted
// before fn runs; a request that cannot be admitted goes back to the head of the queue.
// Requests older than the queue TTL are dropped.
func (m *ConcurrencyManager) ProcessQueuedRequests(ctx context.Context, fn func(ctx context.Context, req QueuedRequest) error) (int, error) {
	processed := 0
	for ctx.Err() == nil {
		if !m.CanAcceptNewConversation(ctx) {
			break
		}

		raw, err := m.kv.LPop(ctx, queueKey)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return processed, err
		}

		var req QueuedRequest
		if err := sonic.Unmarshal(raw, &req); err != nil {
			m.log.Warn().Err(err).Msg("dropping unreadable queued request")
			continue
		}
		if m.now().Sub(req.QueuedAt) > m.config.QueueTTL {
			m.log.Info().Str("user_id", req.UserID).Str("request_id", req.ID).Msg("dropping expired queued request")
			continue
		}

		if !m.RegisterConversation(ctx, req.UserID) {
			if err := m.kv.LPush(ctx, queueKey, raw); err != nil {
				m.log.Error().Err(err).Str("request_id", req.ID).Msg("failed to requeue request")
			}
			break
		}

		if err := fn(ctx, req); err != nil {
			m.log.Warn().Err(err).Str("user_id", req.UserID).Str("request_id", req.ID).Msg("queued request failed")
		}
		processed++
	}
	if processed > 0 {
		m.log.Info().Int("processed", processed).Msg("drained queued requests")
	}
	return processed, nil
}

func (m *ConcurrencyManager) Stats(ctx context.Context) ConcurrencyStats {
	active := m.ActiveCount(ctx)
	return ConcurrencyStats{
		Active:            active,
		Max:               m.config.MaxConversations,
		Queued:            m.QueueLength(ctx),
		Utilization:       float64(active) / float64(m.config.MaxConversations),
		UnderBackpressure: float64(active) >= m.config.BackpressureRatio*float64(m.config.MaxConversations),
	}
}

// Run drains the queue on every tick until ctx is cancelled.
func (m *ConcurrencyManager) Run(ctx context.Context, fn func(ctx context.Context, req QueuedRequest) error) error {
	ticker := time.NewTicker(m.config.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.ProcessQueuedRequests(ctx, fn); err != nil {
				m.log.Warn().Err(err).Msg("queue drain failed")
			}
		}
	}
}
