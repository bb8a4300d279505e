package session

import (
	"context"
	"errors"
	"time"

	"fuelbot/src/logger"
	"fuelbot/src/model"
	"fuelbot/src/storage"

	"github.com/rs/zerolog"
)

const (
	sessionPrefix = "session:"
	backupPrefix  = "session_backup:"
)

// Store persists sessions in the shared key-value store with a sliding TTL.
type Store struct {
	kv     storage.Store
	config model.SessionConfig
	now    func() time.Time
	log    zerolog.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates a session store over kv.
func NewStore(kv storage.Store, config model.SessionConfig, opts ...Option) *Store {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	if config.ContextTTL <= 0 {
		config.ContextTTL = 5 * time.Minute
	}
	s := &Store{
		kv:     kv,
		config: config,
		now:    time.Now,
		log:    logger.Component("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(userID string) string       { return sessionPrefix + userID }
func backupKey(userID string) string { return backupPrefix + userID }

// Get returns the user's session, refreshing its expiry. A missing or unreadable session is
// recovered from the backup copy when possible, otherwise a fresh one is returned.
func (s *Store) Get(ctx context.Context, userID string) Session {
	data, err := s.kv.GetEx(ctx, key(userID), s.config.TTL)
	switch {
	case err == nil:
		sess, derr := decode(data)
		if derr == nil {
			if s.config.Backup {
				if _, err := s.kv.Expire(ctx, backupKey(userID), s.config.TTL); err != nil {
					s.log.Debug().Err(err).Str("user_id", userID).Msg("failed to refresh session backup TTL")
				}
			}
			return sess
		}
		s.log.Warn().Err(derr).Str("user_id", userID).Msg("corrupted session payload")
	case !errors.Is(err, storage.ErrNotFound):
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to read session")
	}

	if sess, ok := s.recover(ctx, userID); ok {
		return sess
	}
	return New(userID, s.now())
}

func (s *Store) recover(ctx context.Context, userID string) (Session, bool) {
	if !s.config.Backup {
		return Session{}, false
	}
	data, err := s.kv.GetEx(ctx, backupKey(userID), s.config.TTL)
	if err != nil {
		return Session{}, false
	}
	sess, err := decode(data)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("corrupted session backup")
		return Session{}, false
	}

	if err := s.kv.Set(ctx, key(userID), data, s.config.TTL); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to restore session from backup")
	} else {
		s.log.Info().Str("user_id", userID).Msg("session recovered from backup")
	}
	return sess, true
}

// Save writes the session and its backup. It reports whether the primary copy was written.
func (s *Store) Save(ctx context.Context, sess Session) bool {
	if sess.UserID == "" {
		s.log.Error().Msg("refusing to save session without user id")
		return false
	}

	data, err := encode(sess, s.config.Compress, s.config.CompressThreshold)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", sess.UserID).Msg("failed to encode session")
		return false
	}

	if err := s.kv.Set(ctx, key(sess.UserID), data, s.config.TTL); err != nil {
		s.log.Error().Err(err).Str("user_id", sess.UserID).Msg("failed to save session")
		return false
	}

	if s.config.Backup {
		if err := s.kv.Set(ctx, backupKey(sess.UserID), data, s.config.TTL); err != nil {
			s.log.Warn().Err(err).Str("user_id", sess.UserID).Msg("failed to write session backup")
		}
	}
	return true
}

// Update loads, mutates and saves the session in one call.
func (s *Store) Update(ctx context.Context, userID string, mutations ...Mutation) (Session, bool) {
	sess := s.Get(ctx, userID).Apply(s.now(), mutations...)
	return sess, s.Save(ctx, sess)
}

// Destroy removes the session and its backup.
func (s *Store) Destroy(ctx context.Context, userID string) error {
	return s.kv.Delete(ctx, key(userID), backupKey(userID))
}

// Touch extends the expiry without changing content.
func (s *Store) Touch(ctx context.Context, userID string) error {
	if _, err := s.kv.Expire(ctx, key(userID), s.config.TTL); err != nil {
		return err
	}
	if s.config.Backup {
		if _, err := s.kv.Expire(ctx, backupKey(userID), s.config.TTL); err != nil {
			return err
		}
	}
	return nil
}

// GetBatch reads many sessions at once. Every requested id gets an entry and every hit has its
// expiry refreshed, as with Get.
func (s *Store) GetBatch(ctx context.Context, userIDs []string) map[string]Session {
	out := make(map[string]Session, len(userIDs))
	if len(userIDs) == 0 {
		return out
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = key(id)
	}

	values, err := s.kv.MGet(ctx, keys...)
	if err != nil {
		s.log.Warn().Err(err).Int("count", len(userIDs)).Msg("batch session read failed, falling back to single reads")
		values = make([][]byte, len(userIDs))
	}

	for i, id := range userIDs {
		if values[i] != nil {
			if sess, err := decode(values[i]); err == nil {
				if err := s.Touch(ctx, id); err != nil {
					s.log.Debug().Err(err).Str("user_id", id).Msg("failed to refresh session TTL")
				}
				out[id] = sess
				continue
			}
		}
		out[id] = s.Get(ctx, id)
	}
	return out
}

// IsContextExpired reports whether the conversation context is absent or older than the context TTL.
func (s *Store) IsContextExpired(sess Session) bool {
	if sess.Context.IsZero() {
		return true
	}
	return s.now().Sub(sess.Context.UpdatedAt) > s.config.ContextTTL
}

// ClearExpiredContext drops a stale conversation context and leaves everything else alone.
func (s *Store) ClearExpiredContext(sess Session) Session {
	if sess.Context.IsZero() || !s.IsContextExpired(sess) {
		return sess
	}
	return sess.Apply(s.now(), ClearContext())
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration {
	return s.config.TTL
}
