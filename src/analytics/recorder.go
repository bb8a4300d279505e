// Package analytics keeps per-day usage counters in the shared store.
package analytics

import (
	"context"
	"strconv"
	"time"

	"fuelbot/src/logger"
	"fuelbot/src/model"
	"fuelbot/src/resilience"
	"fuelbot/src/storage"

	"github.com/rs/zerolog"
)

const (
	keyPrefix = "analytics:"
	retention = 35 * 24 * time.Hour
	dayLayout = "2006-01-02"
)

// Event is one handled turn.
type Event struct {
	UserID         string
	Intent         model.Intent
	Command        string
	UsedExternalAI bool
	Fallback       bool
	At             time.Time
}

// DailySummary holds the counters of one day.
type DailySummary struct {
	Day        string
	Intents    map[string]int64
	Commands   map[string]int64
	ExternalAI int64
	Fallbacks  int64
}

// Total is the number of handled turns of the day.
func (s DailySummary) Total() int64 {
	return Total(s.Intents) + Total(s.Commands)
}

type FeatureGate interface {
	IsFeatureEnabled(f resilience.Feature) bool
}

// Recorder writes usage counters. Recording never fails the turn: errors are logged and dropped.
type Recorder struct {
	kv       storage.Store
	gate     FeatureGate
	timeouts *resilience.TimeoutManager
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Recorder)

func WithFeatureGate(g FeatureGate) Option {
	return func(r *Recorder) { r.gate = g }
}

func WithTimeouts(m *resilience.TimeoutManager) Option {
	return func(r *Recorder) { r.timeouts = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(kv storage.Store, opts ...Option) *Recorder {
	r := &Recorder{kv: kv, now: time.Now, log: logger.Component("analytics")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func dayKey(kind, day string) string {
	return keyPrefix + kind + ":" + day
}

// Enabled reports whether events are currently recorded.
func (r *Recorder) Enabled() bool {
	return r.gate == nil || r.gate.IsFeatureEnabled(resilience.FeatureAnalytics)
}

func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || !r.Enabled() {
		return
	}
	if e.At.IsZero() {
		e.At = r.now()
	}
	day := e.At.UTC().Format(dayLayout)

	write := func(ctx context.Context) error {
		if e.Command != "" {
			if err := r.incr(ctx, dayKey("commands", day), e.Command); err != nil {
				return err
			}
		} else {
			if err := r.incr(ctx, dayKey("intents", day), e.Intent.String()); err != nil {
				return err
			}
		}
		if e.UsedExternalAI {
			if err := r.incr(ctx, dayKey("totals", day), "external_ai"); err != nil {
				return err
			}
		}
		if e.Fallback {
			if err := r.incr(ctx, dayKey("totals", day), "fallback"); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if r.timeouts != nil {
		err = r.timeouts.Execute(ctx, resilience.ClassAnalytics, 1, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", e.UserID).Msg("failed to record analytics event")
	}
}

func (r *Recorder) incr(ctx context.Context, key, field string) error {
	if _, err := r.kv.HIncrBy(ctx, key, field, 1); err != nil {
		return err
	}
	_, err := r.kv.Expire(ctx, key, retention)
	return err
}

// Daily reads the counters of the day containing t.
func (r *Recorder) Daily(ctx context.Context, t time.Time) (DailySummary, error) {
	day := t.UTC().Format(dayLayout)
	out := DailySummary{Day: day}

	var err error
	if out.Intents, err = r.counters(ctx, dayKey("intents", day)); err != nil {
		return out, err
	}
	if out.Commands, err = r.counters(ctx, dayKey("commands", day)); err != nil {
		return out, err
	}
	totals, err := r.counters(ctx, dayKey("totals", day))
	if err != nil {
		return out, err
	}
	out.ExternalAI = totals["external_ai"]
	out.Fallbacks = totals["fallback"]
	return out, nil
}

// Today is Daily for the current day.
func (r *Recorder) Today(ctx context.Context) (DailySummary, error) {
	return r.Daily(ctx, r.now())
}

func (r *Recorder) counters(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := r.kv.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}

// Total sums all counters of a summary map.
func Total(counters map[string]int64) int64 {
	var n int64
	for _, v := range counters {
		n += v
	}
	return n
}
