// Package server exposes the health, status and webhook endpoints over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"fuelbot/src/logger"
	"fuelbot/src/resilience"
	"fuelbot/src/telegram"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	secretHeader   = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBody = 1 << 20
)

// Deps are the components the endpoints report on. Handler is required for the webhook route
// to be mounted.
type Deps struct {
	Breakers      *resilience.Breakers
	Degradation   *resilience.DegradationManager
	Concurrency   *resilience.ConcurrencyManager
	Timeouts      *resilience.TimeoutManager
	Handler       telegram.HandlerFunc
	WebhookSecret string
}

type Server struct {
	deps Deps
	log  zerolog.Logger
	srv  *http.Server
}

func New(addr string, deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  logger.Component("http"),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Routes builds the router. It is exported for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Get("/status", s.status)
	if s.deps.Handler != nil {
		r.Post("/telegram/webhook", s.webhook)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("http server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chiMiddleware.GetReqID(r.Context())).
			Msg("request handled")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	level := resilience.LevelHealthy
	if s.deps.Degradation != nil {
		level = s.deps.Degradation.CurrentLevel(r.Context())
	}
	code := http.StatusOK
	if level == resilience.LevelUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": level})
}

type statusResponse struct {
	Breakers    []resilience.BreakerStats     `json:"breakers"`
	Degradation *resilience.DegradationStatus `json:"degradation,omitempty"`
	Concurrency *resilience.ConcurrencyStats  `json:"concurrency,omitempty"`
	Timeouts    *resilience.TimeoutSettings   `json:"timeouts,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{Breakers: s.deps.Breakers.Stats()}
	if s.deps.Degradation != nil {
		st := s.deps.Degradation.Status(ctx)
		resp.Degradation = &st
	}
	if s.deps.Concurrency != nil {
		st := s.deps.Concurrency.Stats(ctx)
		resp.Concurrency = &st
	}
	if s.deps.Timeouts != nil {
		st := s.deps.Timeouts.Config()
		resp.Timeouts = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// webhook answers 200 for everything it could read, so the platform does not redeliver
// updates the bot already answered or deliberately skipped.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebhookSecret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.WebhookSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid secret token"})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	update, ok, err := telegram.ParseUpdate(body)
	if err != nil {
		s.log.Warn().Err(err).Msg("invalid webhook payload")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid update"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	// the update is handled on a context detached from the request so a client disconnect
	// does not cut a reply in half; the webhook budget still bounds it
	ctx := context.WithoutCancel(r.Context())
	run := func(ctx context.Context) error {
		s.deps.Handler(ctx, update)
		return nil
	}
	if s.deps.Timeouts != nil {
		err = s.deps.Timeouts.Execute(ctx, resilience.ClassWebhook, 1, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		s.log.Error().Err(err).Int64("update_id", update.ID).Msg("webhook update not completed")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
