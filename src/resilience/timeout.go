package resilience

import (
	"context"
	"errors"
	"time"

	"fuelbot/src/logger"
	"fuelbot/src/model"

	"github.com/rs/zerolog"
)

// TimeoutClass selects a timeout budget and the user-facing messages for an operation.
type TimeoutClass string

const (
	ClassExternalAI TimeoutClass = "external_ai"
	ClassPriceQuery TimeoutClass = "price_query"
	ClassAnalytics  TimeoutClass = "analytics"
	ClassWebhook    TimeoutClass = "webhook"
	ClassDefault    TimeoutClass = "default"
)

var timeoutMessages = map[TimeoutClass]string{
	ClassExternalAI: "El asistente inteligente está tardando demasiado en responder. Intenta de nuevo en unos momentos.",
	ClassPriceQuery: "La consulta de precios está tardando más de lo normal. Intenta de nuevo en unos momentos.",
	ClassAnalytics:  "Las estadísticas no están disponibles por ahora.",
	ClassWebhook:    "Tu mensaje tardó demasiado en procesarse. Por favor envíalo de nuevo.",
	ClassDefault:    "La operación tardó demasiado. Por favor intenta de nuevo.",
}

var failureMessages = map[TimeoutClass]string{
	ClassExternalAI: "No pude consultar al asistente inteligente. Usaré mi análisis básico.",
	ClassPriceQuery: "No pude obtener los precios en este momento. Intenta de nuevo más tarde.",
	ClassAnalytics:  "Las estadísticas no están disponibles por ahora.",
	ClassWebhook:    "No pude procesar tu mensaje. Por favor envíalo de nuevo.",
	ClassDefault:    "Ocurrió un error al procesar tu solicitud. Por favor intenta de nuevo.",
}

// TimeoutMessage is the text shown when an operation of class c times out.
func TimeoutMessage(c TimeoutClass) string {
	if msg, ok := timeoutMessages[c]; ok {
		return msg
	}
	return timeoutMessages[ClassDefault]
}

// FailureMessage is the text shown when every attempt of class c failed.
func FailureMessage(c TimeoutClass) string {
	if msg, ok := failureMessages[c]; ok {
		return msg
	}
	return failureMessages[ClassDefault]
}

// TimeoutSettings is the timeout table as reported on the status endpoint.
type TimeoutSettings struct {
	BudgetsMs   map[TimeoutClass]int64 `json:"budgets_ms"`
	BaseDelayMs int64                  `json:"base_delay_ms"`
	MaxRetries  int                    `json:"max_retries"`
	Multipliers []float64              `json:"multipliers"`
}

// TimeoutManager runs operations with a per-class budget and retries failed attempts
// with exponential backoff.
type TimeoutManager struct {
	config model.TimeoutConfig
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	log    zerolog.Logger
}

type TimeoutOption func(*TimeoutManager)

func WithTimeoutClock(now func() time.Time) TimeoutOption {
	return func(m *TimeoutManager) { m.now = now }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) TimeoutOption {
	return func(m *TimeoutManager) { m.sleep = sleep }
}

func WithTimeoutLogger(l zerolog.Logger) TimeoutOption {
	return func(m *TimeoutManager) { m.log = l }
}

func NewTimeoutManager(config model.TimeoutConfig, opts ...TimeoutOption) *TimeoutManager {
	if config.BaseDelay <= 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if len(config.Multipliers) == 0 {
		config.Multipliers = []float64{1, 2, 4}
	}
	if config.Default <= 0 {
		config.Default = 8 * time.Second
	}

	m := &TimeoutManager{
		config: config,
		now:    time.Now,
		sleep:  sleepContext,
		log:    logger.Component("timeout"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Budget returns the timeout for one attempt of class c.
func (m *TimeoutManager) Budget(c TimeoutClass) time.Duration {
	var d time.Duration
	switch c {
	case ClassExternalAI:
		d = m.config.ExternalAI
	case ClassPriceQuery:
		d = m.config.PriceQuery
	case ClassAnalytics:
		d = m.config.Analytics
	case ClassWebhook:
		d = m.config.Webhook
	}
	if d <= 0 {
		d = m.config.Default
	}
	return d
}

// Delay is the backoff before retrying after the given 1-based attempt.
func (m *TimeoutManager) Delay(attempt int) time.Duration {
	idx := max(attempt-1, 0)
	idx = min(idx, len(m.config.Multipliers)-1)
	return time.Duration(float64(m.config.BaseDelay) * m.config.Multipliers[idx])
}

// Config reports the timeout table.
func (m *TimeoutManager) Config() TimeoutSettings {
	classes := []TimeoutClass{ClassExternalAI, ClassPriceQuery, ClassAnalytics, ClassWebhook, ClassDefault}
	budgets := make(map[TimeoutClass]int64, len(classes))
	for _, c := range classes {
		budgets[c] = m.Budget(c).Milliseconds()
	}
	return TimeoutSettings{
		BudgetsMs:   budgets,
		BaseDelayMs: m.config.BaseDelay.Milliseconds(),
		MaxRetries:  m.config.MaxRetries,
		Multipliers: append([]float64(nil), m.config.Multipliers...),
	}
}

// Execute runs op under class c. maxRetries is the total number of attempts; zero or less
// uses the configured default.
func (m *TimeoutManager) Execute(ctx context.Context, c TimeoutClass, maxRetries int, op func(ctx context.Context) error) error {
	_, err := Run(ctx, m, c, maxRetries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Run is the generic form of Execute.
//
// Every attempt gets a context deadline equal to the class budget and is also judged by
// the elapsed time once it returns, so an operation that ignores its context but overruns
// still counts as timed out. Breaker rejections, permanent errors and cancellation of ctx
// end the loop at once.
func Run[T any](ctx context.Context, m *TimeoutManager, c TimeoutClass, maxRetries int, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := maxRetries
	if attempts <= 0 {
		attempts = m.config.MaxRetries
	}
	budget := m.Budget(c)
	log := m.log.With().Str("class", string(c)).Logger()

	var (
		lastErr  error
		timedOut bool
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		start := m.now()
		attemptCtx, cancel := context.WithTimeout(ctx, budget)
		result, err := op(attemptCtx)
		cancel()
		elapsed := m.now().Sub(start)

		if err == nil && elapsed <= budget {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Msg("operation succeeded after retry")
			}
			return result, nil
		}

		if err != nil {
			if isPermanent(err) {
				var p *permanentError
				errors.As(err, &p)
				return zero, p.err
			}
			if errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil {
				return zero, err
			}
		}

		timedOut = elapsed > budget || errors.Is(err, context.DeadlineExceeded)
		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("elapsed", elapsed).
			Bool("timed_out", timedOut).
			Msg("guarded operation attempt failed")

		if attempt < attempts {
			if err := m.sleep(ctx, m.Delay(attempt)); err != nil {
				return zero, err
			}
		}
	}

	if timedOut {
		return zero, &TimeoutError{Class: c, Budget: budget, Attempts: attempts, Err: lastErr}
	}
	return zero, &OperationError{Class: c, Attempts: attempts, Err: lastErr}
}
