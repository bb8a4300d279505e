package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fuelbot/src/logger"
	"fuelbot/src/model"
	"fuelbot/src/storage"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/mem"
)

// Level is the system-wide degradation level.
type Level string

const (
	LevelHealthy   Level = "healthy"
	LevelDegraded  Level = "degraded"
	LevelUnhealthy Level = "unhealthy"
)

func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelHealthy, LevelDegraded, LevelUnhealthy:
		return l, nil
	default:
		return "", fmt.Errorf("unknown degradation level %q", s)
	}
}

// Health of a single signal. It shares the level vocabulary.
type Health = Level

// Health signals.
const (
	SignalRedis    = "redis"
	SignalDatabase = "database"
	SignalBreakers = "breakers"
	SignalMemory   = "memory"
)

// HealthReport maps each signal to its health.
type HealthReport map[string]Health

// Feature is an optional capability gated by the level.
type Feature string

const (
	FeatureNLP        Feature = "nlp"
	FeatureExternalAI Feature = "external_ai"
	FeatureAnalytics  Feature = "analytics"
)

type levelPolicy struct {
	features map[Feature]bool
	readOnly bool
	slowMode bool
}

var policies = map[Level]levelPolicy{
	LevelHealthy: {
		features: map[Feature]bool{FeatureNLP: true, FeatureExternalAI: true, FeatureAnalytics: true},
	},
	LevelDegraded: {
		features: map[Feature]bool{FeatureNLP: true, FeatureExternalAI: true, FeatureAnalytics: false},
		slowMode: true,
	},
	LevelUnhealthy: {
		features: map[Feature]bool{FeatureNLP: false, FeatureExternalAI: false, FeatureAnalytics: false},
		readOnly: true,
		slowMode: true,
	},
}

// ComputeLevel maps a health report to a level:
// two or more unhealthy signals, or an unhealthy database, is unhealthy;
// one unhealthy or two degraded signals is degraded; anything else is healthy.
func ComputeLevel(report HealthReport) Level {
	unhealthy, degraded := 0, 0
	for _, h := range report {
		switch h {
		case LevelUnhealthy:
			unhealthy++
		case LevelDegraded:
			degraded++
		}
	}
	switch {
	case unhealthy >= 2 || report[SignalDatabase] == LevelUnhealthy:
		return LevelUnhealthy
	case unhealthy >= 1 || degraded >= 2:
		return LevelDegraded
	default:
		return LevelHealthy
	}
}

// Pinger is any dependency with a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryProbe returns the used share of system memory in [0,1].
type MemoryProbe func(ctx context.Context) (float64, error)

func systemMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100, nil
}

const (
	levelKey    = "degradation:level"
	overrideKey = "degradation:override"
)

// DegradationStatus is reported on the status endpoint.
type DegradationStatus struct {
	Level        Level            `json:"level"`
	Override     Level            `json:"override,omitempty"`
	Report       HealthReport     `json:"report"`
	Features     map[Feature]bool `json:"features"`
	ReadOnly     bool             `json:"read_only"`
	SlowMode     bool             `json:"slow_mode"`
	LastAssessed time.Time        `json:"last_assessed,omitempty"`
	LastChange   time.Time        `json:"last_change,omitempty"`
}

// DegradationManager turns dependency health into a level shared by all processes
// through the store, and answers feature-gate questions from it.
type DegradationManager struct {
	kv       storage.Store
	db       Pinger
	breakers *Breakers
	memory   MemoryProbe
	config   model.DegradationConfig
	now      func() time.Time
	log      zerolog.Logger

	mu           sync.RWMutex
	level        Level
	override     Level
	report       HealthReport
	lastAssessed time.Time
	lastChange   time.Time
}

type DegradationOption func(*DegradationManager)

func WithMemoryProbe(p MemoryProbe) DegradationOption {
	return func(m *DegradationManager) { m.memory = p }
}

func WithDegradationClock(now func() time.Time) DegradationOption {
	return func(m *DegradationManager) { m.now = now }
}

// NewDegradationManager creates a manager starting at healthy. db and breakers may be nil.
func NewDegradationManager(kv storage.Store, db Pinger, breakers *Breakers, config model.DegradationConfig, opts ...DegradationOption) *DegradationManager {
	if config.PingTimeout <= 0 {
		config.PingTimeout = 2 * time.Second
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.MemoryDegraded <= 0 {
		config.MemoryDegraded = 0.85
	}
	if config.MemoryUnhealthy <= 0 {
		config.MemoryUnhealthy = 0.95
	}

	m := &DegradationManager{
		kv:       kv,
		db:       db,
		breakers: breakers,
		memory:   systemMemory,
		config:   config,
		now:      time.Now,
		log:      logger.Component("degradation"),
		level:    LevelHealthy,
		report:   HealthReport{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *DegradationManager) probe(ctx context.Context, p Pinger, slow time.Duration) Health {
	pctx, cancel := context.WithTimeout(ctx, m.config.PingTimeout)
	defer cancel()

	start := m.now()
	if err := p.Ping(pctx); err != nil {
		m.log.Debug().Err(err).Msg("health probe failed")
		return LevelUnhealthy
	}
	if slow > 0 && m.now().Sub(start) > slow {
		return LevelDegraded
	}
	return LevelHealthy
}

func (m *DegradationManager) breakerHealth() Health {
	all := m.breakers.All()
	if len(all) == 0 {
		return LevelHealthy
	}
	open, tripped := 0, 0
	for _, cb := range all {
		switch cb.State() {
		case StateOpen:
			open++
			tripped++
		case StateHalfOpen:
			tripped++
		}
	}
	switch {
	case len(all) >= 2 && open == len(all):
		return LevelUnhealthy
	case tripped > 0:
		return LevelDegraded
	default:
		return LevelHealthy
	}
}

func (m *DegradationManager) memoryHealth(ctx context.Context) Health {
	if m.memory == nil {
		return LevelHealthy
	}
	ratio, err := m.memory(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("memory probe failed")
		return LevelHealthy
	}
	switch {
	case ratio >= m.config.MemoryUnhealthy:
		return LevelUnhealthy
	case ratio >= m.config.MemoryDegraded:
		return LevelDegraded
	default:
		return LevelHealthy
	}
}

// Assess runs every health check and returns the report.
func (m *DegradationManager) Assess(ctx context.Context) HealthReport {
	report := HealthReport{
		SignalRedis:    m.probe(ctx, m.kv, m.config.RedisSlow),
		SignalBreakers: m.breakerHealth(),
		SignalMemory:   m.memoryHealth(ctx),
	}
	if m.db != nil {
		report[SignalDatabase] = m.probe(ctx, m.db, m.config.DatabaseSlow)
	}
	return report
}

// AssessCurrentLevel runs the health checks, applies any operator override and persists
// the resulting level when it changed.
func (m *DegradationManager) AssessCurrentLevel(ctx context.Context) Level {
	report := m.Assess(ctx)
	computed := ComputeLevel(report)

	override := m.readOverride(ctx)
	next := computed
	if override != "" {
		next = override
	}

	m.mu.Lock()
	prev := m.level
	m.report = report
	m.override = override
	m.level = next
	m.lastAssessed = m.now()
	if prev != next {
		m.lastChange = m.lastAssessed
	}
	m.mu.Unlock()

	if prev != next {
		m.log.Warn().
			Str("level_old", string(prev)).
			Str("level_new", string(next)).
			Str("level_computed", string(computed)).
			Interface("report", report).
			Msg("degradation level changed")
	}
	// written every time so processes that restarted pick the level up
	if err := m.kv.Set(ctx, levelKey, []byte(next), 0); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist degradation level")
	}
	return next
}

func (m *DegradationManager) readOverride(ctx context.Context) Level {
	data, err := m.kv.Get(ctx, overrideKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ""
	case err != nil:
		m.log.Warn().Err(err).Msg("failed to read degradation override")
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.override
	}
	level, err := ParseLevel(string(data))
	if err != nil {
		m.log.Warn().Err(err).Msg("ignoring invalid degradation override")
		return ""
	}
	return level
}

// CurrentLevel returns the level shared through the store, falling back to the last
// level this process computed.
func (m *DegradationManager) CurrentLevel(ctx context.Context) Level {
	if data, err := m.kv.Get(ctx, overrideKey); err == nil {
		if level, err := ParseLevel(string(data)); err == nil {
			m.setCached(level)
			return level
		}
	}
	if data, err := m.kv.Get(ctx, levelKey); err == nil {
		if level, err := ParseLevel(string(data)); err == nil {
			m.setCached(level)
			return level
		}
	}
	return m.Level()
}

func (m *DegradationManager) setCached(level Level) {
	m.mu.Lock()
	if m.level != level {
		m.lastChange = m.now()
	}
	m.level = level
	m.mu.Unlock()
}

// Level returns the cached level without touching the store.
func (m *DegradationManager) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

func (m *DegradationManager) IsFeatureEnabled(f Feature) bool {
	return policies[m.Level()].features[f]
}

func (m *DegradationManager) IsReadOnlyMode() bool {
	return policies[m.Level()].readOnly
}

func (m *DegradationManager) IsSlowModeEnabled() bool {
	return policies[m.Level()].slowMode
}

// ForceLevel pins the level for every process until ClearOverride.
func (m *DegradationManager) ForceLevel(ctx context.Context, level Level, reason string) error {
	if _, err := ParseLevel(string(level)); err != nil {
		return err
	}
	if err := m.kv.Set(ctx, overrideKey, []byte(level), 0); err != nil {
		return fmt.Errorf("failed to store degradation override: %w", err)
	}

	m.mu.Lock()
	prev := m.level
	m.override = level
	m.level = level
	if prev != level {
		m.lastChange = m.now()
	}
	m.mu.Unlock()

	m.log.Warn().
		Str("level_old", string(prev)).
		Str("level_new", string(level)).
		Str("reason", reason).
		Msg("degradation level forced")
	if err := m.kv.Set(ctx, levelKey, []byte(level), 0); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist degradation level")
	}
	return nil
}

// ClearOverride removes a forced level and reassesses.
func (m *DegradationManager) ClearOverride(ctx context.Context) error {
	if err := m.kv.Delete(ctx, overrideKey); err != nil {
		return fmt.Errorf("failed to clear degradation override: %w", err)
	}
	m.mu.Lock()
	m.override = ""
	m.mu.Unlock()

	m.log.Info().Msg("degradation override cleared")
	m.AssessCurrentLevel(ctx)
	return nil
}

func (m *DegradationManager) Status(ctx context.Context) DegradationStatus {
	level := m.CurrentLevel(ctx)
	policy := policies[level]

	m.mu.RLock()
	defer m.mu.RUnlock()
	report := make(HealthReport, len(m.report))
	for k, v := range m.report {
		report[k] = v
	}
	features := make(map[Feature]bool, len(policy.features))
	for k, v := range policy.features {
		features[k] = v
	}
	return DegradationStatus{
		Level:        level,
		Override:     m.override,
		Report:       report,
		Features:     features,
		ReadOnly:     policy.readOnly,
		SlowMode:     policy.slowMode,
		LastAssessed: m.lastAssessed,
		LastChange:   m.lastChange,
	}
}

// Run reassesses the level on every tick until ctx is cancelled.
func (m *DegradationManager) Run(ctx context.Context) error {
	m.AssessCurrentLevel(ctx)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.AssessCurrentLevel(ctx)
		}
	}
}

// ====================== Fallback responses ======================

type fallbackTopic struct {
	keywords []string
	reply    string
}

var fallbackTopics = []fallbackTopic{
	{
		keywords: []string{"precio", "cuesta", "cuanto", "cuánto", "magna", "premium", "diesel", "diésel"},
		reply:    "En este momento no puedo consultar precios en vivo. Intenta /precios en unos minutos.",
	},
	{
		keywords: []string{"estacion", "estación", "gasolinera", "cerca"},
		reply:    "La búsqueda de estaciones no está disponible por ahora. Intenta /estaciones más tarde.",
	},
	{
		keywords: []string{"historial", "histórico", "historico", "tendencia"},
		reply:    "El historial de precios no está disponible por ahora. Intenta /historial más tarde.",
	},
	{
		keywords: []string{"ayuda", "help", "comandos"},
		reply:    "Puedo ayudarte con /precios, /estaciones, /ranking e /historial. Usa /ayuda para ver todo.",
	},
}

var serviceFallbacks = map[string]string{
	string(FeatureNLP):        "Ahora mismo sólo entiendo comandos. Usa /ayuda para ver las opciones disponibles.",
	string(FeatureExternalAI): "El asistente inteligente no está disponible. Usa /ayuda para ver los comandos.",
	string(FeatureAnalytics):  "Las estadísticas no están disponibles por ahora.",
	SignalDatabase:            "No puedo acceder a los datos de precios en este momento. Intenta de nuevo en unos minutos.",
	SignalRedis:               "Estoy teniendo problemas técnicos. Intenta de nuevo en unos minutos.",
}

const defaultFallback = "El servicio está funcionando con capacidad limitada. Intenta de nuevo en unos minutos."

// GetFallbackResponse returns a canned reply for a disabled feature or unavailable service.
// A query that mentions a known topic gets the topic reply.
func (m *DegradationManager) GetFallbackResponse(service, query string) string {
	if q := strings.ToLower(query); q != "" {
		for _, topic := range fallbackTopics {
			for _, kw := range topic.keywords {
				if strings.Contains(q, kw) {
					return topic.reply
				}
			}
		}
	}
	if reply, ok := serviceFallbacks[service]; ok {
		return reply
	}
	return defaultFallback
}
