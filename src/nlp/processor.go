// Package nlp turns free text into an intent, its entities and a confidence score.
package nlp

import (
	"context"
	"strings"
	"time"

	"fuelbot/src/logger"
	"fuelbot/src/model"
	"fuelbot/src/resilience"

	"github.com/rs/zerolog"
)

// Completer is the external AI completion service.
type Completer interface {
	Complete(ctx context.Context, req model.AIRequest) (*model.AIResponse, error)
}

// FeatureGate tells whether an optional feature is currently enabled.
type FeatureGate interface {
	IsFeatureEnabled(f resilience.Feature) bool
}

// Processor runs the intent pipeline. It holds no per-call state and is safe for concurrent use.
type Processor struct {
	lex    *compiledLexicon
	config model.NLPConfig
	ai     Completer
	guard  *resilience.Guard
	gate   FeatureGate
	now    func() time.Time
	log    zerolog.Logger
}

type Option func(*Processor)

// WithLexicon replaces the built-in tables.
func WithLexicon(l Lexicon) Option {
	return func(p *Processor) { p.lex = compile(l) }
}

// WithCompleter enables the AI fallback. Calls go through guard when it is not nil.
func WithCompleter(c Completer, guard *resilience.Guard) Option {
	return func(p *Processor) {
		p.ai = c
		p.guard = guard
	}
}

// WithFeatureGate makes the AI fallback depend on the external_ai feature.
func WithFeatureGate(g FeatureGate) Option {
	return func(p *Processor) { p.gate = g }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(config model.NLPConfig, opts ...Option) *Processor {
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = 0.7
	}
	if config.FuzzyThreshold <= 0 {
		config.FuzzyThreshold = 0.8
	}
	p := &Processor{
		config: config,
		now:    time.Now,
		log:    logger.Component("nlp"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.lex == nil {
		p.lex = compile(DefaultLexicon())
	}
	return p
}

// prepare runs normalization, typo correction and colloquialism mapping. It returns the
// user-facing normalized text and the folded text used for matching.
func (p *Processor) prepare(text string) (string, string) {
	normalized := Normalize(text)
	folded := Fold(normalized)
	folded = p.lex.correctTypos(folded, p.config.FuzzyThreshold)
	folded = p.lex.mapColloquialisms(folded)
	return normalized, folded
}

// Analyze runs the local steps only. The result depends on text alone.
func (p *Processor) Analyze(text string) model.IntentResult {
	normalized, folded := p.prepare(text)
	intent := p.lex.extractIntent(folded)
	entities := p.lex.extractEntities(folded)
	return model.IntentResult{
		OriginalQuery:    text,
		NormalizedQuery:  normalized,
		Intent:           intent,
		Entities:         entities,
		Confidence:       Score(intent, entities),
		SuggestedCommand: SuggestedCommand(intent),
	}
}

// Process analyzes text and, when the local confidence is below the threshold, asks the
// external AI service. AI failures are logged and the local result is kept.
func (p *Processor) Process(ctx context.Context, text string, conv model.ConversationContext, history []model.HistoryEntry) model.IntentResult {
	start := p.now()
	result := p.Analyze(text)
	defer func() {
		p.log.Debug().
			Str("intent", result.Intent.String()).
			Float64("confidence", result.Confidence).
			Bool("used_external_ai", result.UsedExternalAI).
			Msg("intent resolved")
	}()

	if result.Confidence < p.config.ConfidenceThreshold && p.aiEnabled() {
		p.consultAI(ctx, &result, conv, history)
	}
	result.ResponseTimeMs = p.now().Sub(start).Milliseconds()
	return result
}

func (p *Processor) aiEnabled() bool {
	if p.ai == nil {
		return false
	}
	return p.gate == nil || p.gate.IsFeatureEnabled(resilience.FeatureExternalAI)
}

func (p *Processor) consultAI(ctx context.Context, result *model.IntentResult, conv model.ConversationContext, history []model.HistoryEntry) {
	req := model.AIRequest{Text: result.NormalizedQuery, Context: conv, History: history}
	resp, err := resilience.GuardedCall(ctx, p.guard, func(ctx context.Context) (*model.AIResponse, error) {
		return p.ai.Complete(ctx, req)
	})
	if err != nil {
		p.log.Warn().Err(err).Str("query", result.NormalizedQuery).Msg("external AI fallback failed, keeping local result")
		return
	}
	if resp == nil || resp.Confidence <= result.Confidence {
		return
	}

	result.Intent = resp.Intent
	result.Entities = resp.Entities
	result.Confidence = min(max(resp.Confidence, 0), 1)
	result.SuggestedCommand = resp.SuggestedCommand
	if result.SuggestedCommand == "" {
		result.SuggestedCommand = SuggestedCommand(resp.Intent)
	}
	result.UsedExternalAI = true
}

// IsFollowUpQuery reports whether text continues the previous question, as in "¿y la premium?".
func (p *Processor) IsFollowUpQuery(text string) bool {
	folded := Fold(Normalize(text))
	for _, prefix := range p.lex.followUps {
		if folded == prefix || strings.HasPrefix(folded, prefix+" ") {
			return true
		}
	}
	return false
}

// MergeFollowUp folds a follow-up result into the previous turn. The previous intent is kept
// unless the new text names an intent with a trigger phrase; entities are overlaid.
func (p *Processor) MergeFollowUp(prev model.ConversationContext, result model.IntentResult) model.IntentResult {
	if prev.IsZero() || prev.LastIntent == model.IntentUnknown {
		return result
	}
	_, folded := p.prepare(result.OriginalQuery)
	intent := p.lex.phraseIntent(folded)
	if intent == model.IntentUnknown || intent == model.IntentGreeting {
		intent = prev.LastIntent
	}

	merged := result
	merged.Intent = intent
	merged.Entities = prev.LastEntities.Merge(result.Entities)
	merged.Confidence = max(Score(intent, merged.Entities), result.Confidence)
	merged.SuggestedCommand = SuggestedCommand(intent)
	return merged
}

// LooksLikeDomainQuery is the cheap screen the router runs before the full pipeline.
func (p *Processor) LooksLikeDomainQuery(text string) bool {
	_, folded := p.prepare(text)
	if folded == "" {
		return false
	}
	if p.lex.extractIntent(folded) != model.IntentUnknown {
		return true
	}
	return p.lex.extractEntities(folded).Count() > 0
}
