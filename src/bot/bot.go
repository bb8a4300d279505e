// Package bot routes inbound chat updates to callbacks, conversation flows, commands and the
// intent pipeline, and answers each one with a single session save.
package bot

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"fuelbot/src/analytics"
	"fuelbot/src/command"
	"fuelbot/src/logger"
	"fuelbot/src/model"
	"fuelbot/src/nlp"
	"fuelbot/src/platform"
	"fuelbot/src/pricing"
	"fuelbot/src/resilience"
	"fuelbot/src/session"

	"github.com/rs/zerolog"
)

// Admission is the concurrency gate consulted before any work for a user.
type Admission interface {
	RegisterConversation(ctx context.Context, userID string) bool
	QueueRequest(ctx context.Context, req resilience.QueuedRequest) (resilience.QueuedRequest, error)
}

// Degradation answers feature-gate questions and provides fallback replies.
type Degradation interface {
	Level() resilience.Level
	IsFeatureEnabled(f resilience.Feature) bool
	IsReadOnlyMode() bool
	IsSlowModeEnabled() bool
	GetFallbackResponse(service, query string) string
}

// Deps are the collaborators of a Bot. Admission, Degradation, Analytics and MessengerGuard
// are optional.
type Deps struct {
	Sessions       *session.Store
	Registry       *command.Registry
	NLP            *nlp.Processor
	Prices         pricing.Repository
	Messenger      platform.Messenger
	MessengerGuard *resilience.Guard
	Admission      Admission
	Degradation    Degradation
	Analytics      *analytics.Recorder
}

type Bot struct {
	sessions  *session.Store
	registry  *command.Registry
	nlp       *nlp.Processor
	prices    pricing.Repository
	messenger platform.Messenger
	admission Admission
	degrade   Degradation
	analytics *analytics.Recorder

	flows     map[string]flowHandler
	callbacks map[string]callbackHandler
	botName   string
	now       func() time.Time
	log       zerolog.Logger
}

type Option func(*Bot)

// WithBotName ignores commands addressed to other bots, as in "/precios@otro_bot".
func WithBotName(name string) Option {
	return func(b *Bot) { b.botName = strings.TrimPrefix(name, "@") }
}

func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Bot) { b.log = l }
}

// New wires a bot. Built-in commands are registered on the registry unless a command of the
// same name is already there.
func New(d Deps, opts ...Option) *Bot {
	b := &Bot{
		sessions:  d.Sessions,
		registry:  d.Registry,
		nlp:       d.NLP,
		prices:    d.Prices,
		admission: d.Admission,
		degrade:   d.Degradation,
		analytics: d.Analytics,
		now:       time.Now,
		log:       logger.Component("bot"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.registry == nil {
		b.registry = command.NewRegistry()
	}
	b.messenger = newGuardedMessenger(d.Messenger, d.MessengerGuard, b.log)
	b.registerBuiltins()
	b.flows = b.flowHandlers()
	b.callbacks = b.callbackHandlers()
	return b
}

// Registry exposes the command registry so external handlers can be plugged in.
func (b *Bot) Registry() *command.Registry {
	return b.registry
}

// turn collects what happened while handling one update.
type turn struct {
	inv      *command.Invocation
	query    string
	intent   *model.IntentResult
	command  command.Name
	fallback bool
}

// HandleUpdate is the entry point for every inbound update. It never panics and never
// returns an error: every failure ends in a reply to the user or a log line.
func (b *Bot) HandleUpdate(ctx context.Context, u platform.Update) {
	userID := u.UserID()
	if b.admission != nil && !b.admission.RegisterConversation(ctx, userID) {
		b.deferUpdate(ctx, u)
		return
	}
	b.handle(ctx, u)
}

// ProcessQueued replays a request deferred at capacity. Admission was granted by the drain loop.
func (b *Bot) ProcessQueued(ctx context.Context, req resilience.QueuedRequest) error {
	id, err := strconv.ParseInt(req.UserID, 10, 64)
	if err != nil {
		return resilience.Permanent(err)
	}
	b.handle(ctx, platform.Update{
		Kind:       platform.KindText,
		ChatID:     req.ChatID,
		From:       platform.User{ID: id},
		Text:       req.Message,
		ReceivedAt: req.QueuedAt,
	})
	return nil
}

func (b *Bot) deferUpdate(ctx context.Context, u platform.Update) {
	switch u.Kind {
	case platform.KindCallback:
		_ = b.messenger.AnswerCallback(ctx, u.CallbackID, msgHighDemandShort)
		return
	case platform.KindText:
		req, err := b.admission.QueueRequest(ctx, resilience.QueuedRequest{
			UserID:  u.UserID(),
			ChatID:  u.ChatID,
			Message: u.Text,
		})
		if err != nil {
			b.log.Error().Err(err).Str("user_id", u.UserID()).Msg("failed to queue request")
		} else {
			b.log.Info().Str("user_id", u.UserID()).Str("request_id", req.ID).Msg("request queued at capacity")
		}
	}
	_, _ = b.messenger.SendMessage(ctx, platform.OutgoingMessage{ChatID: u.ChatID, Text: msgHighDemand})
}

func (b *Bot) handle(ctx context.Context, u platform.Update) {
	sess := b.sessions.Get(ctx, u.UserID())
	sess = b.sessions.ClearExpiredContext(sess)

	t := &turn{
		inv: &command.Invocation{
			Update:    u,
			Session:   sess,
			Messenger: b.messenger,
		},
		query: strings.TrimSpace(u.Text),
	}
	b.dispatch(ctx, t)
	b.finish(ctx, t)
}

// dispatch routes the update and converts every failure, panics included, into one reply.
func (b *Bot) dispatch(ctx context.Context, t *turn) {
	log := b.log.With().
		Str("user_id", t.inv.Update.UserID()).
		Str("kind", t.inv.Update.Kind.String()).
		Str("state", t.inv.Session.State).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("panic while handling update")
			t.inv.Reply(ctx, msgApology, nil)
		}
	}()

	if err := b.route(ctx, t); err != nil {
		log.Error().Err(err).Str("command", string(t.command)).Msg("failed to handle update")
		t.inv.Reply(ctx, b.errorReply(err, t.query), nil)
	}
}

// errorReply picks the text for a failed turn: the fallback for an unavailable dependency,
// the timeout class message for a timeout, a generic apology otherwise.
func (b *Bot) errorReply(err error, query string) string {
	var open *resilience.OpenError
	if errors.As(err, &open) && b.degrade != nil {
		return b.degrade.GetFallbackResponse(open.Breaker, query)
	}
	if msg, ok := resilience.UserMessage(err); ok {
		return msg
	}
	return msgApology
}

// route implements the state machine: callbacks first, then the active flow, then commands,
// then natural language.
func (b *Bot) route(ctx context.Context, t *turn) error {
	inv := t.inv
	switch inv.Update.Kind {
	case platform.KindCallback:
		return b.handleCallback(ctx, t)
	case platform.KindMedia:
		inv.Reply(ctx, msgMediaUnsupported, nil)
		return nil
	}

	if inv.Session.InFlow() {
		state := inv.Session.State
		if handler, known := b.flows[state]; known {
			// commands included; the flow decides what to do with them
			return handler(ctx, inv)
		}
		b.log.Warn().Str("user_id", inv.Update.UserID()).Str("state", state).Msg("unknown flow state, clearing")
		inv.Mutate(session.ClearFlow())
	}

	if parsed, ok := command.Parse(t.query); ok {
		return b.runCommand(ctx, t, parsed)
	}
	return b.handleText(ctx, t)
}

func (b *Bot) runCommand(ctx context.Context, t *turn, p command.Parsed) error {
	inv := t.inv
	if p.Bot != "" && b.botName != "" && !strings.EqualFold(p.Bot, b.botName) {
		return nil
	}
	cmd, ok := b.registry.Get(string(p.Name))
	if !ok {
		t.command = "unknown"
		suggestions := b.registry.GetSimilar(p.Raw, command.DefaultSuggestionDistance)
		inv.Reply(ctx, suggestionText(p.Raw, suggestions), suggestionKeyboard(suggestions))
		return nil
	}
	t.command = cmd.Name
	if cmd.Writes && b.readOnly() {
		inv.Reply(ctx, msgReadOnly, nil)
		return nil
	}
	inv.Command = cmd.Name
	inv.Args = p.Args
	return cmd.Handler(ctx, inv)
}

// handleText runs the intent pipeline on free text and dispatches by intent.
func (b *Bot) handleText(ctx context.Context, t *turn) error {
	inv := t.inv
	if !b.featureEnabled(resilience.FeatureNLP) {
		t.fallback = true
		inv.Reply(ctx, b.degrade.GetFallbackResponse(string(resilience.FeatureNLP), t.query), nil)
		return nil
	}

	prev := inv.Session.Context
	followUp := !prev.IsZero() && b.nlp.IsFollowUpQuery(t.query)
	if !followUp && !b.nlp.LooksLikeDomainQuery(t.query) {
		inv.Reply(ctx, msgDidNotUnderstand, mainMenu)
		return nil
	}

	result := b.nlp.Process(ctx, t.query, prev, inv.Session.History)
	if followUp {
		result = b.nlp.MergeFollowUp(prev, result)
	}
	t.intent = &result
	inv.Entities = result.Entities

	b.log.Debug().
		Str("user_id", inv.Update.UserID()).
		Str("intent", result.Intent.String()).
		Float64("confidence", result.Confidence).
		Bool("external_ai", result.UsedExternalAI).
		Bool("follow_up", followUp).
		Msg("intent resolved")

	switch result.Intent {
	case model.IntentGreeting:
		inv.Reply(ctx, msgGreeting, mainMenu)
		return nil
	case model.IntentUnknown:
		inv.Reply(ctx, msgDidNotUnderstand, mainMenu)
		return nil
	}

	name := result.SuggestedCommand
	if name == "" {
		name = nlp.SuggestedCommand(result.Intent)
	}
	cmd, ok := b.registry.Get(name)
	if !ok {
		inv.Reply(ctx, msgDidNotUnderstand, mainMenu)
		return nil
	}
	t.command = cmd.Name
	inv.Command = cmd.Name
	return cmd.Handler(ctx, inv)
}

// finish records the turn in the conversation history and saves the session once.
func (b *Bot) finish(ctx context.Context, t *turn) {
	now := b.now()
	inv := t.inv

	var muts []session.Mutation
	if t.intent != nil {
		muts = append(muts, session.SetContext(t.intent.Intent, t.intent.Entities, now))
	}
	if inv.Update.Kind == platform.KindText && t.query != "" {
		if reply := inv.LastReply(); reply != "" {
			muts = append(muts, session.RecordTurn(t.query, reply, now))
		}
	}
	if !b.sessions.Save(ctx, inv.Session.Apply(now, muts...)) {
		b.log.Warn().Str("user_id", inv.Update.UserID()).Msg("session not saved")
	}

	if b.analytics != nil && (t.intent != nil || t.command != "" || t.fallback) {
		e := analytics.Event{
			UserID:   inv.Update.UserID(),
			Command:  string(t.command),
			Fallback: t.fallback,
			At:       now,
		}
		if t.intent != nil {
			e.Intent = t.intent.Intent
			e.UsedExternalAI = t.intent.UsedExternalAI
			e.Command = ""
		}
		b.analytics.Record(ctx, e)
	}
}

func (b *Bot) featureEnabled(f resilience.Feature) bool {
	return b.degrade == nil || b.degrade.IsFeatureEnabled(f)
}

func (b *Bot) readOnly() bool {
	return b.degrade != nil && b.degrade.IsReadOnlyMode()
}

// resultLimit shortens listings while the system runs in slow mode.
func (b *Bot) resultLimit() int {
	if b.degrade != nil && b.degrade.IsSlowModeEnabled() {
		return 3
	}
	return 5
}
