package bot

import (
	"context"
	"errors"

	"fuelbot/src/platform"
	"fuelbot/src/resilience"

	"github.com/rs/zerolog"
)

// guardedMessenger sends every platform call through the telegram breaker and the webhook
// timeout class. Failures are logged here and returned, so callers can ignore them.
type guardedMessenger struct {
	next  platform.Messenger
	guard *resilience.Guard
	log   zerolog.Logger
}

func newGuardedMessenger(next platform.Messenger, guard *resilience.Guard, log zerolog.Logger) *guardedMessenger {
	return &guardedMessenger{next: next, guard: guard, log: log}
}

// classify keeps request errors the platform will never accept from counting against the breaker.
func classify(err error) error {
	var p interface{ Permanent() bool }
	if errors.As(err, &p) && p.Permanent() {
		return resilience.Permanent(err)
	}
	return err
}

func (m *guardedMessenger) failed(method string, chatID int64, err error) {
	if err != nil {
		m.log.Warn().Err(err).Str("method", method).Int64("chat_id", chatID).Msg("platform call failed")
	}
}

func (m *guardedMessenger) SendMessage(ctx context.Context, msg platform.OutgoingMessage) (int, error) {
	id, err := resilience.GuardedCall(ctx, m.guard, func(ctx context.Context) (int, error) {
		id, err := m.next.SendMessage(ctx, msg)
		return id, classify(err)
	})
	m.failed("sendMessage", msg.ChatID, err)
	return id, err
}

func (m *guardedMessenger) EditMessage(ctx context.Context, chatID int64, messageID int, text string, keyboard platform.Keyboard) error {
	err := m.guard.Do(ctx, func(ctx context.Context) error {
		return classify(m.next.EditMessage(ctx, chatID, messageID, text, keyboard))
	})
	m.failed("editMessage", chatID, err)
	return err
}

func (m *guardedMessenger) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	err := m.guard.Do(ctx, func(ctx context.Context) error {
		return classify(m.next.DeleteMessage(ctx, chatID, messageID))
	})
	m.failed("deleteMessage", chatID, err)
	return err
}

func (m *guardedMessenger) AnswerCallback(ctx context.Context, callbackID, text string) error {
	err := m.guard.Do(ctx, func(ctx context.Context) error {
		return classify(m.next.AnswerCallback(ctx, callbackID, text))
	})
	m.failed("answerCallback", 0, err)
	return err
}
