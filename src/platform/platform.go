// Package platform describes the chat platform as the bot sees it: inbound updates and the
// outgoing calls it can make. Concrete transports live in their own packages.
package platform

import (
	"context"
	"strconv"
	"time"
)

// UpdateKind separates the three shapes of inbound update the router handles.
type UpdateKind int

const (
	KindText UpdateKind = iota
	KindCallback
	KindMedia
)

func (k UpdateKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCallback:
		return "callback"
	case KindMedia:
		return "media"
	default:
		return "unknown"
	}
}

type User struct {
	ID           int64
	Username     string
	FirstName    string
	LanguageCode string
}

// Update is one inbound event. For callbacks MessageID is the message carrying the keyboard.
type Update struct {
	ID           int64
	Kind         UpdateKind
	ChatID       int64
	MessageID    int
	From         User
	Text         string
	CallbackID   string
	CallbackData string
	MediaType    string // photo, document, sticker, voice, ...
	ReceivedAt   time.Time
}

// UserID is the session key for the sender.
func (u Update) UserID() string {
	return strconv.FormatInt(u.From.ID, 10)
}

type Button struct {
	Text string
	Data string
	URL  string
}

// Keyboard is an inline keyboard, row by row.
type Keyboard [][]Button

// Row is a shorthand for building keyboards.
func Row(buttons ...Button) []Button {
	return buttons
}

type OutgoingMessage struct {
	ChatID    int64
	Text      string
	Keyboard  Keyboard
	ParseMode string
}

// Messenger is the set of outgoing platform calls. Implementations return the platform error
// unchanged; callers decide whether a failure matters.
type Messenger interface {
	SendMessage(ctx context.Context, msg OutgoingMessage) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, keyboard Keyboard) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}
