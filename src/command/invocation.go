package command

import (
	"context"
	"time"

	"fuelbot/src/model"
	"fuelbot/src/platform"
	"fuelbot/src/session"
)

// Invocation is everything a handler gets for one turn. Handlers never save the session
// themselves: they change it with Mutate and the router saves it once at the end of the turn.
type Invocation struct {
	Update    platform.Update
	Session   session.Session
	Command   Name
	Args      []string
	Entities  model.Entities
	Messenger platform.Messenger

	mutations []session.Mutation
	replies   []string
}

// Mutate changes the turn's session. UpdatedAt is bumped when the router saves it.
func (inv *Invocation) Mutate(mutations ...session.Mutation) {
	inv.Session = inv.Session.Apply(time.Time{}, mutations...)
	inv.mutations = append(inv.mutations, mutations...)
}

func (inv *Invocation) Mutations() []session.Mutation {
	return inv.mutations
}

// Reply sends text to the chat the update came from. Send failures are handled by the
// messenger; the reply is still recorded for the conversation history.
func (inv *Invocation) Reply(ctx context.Context, text string, keyboard platform.Keyboard) {
	inv.replies = append(inv.replies, text)
	_, _ = inv.Messenger.SendMessage(ctx, platform.OutgoingMessage{
		ChatID:   inv.Update.ChatID,
		Text:     text,
		Keyboard: keyboard,
	})
}

// Edit re-renders the message the update's keyboard belongs to.
func (inv *Invocation) Edit(ctx context.Context, text string, keyboard platform.Keyboard) {
	inv.replies = append(inv.replies, text)
	_ = inv.Messenger.EditMessage(ctx, inv.Update.ChatID, inv.Update.MessageID, text, keyboard)
}

// LastReply is the most recent text sent during the turn, or "".
func (inv *Invocation) LastReply() string {
	if len(inv.replies) == 0 {
		return ""
	}
	return inv.replies[len(inv.replies)-1]
}

// Replies returns every text sent during the turn.
func (inv *Invocation) Replies() []string {
	return inv.replies
}

// Arg returns the i-th argument or "".
func (inv *Invocation) Arg(i int) string {
	if i < 0 || i >= len(inv.Args) {
		return ""
	}
	return inv.Args[i]
}
