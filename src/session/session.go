// Package session holds per-user conversation state and its persistence.
package session

import (
	"time"

	"fuelbot/src/model"
)

const (
	// MaxHistory bounds the conversation history kept per session.
	MaxHistory = 5
	// DefaultLanguage is used until the user picks another one.
	DefaultLanguage = "es"
)

// Session is an immutable snapshot of one user's conversation state.
// Change it only through Apply so that UpdatedAt always moves forward.
type Session struct {
	UserID    string                    `json:"user_id"`
	Data      map[string]any            `json:"data,omitempty"`
	State     string                    `json:"state,omitempty"`
	StateData map[string]any            `json:"state_data,omitempty"`
	Context   model.ConversationContext `json:"conversation_context"`
	History   []model.HistoryEntry      `json:"conversation_history,omitempty"`
	Language  string                    `json:"language"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// New returns an empty session for userID.
func New(userID string, now time.Time) Session {
	return Session{
		UserID:    userID,
		Data:      map[string]any{},
		StateData: map[string]any{},
		Language:  DefaultLanguage,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InFlow reports whether a multi-step flow is in progress.
func (s Session) InFlow() bool {
	return s.State != ""
}

// Value returns a top-level data value.
func (s Session) Value(key string) (any, bool) {
	v, ok := s.Data[key]
	return v, ok
}

// StringValue returns a data value as string, or "" when absent or not a string.
func (s Session) StringValue(key string) string {
	v, _ := s.Data[key].(string)
	return v
}

// FlowString returns a flow scratch value as string.
func (s Session) FlowString(key string) string {
	v, _ := s.StateData[key].(string)
	return v
}

// Mutation changes a private copy of a session inside Apply.
type Mutation func(*Session)

// Apply returns a copy of s with the mutations applied and UpdatedAt bumped to now.
// UpdatedAt never moves backwards, even if the clock does.
func (s Session) Apply(now time.Time, mutations ...Mutation) Session {
	next := s.clone()
	for _, m := range mutations {
		if m != nil {
			m(&next)
		}
	}
	if now.After(next.UpdatedAt) {
		next.UpdatedAt = now
	}
	if next.Language == "" {
		next.Language = DefaultLanguage
	}
	return next
}

func (s Session) clone() Session {
	out := s
	out.Data = copyMap(s.Data)
	out.StateData = copyMap(s.StateData)
	if s.History != nil {
		out.History = append([]model.HistoryEntry(nil), s.History...)
	}
	return out
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// ====================== Mutations ======================

// SetState enters a named flow step, replacing the flow scratch data when data is not nil.
func SetState(state string, data map[string]any) Mutation {
	return func(s *Session) {
		s.State = state
		if data != nil {
			s.StateData = copyMap(data)
		}
	}
}

// SetStateValue stores one flow scratch value.
func SetStateValue(key string, value any) Mutation {
	return func(s *Session) {
		s.StateData[key] = value
	}
}

// ClearFlow leaves the current flow, dropping state and state data together.
func ClearFlow() Mutation {
	return func(s *Session) {
		s.State = ""
		s.StateData = map[string]any{}
	}
}

func SetValue(key string, value any) Mutation {
	return func(s *Session) {
		s.Data[key] = value
	}
}

func DeleteValue(key string) Mutation {
	return func(s *Session) {
		delete(s.Data, key)
	}
}

func SetLanguage(lang string) Mutation {
	return func(s *Session) {
		s.Language = lang
	}
}

// RecordTurn appends a query/response pair, keeping the last MaxHistory entries.
func RecordTurn(query, response string, at time.Time) Mutation {
	return func(s *Session) {
		s.History = append(s.History, model.HistoryEntry{Query: query, Response: response, Timestamp: at})
		if len(s.History) > MaxHistory {
			s.History = s.History[len(s.History)-MaxHistory:]
		}
	}
}

// SetContext remembers the intent and entities of the turn for follow-up resolution.
func SetContext(intent model.Intent, entities model.Entities, at time.Time) Mutation {
	return func(s *Session) {
		s.Context = model.ConversationContext{LastIntent: intent, LastEntities: entities, UpdatedAt: at}
	}
}

func ClearContext() Mutation {
	return func(s *Session) {
		s.Context = model.ConversationContext{}
	}
}
