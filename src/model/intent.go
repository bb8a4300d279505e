package model

import (
	"strings"
	"time"
)

// Intent is the closed set of purposes the bot can recognise in a message.
type Intent int

const (
	IntentUnknown Intent = iota
	IntentPriceQuery
	IntentStationSearch
	IntentPriceHistory
	IntentPriceComparison
	IntentRanking
	IntentHelp
	IntentGreeting
)

var intentNames = map[Intent]string{
	IntentUnknown:         "unknown",
	IntentPriceQuery:      "price_query",
	IntentStationSearch:   "station_search",
	IntentPriceHistory:    "price_history",
	IntentPriceComparison: "price_comparison",
	IntentRanking:         "ranking",
	IntentHelp:            "help",
	IntentGreeting:        "greeting",
}

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return intentNames[IntentUnknown]
}

// IsClear reports whether the intent gets the extra confidence bonus.
func (i Intent) IsClear() bool {
	switch i {
	case IntentPriceQuery, IntentStationSearch, IntentHelp:
		return true
	default:
		return false
	}
}

// ParseIntent maps a snake_case name to an Intent. Unrecognised names yield IntentUnknown.
func ParseIntent(name string) Intent {
	name = strings.ToLower(strings.TrimSpace(name))
	for intent, n := range intentNames {
		if n == name {
			return intent
		}
	}
	return IntentUnknown
}

func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Intent) UnmarshalText(text []byte) error {
	*i = ParseIntent(string(text))
	return nil
}

// Entities holds the slots recognised in a message. Empty slots are omitted.
type Entities struct {
	FuelType    string `json:"fuel_type,omitempty"`
	Location    string `json:"location,omitempty"`
	TimePeriod  int    `json:"time_period,omitempty"` // days
	StationName string `json:"station_name,omitempty"`
}

// Count returns the number of populated slots.
func (e Entities) Count() int {
	n := 0
	if e.FuelType != "" {
		n++
	}
	if e.Location != "" {
		n++
	}
	if e.TimePeriod > 0 {
		n++
	}
	if e.StationName != "" {
		n++
	}
	return n
}

// Merge overlays the populated slots of next onto e.
func (e Entities) Merge(next Entities) Entities {
	out := e
	if next.FuelType != "" {
		out.FuelType = next.FuelType
	}
	if next.Location != "" {
		out.Location = next.Location
	}
	if next.TimePeriod > 0 {
		out.TimePeriod = next.TimePeriod
	}
	if next.StationName != "" {
		out.StationName = next.StationName
	}
	return out
}

// IntentResult is the outcome of running the intent pipeline on one message.
type IntentResult struct {
	OriginalQuery    string   `json:"original_query"`
	NormalizedQuery  string   `json:"normalized_query"`
	Intent           Intent   `json:"intent"`
	Entities         Entities `json:"entities"`
	Confidence       float64  `json:"confidence"`
	SuggestedCommand string   `json:"suggested_command,omitempty"`
	UsedExternalAI   bool     `json:"used_external_ai"`
	ResponseTimeMs   int64    `json:"response_time_ms"`
}

// ConversationContext is what the previous turn left behind for follow-up resolution.
type ConversationContext struct {
	LastIntent   Intent    `json:"last_intent"`
	LastEntities Entities  `json:"last_entities"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsZero reports whether no turn has been recorded.
func (c ConversationContext) IsZero() bool {
	return c.UpdatedAt.IsZero()
}

// HistoryEntry is one question/answer pair of the bounded conversation history.
type HistoryEntry struct {
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// ----------------------------------------------------
// ================ External AI ================
type AIRequest struct {
	Text    string              `json:"text"`
	Context ConversationContext `json:"conversation_context"`
	History []HistoryEntry      `json:"history,omitempty"`
}

type AIResponse struct {
	Intent           Intent   `json:"intent"`
	Entities         Entities `json:"entities"`
	Confidence       float64  `json:"confidence"`
	SuggestedCommand string   `json:"suggested_command,omitempty"`
	ResponseTimeMs   int64    `json:"response_time_ms"`
}
