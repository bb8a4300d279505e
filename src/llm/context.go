package llm

import (
	"fmt"
	"strings"

	"fuelbot/src/model"
)

// maxContextTurns bounds the history included in the prompt
const maxContextTurns = 5

// BuildContext renders the previous turn and the recent history as a prompt block.
// It returns "" when there is nothing to show.
func BuildContext(conv model.ConversationContext, history []model.HistoryEntry) string {
	recent := trimTail(history, maxContextTurns)
	if conv.IsZero() && len(recent) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<conversation_context>\n")
	if !conv.IsZero() {
		b.WriteString("LastIntent(" + conv.LastIntent.String() + ")\n")
		if slots := entitySlots(conv.LastEntities); slots != "" {
			b.WriteString("LastEntities(" + slots + ")\n")
		}
	}
	for _, turn := range recent {
		b.WriteString("UserMessage(" + turn.Query + ")\n")
		if turn.Response != "" {
			b.WriteString("AssistantMessage(" + turn.Response + ")\n")
		}
	}
	b.WriteString("</conversation_context>")
	return b.String()
}

func entitySlots(e model.Entities) string {
	var parts []string
	if e.FuelType != "" {
		parts = append(parts, "fuel_type="+e.FuelType)
	}
	if e.Location != "" {
		parts = append(parts, "location="+e.Location)
	}
	if e.TimePeriod > 0 {
		parts = append(parts, fmt.Sprintf("time_period=%d", e.TimePeriod))
	}
	if e.StationName != "" {
		parts = append(parts, "station_name="+e.StationName)
	}
	return strings.Join(parts, ", ")
}

func trimTail(history []model.HistoryEntry, maxTurns int) []model.HistoryEntry {
	if len(history) <= maxTurns {
		return history
	}
	return history[len(history)-maxTurns:]
}
