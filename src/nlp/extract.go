package nlp

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"fuelbot/src/model"
)

func (l *compiledLexicon) extractIntent(text string) model.Intent {
	if intent := l.phraseIntent(text); intent != model.IntentUnknown {
		return intent
	}
	for _, group := range l.keywords {
		for _, kw := range group.phrases {
			if containsWords(text, kw) {
				return group.intent
			}
		}
	}
	return model.IntentUnknown
}

// phraseIntent matches only the trigger phrase table.
func (l *compiledLexicon) phraseIntent(text string) model.Intent {
	for _, group := range l.intents {
		for _, phrase := range group.phrases {
			if containsWords(text, phrase) {
				return group.intent
			}
		}
	}
	return model.IntentUnknown
}

var periodPattern = regexp.MustCompile(`\b(\d{1,3})\s*(dias?|semanas?|mes|meses)\b`)

func (l *compiledLexicon) extractEntities(text string) model.Entities {
	return model.Entities{
		FuelType:    l.fuelType(text),
		Location:    l.location(text),
		TimePeriod:  l.timePeriod(text),
		StationName: l.stationName(text),
	}
}

func (l *compiledLexicon) fuelType(text string) string {
	for _, f := range l.fuels {
		for _, term := range f.terms {
			if containsWords(text, term) {
				return f.name
			}
		}
	}
	return ""
}

func (l *compiledLexicon) location(text string) string {
	for _, loc := range l.locations {
		if containsWords(text, loc) {
			if loc == "cdmx" {
				return "CDMX"
			}
			return title.String(loc)
		}
	}
	for _, near := range l.nearby {
		if containsWords(text, near) {
			return "cerca"
		}
	}
	return ""
}

// timePeriod returns the period in days. Weeks count 7 days and months 30.
func (l *compiledLexicon) timePeriod(text string) int {
	if m := periodPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			switch {
			case strings.HasPrefix(m[2], "semana"):
				return n * 7
			case strings.HasPrefix(m[2], "mes"):
				return n * 30
			default:
				return n
			}
		}
	}
	for _, tp := range l.timePhrases {
		if containsWords(text, tp.phrase) {
			return tp.days
		}
	}
	return 0
}

// stationName finds a brand and, when the next word is a known qualifier or a number,
// appends it: "pemex centro" becomes "Pemex Centro".
func (l *compiledLexicon) stationName(text string) string {
	padded := " " + text + " "
	for _, b := range l.brands {
		idx := strings.Index(padded, " "+b.match+" ")
		if idx < 0 {
			continue
		}
		rest := strings.Fields(padded[idx+len(b.match)+2:])
		if len(rest) > 0 {
			next := rest[0]
			if l.qualifiers[next] {
				return b.name + " " + title.String(next)
			}
			if _, err := strconv.Atoi(next); err == nil {
				return b.name + " " + next
			}
		}
		return b.name
	}
	return ""
}

// relevance weights entity slots per intent.
var relevance = map[model.Intent]struct {
	fuel, location, time, station float64
}{
	model.IntentPriceQuery:      {fuel: 0.2, time: 0.1},
	model.IntentStationSearch:   {location: 0.2, station: 0.1},
	model.IntentPriceHistory:    {time: 0.2, fuel: 0.1},
	model.IntentPriceComparison: {station: 0.15, fuel: 0.15},
	model.IntentRanking:         {fuel: 0.2, location: 0.1},
}

// Score computes the confidence of a local result. It is deterministic and bounded to [0,1]
// with two decimals.
func Score(intent model.Intent, e model.Entities) float64 {
	score := 0.0
	if intent != model.IntentUnknown {
		score += 0.4
		if intent.IsClear() {
			score += 0.1
		}
	}
	score += math.Min(0.15*float64(e.Count()), 0.3)

	if w, ok := relevance[intent]; ok {
		bonus := 0.0
		if e.FuelType != "" {
			bonus += w.fuel
		}
		if e.Location != "" {
			bonus += w.location
		}
		if e.TimePeriod > 0 {
			bonus += w.time
		}
		if e.StationName != "" {
			bonus += w.station
		}
		score += math.Min(bonus, 0.3)
	}

	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}

var suggestedCommands = map[model.Intent]string{
	model.IntentPriceQuery:      "precios",
	model.IntentStationSearch:   "estaciones",
	model.IntentPriceHistory:    "historial",
	model.IntentPriceComparison: "comparar",
	model.IntentRanking:         "ranking",
	model.IntentHelp:            "ayuda",
}

// SuggestedCommand returns the command that answers intent, or "".
func SuggestedCommand(intent model.Intent) string {
	return suggestedCommands[intent]
}
