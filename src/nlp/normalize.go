package nlp

import (
	"sort"
	"strings"

	"fuelbot/pkg/textdist"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	lower = cases.Lower(language.Spanish)
	title = cases.Title(language.Spanish)
)

// punctuation is removed during normalization. Inverted marks never carry meaning here.
var punctuation = strings.NewReplacer(
	"¿", " ", "¡", " ", "?", " ", "!", " ",
	",", " ", ";", " ", ":", " ", ".", " ",
	"\"", " ", "(", " ", ")", " ", "…", " ",
)

// Normalize lowercases text, drops punctuation and collapses whitespace. Accents are kept.
func Normalize(text string) string {
	return strings.Join(strings.Fields(punctuation.Replace(lower.String(text))), " ")
}

// Fold removes diacritics so that "cuánto" and "cuanto" match the same lexicon entry.
func Fold(text string) string {
	return textdist.Fold(text)
}

func normalizeTerm(term string) string {
	return Fold(Normalize(term))
}

// replaceWords substitutes whole-word occurrences of from with to in a single left-to-right
// pass. Replacement text is never rescanned, so a rewrite whose target contains its source
// still terminates.
func replaceWords(text, from, to string) string {
	if from == "" || from == to || !containsWords(text, from) {
		return text
	}
	words := strings.Fields(text)
	needle := strings.Fields(from)
	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		if i+len(needle) <= len(words) && equalWords(words[i:i+len(needle)], needle) {
			out = append(out, to)
			i += len(needle)
			continue
		}
		out = append(out, words[i])
		i++
	}
	return strings.Join(strings.Fields(strings.Join(out, " ")), " ")
}

func equalWords(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// containsWords reports whether phrase occurs in text on word boundaries.
func containsWords(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

// correctTypos applies the exact correction table, longest entries first, then a fuzzy
// pass that swaps unknown words for the closest vocabulary word.
func (l *compiledLexicon) correctTypos(text string, threshold float64) string {
	for _, c := range l.corrections {
		text = strings.ReplaceAll(text, c.from, c.to)
	}

	words := strings.Fields(text)
	changed := false
	for i, w := range words {
		if len([]rune(w)) < 4 || l.vocabulary[w] || strings.ContainsAny(w, "0123456789") {
			continue
		}
		if best, ok := l.closest(w, threshold); ok {
			words[i] = best
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(words, " ")
}

func (l *compiledLexicon) closest(word string, threshold float64) (string, bool) {
	best, bestScore := "", 0.0
	for _, candidate := range l.vocabList {
		score := textdist.Similarity(word, candidate)
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best, bestScore >= threshold
}

func (l *compiledLexicon) mapColloquialisms(text string) string {
	for _, r := range l.colloquialisms {
		text = replaceWords(text, r.from, r.to)
	}
	return text
}

type rewrite struct {
	from, to string
}

func sortedCorrections(table map[string]string) []rewrite {
	out := make([]rewrite, 0, len(table))
	for from, to := range table {
		if f := normalizeTerm(from); f != "" {
			out = append(out, rewrite{from: f, to: normalizeTerm(to)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].from) != len(out[j].from) {
			return len(out[i].from) > len(out[j].from)
		}
		return out[i].from < out[j].from
	})
	return out
}
