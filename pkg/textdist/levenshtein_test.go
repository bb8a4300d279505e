package textdist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"precio", "", 6},
		{"precio", "precio", 0},
		{"presio", "precio", 1},
		{"kitten", "sitting", 3},
		{"estación", "estacion", 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Levenshtein(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
		assert.Equal(t, tc.want, Levenshtein(tc.b, tc.a), "%q vs %q", tc.b, tc.a)
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("magna", "magna"))
	assert.InDelta(t, 0.857, Similarity("premiu", "premium"), 0.001)
	assert.Less(t, Similarity("magna", "manga"), 0.8)
}

func TestFold(t *testing.T) {
	assert.Equal(t, "menu", Fold("menú"))
	assert.Equal(t, "diesel estacion", Fold("diésel estación"))
	assert.Equal(t, "plain", Fold("plain"))
}
