// Package relevance scores how related a memory is to the current query.
//
// The default Jaccard scorer is lexical. Scorer is the seam for an
// embedding-backed implementation; retrieval and prompt assembly only depend
// on the interface.
package relevance

import (
	"regexp"
	"strings"
)

// Scorer maps a query and a memory text onto a similarity in [0,1].
type Scorer interface {
	Score(query, content string) float64
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(query, content string) float64

func (f ScorerFunc) Score(query, content string) float64 { return f(query, content) }

// MinTokenLength is the shortest token kept; shorter tokens are dropped.
const MinTokenLength = 3

var nonWord = regexp.MustCompile(`\W+`)

// Tokens splits s on non-word runs, lowercases, and keeps distinct tokens
// longer than two characters.
func Tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range nonWord.Split(strings.ToLower(s), -1) {
		if len(tok) < MinTokenLength {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

// Jaccard scores |A∩B| / |A∪B| over Tokens of both texts.
type Jaccard struct{}

func (Jaccard) Score(query, content string) float64 {
	q := Tokens(query)
	c := Tokens(content)
	if len(q) == 0 && len(c) == 0 {
		return 0
	}
	shared := 0
	for tok := range c {
		if _, ok := q[tok]; ok {
			shared++
		}
	}
	union := len(q) + len(c) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// Default is the scorer used when none is configured.
var Default Scorer = Jaccard{}
