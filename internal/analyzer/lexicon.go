package analyzer

import (
	"context"
	"math"
	"regexp"
	"strings"
)

// valence holds per-word sentiment weights on the usual -4..+4 scale.
var valence = map[string]float64{
	"amazing": 3.1, "awesome": 3.1, "excellent": 3.2, "fantastic": 3.4,
	"great": 3.1, "good": 1.9, "love": 3.2, "like": 1.5, "happy": 2.7,
	"glad": 2.0, "interested": 1.7, "interesting": 1.7, "excited": 2.2,
	"perfect": 2.7, "thanks": 1.9, "thank": 1.5, "helpful": 1.8,
	"yes": 1.7, "sure": 1.3, "definitely": 1.7, "absolutely": 1.6,
	"nice": 1.8, "wonderful": 2.7, "appreciate": 2.0, "sounds": 0.4,
	"bad": -2.5, "terrible": -2.5, "awful": -2.0, "hate": -2.7,
	"useless": -1.8, "annoying": -1.7, "annoyed": -1.6, "spam": -1.5,
	"no": -1.2, "never": -1.5, "waste": -1.8, "disappointed": -2.2,
	"angry": -2.3, "worst": -3.1, "poor": -2.1, "horrible": -2.5,
	"stupid": -2.4, "unhappy": -1.8, "irrelevant": -1.0, "scam": -2.7,
}

var negators = map[string]bool{
	"not": true, "don't": true, "dont": true, "isn't": true, "never": true,
	"no": true, "can't": true, "cannot": true, "won't": true, "doesn't": true,
}

var wordPattern = regexp.MustCompile(`[A-Za-z']+`)

// Entity patterns. Names of the map keys are the entity types.
var entityPatterns = map[string]*regexp.Regexp{
	"email": regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
	"url":   regexp.MustCompile(`https?://[^\s]+`),
	"money": regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?(?:\s?[kKmM])?|\b\d[\d,]*(?:\.\d+)?\s?(?:USD|EUR|GBP|dollars)\b`),
	"date":  regexp.MustCompile(`(?i)\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|today|next week)\b`),
	"phone": regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`),
}

var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"have": true, "from": true, "your": true, "you": true, "for": true,
	"are": true, "was": true, "but": true, "not": true, "what": true,
	"can": true, "will": true, "would": true, "could": true, "about": true,
	"there": true, "their": true, "they": true, "them": true, "just": true,
	"please": true, "some": true, "more": true, "been": true, "when": true,
}

// Lexicon is a deterministic word-list classifier. It needs no network
// and never fails.
type Lexicon struct{}

// NewLexicon returns the lexicon classifier.
func NewLexicon() *Lexicon { return &Lexicon{} }

// Classify implements Classifier.
func (l *Lexicon) Classify(_ context.Context, text string) (*Classification, error) {
	return &Classification{
		Sentiment: Score(text),
		Entities:  Entities(text),
	}, nil
}

// Score sums word valences, flipping a word preceded by a negator within
// two tokens, and normalizes the sum into (-1, 1).
func Score(text string) float64 {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	var sum float64
	for i, w := range words {
		v, ok := valence[w]
		if !ok {
			continue
		}
		if negated(words, i) {
			v *= -0.74
		}
		sum += v
	}
	if sum == 0 {
		return 0
	}
	return sum / math.Sqrt(sum*sum+15)
}

func negated(words []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-2; j-- {
		if negators[words[j]] {
			return true
		}
	}
	return false
}

// Entities extracts emails, urls, money amounts, dates and phone numbers.
func Entities(text string) map[string][]string {
	var out map[string][]string
	for kind, re := range entityPatterns {
		found := re.FindAllString(text, -1)
		if len(found) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string][]string)
		}
		out[kind] = found
	}
	return out
}

// Keywords returns the distinct lower-cased content words of text in order
// of first appearance.
func Keywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		w = strings.Trim(w, "'")
		if len(w) < 4 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
