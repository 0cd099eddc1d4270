package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"ragchat/internal/domain"
)

// DefaultMaxFacts is used when Summarize is asked for a non-positive count.
const DefaultMaxFacts = 3

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

// Frequency ranks facts by the corpus frequency of their words (stopwords filtered)
// and returns the top ones as an overview of the knowledge base.
type Frequency struct {
	stopwords map[string]struct{}
}

// NewFrequency creates a frequency-based fact ranker.
func NewFrequency() *Frequency {
	return &Frequency{stopwords: defaultStopwords()}
}

// Summarize returns up to maxFacts representative facts joined by spaces, in knowledge-base order.
func (s *Frequency) Summarize(facts []domain.Fact, maxFacts int) string {
	if maxFacts <= 0 {
		maxFacts = DefaultMaxFacts
	}
	if len(facts) == 0 {
		return ""
	}
	freq := map[string]float64{}
	for _, f := range facts {
		for _, tok := range s.tokens(f.Text) {
			freq[tok]++
		}
	}
	// Normalize frequencies
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(facts))
	for i, f := range facts {
		toks := s.tokens(f.Text)
		score := 0.0
		for _, tok := range toks {
			score += freq[tok]
		}
		// Normalize by length to avoid bias toward long facts
		if l := float64(len(toks)); l > 0 {
			score /= math.Sqrt(l)
		}
		scores[i] = pair{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if maxFacts > len(scores) {
		maxFacts = len(scores)
	}
	// Keep original order among selected
	selected := make([]int, maxFacts)
	for i := 0; i < maxFacts; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = facts[idx].Text
	}
	return strings.Join(out, " ")
}

func (s *Frequency) tokens(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, ok := s.stopwords[t]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
