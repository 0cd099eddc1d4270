package domain

import "time"

// Fact is one retrievable line of a knowledge base, identified by its position.
type Fact struct {
	Index int
	Text  string
}

// SearchResult represents a matching fact with its similarity to the query.
type SearchResult struct {
	Fact  Fact
	Score float64
}

// ChatTurn is one recorded question and the answer text shown for it.
type ChatTurn struct {
	Question string
	Answer   string
	AskedAt  time.Time
}

// Texts returns the text of each fact, in order.
func Texts(facts []Fact) []string {
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = f.Text
	}
	return out
}
