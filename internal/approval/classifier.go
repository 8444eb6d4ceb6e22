// Package approval decides whether a user utterance approves the specification
// currently under review.
package approval

import "strings"

// Phrases is the default approval vocabulary. Matching is a case-insensitive
// substring test, so "yes please" and "that looks good to me" both count.
var Phrases = []string{
	"looks good",
	"look good",
	"sounds good",
	"ready",
	"let's build",
	"lets build",
	"let's do it",
	"build it",
	"start building",
	"go ahead",
	"proceed",
	"perfect",
	"approved",
	"approve",
	"continue",
	"correct",
	"yes",
	"great",
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

// Classifier matches utterances against a fixed phrase list.
type Classifier struct {
	phrases []string
}

// New returns a classifier over phrases, or the default list when none are given.
func New(phrases ...string) *Classifier {
	if len(phrases) == 0 {
		phrases = Phrases
	}
	normalized := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = normalize(p); p != "" {
			normalized = append(normalized, p)
		}
	}
	return &Classifier{phrases: normalized}
}

// IsApproval reports whether utterance contains an approval phrase.
func (c *Classifier) IsApproval(utterance string) bool {
	u := normalize(utterance)
	if u == "" {
		return false
	}
	for _, p := range c.phrases {
		if strings.Contains(u, p) {
			return true
		}
	}
	return false
}

// IsApproval classifies with the default phrase list.
func IsApproval(utterance string) bool {
	return defaultClassifier.IsApproval(utterance)
}

var defaultClassifier = New()

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(apostrophes.Replace(s)))
}
