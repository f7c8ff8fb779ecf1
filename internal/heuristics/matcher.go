// File: internal/heuristics/matcher.go
package heuristics

import (
	"strings"

	"github.com/argus-qa/playprobe/api/schemas"
)

// Match selects the best pattern for the detected genre and the current page
// signal. Selection is deterministic: a pattern registered for the detected
// genre wins outright; otherwise patterns are scored by trigger-keyword
// overlap against the page signal (plus the input hint) and the highest score
// wins, earlier registration breaking ties. The universal wildcard is only
// returned when nothing else scores at all.
func Match(gt schemas.GameType, signal schemas.PageSignal, inputHint string) Pattern {
	if gt != "" && gt != schemas.GameUnknown {
		for _, p := range registry {
			if !p.Wildcard() && p.GameType == gt {
				return p
			}
		}
	}

	vocab := signalVocabulary(signal, inputHint)

	best := Universal()
	bestScore := 0
	for _, p := range registry {
		if p.Wildcard() {
			continue
		}
		score := overlap(p.Triggers, vocab)
		if score > bestScore {
			best = p
			bestScore = score
		}
	}
	return best
}

// signalVocabulary folds the page signal and input hint into one lookup set.
func signalVocabulary(signal schemas.PageSignal, inputHint string) map[string]struct{} {
	vocab := make(map[string]struct{})
	add := func(words []string) {
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				vocab[w] = struct{}{}
			}
		}
	}
	add(signal.Keywords)
	add(strings.Fields(strings.ToLower(signal.Title)))
	add(strings.Fields(strings.ToLower(inputHint)))
	return vocab
}

func overlap(triggers []string, vocab map[string]struct{}) int {
	n := 0
	for _, t := range triggers {
		if _, ok := vocab[t]; ok {
			n++
		}
	}
	return n
}
