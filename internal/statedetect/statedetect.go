// File: internal/statedetect/statedetect.go
// Description: Cheap page-text game-state detection. A handful of compiled
// pattern lists decide whether the game is loading, sitting in a menu,
// playing, paused or finished. The detector only ever looks at captured text,
// so its verdicts are replayable from recorded evidence.

package statedetect

import (
	"regexp"
	"strings"
)

// GameState is the coarse lifecycle state of the target game.
type GameState int

const (
	StateLoading GameState = iota
	StateMenu
	StatePlaying
	StatePaused
	StateGameOver
	StateUnknown
)

// String returns the canonical upper-case state name.
func (s GameState) String() string {
	switch s {
	case StateLoading:
		return "LOADING"
	case StateMenu:
		return "MENU"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateGameOver:
		return "GAME_OVER"
	default:
		return "UNKNOWN"
	}
}

// Pattern vocabularies, matched case-insensitively against visible page
// text. Each pattern carries its own word boundaries: a bare "47%" progress
// readout ends in a non-word character, where a shared trailing boundary
// could never match.
var (
	LoadingPatterns = []string{
		`\bloading\b`,
		`\bplease wait\b`,
		`\b\d{1,3}\s*%`,
		`\binitializing\b`,
	}
	MenuPatterns = []string{
		`\bstart\b`,
		`\bplay\b`,
		`\bnew game\b`,
		`\bcontinue\b`,
		`\bpress\s+(any|enter|space)\b`,
		`\bmain menu\b`,
		`\boptions\b`,
	}
	PausedPatterns = []string{
		`\bpaused\b`,
		`\bresume\b`,
		`\bunpause\b`,
	}
	GameOverPatterns = []string{
		`\bgame over\b`,
		`\byou (win|won|lose|lost|died)\b`,
		`\brestart\b`,
		`\btry again\b`,
		`\bfinal score\b`,
		`\bhigh score\b`,
		`\bvictory\b`,
		`\bdefeat\b`,
	}
)

var (
	loadingRe  = compileAny(LoadingPatterns)
	menuRe     = compileAny(MenuPatterns)
	pausedRe   = compileAny(PausedPatterns)
	gameOverRe = compileAny(GameOverPatterns)
)

func compileAny(patterns []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + strings.Join(patterns, "|") + `)`)
}

// Detect classifies page text into a GameState.
//
// Priority matters: "game over" screens usually also contain "restart"-style
// menu vocabulary, and pause overlays sit on top of a running game, so the
// terminal and overlay states are checked before the menu.
func Detect(pageText string) GameState {
	text := strings.TrimSpace(pageText)
	if text == "" {
		return StateUnknown
	}
	switch {
	case gameOverRe.MatchString(text):
		return StateGameOver
	case pausedRe.MatchString(text):
		return StatePaused
	case loadingRe.MatchString(text):
		return StateLoading
	case menuRe.MatchString(text):
		return StateMenu
	default:
		// Text present but no lifecycle vocabulary: assume the game runs.
		return StatePlaying
	}
}

// Terminal reports whether the state should end the step loop.
func Terminal(s GameState) bool {
	return s == StateGameOver
}

// Keywords tokenizes page text into lowercased words for trigger matching.
// Tokens shorter than 3 runes carry no signal and are dropped.
func Keywords(pageText string) []string {
	fields := strings.FieldsFunc(strings.ToLower(pageText), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
