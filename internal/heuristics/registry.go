// File: internal/heuristics/registry.go
// Description: The static library of genre interaction patterns. The registry
// is built once at package initialization and never mutated afterwards, so it
// is read-only and safe to share across concurrent runs.

package heuristics

import (
	"fmt"
	"time"

	"github.com/argus-qa/playprobe/api/schemas"
)

// UniversalPatternName identifies the wildcard fallback pattern. It matches
// any game but must only win when no genre pattern scores.
const UniversalPatternName = "universal"

// Assessment is a pattern's verdict over its own executed outcomes.
type Assessment struct {
	Success    bool
	Confidence int // 0-100
	Reasoning  string
}

// ExecutionRecord is everything an evaluator may look at. It contains only
// recorded data, never live page state, so assessments are deterministic and
// replayable.
type ExecutionRecord struct {
	Outcomes []schemas.ActionOutcome
	// ScreenChange is the largest byte-level difference ratio observed
	// between consecutive successful screenshot captures, in [0,1].
	ScreenChange float64
}

// Evaluator maps executed outcomes to an assessment.
type Evaluator func(rec ExecutionRecord) Assessment

// Pattern is an immutable pre-authored action sequence for one genre.
type Pattern struct {
	Name     string
	GameType schemas.GameType
	// Triggers is the keyword set matched against page text. Empty means
	// wildcard: the pattern matches everything and loses every tie.
	Triggers []string
	Actions  []schemas.AtomicAction
	Evaluate Evaluator
}

// Wildcard reports whether the pattern is the universal fallback.
func (p Pattern) Wildcard() bool { return len(p.Triggers) == 0 }

// -- action sequence helpers --

func key(name string) schemas.AtomicAction {
	return schemas.AtomicAction{Kind: schemas.ActionKey, Key: name}
}

func click(x, y float64) schemas.AtomicAction {
	return schemas.AtomicAction{Kind: schemas.ActionClick, X: x, Y: y}
}

func wait(d time.Duration) schemas.AtomicAction {
	return schemas.AtomicAction{Kind: schemas.ActionWait, Wait: d}
}

func shot() schemas.AtomicAction {
	return schemas.AtomicAction{Kind: schemas.ActionScreenshot}
}

// gridCell returns the center of cell (row, col) of a 5x5 grid in normalized
// coordinates, mirroring the classic exploratory click grid.
func gridCell(row, col int) schemas.AtomicAction {
	const gridSize = 5
	return click((float64(col)+0.5)/gridSize, (float64(row)+0.5)/gridSize)
}

// defaultEvaluator derives confidence from the recorded outcomes alone:
// 60 points scale with the fraction of successful actions, 25 with the
// fraction of successful screenshot captures, and 15 are granted when the
// screen visibly changed between captures. The weights are deliberately
// coarse and identical for most patterns so scores stay comparable.
func defaultEvaluator(rec ExecutionRecord) Assessment {
	total := len(rec.Outcomes)
	if total == 0 {
		return Assessment{Success: false, Confidence: 0, Reasoning: "no actions executed"}
	}

	var succeeded, shots, shotsOK int
	for _, o := range rec.Outcomes {
		if o.Success {
			succeeded++
		}
		if o.Action.Kind == schemas.ActionScreenshot {
			shots++
			if o.Success {
				shotsOK++
			}
		}
	}

	confidence := 60 * succeeded / total
	if shots > 0 {
		confidence += 25 * shotsOK / shots
	}
	if rec.ScreenChange >= 0.02 {
		confidence += 15
	}
	if confidence > 100 {
		confidence = 100
	}

	reasoning := fmt.Sprintf("%d/%d actions succeeded, %d/%d captures, screen change %.3f",
		succeeded, total, shotsOK, shots, rec.ScreenChange)
	return Assessment{Success: confidence >= 50, Confidence: confidence, Reasoning: reasoning}
}

// PlannerStepEvaluator assesses an ad-hoc pattern built around a single
// planner-proposed action. It shares the default scoring so planner and
// heuristic steps stay comparable in the run record.
var PlannerStepEvaluator Evaluator = defaultEvaluator

// universalEvaluator is stricter: the wildcard pattern knows nothing about
// the game, so it caps its own confidence to keep escalation likely unless
// the page clearly reacted.
func universalEvaluator(rec ExecutionRecord) Assessment {
	a := defaultEvaluator(rec)
	const ceiling = 70
	if a.Confidence > ceiling {
		a.Confidence = ceiling
	}
	a.Success = a.Confidence >= 50
	a.Reasoning = "universal fallback: " + a.Reasoning
	return a
}

// registry is the process-wide pattern table, built once below.
var registry = buildRegistry()

// Patterns returns the full registry. Callers must treat it as read-only.
func Patterns() []Pattern { return registry }

// Universal returns the wildcard fallback pattern.
func Universal() Pattern { return registry[len(registry)-1] }

// ByGameType returns the pattern registered for a genre, or the universal
// fallback when the genre is unknown.
func ByGameType(gt schemas.GameType) Pattern {
	for _, p := range registry {
		if !p.Wildcard() && p.GameType == gt {
			return p
		}
	}
	return Universal()
}

func buildRegistry() []Pattern {
	short := 150 * time.Millisecond
	long := 500 * time.Millisecond

	patterns := []Pattern{
		{
			Name:     "platformer",
			GameType: schemas.GamePlatformer,
			Triggers: []string{"platformer", "jump", "run", "mario", "level", "side", "scroller"},
			Actions: []schemas.AtomicAction{
				shot(),
				key("Enter"), wait(long),
				key("ArrowRight"), key("ArrowRight"), key("Space"),
				wait(short), shot(),
				key("ArrowRight"), key("Space"), key("ArrowLeft"),
				wait(short), shot(),
			},
			Evaluate: defaultEvaluator,
		},
		{
			Name:     "puzzle",
			GameType: schemas.GamePuzzle,
			Triggers: []string{"puzzle", "tetris", "block", "match", "rotate", "grid", "tile"},
			Actions: []schemas.AtomicAction{
				shot(),
				key("ArrowLeft"), key("ArrowRight"), key("z"), key("x"),
				wait(short), shot(),
				key("ArrowDown"), key("Space"),
				wait(short), shot(),
			},
			Evaluate: defaultEvaluator,
		},
		{
			Name:     "point_and_click",
			GameType: schemas.GamePointAndClick,
			Triggers: []string{"adventure", "click", "point", "story", "escape", "hidden", "object"},
			Actions: []schemas.AtomicAction{
				shot(),
				gridCell(2, 2), wait(short),
				gridCell(1, 1), wait(short), shot(),
				gridCell(3, 3), wait(short),
				gridCell(2, 4), wait(short), shot(),
			},
			Evaluate: defaultEvaluator,
		},
		{
			Name:     "shooter",
			GameType: schemas.GameShooter,
			Triggers: []string{"shooter", "shoot", "aim", "gun", "enemy", "wave", "space", "invaders"},
			Actions: []schemas.AtomicAction{
				shot(),
				key("w"), key("a"), key("d"),
				gridCell(2, 2), gridCell(1, 3),
				wait(short), shot(),
				key("r"), gridCell(2, 1),
				wait(short), shot(),
			},
			Evaluate: defaultEvaluator,
		},
		{
			Name:     "arcade",
			GameType: schemas.GameArcade,
			Triggers: []string{"arcade", "classic", "retro", "score", "snake", "pong", "breakout"},
			Actions: []schemas.AtomicAction{
				shot(),
				key("Enter"), wait(long),
				key("ArrowUp"), key("ArrowRight"), key("ArrowDown"), key("ArrowLeft"),
				key("Space"),
				wait(short), shot(),
			},
			Evaluate: defaultEvaluator,
		},
		{
			Name:     "card",
			GameType: schemas.GameCard,
			Triggers: []string{"card", "deck", "solitaire", "poker", "hand", "deal"},
			Actions: []schemas.AtomicAction{
				shot(),
				gridCell(2, 1), wait(long),
				gridCell(2, 3), wait(long), shot(),
				gridCell(3, 2), wait(long), shot(),
			},
			Evaluate: defaultEvaluator,
		},
		{
			Name:     "racing",
			GameType: schemas.GameRacing,
			Triggers: []string{"racing", "race", "car", "drive", "track", "speed", "lap"},
			Actions: []schemas.AtomicAction{
				shot(),
				key("ArrowUp"), key("ArrowUp"), key("ArrowLeft"),
				wait(short),
				key("ArrowUp"), key("ArrowRight"),
				wait(short), shot(),
				key("ArrowDown"), wait(short), shot(),
			},
			Evaluate: defaultEvaluator,
		},
		{
			Name:     "rhythm",
			GameType: schemas.GameRhythm,
			Triggers: []string{"rhythm", "music", "beat", "dance", "note", "lane", "tap"},
			Actions: []schemas.AtomicAction{
				shot(),
				key("d"), key("f"), key("j"), key("k"),
				wait(short),
				key("d"), key("k"), key("Space"),
				wait(short), shot(),
			},
			Evaluate: defaultEvaluator,
		},
		{
			Name:     "strategy",
			GameType: schemas.GameStrategy,
			Triggers: []string{"strategy", "turn", "build", "unit", "tower", "defense", "command"},
			Actions: []schemas.AtomicAction{
				shot(),
				gridCell(2, 2), key("1"), wait(short),
				gridCell(1, 3), key("q"), wait(short), shot(),
				key("Space"), wait(long), shot(),
			},
			Evaluate: defaultEvaluator,
		},
		{
			Name:     "sports",
			GameType: schemas.GameSports,
			Triggers: []string{"sports", "soccer", "football", "basketball", "goal", "ball", "tennis"},
			Actions: []schemas.AtomicAction{
				shot(),
				key("ArrowRight"), key("ArrowUp"), key("Space"),
				wait(short),
				key("z"), key("x"),
				wait(short), shot(),
			},
			Evaluate: defaultEvaluator,
		},
		// The universal fallback stays last so Match can try it last. It
		// mixes every input family the way the original universal action
		// space did.
		{
			Name:     UniversalPatternName,
			GameType: schemas.GameUnknown,
			Triggers: nil,
			Actions: []schemas.AtomicAction{
				shot(),
				key("Enter"), wait(long),
				key("ArrowRight"), key("Space"), key("w"),
				gridCell(2, 2),
				wait(short), shot(),
				key("ArrowLeft"), key("d"),
				gridCell(1, 2), key("Tab"),
				wait(short), shot(),
			},
			Evaluate: universalEvaluator,
		},
	}
	return patterns
}
