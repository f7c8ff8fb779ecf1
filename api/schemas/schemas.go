// File: api/schemas/schemas.go
// Description: Shared data model for a probe run. These types cross package
// boundaries and are kept free of behavior so every component can depend on
// them without import cycles.

package schemas

import (
	"time"
)

// GameType is the detected genre of the target game. It selects which
// heuristic pattern family the engine prefers.
type GameType string

const (
	GamePlatformer    GameType = "platformer"
	GamePuzzle        GameType = "puzzle"
	GamePointAndClick GameType = "point_and_click"
	GameShooter       GameType = "shooter"
	GameArcade        GameType = "arcade"
	GameCard          GameType = "card"
	GameRacing        GameType = "racing"
	GameRhythm        GameType = "rhythm"
	GameStrategy      GameType = "strategy"
	GameSports        GameType = "sports"
	// GameUnknown is used when detection failed or returned low confidence.
	// The universal fallback pattern still matches it.
	GameUnknown GameType = "unknown"
)

// KnownGameTypes lists every detectable genre, excluding GameUnknown.
func KnownGameTypes() []GameType {
	return []GameType{
		GamePlatformer, GamePuzzle, GamePointAndClick, GameShooter,
		GameArcade, GameCard, GameRacing, GameRhythm, GameStrategy, GameSports,
	}
}

// ActionKind identifies one of the four atomic browser primitives.
type ActionKind string

const (
	ActionClick      ActionKind = "click"
	ActionKey        ActionKind = "key"
	ActionWait       ActionKind = "wait"
	ActionScreenshot ActionKind = "screenshot"
)

// AtomicAction is a single browser input. Click coordinates are normalized to
// [0,1] of the viewport so patterns stay resolution independent; the session
// scales them to pixels at dispatch time.
type AtomicAction struct {
	Kind ActionKind    `json:"kind"`
	Key  string        `json:"key,omitempty"`
	X    float64       `json:"x,omitempty"`
	Y    float64       `json:"y,omitempty"`
	Wait time.Duration `json:"wait,omitempty"`
}

// ActionOutcome is the result of one atomic action. It is always a value:
// executing an action never raises, so a broken action cannot abort the
// sequence it belongs to.
type ActionOutcome struct {
	Action   AtomicAction  `json:"action"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// StrategyKind says how a step's actions were chosen.
type StrategyKind string

const (
	StrategyHeuristic StrategyKind = "heuristic"
	StrategyPlanner   StrategyKind = "planner"
)

// EvidenceKind tags what a recorded evidence payload contains.
type EvidenceKind string

const (
	EvidenceScreenshot   EvidenceKind = "screenshot"
	EvidencePlannerTrace EvidenceKind = "planner_trace"
	EvidenceStateNote    EvidenceKind = "state_note"
)

// EvidenceRef is an opaque handle into the evidence collector. Steps and
// results carry references, never payloads.
type EvidenceRef string

// Step is one attempted interaction with the game. Steps are appended in
// strictly increasing index order starting at 0 and are immutable once
// recorded.
type Step struct {
	Index        int             `json:"index"`
	Strategy     StrategyKind    `json:"strategy"`
	PatternName  string          `json:"pattern_name,omitempty"`
	Confidence   int             `json:"confidence"`
	Success      bool            `json:"success"`
	Reasoning    string          `json:"reasoning,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Outcomes     []ActionOutcome `json:"outcomes,omitempty"`
	EvidenceRefs []EvidenceRef   `json:"evidence_refs,omitempty"`
}

// TestRunConfig describes a single probe run. It is validated once by the
// orchestrator and immutable afterwards.
type TestRunConfig struct {
	TargetURL      string        `json:"target_url"`
	MaxActions     int           `json:"max_actions"`
	SessionTimeout time.Duration `json:"session_timeout"`
	InputHint      string        `json:"input_hint,omitempty"`
}

// Defaults for TestRunConfig fields left at their zero value.
const (
	DefaultMaxActions     = 20
	DefaultSessionTimeout = 300 * time.Second
)

// ApplyDefaults fills zero-valued fields with the package defaults.
func (c *TestRunConfig) ApplyDefaults() {
	if c.MaxActions <= 0 {
		c.MaxActions = DefaultMaxActions
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
}

// RunStatus is the aggregate outcome of a run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
	RunPartial RunStatus = "partial"
)

// Severity grades an evaluator issue.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Issue is one problem the evaluator observed during the run.
type Issue struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
}

// Evaluation is the external evaluator's verdict over the whole run.
type Evaluation struct {
	// Scores maps a dimension name (e.g. "responsiveness", "playability")
	// to a 0-100 score.
	Scores    map[string]int `json:"scores"`
	Reasoning string         `json:"reasoning"`
	Issues    []Issue        `json:"issues,omitempty"`
}

// Classification is the planner's one-shot genre detection verdict.
type Classification struct {
	GameType   GameType `json:"game_type"`
	Confidence int      `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// PlannedAction is a single next action proposed by the adaptive planner.
type PlannedAction struct {
	Action    AtomicAction `json:"action"`
	Rationale string       `json:"rationale,omitempty"`
}

// PageSignal is a cheap textual summary of the current page, fed to the
// heuristic matcher and the planner prompts.
type PageSignal struct {
	Title    string   `json:"title,omitempty"`
	Text     string   `json:"text,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// ResultMeta carries run bookkeeping that is not part of the step record.
type ResultMeta struct {
	GameType           GameType `json:"game_type"`
	DetectionDegraded  bool     `json:"detection_degraded,omitempty"`
	AcquisitionRetries int      `json:"acquisition_retries,omitempty"`
	EvaluationRetries  int      `json:"evaluation_retries,omitempty"`
	TimedOut           bool     `json:"timed_out,omitempty"`
	TerminalState      string   `json:"terminal_state,omitempty"`
}

// TestResult is the aggregate of a finished run. It is assembled only after
// the step loop has terminated and is immutable once produced.
type TestResult struct {
	RunID        string        `json:"run_id"`
	TargetURL    string        `json:"target_url"`
	Status       RunStatus     `json:"status"`
	Steps        []Step        `json:"steps"`
	Evaluation   *Evaluation   `json:"evaluation,omitempty"`
	EvidenceRefs []EvidenceRef `json:"evidence_refs,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Meta         ResultMeta    `json:"meta"`
}
