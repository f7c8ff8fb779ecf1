// File: api/schemas/interfaces.go
// Description: Contracts for the external collaborators the core consumes.
// Keeping them here lets the orchestrator, engine and heuristics depend on
// behavior without being coupled to chromedp or any particular LLM backend.

package schemas

import (
	"context"
	"time"
)

// Session is a live handle to a remote browser/game instance. It is
// exclusively owned by one orchestrator run and must never be shared.
type Session interface {
	// ID returns a stable identifier for logging and evidence correlation.
	ID() string
	// TargetURL returns the URL the session was acquired for.
	TargetURL() string

	// Click dispatches a mouse click at normalized [0,1] viewport coordinates.
	Click(ctx context.Context, x, y float64) error
	// PressKey dispatches a key press (down+up) for a DOM key name such as
	// "ArrowLeft", "Space" or "w".
	PressKey(ctx context.Context, key string) error
	// Wait pauses within the page's time domain for the given duration.
	Wait(ctx context.Context, d time.Duration) error
	// Screenshot captures the current viewport as an encoded image.
	Screenshot(ctx context.Context) ([]byte, error)
	// PageSignal extracts the page title and visible text for cheap
	// state/genre detection.
	PageSignal(ctx context.Context) (PageSignal, error)
}

// SessionProvider acquires and releases browser sessions. Release must be
// idempotent: releasing an already-released handle has no additional effect.
type SessionProvider interface {
	Acquire(ctx context.Context, cfg TestRunConfig) (Session, error)
	Release(ctx context.Context, s Session) error
}

// PlannerContext is the state handed to the planner when it is asked for the
// next action.
type PlannerContext struct {
	StepIndex  int
	GameType   GameType
	History    []Step
	PageSignal PageSignal
	InputHint  string
}

// Planner is the adaptive, model-backed strategy. It is expensive and is only
// consulted for genre detection and after visible heuristic failure.
type Planner interface {
	// ClassifyGameType inspects the live page once and names the genre.
	// A low-confidence or failed classification is not fatal to the run.
	ClassifyGameType(ctx context.Context, s Session, hint string) (Classification, error)
	// PlanNextAction observes current page state and proposes a single
	// next action.
	PlanNextAction(ctx context.Context, s Session, pc PlannerContext) (PlannedAction, error)
}

// Evaluator scores a finished run from its recorded steps and evidence.
type Evaluator interface {
	Evaluate(ctx context.Context, steps []Step, refs []EvidenceRef) (Evaluation, error)
}

// EvidenceSink is an append-only record of per-step captures.
type EvidenceSink interface {
	// Record stores a payload and returns an opaque reference to it.
	// stepIndex is -1 for run-level evidence recorded outside any step.
	Record(stepIndex int, kind EvidenceKind, payload []byte) (EvidenceRef, error)
}
