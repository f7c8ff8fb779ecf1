// File: internal/engine/selector.go
// Description: Decides, per step, whether the next action comes from the
// heuristic pattern library or from the LLM planner.

// Package engine holds the escalation policy that arbitrates between cheap
// heuristic play and expensive planner calls.
package engine

import (
	"go.uber.org/zap"

	"github.com/argus-qa/playprobe/api/schemas"
)

// Decision is the outcome of one strategy selection.
type Decision struct {
	Strategy schemas.StrategyKind
	// Reason is a short, log-friendly explanation of the choice.
	Reason string
}

// Selector applies the escalation policy. It is stateless; everything it
// needs is derivable from the step index and the recorded history, so a
// replay of the same history yields the same decisions.
type Selector struct {
	threshold int
	logger    *zap.Logger
}

// NewSelector creates a selector with the given confidence threshold.
// A heuristic step reporting confidence strictly below the threshold forces
// the planner for the step that follows it.
func NewSelector(threshold int, logger *zap.Logger) *Selector {
	return &Selector{threshold: threshold, logger: logger.Named("engine")}
}

// Select returns the strategy for the step at stepIndex given the steps
// recorded so far. Genre classification spends the run's opening planner
// call before the loop starts, so the per-step policy is purely
// escalation-driven:
//
//   - If the immediately preceding step was heuristic and reported confidence
//     below the threshold, the planner handles this one step. The escalation
//     is not sticky: a planner step resets the decision.
//   - Otherwise the heuristic library plays, step 0 included.
func (s *Selector) Select(stepIndex int, history []schemas.Step) Decision {
	if prev, ok := lastStep(history); ok &&
		prev.Strategy == schemas.StrategyHeuristic && prev.Confidence < s.threshold {
		return s.decided(stepIndex, schemas.StrategyPlanner,
			"previous heuristic step below confidence threshold")
	}

	return s.decided(stepIndex, schemas.StrategyHeuristic, "heuristics confident")
}

func (s *Selector) decided(stepIndex int, kind schemas.StrategyKind, reason string) Decision {
	s.logger.Debug("Strategy selected",
		zap.Int("step", stepIndex),
		zap.String("strategy", string(kind)),
		zap.String("reason", reason))
	return Decision{Strategy: kind, Reason: reason}
}

func lastStep(history []schemas.Step) (schemas.Step, bool) {
	if len(history) == 0 {
		return schemas.Step{}, false
	}
	return history[len(history)-1], true
}
