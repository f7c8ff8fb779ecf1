// File: internal/engine/selector_test.go
package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/argus-qa/playprobe/api/schemas"
)

func step(strategy schemas.StrategyKind, confidence int) schemas.Step {
	return schemas.Step{Strategy: strategy, Confidence: confidence}
}

func TestSelectFirstStepIsHeuristic(t *testing.T) {
	t.Parallel()

	// Classification has already spent the opening planner call by the time
	// the loop asks for step 0.
	sel := NewSelector(65, zap.NewNop())
	d := sel.Select(0, nil)
	assert.Equal(t, schemas.StrategyHeuristic, d.Strategy)
}

func TestSelectEscalationPolicy(t *testing.T) {
	t.Parallel()

	sel := NewSelector(65, zap.NewNop())

	tests := []struct {
		name    string
		history []schemas.Step
		want    schemas.StrategyKind
	}{
		{
			name:    "confident heuristic keeps playing",
			history: []schemas.Step{step(schemas.StrategyHeuristic, 72), step(schemas.StrategyHeuristic, 80)},
			want:    schemas.StrategyHeuristic,
		},
		{
			name:    "low confidence escalates",
			history: []schemas.Step{step(schemas.StrategyHeuristic, 80), step(schemas.StrategyHeuristic, 40)},
			want:    schemas.StrategyPlanner,
		},
		{
			name:    "exactly at threshold stays heuristic",
			history: []schemas.Step{step(schemas.StrategyHeuristic, 80), step(schemas.StrategyHeuristic, 65)},
			want:    schemas.StrategyHeuristic,
		},
		{
			name: "escalation is not sticky",
			history: []schemas.Step{
				step(schemas.StrategyHeuristic, 80),
				step(schemas.StrategyHeuristic, 40),
				step(schemas.StrategyPlanner, 0),
			},
			want: schemas.StrategyHeuristic,
		},
		{
			name:    "a lone planner step yields back to heuristics",
			history: []schemas.Step{step(schemas.StrategyPlanner, 0)},
			want:    schemas.StrategyHeuristic,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := sel.Select(len(tc.history), tc.history)
			assert.Equal(t, tc.want, d.Strategy)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestSelectDeterministic(t *testing.T) {
	t.Parallel()

	sel := NewSelector(65, zap.NewNop())
	history := []schemas.Step{
		step(schemas.StrategyPlanner, 0),
		step(schemas.StrategyHeuristic, 30),
	}
	first := sel.Select(2, history)
	second := sel.Select(2, history)
	assert.Equal(t, first, second)
}
