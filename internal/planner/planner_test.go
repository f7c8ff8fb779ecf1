// File: internal/planner/planner_test.go
package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argus-qa/playprobe/api/schemas"
	"github.com/argus-qa/playprobe/internal/config"
)

// stubGenerator replays canned responses and records requests.
type stubGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []GenerationRequest
	models    []string
}

func (g *stubGenerator) GenerateResponse(_ context.Context, model string, req GenerationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	g.models = append(g.models, model)
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", errors.New("stub exhausted")
	}
	resp := g.responses[0]
	g.responses = g.responses[1:]
	return resp, nil
}

// stubSession serves a fixed screenshot and page signal.
type stubSession struct {
	signal    schemas.PageSignal
	shotErr   error
	signalErr error
}

func (s *stubSession) ID() string                                    { return "stub" }
func (s *stubSession) TargetURL() string                             { return "https://good.example/game" }
func (s *stubSession) Click(context.Context, float64, float64) error { return nil }
func (s *stubSession) PressKey(context.Context, string) error        { return nil }
func (s *stubSession) Wait(context.Context, time.Duration) error     { return nil }

func (s *stubSession) Screenshot(context.Context) ([]byte, error) {
	if s.shotErr != nil {
		return nil, s.shotErr
	}
	return []byte("png"), nil
}

func (s *stubSession) PageSignal(context.Context) (schemas.PageSignal, error) {
	if s.signalErr != nil {
		return schemas.PageSignal{}, s.signalErr
	}
	return s.signal, nil
}

// traceSink records planner-trace kinds and the step they were filed under.
type traceSink struct {
	mu      sync.Mutex
	kinds   []schemas.EvidenceKind
	indices []int
}

func (t *traceSink) Record(stepIndex int, kind schemas.EvidenceKind, _ []byte) (schemas.EvidenceRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kinds = append(t.kinds, kind)
	t.indices = append(t.indices, stepIndex)
	return "trace-ref", nil
}

func newTestPlanner(t *testing.T, gen generator, sink schemas.EvidenceSink) *LLMPlanner {
	t.Helper()
	p, err := NewLLMPlanner(gen, config.PlannerConfig{Model: "gemini-2.5-flash"}, sink, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestNewLLMPlannerRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewLLMPlanner(nil, config.PlannerConfig{}, nil, zap.NewNop())
	require.Error(t, err)
}

func TestClassifyGameType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
		wantType schemas.GameType
		wantConf int
	}{
		{
			name:     "plain JSON",
			response: `{"game_type": "puzzle", "confidence": 85, "reasoning": "tetris grid visible"}`,
			wantType: schemas.GamePuzzle,
			wantConf: 85,
		},
		{
			name:     "fenced JSON",
			response: "Here you go:\n```json\n{\"game_type\": \"racing\", \"confidence\": 70}\n```",
			wantType: schemas.GameRacing,
			wantConf: 70,
		},
		{
			name:     "unlisted genre degrades to unknown",
			response: `{"game_type": "roguelike", "confidence": 90}`,
			wantType: schemas.GameUnknown,
			wantConf: 90,
		},
		{
			name:     "out of range confidence is clamped",
			response: `{"game_type": "arcade", "confidence": 240}`,
			wantType: schemas.GameArcade,
			wantConf: 100,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gen := &stubGenerator{responses: []string{tc.response}}
			p := newTestPlanner(t, gen, nil)

			cls, err := p.ClassifyGameType(context.Background(), &stubSession{}, "")
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, cls.GameType)
			assert.Equal(t, tc.wantConf, cls.Confidence)
		})
	}
}

func TestClassifyGameTypePromptCarriesSignalAndHint(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{responses: []string{`{"game_type": "puzzle", "confidence": 50}`}}
	p := newTestPlanner(t, gen, nil)

	sess := &stubSession{signal: schemas.PageSignal{Title: "Block Drop", Text: "press z to rotate"}}
	_, err := p.ClassifyGameType(context.Background(), sess, "arrow keys only")
	require.NoError(t, err)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Contains(t, req.UserPrompt, "Block Drop")
	assert.Contains(t, req.UserPrompt, "press z to rotate")
	assert.Contains(t, req.UserPrompt, "arrow keys only")
	assert.Len(t, req.Images, 1)
	assert.True(t, req.ForceJSON)
}

func TestClassifyGameTypeScreenshotFailure(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{responses: []string{`{"game_type": "puzzle", "confidence": 50}`}}
	p := newTestPlanner(t, gen, nil)

	_, err := p.ClassifyGameType(context.Background(), &stubSession{shotErr: errors.New("page gone")}, "")
	require.Error(t, err)
	assert.Empty(t, gen.requests, "no model call without an observation")
}

func TestClassifyGameTypeSurvivesSignalFailure(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{responses: []string{`{"game_type": "arcade", "confidence": 40}`}}
	p := newTestPlanner(t, gen, nil)

	cls, err := p.ClassifyGameType(context.Background(), &stubSession{signalErr: errors.New("evaluate failed")}, "")
	require.NoError(t, err)
	assert.Equal(t, schemas.GameArcade, cls.GameType)
}

func TestPlanNextAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
		want     schemas.AtomicAction
		wantErr  bool
	}{
		{
			name:     "key action",
			response: `{"action": {"kind": "key", "key": "ArrowRight"}, "rationale": "move right"}`,
			want:     schemas.AtomicAction{Kind: schemas.ActionKey, Key: "ArrowRight"},
		},
		{
			name:     "click with clamped coords",
			response: `{"action": {"kind": "click", "x": 1.7, "y": -0.2}}`,
			want:     schemas.AtomicAction{Kind: schemas.ActionClick, X: 1, Y: 0},
		},
		{
			name:     "wait gets bounded",
			response: `{"action": {"kind": "wait", "wait_ms": 60000}}`,
			want:     schemas.AtomicAction{Kind: schemas.ActionWait, Wait: 5 * time.Second},
		},
		{
			name:     "wait default when unset",
			response: `{"action": {"kind": "wait"}}`,
			want:     schemas.AtomicAction{Kind: schemas.ActionWait, Wait: 500 * time.Millisecond},
		},
		{
			name:     "key without name is rejected",
			response: `{"action": {"kind": "key"}}`,
			wantErr:  true,
		},
		{
			name:     "unknown kind is rejected",
			response: `{"action": {"kind": "drag"}}`,
			wantErr:  true,
		},
		{
			name:     "garbage is rejected",
			response: `the game looks fun, maybe click around?`,
			wantErr:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gen := &stubGenerator{responses: []string{tc.response}}
			p := newTestPlanner(t, gen, nil)

			planned, err := p.PlanNextAction(context.Background(), &stubSession{}, schemas.PlannerContext{StepIndex: 2})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, planned.Action); diff != "" {
				t.Errorf("planned action mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlanNextActionPromptCarriesHistory(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{responses: []string{`{"action": {"kind": "screenshot"}}`}}
	p := newTestPlanner(t, gen, nil)

	pc := schemas.PlannerContext{
		StepIndex: 3,
		GameType:  schemas.GamePlatformer,
		History: []schemas.Step{
			{Index: 0, Strategy: schemas.StrategyPlanner, Success: true, Confidence: 0},
			{Index: 1, Strategy: schemas.StrategyHeuristic, PatternName: "platformer", Success: false, Confidence: 30},
		},
	}
	_, err := p.PlanNextAction(context.Background(), &stubSession{}, pc)
	require.NoError(t, err)

	require.Len(t, gen.requests, 1)
	prompt := gen.requests[0].UserPrompt
	assert.Contains(t, prompt, "Step 3")
	assert.Contains(t, prompt, "platformer")
	assert.Contains(t, prompt, "step 1")
}

func TestPlannerRecordsTraces(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{responses: []string{
		`{"game_type": "card", "confidence": 60}`,
		`{"action": {"kind": "screenshot"}}`,
	}}
	sink := &traceSink{}
	p := newTestPlanner(t, gen, sink)

	_, err := p.ClassifyGameType(context.Background(), &stubSession{}, "")
	require.NoError(t, err)

	_, err = p.PlanNextAction(context.Background(), &stubSession{}, schemas.PlannerContext{StepIndex: 4})
	require.NoError(t, err)

	require.Len(t, sink.kinds, 2)
	assert.Equal(t, schemas.EvidencePlannerTrace, sink.kinds[0])
	assert.Equal(t, -1, sink.indices[0], "classification is run-level")
	assert.Equal(t, 4, sink.indices[1], "a planned step's trace lands on that step")
}

func TestUnmarshalResponseVariants(t *testing.T) {
	t.Parallel()

	type out struct {
		A string `json:"a"`
	}

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"raw object", `{"a": "x"}`, "x", false},
		{"fenced", "```json\n{\"a\": \"y\"}\n```", "y", false},
		{"fenced without language tag", "```\n{\"a\": \"z\"}\n```", "z", false},
		{"prose around object", `Sure! {"a": "w"} Hope that helps.`, "w", false},
		{"no JSON at all", "just words", "", true},
		{"empty", "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var o out
			err := ExtractJSON(tc.in, &o)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, o.A)
		})
	}
}
