// File: internal/heuristics/heuristics_test.go
package heuristics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argus-qa/playprobe/api/schemas"
)

// -- Mock implementations --

// mockSession is a scriptable schemas.Session.
type mockSession struct {
	mu         sync.Mutex
	calls      []string
	failKinds  map[schemas.ActionKind]error
	screenshot func(call int) []byte
	shots      int
}

func newMockSession() *mockSession {
	return &mockSession{
		failKinds: map[schemas.ActionKind]error{},
		screenshot: func(int) []byte {
			return []byte("imagedata")
		},
	}
}

func (m *mockSession) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockSession) ID() string        { return "mock-session" }
func (m *mockSession) TargetURL() string { return "https://good.example/game" }

func (m *mockSession) Click(_ context.Context, x, y float64) error {
	m.record(fmt.Sprintf("click(%.2f,%.2f)", x, y))
	return m.failKinds[schemas.ActionClick]
}

func (m *mockSession) PressKey(_ context.Context, key string) error {
	m.record("key(" + key + ")")
	return m.failKinds[schemas.ActionKey]
}

func (m *mockSession) Wait(_ context.Context, d time.Duration) error {
	m.record("wait")
	return m.failKinds[schemas.ActionWait]
}

func (m *mockSession) Screenshot(_ context.Context) ([]byte, error) {
	m.record("screenshot")
	if err := m.failKinds[schemas.ActionScreenshot]; err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.shots++
	n := m.shots
	m.mu.Unlock()
	return m.screenshot(n), nil
}

func (m *mockSession) PageSignal(_ context.Context) (schemas.PageSignal, error) {
	return schemas.PageSignal{}, nil
}

// mockSink is an in-memory schemas.EvidenceSink.
type mockSink struct {
	mu      sync.Mutex
	records []schemas.EvidenceKind
	err     error
}

func (m *mockSink) Record(stepIndex int, kind schemas.EvidenceKind, payload []byte) (schemas.EvidenceRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.records = append(m.records, kind)
	return schemas.EvidenceRef(fmt.Sprintf("ref-%d", len(m.records))), nil
}

// -- Registry tests --

func TestRegistryInvariants(t *testing.T) {
	t.Parallel()

	patterns := Patterns()
	require.NotEmpty(t, patterns)

	seen := map[string]bool{}
	for _, p := range patterns {
		assert.False(t, seen[p.Name], "duplicate pattern name %q", p.Name)
		seen[p.Name] = true
		assert.NotEmpty(t, p.Actions, "pattern %q has no actions", p.Name)
		assert.NotNil(t, p.Evaluate, "pattern %q has no evaluator", p.Name)
	}

	last := patterns[len(patterns)-1]
	assert.Equal(t, UniversalPatternName, last.Name, "universal fallback must be registered last")
	assert.True(t, last.Wildcard())
}

func TestRegistryCoversAllKnownGameTypes(t *testing.T) {
	t.Parallel()

	for _, gt := range schemas.KnownGameTypes() {
		p := ByGameType(gt)
		assert.Equal(t, gt, p.GameType, "no dedicated pattern for %q", gt)
	}
}

func TestByGameTypeUnknownFallsBack(t *testing.T) {
	t.Parallel()

	assert.Equal(t, UniversalPatternName, ByGameType(schemas.GameUnknown).Name)
	assert.Equal(t, UniversalPatternName, ByGameType("no_such_genre").Name)
}

// -- Match tests --

func TestMatchPrefersDetectedGameType(t *testing.T) {
	t.Parallel()

	// Even with puzzle vocabulary on the page, a platformer detection wins.
	signal := schemas.PageSignal{Keywords: []string{"tetris", "block", "rotate"}}
	p := Match(schemas.GamePlatformer, signal, "")
	assert.Equal(t, "platformer", p.Name)
}

func TestMatchByKeywordOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		keywords []string
		hint     string
		want     string
	}{
		{"puzzle vocabulary", []string{"tetris", "block", "rotate"}, "", "puzzle"},
		{"racing vocabulary", []string{"race", "lap", "speed"}, "", "racing"},
		{"hint contributes", nil, "this is a rhythm game with lanes", "rhythm"},
		{"nothing matches falls back", []string{"zzz", "qqq"}, "", UniversalPatternName},
		{"empty signal falls back", nil, "", UniversalPatternName},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			signal := schemas.PageSignal{Keywords: tc.keywords}
			p := Match(schemas.GameUnknown, signal, tc.hint)
			assert.Equal(t, tc.want, p.Name)
		})
	}
}

func TestMatchUniversalNeverMasksABetterFit(t *testing.T) {
	t.Parallel()

	// A single overlapping trigger must beat the wildcard.
	signal := schemas.PageSignal{Keywords: []string{"solitaire"}}
	p := Match(schemas.GameUnknown, signal, "")
	assert.Equal(t, "card", p.Name)
}

// -- Executor tests --

func TestExecuteRunsFullSequence(t *testing.T) {
	t.Parallel()

	sess := newMockSession()
	sink := &mockSink{}
	exec := NewExecutor(zap.NewNop())

	p := ByGameType(schemas.GamePlatformer)
	res := exec.Execute(context.Background(), p, sess, sink, 1)

	assert.Len(t, res.Outcomes, len(p.Actions), "every action produces exactly one outcome")
	for _, o := range res.Outcomes {
		assert.True(t, o.Success)
	}
	assert.NotEmpty(t, res.EvidenceRefs, "screenshots must be recorded as evidence")
	assert.Greater(t, res.Assessment.Confidence, 0)
}

func TestExecuteAbsorbsFailingActions(t *testing.T) {
	t.Parallel()

	sess := newMockSession()
	sess.failKinds[schemas.ActionClick] = errors.New("element detached")
	sink := &mockSink{}
	exec := NewExecutor(zap.NewNop())

	p := ByGameType(schemas.GamePointAndClick) // click-heavy pattern
	res := exec.Execute(context.Background(), p, sess, sink, 0)

	require.Len(t, res.Outcomes, len(p.Actions), "a failing click must not abort the sequence")

	var clickFailures, otherSuccesses int
	for _, o := range res.Outcomes {
		if o.Action.Kind == schemas.ActionClick {
			assert.False(t, o.Success)
			assert.Contains(t, o.Error, "element detached")
			clickFailures++
		} else if o.Success {
			otherSuccesses++
		}
	}
	assert.Greater(t, clickFailures, 0)
	assert.Greater(t, otherSuccesses, 0, "actions after the failures still executed")

	// The pattern still scores itself; no error escapes.
	assert.GreaterOrEqual(t, res.Assessment.Confidence, 0)
	assert.LessOrEqual(t, res.Assessment.Confidence, 100)
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	sess := newMockSession()
	sink := &mockSink{}
	exec := NewExecutor(zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := ByGameType(schemas.GameArcade)
	res := exec.Execute(ctx, p, sess, sink, 0)

	assert.Empty(t, res.Outcomes)
	assert.Equal(t, 0, res.Assessment.Confidence)
}

func TestExecuteScreenChangeFeedsConfidence(t *testing.T) {
	t.Parallel()

	static := newMockSession()
	static.screenshot = func(int) []byte { return []byte("identical-frame-data") }

	changing := newMockSession()
	changing.screenshot = func(n int) []byte {
		return []byte(fmt.Sprintf("frame-%d-%d-%d-%d-%d-%d", n, n*7, n*13, n*17, n*19, n*23))
	}

	exec := NewExecutor(zap.NewNop())
	p := ByGameType(schemas.GameArcade)

	staticRes := exec.Execute(context.Background(), p, static, &mockSink{}, 0)
	changingRes := exec.Execute(context.Background(), p, changing, &mockSink{}, 0)

	assert.Greater(t, changingRes.Assessment.Confidence, staticRes.Assessment.Confidence,
		"a visibly changing screen must score higher than a frozen one")
}

func TestExecuteSinkFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	sess := newMockSession()
	sink := &mockSink{err: errors.New("sink full")}
	exec := NewExecutor(zap.NewNop())

	p := ByGameType(schemas.GameArcade)
	res := exec.Execute(context.Background(), p, sess, sink, 0)

	assert.Len(t, res.Outcomes, len(p.Actions))
	assert.Empty(t, res.EvidenceRefs)
}

// -- Evaluator tests --

func TestDefaultEvaluatorIsDeterministic(t *testing.T) {
	t.Parallel()

	rec := ExecutionRecord{
		Outcomes: []schemas.ActionOutcome{
			{Action: schemas.AtomicAction{Kind: schemas.ActionKey}, Success: true},
			{Action: schemas.AtomicAction{Kind: schemas.ActionScreenshot}, Success: true},
			{Action: schemas.AtomicAction{Kind: schemas.ActionClick}, Success: false},
		},
		ScreenChange: 0.3,
	}

	first := defaultEvaluator(rec)
	second := defaultEvaluator(rec)
	assert.Equal(t, first, second)
}

func TestDefaultEvaluatorEmptyOutcomes(t *testing.T) {
	t.Parallel()

	a := defaultEvaluator(ExecutionRecord{})
	assert.False(t, a.Success)
	assert.Equal(t, 0, a.Confidence)
}

func TestUniversalEvaluatorCapsConfidence(t *testing.T) {
	t.Parallel()

	outcomes := make([]schemas.ActionOutcome, 10)
	for i := range outcomes {
		kind := schemas.ActionKey
		if i%3 == 0 {
			kind = schemas.ActionScreenshot
		}
		outcomes[i] = schemas.ActionOutcome{Action: schemas.AtomicAction{Kind: kind}, Success: true}
	}
	a := universalEvaluator(ExecutionRecord{Outcomes: outcomes, ScreenChange: 0.5})
	assert.LessOrEqual(t, a.Confidence, 70, "wildcard pattern must not report high confidence")
}
