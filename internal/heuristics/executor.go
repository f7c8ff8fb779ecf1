// File: internal/heuristics/executor.go
// Description: Runs a pattern's action sequence against a live session.
// Actions share one page's input focus, so execution is strictly sequential.
// A failing atomic action is absorbed into a failed ActionOutcome and the
// sequence continues; the executor itself never fails a step.

package heuristics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/argus-qa/playprobe/api/schemas"
)

// ExecutionResult is the full record of one executed pattern.
type ExecutionResult struct {
	Outcomes     []schemas.ActionOutcome
	EvidenceRefs []schemas.EvidenceRef
	Assessment   Assessment
}

// Executor runs patterns. It is stateless and safe for concurrent use by
// independent runs.
type Executor struct {
	logger *zap.Logger
}

// NewExecutor creates an executor.
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger.Named("heuristics")}
}

// Execute runs every action of the pattern in order against the session,
// recording screenshots to the evidence sink, and finishes with the pattern's
// own assessment of the recorded outcomes. It never returns an error: a
// cancelled context stops dispatching further actions, and whatever was
// recorded up to that point is still assessed.
func (e *Executor) Execute(
	ctx context.Context,
	p Pattern,
	s schemas.Session,
	sink schemas.EvidenceSink,
	stepIndex int,
) ExecutionResult {
	log := e.logger.With(zap.String("pattern", p.Name), zap.Int("step", stepIndex))

	res := ExecutionResult{
		Outcomes: make([]schemas.ActionOutcome, 0, len(p.Actions)),
	}

	var prevShot []byte
	maxChange := 0.0

	for i, action := range p.Actions {
		if ctx.Err() != nil {
			log.Debug("Context done, stopping pattern early", zap.Int("action", i))
			break
		}

		start := time.Now()
		payload, err := e.dispatch(ctx, action, s)
		outcome := schemas.ActionOutcome{
			Action:   action,
			Success:  err == nil,
			Duration: time.Since(start),
		}
		if err != nil {
			outcome.Error = err.Error()
			log.Debug("Atomic action failed, continuing",
				zap.String("kind", string(action.Kind)), zap.Error(err))
		}

		if action.Kind == schemas.ActionScreenshot && err == nil {
			if ref, recErr := sink.Record(stepIndex, schemas.EvidenceScreenshot, payload); recErr == nil {
				res.EvidenceRefs = append(res.EvidenceRefs, ref)
			} else {
				log.Warn("Failed to record screenshot evidence", zap.Error(recErr))
			}
			if prevShot != nil {
				if change := byteChangeRatio(prevShot, payload); change > maxChange {
					maxChange = change
				}
			}
			prevShot = payload
		}

		res.Outcomes = append(res.Outcomes, outcome)
	}

	res.Assessment = p.Evaluate(ExecutionRecord{Outcomes: res.Outcomes, ScreenChange: maxChange})
	log.Debug("Pattern executed",
		zap.Int("actions", len(res.Outcomes)),
		zap.Int("confidence", res.Assessment.Confidence),
		zap.Bool("success", res.Assessment.Success))
	return res
}

// dispatch issues one atomic action. Screenshot actions return the captured
// payload so the caller can record it.
func (e *Executor) dispatch(ctx context.Context, a schemas.AtomicAction, s schemas.Session) ([]byte, error) {
	switch a.Kind {
	case schemas.ActionClick:
		return nil, s.Click(ctx, a.X, a.Y)
	case schemas.ActionKey:
		return nil, s.PressKey(ctx, a.Key)
	case schemas.ActionWait:
		return nil, s.Wait(ctx, a.Wait)
	case schemas.ActionScreenshot:
		return s.Screenshot(ctx)
	default:
		return nil, fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

// byteChangeRatio estimates how much two captures differ, as the fraction of
// differing bytes over the shorter payload. It is a coarse liveness signal,
// not an image diff.
func byteChangeRatio(a, b []byte) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	diff := 0
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			diff++
		}
	}
	// Size differences count as change too.
	if len(a) != len(b) {
		diff += len(a) + len(b) - 2*n
		n = len(a) + len(b) - n
	}
	return float64(diff) / float64(n)
}
