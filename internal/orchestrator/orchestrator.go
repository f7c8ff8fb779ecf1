// File: internal/orchestrator/orchestrator.go
// Description: Drives one exploratory test run end to end through its state
// machine. It is injected with fully configured collaborators via interfaces,
// making it decoupled and testable.

// Package orchestrator owns the test-run lifecycle: validation, session
// acquisition, genre detection, the bounded step loop, evaluation and
// cleanup. The session is released exactly once on every exit path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/argus-qa/playprobe/api/schemas"
	"github.com/argus-qa/playprobe/internal/config"
	"github.com/argus-qa/playprobe/internal/engine"
	"github.com/argus-qa/playprobe/internal/evidence"
	"github.com/argus-qa/playprobe/internal/faults"
	"github.com/argus-qa/playprobe/internal/heuristics"
	"github.com/argus-qa/playprobe/internal/statedetect"
)

// State names one phase of a run's lifecycle.
type State string

const (
	StateCreated         State = "Created"
	StateValidating      State = "Validating"
	StateSessionAcquired State = "SessionAcquired"
	StateDetecting       State = "Detecting"
	StateLooping         State = "Looping"
	StateEvaluating      State = "Evaluating"
	StateCompleted       State = "Completed"
	StateFailed          State = "Failed"
	StateCleanup         State = "Cleanup"
)

// Orchestrator manages the high-level lifecycle of test runs. One instance
// serves many runs; all per-run state lives in the run struct.
type Orchestrator struct {
	cfg       *config.Config
	logger    *zap.Logger
	provider  schemas.SessionProvider
	planner   schemas.Planner
	evaluator schemas.Evaluator

	validator *targetValidator
	selector  *engine.Selector
	executor  *heuristics.Executor
}

// New creates an Orchestrator with its dependencies provided as interfaces.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	provider schemas.SessionProvider,
	planner schemas.Planner,
	evaluator schemas.Evaluator,
) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		provider == nil ||
		planner == nil ||
		evaluator == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		provider:  provider,
		planner:   planner,
		evaluator: evaluator,
		validator: newTargetValidator(),
		selector:  engine.NewSelector(cfg.Run.EscalationThreshold, logger),
		executor:  heuristics.NewExecutor(logger),
	}, nil
}

// run carries the mutable state of one run through the state machine.
type run struct {
	id      string
	cfg     schemas.TestRunConfig
	log     *zap.Logger
	sink    *evidence.Collector
	state   State
	session schemas.Session
	// released flips when the session has been handed back. Cleanup checks
	// it so every exit path releases exactly once.
	released bool

	gameType schemas.GameType
	steps    []schemas.Step
	meta     schemas.ResultMeta
	eval     *schemas.Evaluation
	started  time.Time
}

func (r *run) transition(next State) {
	r.log.Info("Run state transition",
		zap.String("from", string(r.state)),
		zap.String("to", string(next)))
	r.state = next
}

// Run executes one test run against the configured target. It always returns
// a result describing what happened; the error is non-nil only when the run
// terminated in Failed. Evidence recorded during the run lands in sink.
func (o *Orchestrator) Run(ctx context.Context, runCfg schemas.TestRunConfig, sink *evidence.Collector) (schemas.TestResult, error) {
	runCfg.ApplyDefaults()
	if sink == nil {
		sink = evidence.NewCollector()
	}

	runID := uuid.NewString()
	r := &run{
		id:       runID,
		cfg:      runCfg,
		log:      o.logger.With(zap.String("run_id", runID), zap.String("target", runCfg.TargetURL)),
		sink:     sink,
		state:    StateCreated,
		gameType: schemas.GameUnknown,
		started:  time.Now(),
	}

	// Cleanup runs on every exit path. Release failures are logged, never
	// propagated, and never reach the caller.
	defer o.cleanup(r)

	err := o.execute(ctx, r)
	if err != nil {
		r.transition(StateFailed)
	}
	r.meta.TerminalState = string(r.state)

	result := o.assemble(r, err)
	if err != nil {
		r.log.Error("Run failed",
			zap.String("terminal_state", r.meta.TerminalState),
			zap.Error(err))
		return result, err
	}
	r.log.Info("Run finished",
		zap.String("status", string(result.Status)),
		zap.Int("steps", len(result.Steps)))
	return result, nil
}

// execute advances the run through its phases and returns the fault that
// stopped it, if any.
func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	r.transition(StateValidating)
	if err := o.validator.Validate(ctx, r.cfg.TargetURL); err != nil {
		return err
	}

	if err := o.acquire(ctx, r); err != nil {
		return err
	}
	r.transition(StateSessionAcquired)

	// The session timeout bounds everything that touches the live game.
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.SessionTimeout)
	defer cancel()

	r.transition(StateDetecting)
	o.detect(runCtx, r)

	r.transition(StateLooping)
	if err := o.loop(runCtx, r); err != nil {
		return err
	}

	r.transition(StateEvaluating)
	if err := o.evaluate(ctx, r); err != nil {
		return err
	}

	r.transition(StateCompleted)
	return nil
}

// acquire obtains a session, retrying transient failures with exponential
// backoff. Retry counts land in the run meta.
func (o *Orchestrator) acquire(ctx context.Context, r *run) error {
	acqCtx, cancel := context.WithTimeout(ctx, o.cfg.Run.ConnectTimeout)
	defer cancel()

	attempts := 0
	operation := func() error {
		attempts++
		s, err := o.provider.Acquire(acqCtx, r.cfg)
		if err == nil {
			r.session = s
			return nil
		}
		f := faults.Classify("session.acquire", err)
		if f.Class != faults.Retryable {
			return backoff.Permanent(f)
		}
		r.log.Warn("Session acquisition failed, retrying",
			zap.Int("attempt", attempts), zap.Error(err))
		return f
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.Run.RetryBackoff
	policy := backoff.WithMaxRetries(backoff.WithContext(b, acqCtx), uint64(o.cfg.Run.MaxRetries))

	err := backoff.Retry(operation, policy)
	r.meta.AcquisitionRetries = attempts - 1
	if err == nil {
		return nil
	}

	var f *faults.Fault
	if errors.As(err, &f) && f.Class == faults.Retryable {
		return faults.Exhausted(f, attempts)
	}
	if f != nil {
		return f
	}
	return faults.Classify("session.acquire", err)
}

// detect asks the planner to classify the game once. Failure degrades the
// run to the universal strategy instead of ending it.
func (o *Orchestrator) detect(ctx context.Context, r *run) {
	cls, err := o.planner.ClassifyGameType(ctx, r.session, r.cfg.InputHint)
	if err != nil {
		r.log.Warn("Genre detection failed, degrading to universal strategy", zap.Error(err))
		r.gameType = schemas.GameUnknown
		r.meta.DetectionDegraded = true
	} else {
		r.gameType = cls.GameType
		if cls.GameType == schemas.GameUnknown {
			r.meta.DetectionDegraded = true
		}
		r.log.Info("Game detected",
			zap.String("game_type", string(cls.GameType)),
			zap.Int("confidence", cls.Confidence))
	}
	r.meta.GameType = r.gameType
}

// loop runs the bounded step loop. Step indices are strictly increasing from
// zero; each iteration produces exactly one step record.
func (o *Orchestrator) loop(ctx context.Context, r *run) error {
	for i := 0; i < r.cfg.MaxActions; i++ {
		if ctx.Err() != nil {
			o.noteInterruption(ctx, r)
			return nil
		}

		signal := o.readSignal(ctx, r)
		gs := statedetect.Detect(signal.Text)
		if statedetect.Terminal(gs) {
			r.log.Info("Terminal game state reached, ending step loop",
				zap.String("game_state", gs.String()), zap.Int("step", i))
			o.noteState(r, i, gs)
			return nil
		}
		if gs == statedetect.StateMenu {
			o.nudgePastMenu(ctx, r, i)
		}

		decision := o.selector.Select(i, r.steps)

		var step schemas.Step
		var err error
		if decision.Strategy == schemas.StrategyPlanner {
			step, err = o.plannedStep(ctx, r, i, signal)
		} else {
			step = o.heuristicStep(ctx, r, i, signal)
		}
		if err != nil {
			if faults.ClassOf(err) == faults.Fatal && ctx.Err() == nil {
				return err
			}
			o.noteInterruption(ctx, r)
			return nil
		}
		r.steps = append(r.steps, step)

		if o.cfg.Run.StepPause > 0 && ctx.Err() == nil {
			if err := r.session.Wait(ctx, o.cfg.Run.StepPause); err != nil {
				r.log.Debug("Step pause interrupted", zap.Error(err))
			}
		}
	}
	r.log.Info("Action budget exhausted", zap.Int("steps", len(r.steps)))
	return nil
}

// plannedStep executes one planner-proposed action. Planner errors do not
// fail the run: the step is recorded as unsuccessful and heuristics take
// over on the next iteration.
func (o *Orchestrator) plannedStep(ctx context.Context, r *run, index int, signal schemas.PageSignal) (schemas.Step, error) {
	pc := schemas.PlannerContext{
		StepIndex:  index,
		GameType:   r.gameType,
		History:    r.steps,
		PageSignal: signal,
		InputHint:  r.cfg.InputHint,
	}

	planned, err := o.planner.PlanNextAction(ctx, r.session, pc)
	if err != nil {
		if ctx.Err() != nil || faults.ClassOf(err) == faults.Fatal {
			return schemas.Step{}, faults.Classify("planner.plan", err)
		}
		r.log.Warn("Planner failed, recording fruitless step", zap.Int("step", index), zap.Error(err))
		return schemas.Step{
			Index:     index,
			Strategy:  schemas.StrategyPlanner,
			Success:   false,
			Reasoning: fmt.Sprintf("planner unavailable: %v", err),
			Timestamp: time.Now(),
		}, nil
	}

	p := heuristics.Pattern{
		Name:     "planner",
		GameType: r.gameType,
		Actions:  []schemas.AtomicAction{planned.Action, {Kind: schemas.ActionScreenshot}},
		Evaluate: heuristics.PlannerStepEvaluator,
	}
	res := o.executor.Execute(ctx, p, r.session, r.sink, index)

	return schemas.Step{
		Index:        index,
		Strategy:     schemas.StrategyPlanner,
		Confidence:   res.Assessment.Confidence,
		Success:      res.Assessment.Success,
		Reasoning:    planned.Rationale,
		Timestamp:    time.Now(),
		Outcomes:     res.Outcomes,
		EvidenceRefs: res.EvidenceRefs,
	}, nil
}

// heuristicStep plays one pattern from the library.
func (o *Orchestrator) heuristicStep(ctx context.Context, r *run, index int, signal schemas.PageSignal) schemas.Step {
	p := heuristics.Match(r.gameType, signal, r.cfg.InputHint)
	res := o.executor.Execute(ctx, p, r.session, r.sink, index)

	return schemas.Step{
		Index:        index,
		Strategy:     schemas.StrategyHeuristic,
		PatternName:  p.Name,
		Confidence:   res.Assessment.Confidence,
		Success:      res.Assessment.Success,
		Reasoning:    res.Assessment.Reasoning,
		Timestamp:    time.Now(),
		Outcomes:     res.Outcomes,
		EvidenceRefs: res.EvidenceRefs,
	}
}

// nudgePastMenu tries the two near-universal start affordances, a center
// click and Enter, so patterns act on the game rather than its menu.
func (o *Orchestrator) nudgePastMenu(ctx context.Context, r *run, index int) {
	r.log.Debug("Menu detected, nudging toward play", zap.Int("step", index))
	o.noteState(r, index, statedetect.StateMenu)
	if err := r.session.Click(ctx, 0.5, 0.5); err != nil {
		r.log.Debug("Menu click failed", zap.Error(err))
		return
	}
	if err := r.session.PressKey(ctx, "Enter"); err != nil {
		r.log.Debug("Menu key press failed", zap.Error(err))
	}
}

// noteState records a detected game state as step-level evidence.
func (o *Orchestrator) noteState(r *run, index int, gs statedetect.GameState) {
	if _, err := r.sink.Record(index, schemas.EvidenceStateNote, []byte(gs.String())); err != nil {
		r.log.Debug("State note not recorded", zap.Error(err))
	}
}

// readSignal fetches the current page signal, tolerating failures: a blind
// step is still a step.
func (o *Orchestrator) readSignal(ctx context.Context, r *run) schemas.PageSignal {
	signal, err := r.session.PageSignal(ctx)
	if err != nil {
		r.log.Debug("Page signal unavailable", zap.Error(err))
		return schemas.PageSignal{}
	}
	return signal
}

func (o *Orchestrator) noteInterruption(ctx context.Context, r *run) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.log.Warn("Session timeout reached, ending step loop", zap.Int("steps", len(r.steps)))
		r.meta.TimedOut = true
	}
}

// evaluate scores the finished run, retrying transient failures. A run with
// no recorded steps is never evaluated. Retry exhaustion escalates to Fatal
// so the caller sees the lost verdict, attempt count preserved.
func (o *Orchestrator) evaluate(ctx context.Context, r *run) error {
	if len(r.steps) == 0 {
		r.log.Warn("No steps recorded, skipping evaluation")
		return nil
	}

	refs := r.sink.Refs(evidence.RunLevel)
	for _, st := range r.steps {
		refs = append(refs, st.EvidenceRefs...)
	}

	attempts := 0
	operation := func() error {
		attempts++
		eval, err := o.evaluator.Evaluate(ctx, r.steps, refs)
		if err == nil {
			r.eval = &eval
			return nil
		}
		f := faults.Classify("evaluator.evaluate", err)
		if f.Class != faults.Retryable {
			return backoff.Permanent(f)
		}
		r.log.Warn("Evaluation failed, retrying", zap.Int("attempt", attempts), zap.Error(err))
		return f
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.Run.RetryBackoff
	policy := backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(o.cfg.Run.MaxRetries))

	err := backoff.Retry(operation, policy)
	r.meta.EvaluationRetries = attempts - 1
	if err != nil {
		var f *faults.Fault
		if !errors.As(err, &f) {
			f = faults.Classify("evaluator.evaluate", err)
		}
		if f.Class == faults.Retryable {
			f = faults.Exhausted(f, attempts)
		}
		r.log.Error("Evaluation abandoned", zap.Int("attempts", attempts), zap.Error(f))
		return f
	}
	return nil
}

// cleanup releases the session exactly once. It runs on every exit path and
// never propagates failures.
func (o *Orchestrator) cleanup(r *run) {
	if r.session == nil || r.released {
		return
	}
	r.released = true

	prev := r.state
	r.transition(StateCleanup)

	releaseCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := o.provider.Release(releaseCtx, r.session); err != nil {
		r.log.Error("Session release failed", zap.Error(err))
	}
	r.state = prev
}

// assemble builds the immutable result from the run's final state.
func (o *Orchestrator) assemble(r *run, runErr error) schemas.TestResult {
	status := schemas.RunSuccess
	switch {
	case runErr != nil, len(r.steps) == 0:
		status = schemas.RunFailure
	case r.meta.TimedOut, r.eval == nil:
		status = schemas.RunPartial
	}

	var allRefs []schemas.EvidenceRef
	for _, it := range r.sink.Items() {
		allRefs = append(allRefs, it.Ref)
	}

	return schemas.TestResult{
		RunID:        r.id,
		TargetURL:    r.cfg.TargetURL,
		Status:       status,
		Steps:        r.steps,
		Evaluation:   r.eval,
		EvidenceRefs: allRefs,
		StartedAt:    r.started,
		FinishedAt:   time.Now(),
		Meta:         r.meta,
	}
}
