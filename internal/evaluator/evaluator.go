// File: internal/evaluator/evaluator.go
// Description: Scores a finished run. The evaluator sees the full step
// record plus evidence references and returns per-dimension scores and a
// list of suspected issues.

// Package evaluator implements the post-run quality judgment. It runs once,
// after the step loop has terminated, on the recorded history alone.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/argus-qa/playprobe/api/schemas"
	"github.com/argus-qa/playprobe/internal/config"
	"github.com/argus-qa/playprobe/internal/planner"
)

const evalSystemPrompt = `You are a senior QA analyst reviewing an automated
exploratory test session against a browser game. From the step record, judge
how testable and responsive the game was and flag suspected defects.
Respond with a single JSON object:
{"scores": {"playability": <0-100>, "responsiveness": <0-100>, "stability": <0-100>},
 "reasoning": "<short paragraph>",
 "issues": [{"severity": "low|medium|high|critical", "category": "<short tag>", "description": "<one sentence>"}]}
Report an empty issues list when nothing stood out.`

// generator matches the planner package's model transport, so the evaluator
// can share one GeminiClient with the planner.
type generator interface {
	GenerateResponse(ctx context.Context, model string, req planner.GenerationRequest) (string, error)
}

// LLMEvaluator implements schemas.Evaluator on top of a generation backend.
type LLMEvaluator struct {
	client generator
	cfg    config.PlannerConfig
	logger *zap.Logger
}

// NewLLMEvaluator creates an evaluator.
func NewLLMEvaluator(client generator, cfg config.PlannerConfig, logger *zap.Logger) (*LLMEvaluator, error) {
	if client == nil {
		return nil, fmt.Errorf("evaluator requires a generation client")
	}
	return &LLMEvaluator{client: client, cfg: cfg, logger: logger.Named("evaluator")}, nil
}

// Evaluate scores the run from its recorded steps. It consults the model
// once; transport retries live in the client.
func (e *LLMEvaluator) Evaluate(ctx context.Context, steps []schemas.Step, refs []schemas.EvidenceRef) (schemas.Evaluation, error) {
	if len(steps) == 0 {
		return schemas.Evaluation{}, fmt.Errorf("cannot evaluate a run with no recorded steps")
	}

	model := e.cfg.EvaluatorModel
	if model == "" {
		model = e.cfg.Model
	}

	raw, err := e.client.GenerateResponse(ctx, model, planner.GenerationRequest{
		SystemPrompt: evalSystemPrompt,
		UserPrompt:   buildEvalPrompt(steps, refs),
		ForceJSON:    true,
	})
	if err != nil {
		return schemas.Evaluation{}, fmt.Errorf("evaluation request failed: %w", err)
	}

	var eval schemas.Evaluation
	if err := planner.ExtractJSON(raw, &eval); err != nil {
		e.logger.Warn("Failed to parse evaluation response",
			zap.String("raw_response", raw), zap.Error(err))
		return schemas.Evaluation{}, err
	}

	normalize(&eval)

	e.logger.Info("Run evaluated",
		zap.Any("scores", eval.Scores),
		zap.Int("issues", len(eval.Issues)))
	return eval, nil
}

func buildEvalPrompt(steps []schemas.Step, refs []schemas.EvidenceRef) string {
	var sb strings.Builder
	succeeded := 0
	planned := 0
	for _, st := range steps {
		if st.Success {
			succeeded++
		}
		if st.Strategy == schemas.StrategyPlanner {
			planned++
		}
	}
	fmt.Fprintf(&sb, "Session record: %d steps, %d judged successful, %d planner-driven, %d evidence captures.\n\n",
		len(steps), succeeded, planned, len(refs))

	sb.WriteString("Steps:\n")
	for _, st := range steps {
		fmt.Fprintf(&sb, "- step %d [%s", st.Index, st.Strategy)
		if st.PatternName != "" {
			fmt.Fprintf(&sb, "/%s", st.PatternName)
		}
		fmt.Fprintf(&sb, "] success=%t confidence=%d", st.Success, st.Confidence)
		failures := 0
		for _, o := range st.Outcomes {
			if !o.Success {
				failures++
			}
		}
		if failures > 0 {
			fmt.Fprintf(&sb, " action_failures=%d", failures)
		}
		if st.Reasoning != "" {
			fmt.Fprintf(&sb, " note=%q", st.Reasoning)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nProduce your verdict.")
	return sb.String()
}

// normalize clamps scores into [0,100] and drops issues with no description.
func normalize(eval *schemas.Evaluation) {
	for k, v := range eval.Scores {
		if v < 0 {
			eval.Scores[k] = 0
		} else if v > 100 {
			eval.Scores[k] = 100
		}
	}
	kept := eval.Issues[:0]
	for _, is := range eval.Issues {
		if is.Description == "" {
			continue
		}
		switch schemas.Severity(strings.ToUpper(string(is.Severity))) {
		case schemas.SeverityLow, schemas.SeverityMedium, schemas.SeverityHigh, schemas.SeverityCritical:
			is.Severity = schemas.Severity(strings.ToUpper(string(is.Severity)))
		default:
			is.Severity = schemas.SeverityLow
		}
		kept = append(kept, is)
	}
	eval.Issues = kept
}

var _ schemas.Evaluator = (*LLMEvaluator)(nil)
