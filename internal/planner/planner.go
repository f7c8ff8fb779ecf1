// File: internal/planner/planner.go
// Description: Model-backed game classification and action planning. The
// planner is the expensive strategy: every call ships a screenshot and the
// page signal to the model and expects a single JSON object back.

// Package planner implements the adaptive, LLM-backed side of the play
// strategy: one-shot genre classification and per-step action planning.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/argus-qa/playprobe/api/schemas"
	"github.com/argus-qa/playprobe/internal/config"
)

const classifySystemPrompt = `You are a QA analyst looking at a browser game.
Identify the game's genre from the screenshot and page text.
Respond with a single JSON object:
{"game_type": "<genre>", "confidence": <0-100>, "reasoning": "<one sentence>"}
Valid genres: %s. Use "unknown" if you cannot tell.`

const planSystemPrompt = `You are an exploratory QA tester playing an unknown browser game.
Given the current screenshot, page text and the history of attempted actions,
propose exactly ONE next input that is most likely to make progress.
Respond with a single JSON object:
{"action": {"kind": "click|key|wait|screenshot", "key": "<DOM key name>", "x": <0-1>, "y": <0-1>, "wait_ms": <int>}, "rationale": "<one sentence>"}
Coordinates are normalized to the viewport. Only fill the fields the kind needs.`

// LLMPlanner implements schemas.Planner on top of a generation backend.
type LLMPlanner struct {
	client  generator
	cfg     config.PlannerConfig
	limiter *rate.Limiter
	sink    schemas.EvidenceSink
	logger  *zap.Logger
}

// NewLLMPlanner creates a planner. The sink receives a trace of every model
// exchange; it may be nil when tracing is not wanted.
func NewLLMPlanner(client generator, cfg config.PlannerConfig, sink schemas.EvidenceSink, logger *zap.Logger) (*LLMPlanner, error) {
	if client == nil {
		return nil, fmt.Errorf("planner requires a generation client")
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &LLMPlanner{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		sink:    sink,
		logger:  logger.Named("planner"),
	}, nil
}

// ClassifyGameType inspects the live page once and names the genre. Failures
// here are reported to the caller, who degrades to the universal strategy
// rather than failing the run.
func (p *LLMPlanner) ClassifyGameType(ctx context.Context, s schemas.Session, hint string) (schemas.Classification, error) {
	shot, signal, err := p.observe(ctx, s)
	if err != nil {
		return schemas.Classification{}, err
	}

	var sb strings.Builder
	sb.WriteString("Page title: " + signal.Title + "\n")
	sb.WriteString("Visible text:\n" + clip(signal.Text, 2000) + "\n")
	if hint != "" {
		sb.WriteString("Operator hint: " + hint + "\n")
	}

	req := GenerationRequest{
		SystemPrompt: fmt.Sprintf(classifySystemPrompt, strings.Join(genreNames(), ", ")),
		UserPrompt:   sb.String(),
		Images:       [][]byte{shot},
		ForceJSON:    true,
	}

	raw, err := p.generate(ctx, p.cfg.Model, -1, req)
	if err != nil {
		return schemas.Classification{}, err
	}

	var cls schemas.Classification
	if err := ExtractJSON(raw, &cls); err != nil {
		p.logger.Warn("Failed to parse classification response",
			zap.String("raw_response", raw), zap.Error(err))
		return schemas.Classification{}, err
	}
	if !knownGenre(cls.GameType) {
		p.logger.Debug("Model named an unlisted genre, treating as unknown",
			zap.String("game_type", string(cls.GameType)))
		cls.GameType = schemas.GameUnknown
	}
	cls.Confidence = clampScore(cls.Confidence)

	p.logger.Info("Game classified",
		zap.String("game_type", string(cls.GameType)),
		zap.Int("confidence", cls.Confidence))
	return cls, nil
}

// plannedActionWire is the JSON shape the model is asked for. Wait durations
// travel as integer milliseconds.
type plannedActionWire struct {
	Action struct {
		Kind   string  `json:"kind"`
		Key    string  `json:"key,omitempty"`
		X      float64 `json:"x,omitempty"`
		Y      float64 `json:"y,omitempty"`
		WaitMs int     `json:"wait_ms,omitempty"`
	} `json:"action"`
	Rationale string `json:"rationale,omitempty"`
}

// PlanNextAction observes the current page and proposes one next action.
func (p *LLMPlanner) PlanNextAction(ctx context.Context, s schemas.Session, pc schemas.PlannerContext) (schemas.PlannedAction, error) {
	shot, signal, err := p.observe(ctx, s)
	if err != nil {
		return schemas.PlannedAction{}, err
	}

	req := GenerationRequest{
		SystemPrompt: planSystemPrompt,
		UserPrompt:   buildPlanPrompt(pc, signal),
		Images:       [][]byte{shot},
		ForceJSON:    true,
	}

	raw, err := p.generate(ctx, p.cfg.Model, pc.StepIndex, req)
	if err != nil {
		return schemas.PlannedAction{}, err
	}

	var wire plannedActionWire
	if err := ExtractJSON(raw, &wire); err != nil {
		p.logger.Warn("Failed to parse planned action",
			zap.String("raw_response", raw), zap.Error(err))
		return schemas.PlannedAction{}, err
	}

	action, err := wireToAction(wire)
	if err != nil {
		return schemas.PlannedAction{}, err
	}

	p.logger.Debug("Action planned",
		zap.Int("step", pc.StepIndex),
		zap.String("kind", string(action.Kind)),
		zap.String("rationale", wire.Rationale))
	return schemas.PlannedAction{Action: action, Rationale: wire.Rationale}, nil
}

// observe captures the screenshot and page signal the prompts need. A failed
// page-signal read degrades to the screenshot alone; a failed screenshot is
// an error because the planner cannot work blind.
func (p *LLMPlanner) observe(ctx context.Context, s schemas.Session) ([]byte, schemas.PageSignal, error) {
	shot, err := s.Screenshot(ctx)
	if err != nil {
		return nil, schemas.PageSignal{}, fmt.Errorf("failed to capture screenshot for planning: %w", err)
	}
	signal, err := s.PageSignal(ctx)
	if err != nil {
		p.logger.Debug("Page signal unavailable, planning from screenshot only", zap.Error(err))
		signal = schemas.PageSignal{}
	}
	return shot, signal, nil
}

// generate runs one rate-limited model call and, when a sink is attached,
// records the exchange as a planner trace. stepIndex is -1 for run-level
// calls such as classification; step-level traces land on their step.
func (p *LLMPlanner) generate(ctx context.Context, model string, stepIndex int, req GenerationRequest) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("planner rate limiter: %w", err)
	}

	raw, err := p.client.GenerateResponse(ctx, model, req)
	if err != nil {
		return "", err
	}

	if p.sink != nil {
		trace, merr := json.Marshal(map[string]string{
			"model":    model,
			"prompt":   req.UserPrompt,
			"response": raw,
		})
		if merr == nil {
			if _, rerr := p.sink.Record(stepIndex, schemas.EvidencePlannerTrace, trace); rerr != nil {
				p.logger.Warn("Failed to record planner trace", zap.Error(rerr))
			}
		}
	}
	return raw, nil
}

func buildPlanPrompt(pc schemas.PlannerContext, signal schemas.PageSignal) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Step %d. Detected genre: %s.\n", pc.StepIndex, pc.GameType)
	if pc.InputHint != "" {
		sb.WriteString("Operator hint: " + pc.InputHint + "\n")
	}
	sb.WriteString("Page title: " + signal.Title + "\n")
	sb.WriteString("Visible text:\n" + clip(signal.Text, 1500) + "\n")

	if n := len(pc.History); n > 0 {
		sb.WriteString("Recent steps (oldest first):\n")
		start := 0
		if n > 5 {
			start = n - 5
		}
		for _, st := range pc.History[start:] {
			fmt.Fprintf(&sb, "- step %d: %s/%s success=%t confidence=%d\n",
				st.Index, st.Strategy, st.PatternName, st.Success, st.Confidence)
		}
	}
	sb.WriteString("Propose the single next action.")
	return sb.String()
}

// wireToAction validates and converts the model's proposal. An out-of-range
// coordinate is clamped rather than rejected; an unknown kind is an error.
func wireToAction(wire plannedActionWire) (schemas.AtomicAction, error) {
	a := schemas.AtomicAction{}
	switch schemas.ActionKind(wire.Action.Kind) {
	case schemas.ActionClick:
		a.Kind = schemas.ActionClick
		a.X = clampUnit(wire.Action.X)
		a.Y = clampUnit(wire.Action.Y)
	case schemas.ActionKey:
		if wire.Action.Key == "" {
			return a, fmt.Errorf("planned key action is missing the key name")
		}
		a.Kind = schemas.ActionKey
		a.Key = wire.Action.Key
	case schemas.ActionWait:
		ms := wire.Action.WaitMs
		if ms <= 0 {
			ms = 500
		}
		if ms > 5000 {
			ms = 5000
		}
		a.Kind = schemas.ActionWait
		a.Wait = time.Duration(ms) * time.Millisecond
	case schemas.ActionScreenshot:
		a.Kind = schemas.ActionScreenshot
	default:
		return a, fmt.Errorf("planned action has unknown kind %q", wire.Action.Kind)
	}
	return a, nil
}

// A regex to robustly extract a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// ExtractJSON extracts a JSON object from the model's response,
// handling markdown code blocks or raw JSON.
func ExtractJSON(response string, out any) error {
	response = strings.TrimSpace(response)
	var jsonStringToParse string

	matches := jsonBlockRegex.FindStringSubmatch(response)
	if len(matches) > 1 {
		jsonStringToParse = strings.TrimSpace(matches[1])
	} else {
		firstBracket := strings.Index(response, "{")
		lastBracket := strings.LastIndex(response, "}")
		if firstBracket != -1 && lastBracket != -1 && lastBracket > firstBracket {
			jsonStringToParse = response[firstBracket : lastBracket+1]
		} else {
			jsonStringToParse = response
		}
	}

	if jsonStringToParse == "" {
		return fmt.Errorf("could not find any JSON in the model response")
	}
	if err := json.Unmarshal([]byte(jsonStringToParse), out); err != nil {
		return fmt.Errorf("failed to unmarshal extracted JSON: %w", err)
	}
	return nil
}

func genreNames() []string {
	types := schemas.KnownGameTypes()
	names := make([]string, 0, len(types)+1)
	for _, t := range types {
		names = append(names, string(t))
	}
	return append(names, string(schemas.GameUnknown))
}

func knownGenre(gt schemas.GameType) bool {
	for _, t := range schemas.KnownGameTypes() {
		if t == gt {
			return true
		}
	}
	return false
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

var _ schemas.Planner = (*LLMPlanner)(nil)
