package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/talentloop/talentloop/internal/hiring"
	"github.com/talentloop/talentloop/internal/reasoning"
	"github.com/talentloop/talentloop/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	defaultTimeout      = 30 * time.Second
)

// Decider asks Gemini to rank a candidate batch for a job and strictly parses
// the response into a reasoning.Decision. Non-conforming output is re-prompted
// once with a corrective instruction before surfacing ErrMalformedDecision.
type Decider struct {
	generator contentGenerator
	timeout   time.Duration
	maxLogLen int
	logger    *zap.Logger
}

// NewDecider creates a Decider around the given generator.
func NewDecider(generator contentGenerator, timeout time.Duration, maxLogLength int, logger *zap.Logger) *Decider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Decider{
		generator: generator,
		timeout:   timeout,
		maxLogLen: maxLogLength,
		logger:    logger,
	}
}

// Decide implements reasoning.Decider.
func (d *Decider) Decide(ctx context.Context, req *reasoning.Request) (*reasoning.Decision, error) {
	if req == nil || req.Job == nil {
		return nil, fmt.Errorf("reasoning request requires a job")
	}
	if len(req.Candidates) == 0 {
		return nil, fmt.Errorf("reasoning request requires a candidate batch")
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("reasoning request",
		zap.String("job_id", req.Job.ID),
		zap.Int("batch_size", len(req.Candidates)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, d.maxLogLen)),
	)

	raw, err := d.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	decision, parseErr := parseDecision(raw, req)
	if parseErr == nil {
		return decision, nil
	}

	d.logger.Warn("reasoning output did not conform, re-prompting",
		zap.String("job_id", req.Job.ID),
		zap.Error(parseErr),
		zap.String("response_preview", utils.TruncateForLog(raw, d.maxLogLen)),
	)

	raw, err = d.generate(ctx, correctivePrompt(prompt, parseErr))
	if err != nil {
		return nil, err
	}

	decision, parseErr = parseDecision(raw, req)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %v", reasoning.ErrMalformedDecision, parseErr)
	}

	return decision, nil
}

func (d *Decider) generate(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	raw, err := d.generator.GenerateContent(callCtx, prompt)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", fmt.Errorf("%w: after %s", reasoning.ErrTimeout, d.timeout)
		}
		return "", err
	}

	d.logger.Debug("reasoning response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, d.maxLogLen)),
	)

	return raw, nil
}

func buildPrompt(req *reasoning.Request) (string, error) {
	jobJSON, err := json.MarshalIndent(req.Job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	candidatesJSON, err := json.MarshalIndent(req.Candidates, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal candidate payload: %w", err)
	}

	tools := strings.TrimSpace(req.Tools)
	if tools == "" {
		tools = "none"
	}

	results := "none"
	if len(req.ToolResults) > 0 {
		var b strings.Builder
		for _, tr := range req.ToolResults {
			fmt.Fprintf(&b, "- %s: %s\n", tr.Tool, tr.Result)
		}
		results = strings.TrimRight(b.String(), "\n")
	}

	prompt := strings.ReplaceAll(promptTemplate, "{{JOB_JSON}}", string(jobJSON))
	prompt = strings.ReplaceAll(prompt, "{{CANDIDATES_JSON}}", string(candidatesJSON))
	prompt = strings.ReplaceAll(prompt, "{{TOOLS}}", tools)
	prompt = strings.ReplaceAll(prompt, "{{TOOL_RESULTS}}", results)

	return prompt, nil
}

func correctivePrompt(prompt string, parseErr error) string {
	return prompt + fmt.Sprintf(
		"\n\nYour previous response was rejected: %v.\n"+
			"Respond again with exactly one JSON object conforming to the schema above, "+
			"with no surrounding text.\n\nJSON Response:\n", parseErr)
}

// wire types mirror the JSON shapes the prompt demands.
type wireDecision struct {
	Kind    string         `json:"kind"`
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Matches []wireMatch    `json:"matches,omitempty"`
}

type wireMatch struct {
	CandidateID string  `json:"candidate_id"`
	Score       float64 `json:"score"`
	Decision    string  `json:"decision"`
	Message     string  `json:"message,omitempty"`
}

// parseDecision strictly decodes the model output. Anything that does not
// conform to the expected schema is rejected; intent is never guessed from
// partial text.
func parseDecision(raw string, req *reasoning.Request) (*reasoning.Decision, error) {
	cleaned := extractJSON(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("empty response")
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	decoder.DisallowUnknownFields()

	var wire wireDecision
	if err := decoder.Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %v", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("trailing content after JSON object")
	}

	switch reasoning.DecisionKind(wire.Kind) {
	case reasoning.KindCallTool:
		return parseCallTool(&wire)
	case reasoning.KindFinal:
		return parseFinal(&wire, req)
	default:
		return nil, fmt.Errorf("unknown decision kind %q", wire.Kind)
	}
}

func parseCallTool(wire *wireDecision) (*reasoning.Decision, error) {
	if strings.TrimSpace(wire.Tool) == "" {
		return nil, fmt.Errorf("CALL_TOOL decision is missing a tool name")
	}
	if len(wire.Matches) > 0 {
		return nil, fmt.Errorf("CALL_TOOL decision must not carry matches")
	}

	args := wire.Args
	if args == nil {
		args = map[string]any{}
	}

	return &reasoning.Decision{
		Kind: reasoning.KindCallTool,
		Tool: wire.Tool,
		Args: args,
	}, nil
}

func parseFinal(wire *wireDecision, req *reasoning.Request) (*reasoning.Decision, error) {
	if wire.Tool != "" || len(wire.Args) > 0 {
		return nil, fmt.Errorf("FINAL decision must not carry a tool call")
	}

	batch := make(map[string]bool, len(req.Candidates))
	for _, candidate := range req.Candidates {
		batch[candidate.ID] = true
	}

	seen := make(map[string]bool, len(wire.Matches))
	matches := make([]reasoning.Match, 0, len(wire.Matches))
	for _, m := range wire.Matches {
		if !batch[m.CandidateID] {
			return nil, fmt.Errorf("match references candidate %q outside the batch", m.CandidateID)
		}
		if seen[m.CandidateID] {
			return nil, fmt.Errorf("duplicate match for candidate %q", m.CandidateID)
		}
		seen[m.CandidateID] = true

		if m.Score < 0 || m.Score > 100 {
			return nil, fmt.Errorf("score %v for candidate %q is outside 0-100", m.Score, m.CandidateID)
		}

		decision := hiring.Decision(m.Decision)
		switch decision {
		case hiring.DecisionContact:
			if strings.TrimSpace(m.Message) == "" {
				return nil, fmt.Errorf("CONTACT decision for candidate %q is missing a message", m.CandidateID)
			}
		case hiring.DecisionSkip:
			if strings.TrimSpace(m.Message) != "" {
				return nil, fmt.Errorf("SKIP decision for candidate %q must not carry a message", m.CandidateID)
			}
		default:
			return nil, fmt.Errorf("unknown decision %q for candidate %q", m.Decision, m.CandidateID)
		}

		matches = append(matches, reasoning.Match{
			CandidateID: m.CandidateID,
			Score:       m.Score,
			Decision:    decision,
			Message:     strings.TrimSpace(m.Message),
		})
	}

	return &reasoning.Decision{
		Kind:    reasoning.KindFinal,
		Matches: matches,
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
