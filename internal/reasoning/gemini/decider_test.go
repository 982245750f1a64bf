package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/talentloop/talentloop/internal/hiring"
	"github.com/talentloop/talentloop/internal/reasoning"
)

type stubGenerator struct {
	responses []string
	err       error
	prompts   []string
}

func (s *stubGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	idx := len(s.prompts) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

type blockingGenerator struct{}

func (blockingGenerator) GenerateContent(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func testRequest() *reasoning.Request {
	return &reasoning.Request{
		Job: &hiring.Job{ID: "J1", Title: "Go Developer", Skills: []string{"go"}, Status: hiring.JobOpen},
		Candidates: []*hiring.Candidate{
			{ID: "C1", Name: "Ada", Skills: []string{"go"}, Email: "ada@example.com", Available: true},
			{ID: "C2", Name: "Grace", Skills: []string{"go", "sql"}, Email: "grace@example.com", Available: true},
		},
		Tools: "- fetch-job: Fetch a job by id",
	}
}

const finalResponse = `{"kind": "FINAL", "matches": [
  {"candidate_id": "C2", "score": 87, "decision": "CONTACT", "message": "Hello Grace"},
  {"candidate_id": "C1", "score": 40, "decision": "SKIP"}
]}`

func TestDecideFinal(t *testing.T) {
	t.Parallel()

	stub := &stubGenerator{responses: []string{finalResponse}}
	decider := NewDecider(stub, time.Second, 0, zap.NewNop())

	decision, err := decider.Decide(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Kind != reasoning.KindFinal {
		t.Fatalf("expected FINAL, got %s", decision.Kind)
	}
	if len(decision.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(decision.Matches))
	}

	first := decision.Matches[0]
	if first.CandidateID != "C2" || first.Decision != hiring.DecisionContact {
		t.Fatalf("unexpected first match: %+v", first)
	}
	if first.Score != 87 {
		t.Fatalf("unexpected score: %v", first.Score)
	}
	if first.Message != "Hello Grace" {
		t.Fatalf("unexpected message: %q", first.Message)
	}

	prompt := stub.prompts[0]
	for _, want := range []string{"J1", "Go Developer", "C1", "C2", "fetch-job"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestDecideFinalInCodeFence(t *testing.T) {
	t.Parallel()

	stub := &stubGenerator{responses: []string{"```json\n" + finalResponse + "\n```"}}
	decider := NewDecider(stub, time.Second, 0, zap.NewNop())

	decision, err := decider.Decide(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decision.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(decision.Matches))
	}
}

func TestDecideCallTool(t *testing.T) {
	t.Parallel()

	stub := &stubGenerator{responses: []string{`{"kind": "CALL_TOOL", "tool": "fetch-job", "args": {"jobId": "J1"}}`}}
	decider := NewDecider(stub, time.Second, 0, zap.NewNop())

	decision, err := decider.Decide(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Kind != reasoning.KindCallTool {
		t.Fatalf("expected CALL_TOOL, got %s", decision.Kind)
	}
	if decision.Tool != "fetch-job" {
		t.Fatalf("unexpected tool: %s", decision.Tool)
	}
	if decision.Args["jobId"] != "J1" {
		t.Fatalf("unexpected args: %v", decision.Args)
	}
}

func TestDecideRepromptsOnceOnMalformedOutput(t *testing.T) {
	t.Parallel()

	stub := &stubGenerator{responses: []string{"I think C2 is a great fit!", finalResponse}}
	decider := NewDecider(stub, time.Second, 0, zap.NewNop())

	decision, err := decider.Decide(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decision.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(decision.Matches))
	}

	if len(stub.prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(stub.prompts))
	}
	if !strings.Contains(stub.prompts[1], "rejected") {
		t.Fatal("corrective prompt should mention the rejection")
	}
}

func TestDecideFailsAfterSecondMalformedOutput(t *testing.T) {
	t.Parallel()

	stub := &stubGenerator{responses: []string{"nope", "still nope"}}
	decider := NewDecider(stub, time.Second, 0, zap.NewNop())

	_, err := decider.Decide(context.Background(), testRequest())
	if !errors.Is(err, reasoning.ErrMalformedDecision) {
		t.Fatalf("expected ErrMalformedDecision, got %v", err)
	}
	if len(stub.prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(stub.prompts))
	}
}

func TestDecideTimeout(t *testing.T) {
	t.Parallel()

	decider := NewDecider(blockingGenerator{}, 10*time.Millisecond, 0, zap.NewNop())

	_, err := decider.Decide(context.Background(), testRequest())
	if !errors.Is(err, reasoning.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestParseDecisionRejections(t *testing.T) {
	t.Parallel()

	req := testRequest()

	cases := []struct {
		name string
		raw  string
	}{
		{
			name: "unknown kind",
			raw:  `{"kind": "MAYBE"}`,
		},
		{
			name: "unknown field",
			raw:  `{"kind": "FINAL", "matches": [], "confidence": 0.9}`,
		},
		{
			name: "candidate outside batch",
			raw:  `{"kind": "FINAL", "matches": [{"candidate_id": "C9", "score": 50, "decision": "SKIP"}]}`,
		},
		{
			name: "duplicate candidate",
			raw: `{"kind": "FINAL", "matches": [
				{"candidate_id": "C1", "score": 50, "decision": "SKIP"},
				{"candidate_id": "C1", "score": 60, "decision": "SKIP"}]}`,
		},
		{
			name: "score out of range",
			raw:  `{"kind": "FINAL", "matches": [{"candidate_id": "C1", "score": 120, "decision": "SKIP"}]}`,
		},
		{
			name: "contact without message",
			raw:  `{"kind": "FINAL", "matches": [{"candidate_id": "C1", "score": 80, "decision": "CONTACT"}]}`,
		},
		{
			name: "skip with message",
			raw:  `{"kind": "FINAL", "matches": [{"candidate_id": "C1", "score": 20, "decision": "SKIP", "message": "hi"}]}`,
		},
		{
			name: "unknown decision value",
			raw:  `{"kind": "FINAL", "matches": [{"candidate_id": "C1", "score": 50, "decision": "HIRE"}]}`,
		},
		{
			name: "call tool without name",
			raw:  `{"kind": "CALL_TOOL", "args": {}}`,
		},
		{
			name: "call tool with matches",
			raw:  `{"kind": "CALL_TOOL", "tool": "fetch-job", "matches": [{"candidate_id": "C1", "score": 1, "decision": "SKIP"}]}`,
		},
		{
			name: "final with tool",
			raw:  `{"kind": "FINAL", "tool": "fetch-job", "matches": []}`,
		},
		{
			name: "trailing content",
			raw:  `{"kind": "FINAL", "matches": []} trailing`,
		},
		{
			name: "empty",
			raw:  "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseDecision(tc.raw, req); err == nil {
				t.Fatalf("expected parse error for %q", tc.raw)
			}
		})
	}
}

func TestParseDecisionEmptyFinalIsValid(t *testing.T) {
	t.Parallel()

	decision, err := parseDecision(`{"kind": "FINAL", "matches": []}`, testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decision.Matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(decision.Matches))
	}
}
