// Package reasoning defines the contract between the matching state machine
// and the language-model backend. Each call is a pure function of its request;
// conversation context is accumulated by the caller.
package reasoning

import (
	"context"
	"errors"

	"github.com/talentloop/talentloop/internal/hiring"
)

// ErrTimeout is returned when the backend does not answer within the
// configured timeout. The caller treats the batch as unresolved and retries
// within its per-job budget.
var ErrTimeout = errors.New("reasoning backend timed out")

// ErrMalformedDecision is returned when the backend output does not conform
// to the decision schema, even after one corrective re-prompt.
var ErrMalformedDecision = errors.New("malformed reasoning decision")

// DecisionKind tags the decision variant.
type DecisionKind string

const (
	// KindCallTool asks the caller to invoke a protocol tool and feed the
	// result back through Request.ToolResults.
	KindCallTool DecisionKind = "CALL_TOOL"
	// KindFinal carries the ranked match list for the batch.
	KindFinal DecisionKind = "FINAL"
)

// Match is the backend's verdict on one candidate of the batch.
type Match struct {
	CandidateID string
	// Score is a percentage from 0 to 100.
	Score    float64
	Decision hiring.Decision
	// Message is the outreach body; present iff Decision is CONTACT.
	Message string
}

// Decision is the tagged variant produced by one reasoning step.
type Decision struct {
	Kind DecisionKind

	// Set when Kind is KindCallTool.
	Tool string
	Args map[string]any

	// Set when Kind is KindFinal, ordered as returned by the backend.
	Matches []Match
}

// ToolResult is the outcome of a tool call requested by a previous decision.
type ToolResult struct {
	Tool   string
	Result string
}

// Request carries everything a single reasoning step may depend on.
type Request struct {
	Job        *hiring.Job
	Candidates []*hiring.Candidate
	// Tools is the rendered tool catalog description.
	Tools string
	// ToolResults holds results of tool calls made earlier in this cycle.
	ToolResults []ToolResult
}

// Decider turns a request into a decision.
type Decider interface {
	Decide(ctx context.Context, req *Request) (*Decision, error)
}
