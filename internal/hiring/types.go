// Package hiring defines the domain model shared by the matching state
// machine, the protocol client and the outreach dispatcher.
package hiring

import "time"

// Job is an open position pulled from the job store. A job is owned by
// exactly one session for its lifetime; only that session mutates Status.
type Job struct {
	ID          string    `json:"job_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Skills      []string  `json:"skills"`
	Status      JobStatus `json:"status"`
}

// Candidate is read-only from the agent's perspective; the store is the
// authoritative source.
type Candidate struct {
	ID        string   `json:"candidate_id"`
	Name      string   `json:"name"`
	Skills    []string `json:"skills"`
	Email     string   `json:"email"`
	Available bool     `json:"available"`
}

// Decision is the outcome of evaluating one candidate for one job.
type Decision string

const (
	DecisionContact Decision = "CONTACT"
	DecisionSkip    Decision = "SKIP"
)

// MatchAttempt records a single evaluation of a candidate for a job. It is
// created once per (job, candidate) pair and never mutated afterwards.
type MatchAttempt struct {
	JobID       string
	CandidateID string
	Score       float64
	Decision    Decision
	// Message is set only for CONTACT decisions.
	Message string
}

// OutreachRecord tracks the lifecycle of one outbound message to one
// candidate for one job. The dispatcher mutates it on each delivery attempt.
type OutreachRecord struct {
	JobID       string
	CandidateID string
	Address     string
	Subject     string
	Body        string
	Score       float64

	Status      DeliveryStatus
	Attempts    int
	LastAttempt time.Time
	// MessageID is assigned once before the first send attempt and reused
	// across retries, so the channel can de-duplicate.
	MessageID string
}

// NewOutreachRecord creates a PENDING record from a contact decision.
func NewOutreachRecord(attempt *MatchAttempt, address, subject string) *OutreachRecord {
	return &OutreachRecord{
		JobID:       attempt.JobID,
		CandidateID: attempt.CandidateID,
		Address:     address,
		Subject:     subject,
		Body:        attempt.Message,
		Score:       attempt.Score,
		Status:      DeliveryPending,
	}
}
