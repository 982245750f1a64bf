package hiring

import "fmt"

// JobStatus values mirror the status field of job documents in the store.
//
// Valid status graph:
//
//	OPEN ──► IN_PROGRESS ──► FILLED
//	              │    ▲
//	              │    └── STALLED (re-triggered externally)
//	              └──────► EXHAUSTED
//
// FILLED and EXHAUSTED are terminal. STALLED is not: a stalled job is
// eligible for an external re-trigger once the protocol service recovers.
type JobStatus string

const (
	JobOpen       JobStatus = "OPEN"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobFilled     JobStatus = "FILLED"
	JobExhausted  JobStatus = "EXHAUSTED"
	JobStalled    JobStatus = "STALLED"
)

var validJobTransitions = map[JobStatus][]JobStatus{
	JobOpen:       {JobInProgress},
	JobInProgress: {JobFilled, JobExhausted, JobStalled},
	JobStalled:    {JobInProgress},
	// FILLED and EXHAUSTED are terminal
}

// ParseJobStatus converts a raw string to a JobStatus, returning an error for
// unknown values.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case JobOpen, JobInProgress, JobFilled, JobExhausted, JobStalled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Terminal reports whether no further work can be scheduled for the job.
func (s JobStatus) Terminal() bool {
	return s == JobFilled || s == JobExhausted
}

// JobTransitionAllowed returns true when moving from → to is permitted.
func JobTransitionAllowed(from, to JobStatus) bool {
	for _, s := range validJobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Advance moves the job to the given status, rejecting transitions outside
// the status graph.
func (j *Job) Advance(to JobStatus) error {
	if !JobTransitionAllowed(j.Status, to) {
		return fmt.Errorf("job %s: invalid status transition %s -> %s", j.ID, j.Status, to)
	}
	j.Status = to
	return nil
}

// DeliveryStatus tracks an outreach record through the delivery channel.
//
//	PENDING ──► SENT ──► ACKED
//	    │          │
//	    └──────────┴──► FAILED
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
	DeliveryAcked   DeliveryStatus = "ACKED"
)

var validDeliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryPending: {DeliverySent, DeliveryFailed},
	DeliverySent:    {DeliveryAcked, DeliveryFailed},
	// FAILED and ACKED are terminal
}

// ParseDeliveryStatus converts a raw string to a DeliveryStatus.
func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(s)
	switch st {
	case DeliveryPending, DeliverySent, DeliveryFailed, DeliveryAcked:
		return st, nil
	}
	return "", fmt.Errorf("unknown delivery status %q", s)
}

// Terminal reports whether the record can no longer change.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryFailed || s == DeliveryAcked
}

// DeliveryTransitionAllowed returns true when moving from → to is permitted.
func DeliveryTransitionAllowed(from, to DeliveryStatus) bool {
	for _, s := range validDeliveryTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Advance moves the record to the given status, rejecting transitions outside
// the status graph.
func (r *OutreachRecord) Advance(to DeliveryStatus) error {
	if !DeliveryTransitionAllowed(r.Status, to) {
		return fmt.Errorf("outreach %s/%s: invalid status transition %s -> %s",
			r.JobID, r.CandidateID, r.Status, to)
	}
	r.Status = to
	return nil
}
