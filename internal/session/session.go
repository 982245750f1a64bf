// Package session drives one job through the matching loop: fetch a candidate
// batch, ask the reasoning backend for a decision, dispatch outreach, await
// acknowledgment. A session owns its job exclusively; all transitions are
// strictly sequential.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/talentloop/talentloop/internal/delivery"
	"github.com/talentloop/talentloop/internal/hiring"
	"github.com/talentloop/talentloop/internal/protocol"
	"github.com/talentloop/talentloop/internal/reasoning"
	"github.com/talentloop/talentloop/internal/screening"
)

// State is the current stage of the matching loop.
type State string

const (
	StateFetching    State = "FETCHING"
	StateScoring     State = "SCORING"
	StateDispatching State = "DISPATCHING"
	StateAwaitingAck State = "AWAITING_ACK"
)

const subjectPrefix = "Job opportunity: "

// Store is the slice of the protocol client a session needs.
type Store interface {
	FetchCandidates(ctx context.Context, jobID, cursor string, pageSize int) (*protocol.CandidatePage, error)
	RecordMatch(ctx context.Context, jobID, candidateID string, decision hiring.Decision) error
	Invoke(ctx context.Context, tool string, args map[string]any) (string, error)
}

// Courier is the slice of the outreach dispatcher a session needs.
type Courier interface {
	Send(ctx context.Context, rec *hiring.OutreachRecord) error
	AwaitAck(ctx context.Context, rec *hiring.OutreachRecord) (hiring.DeliveryStatus, error)
	Cancel(ctx context.Context, rec *hiring.OutreachRecord)
}

// Config bounds one session's loop.
type Config struct {
	// PageSize is the candidate batch size requested per fetch.
	PageSize int
	// MaxCycles caps how many scoring cycles a job may consume before it is
	// declared EXHAUSTED.
	MaxCycles int
	// MaxToolCalls caps CALL_TOOL round trips within one scoring cycle.
	MaxToolCalls int
	// TimeoutRetries is how many reasoning timeouts are tolerated before the
	// affected batch is skipped.
	TimeoutRetries int
	// Tools is the rendered tool catalog description handed to the backend.
	Tools string
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	if c.MaxCycles <= 0 {
		c.MaxCycles = 5
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = 3
	}
	if c.TimeoutRetries <= 0 {
		c.TimeoutRetries = 2
	}
	return c
}

// Deps are the session's collaborators. All are injected so tests can run the
// machine against fakes.
type Deps struct {
	Store   Store
	Decider reasoning.Decider
	Courier Courier
	Screens []screening.Filter
	Logger  *zap.Logger
}

// Result summarizes one finished session.
type Result struct {
	JobID  string
	Status hiring.JobStatus
	Cycles int
	// AckedCandidate is set when the job was filled.
	AckedCandidate string
	Attempts       []*hiring.MatchAttempt
	Records        []*hiring.OutreachRecord
}

// Session is the per-job matching state machine.
type Session struct {
	job  *hiring.Job
	cfg  Config
	deps Deps
	log  *zap.Logger

	state   State
	cursor  string
	cycles  int
	timeout int

	batch []*hiring.Candidate
	queue []*hiring.OutreachRecord
	// inflight is the record currently awaiting acknowledgment.
	inflight *hiring.OutreachRecord

	attempts []*hiring.MatchAttempt
	records  map[string]*hiring.OutreachRecord
	// considered holds every candidate already evaluated or ruled out for
	// this job; they are never re-fetched into a batch.
	considered map[string]bool

	acked string
}

// New creates a session owning the given job.
func New(job *hiring.Job, deps Deps, cfg Config) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("job_id", job.ID))

	return &Session{
		job:        job,
		cfg:        cfg.withDefaults(),
		deps:       deps,
		log:        logger,
		state:      StateFetching,
		records:    map[string]*hiring.OutreachRecord{},
		considered: map[string]bool{},
	}
}

// Run executes the loop until the job is terminal, stalls, or the context is
// cancelled. A stalled job is reported in the result, not as an error.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if s.job.Status.Terminal() {
		return s.result(), nil
	}
	if s.job.Status != hiring.JobInProgress {
		if err := s.job.Advance(hiring.JobInProgress); err != nil {
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return s.result(), err
		}

		var err error
		switch s.state {
		case StateFetching:
			err = s.fetch(ctx)
		case StateScoring:
			err = s.score(ctx)
		case StateDispatching:
			err = s.dispatch(ctx)
		case StateAwaitingAck:
			err = s.awaitAck(ctx)
		default:
			err = fmt.Errorf("job %s: unknown session state %q", s.job.ID, s.state)
		}
		if err != nil {
			return s.result(), err
		}

		if s.job.Status.Terminal() || s.job.Status == hiring.JobStalled {
			return s.result(), nil
		}
	}
}

// fetch pulls the next batch of unconsidered candidates. An empty store with
// nothing acknowledged terminates the job as EXHAUSTED.
func (s *Session) fetch(ctx context.Context) error {
	page, err := s.deps.Store.FetchCandidates(ctx, s.job.ID, s.cursor, s.cfg.PageSize)
	if err != nil {
		if errors.Is(err, protocol.ErrUnavailable) {
			return s.stall(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A store-side failure burns a cycle; the cycle budget bounds it.
		s.log.Warn("candidate fetch failed", zap.Error(err))
		s.cycles++
		if s.cycles > s.cfg.MaxCycles {
			return s.exhaust("fetch failures")
		}
		return nil
	}

	batch := make([]*hiring.Candidate, 0, len(page.Candidates))
	for _, candidate := range page.Candidates {
		if !s.considered[candidate.ID] {
			batch = append(batch, candidate)
		}
	}
	s.cursor = page.NextCursor

	if len(batch) == 0 {
		if s.cursor == "" {
			return s.exhaust("candidate pool exhausted")
		}
		return nil
	}

	screened, err := screening.Run(ctx, screening.Deps{Job: s.job, Logger: s.log}, s.screens(), batch)
	if err != nil {
		return err
	}
	for _, candidate := range batch {
		s.considered[candidate.ID] = true
	}

	if len(screened) == 0 {
		if s.cursor == "" {
			return s.exhaust("all remaining candidates screened out")
		}
		return nil
	}

	s.batch = screened
	s.state = StateScoring
	return nil
}

func (s *Session) screens() []screening.Filter {
	filters := make([]screening.Filter, 0, len(s.deps.Screens)+1)
	filters = append(filters, s.deps.Screens...)
	filters = append(filters, screening.NewSeen(func(id string) bool {
		if s.considered[id] {
			return true
		}
		rec, ok := s.records[id]
		return ok && rec != nil && !rec.Status.Terminal()
	}))
	return filters
}

// score runs the reasoning step over the current batch, executing requested
// tool calls, and turns the final decision into attempts and queued outreach.
func (s *Session) score(ctx context.Context) error {
	s.cycles++
	if s.cycles > s.cfg.MaxCycles {
		return s.exhaust("cycle budget spent")
	}

	req := &reasoning.Request{
		Job:        s.job,
		Candidates: s.batch,
		Tools:      s.cfg.Tools,
	}

	for calls := 0; ; calls++ {
		decision, err := s.deps.Decider.Decide(ctx, req)
		if err != nil {
			return s.scoreError(ctx, err)
		}

		if decision.Kind == reasoning.KindCallTool {
			if calls >= s.cfg.MaxToolCalls {
				s.log.Warn("tool call budget spent, skipping batch",
					zap.Int("calls", calls))
				s.skipBatch()
				return nil
			}
			result, err := s.deps.Store.Invoke(ctx, decision.Tool, decision.Args)
			if err != nil {
				if errors.Is(err, protocol.ErrUnavailable) {
					return s.stall(err)
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Remote or argument failures are fed back so the backend
				// can correct course or conclude without the tool.
				result = fmt.Sprintf("tool %s failed: %v", decision.Tool, err)
			}
			req.ToolResults = append(req.ToolResults, reasoning.ToolResult{
				Tool:   decision.Tool,
				Result: result,
			})
			continue
		}

		return s.applyMatches(ctx, decision.Matches)
	}
}

// scoreError maps a reasoning failure onto the loop: timeouts are retried
// within the budget, malformed output skips the batch, unavailability stalls.
func (s *Session) scoreError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, reasoning.ErrTimeout):
		s.timeout++
		if s.timeout > s.cfg.TimeoutRetries {
			s.log.Warn("reasoning timeout budget spent, skipping batch")
			s.skipBatch()
			return nil
		}
		s.log.Warn("reasoning timed out, batch unresolved for this cycle",
			zap.Int("timeouts", s.timeout))
		return nil
	case errors.Is(err, reasoning.ErrMalformedDecision):
		// The decider already re-prompted once; fall back to SKIP.
		s.log.Warn("reasoning output malformed twice, skipping batch")
		s.skipBatch()
		return nil
	case errors.Is(err, protocol.ErrUnavailable):
		return s.stall(err)
	default:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("reasoning failed, skipping batch", zap.Error(err))
		s.skipBatch()
		return nil
	}
}

// skipBatch rules out the current batch without persisting attempts.
func (s *Session) skipBatch() {
	for _, candidate := range s.batch {
		s.considered[candidate.ID] = true
	}
	s.batch = nil
	s.state = StateFetching
}

// applyMatches records one attempt per verdict and queues outreach for
// CONTACT decisions, preserving at most one non-terminal record per
// candidate.
func (s *Session) applyMatches(ctx context.Context, matches []reasoning.Match) error {
	for _, match := range matches {
		attempt := &hiring.MatchAttempt{
			JobID:       s.job.ID,
			CandidateID: match.CandidateID,
			Score:       match.Score,
			Decision:    match.Decision,
			Message:     match.Message,
		}
		s.attempts = append(s.attempts, attempt)
		s.considered[match.CandidateID] = true

		if err := s.deps.Store.RecordMatch(ctx, s.job.ID, match.CandidateID, match.Decision); err != nil {
			if errors.Is(err, protocol.ErrUnavailable) {
				return s.stall(err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("record-match failed",
				zap.String("candidate_id", match.CandidateID),
				zap.Error(err))
		}

		if match.Decision != hiring.DecisionContact {
			continue
		}
		if existing, ok := s.records[match.CandidateID]; ok && !existing.Status.Terminal() {
			continue
		}

		address := match.CandidateID
		for _, candidate := range s.batch {
			if candidate.ID == match.CandidateID {
				address = candidate.Email
				break
			}
		}

		rec := hiring.NewOutreachRecord(attempt, address, subjectPrefix+s.job.Title)
		s.records[match.CandidateID] = rec
		s.queue = append(s.queue, rec)
	}

	// Highest score first; candidate ID breaks ties for determinism.
	sort.SliceStable(s.queue, func(i, j int) bool {
		if s.queue[i].Score != s.queue[j].Score {
			return s.queue[i].Score > s.queue[j].Score
		}
		return s.queue[i].CandidateID < s.queue[j].CandidateID
	})

	s.batch = nil
	if len(s.queue) > 0 {
		s.state = StateDispatching
	} else {
		s.state = StateFetching
	}
	return nil
}

// dispatch sends the highest-ranked queued record. The send itself runs to
// completion even under cancellation; no new send starts afterwards.
func (s *Session) dispatch(ctx context.Context) error {
	if len(s.queue) == 0 {
		s.state = StateFetching
		return nil
	}

	rec := s.queue[0]
	s.queue = s.queue[1:]

	err := s.deps.Courier.Send(context.WithoutCancel(ctx), rec)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		if errors.Is(err, delivery.ErrDeliveryFailed) {
			s.log.Info("outreach delivery failed, candidate ruled out",
				zap.String("candidate_id", rec.CandidateID))
			s.nextAfterFailure()
			return nil
		}
		return err
	}

	s.inflight = rec
	s.state = StateAwaitingAck
	return nil
}

// awaitAck waits for the in-flight record's outcome. The first ACKED record
// fills the job and cancels everything still queued.
func (s *Session) awaitAck(ctx context.Context) error {
	rec := s.inflight
	s.inflight = nil

	status, err := s.deps.Courier.AwaitAck(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if status == hiring.DeliveryAcked {
		s.acked = rec.CandidateID
		if err := s.job.Advance(hiring.JobFilled); err != nil {
			return err
		}
		s.log.Info("job filled", zap.String("candidate_id", rec.CandidateID))

		cancelCtx := context.WithoutCancel(ctx)
		for _, queued := range s.queue {
			s.deps.Courier.Cancel(cancelCtx, queued)
		}
		s.queue = nil
		return nil
	}

	s.log.Info("outreach not acknowledged, candidate ruled out",
		zap.String("candidate_id", rec.CandidateID),
		zap.String("status", string(status)))
	s.nextAfterFailure()
	return nil
}

// nextAfterFailure advances to the next queued record, or back to FETCHING
// when the queue is empty.
func (s *Session) nextAfterFailure() {
	if len(s.queue) > 0 {
		s.state = StateDispatching
	} else {
		s.state = StateFetching
	}
}

func (s *Session) exhaust(reason string) error {
	s.log.Info("job exhausted", zap.String("reason", reason), zap.Int("cycles", s.cycles))
	return s.job.Advance(hiring.JobExhausted)
}

func (s *Session) stall(cause error) error {
	s.log.Warn("job stalled", zap.Error(cause))
	return s.job.Advance(hiring.JobStalled)
}

func (s *Session) result() *Result {
	records := make([]*hiring.OutreachRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CandidateID < records[j].CandidateID
	})

	return &Result{
		JobID:          s.job.ID,
		Status:         s.job.Status,
		Cycles:         s.cycles,
		AckedCandidate: s.acked,
		Attempts:       s.attempts,
		Records:        records,
	}
}
