package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/talentloop/talentloop/internal/hiring"
	"github.com/talentloop/talentloop/internal/protocol"
	"github.com/talentloop/talentloop/internal/reasoning"
)

type fakeStore struct {
	mu      sync.Mutex
	fetched map[string]int
	fetchFn func(jobID string, call int) (*protocol.CandidatePage, error)
}

func newFakeStore(fetchFn func(jobID string, call int) (*protocol.CandidatePage, error)) *fakeStore {
	return &fakeStore{fetched: map[string]int{}, fetchFn: fetchFn}
}

func (f *fakeStore) FetchCandidates(_ context.Context, jobID, _ string, _ int) (*protocol.CandidatePage, error) {
	f.mu.Lock()
	f.fetched[jobID]++
	call := f.fetched[jobID]
	f.mu.Unlock()
	return f.fetchFn(jobID, call)
}

func (f *fakeStore) RecordMatch(context.Context, string, string, hiring.Decision) error {
	return nil
}

func (f *fakeStore) Invoke(context.Context, string, map[string]any) (string, error) {
	return "{}", nil
}

type fakeDecider struct {
	decideFn func(req *reasoning.Request) (*reasoning.Decision, error)
}

func (f *fakeDecider) Decide(_ context.Context, req *reasoning.Request) (*reasoning.Decision, error) {
	return f.decideFn(req)
}

type fakeCourier struct {
	mu     sync.Mutex
	sent   []string
	sendFn func(rec *hiring.OutreachRecord) error
}

func (f *fakeCourier) Send(_ context.Context, rec *hiring.OutreachRecord) error {
	f.mu.Lock()
	f.sent = append(f.sent, rec.JobID+"/"+rec.CandidateID)
	f.mu.Unlock()
	if f.sendFn != nil {
		if err := f.sendFn(rec); err != nil {
			return err
		}
	}
	return rec.Advance(hiring.DeliverySent)
}

func (f *fakeCourier) AwaitAck(_ context.Context, rec *hiring.OutreachRecord) (hiring.DeliveryStatus, error) {
	if err := rec.Advance(hiring.DeliveryAcked); err != nil {
		return rec.Status, err
	}
	return hiring.DeliveryAcked, nil
}

func (f *fakeCourier) Cancel(_ context.Context, rec *hiring.OutreachRecord) {
	_ = rec.Advance(hiring.DeliveryFailed)
}

func openJob(id string) *hiring.Job {
	return &hiring.Job{ID: id, Title: "Engineer", Status: hiring.JobOpen}
}

func onePage(jobID string) *protocol.CandidatePage {
	return &protocol.CandidatePage{
		Candidates: []*hiring.Candidate{
			{ID: jobID + "-C1", Email: "c1@example.com", Available: true},
		},
	}
}

func contactAll(req *reasoning.Request) (*reasoning.Decision, error) {
	matches := make([]reasoning.Match, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		matches = append(matches, reasoning.Match{
			CandidateID: c.ID,
			Score:       90,
			Decision:    hiring.DecisionContact,
			Message:     "hello",
		})
	}
	return &reasoning.Decision{Kind: reasoning.KindFinal, Matches: matches}, nil
}

// fastConfig keeps the shared quota out of the way for tests that are not
// about throttling.
func fastConfig() Config {
	return Config{Workers: 4, ReasoningRate: 100000}
}

func TestRunAggregatesOutcomes(t *testing.T) {
	t.Parallel()

	store := newFakeStore(func(jobID string, call int) (*protocol.CandidatePage, error) {
		switch jobID {
		case "J1":
			return onePage(jobID), nil
		case "J2":
			return &protocol.CandidatePage{}, nil
		default:
			return nil, fmt.Errorf("%w: connection refused", protocol.ErrUnavailable)
		}
	})
	decider := &fakeDecider{decideFn: contactAll}
	courier := &fakeCourier{}

	o := New(store, decider, courier, nil, fastConfig(), nil)
	summary, err := o.Run(context.Background(), []*hiring.Job{
		openJob("J1"), openJob("J2"), openJob("J3"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Filled != 1 || summary.Exhausted != 1 || summary.Stalled != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if len(summary.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(summary.Results))
	}
	if summary.Elapsed <= 0 {
		t.Fatal("expected elapsed time to be recorded")
	}
}

func TestSessionFailureDoesNotAffectOtherJobs(t *testing.T) {
	t.Parallel()

	store := newFakeStore(func(jobID string, call int) (*protocol.CandidatePage, error) {
		return onePage(jobID), nil
	})
	decider := &fakeDecider{decideFn: contactAll}
	courier := &fakeCourier{
		sendFn: func(rec *hiring.OutreachRecord) error {
			if rec.JobID == "J1" {
				return errors.New("channel wedged")
			}
			return nil
		},
	}

	o := New(store, decider, courier, nil, fastConfig(), nil)
	summary, err := o.Run(context.Background(), []*hiring.Job{openJob("J1"), openJob("J2")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Filled != 1 {
		t.Fatalf("expected J2 filled despite J1 failure, got %+v", summary)
	}
	if len(summary.Results) != 2 {
		t.Fatalf("expected both results reported, got %d", len(summary.Results))
	}
}

func TestNonOpenJobsAreSkipped(t *testing.T) {
	t.Parallel()

	store := newFakeStore(func(jobID string, call int) (*protocol.CandidatePage, error) {
		return onePage(jobID), nil
	})
	o := New(store, &fakeDecider{decideFn: contactAll}, &fakeCourier{}, nil, fastConfig(), nil)

	filled := openJob("J1")
	filled.Status = hiring.JobFilled

	summary, err := o.Run(context.Background(), []*hiring.Job{filled})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.Results) != 0 {
		t.Fatalf("expected no sessions for non-open jobs, got %+v", summary.Results)
	}
}

func TestWorkerLimitBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	active, peak := 0, 0

	store := newFakeStore(func(jobID string, call int) (*protocol.CandidatePage, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return &protocol.CandidatePage{}, nil
	})

	cfg := fastConfig()
	cfg.Workers = 1

	o := New(store, &fakeDecider{decideFn: contactAll}, &fakeCourier{}, nil, cfg, nil)
	jobs := []*hiring.Job{openJob("J1"), openJob("J2"), openJob("J3")}
	if _, err := o.Run(context.Background(), jobs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if peak > 1 {
		t.Fatalf("expected at most 1 concurrent session, saw %d", peak)
	}
}

func TestThrottledDeciderHonorsCancellation(t *testing.T) {
	t.Parallel()

	// Burst of one: the first call drains the quota, the second must wait.
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	d := &throttledDecider{
		next:    &fakeDecider{decideFn: contactAll},
		limiter: limiter,
	}

	req := &reasoning.Request{Job: openJob("J1")}
	if _, err := d.Decide(context.Background(), req); err != nil {
		t.Fatalf("first call should pass the limiter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := d.Decide(ctx, req); err == nil {
		t.Fatal("expected the rate-limited call to fail on context expiry")
	}
}
