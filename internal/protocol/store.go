package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/talentloop/talentloop/internal/hiring"
)

// Tool names the job/candidate store is expected to advertise.
const (
	ToolListJobs        = "list-jobs"
	ToolFetchJob        = "fetch-job"
	ToolFetchCandidates = "fetch-candidates"
	ToolRecordMatch     = "record-match"
)

// CandidatePage is one page of unconsidered candidates for a job.
type CandidatePage struct {
	Candidates []*hiring.Candidate `json:"candidates"`
	// NextCursor is empty when the store has no remaining candidates.
	NextCursor string `json:"next_cursor"`
}

// ListJobs returns all jobs known to the store.
func (c *Client) ListJobs(ctx context.Context) ([]*hiring.Job, error) {
	text, err := c.Invoke(ctx, ToolListJobs, map[string]any{})
	if err != nil {
		return nil, err
	}

	var jobs []*hiring.Job
	if err := decodeResult(text, &jobs); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", ToolListJobs, err)
	}

	return jobs, nil
}

// FetchJob returns a single job by identifier.
func (c *Client) FetchJob(ctx context.Context, jobID string) (*hiring.Job, error) {
	text, err := c.Invoke(ctx, ToolFetchJob, map[string]any{
		"jobId": jobID,
	})
	if err != nil {
		return nil, err
	}

	var job *hiring.Job
	if err := decodeResult(text, &job); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", ToolFetchJob, err)
	}

	return job, nil
}

// FetchCandidates returns one page of candidates for the job starting at the
// given cursor. The call is read-only and idempotent: replaying the same
// cursor yields the same page.
func (c *Client) FetchCandidates(ctx context.Context, jobID, cursor string, pageSize int) (*CandidatePage, error) {
	text, err := c.Invoke(ctx, ToolFetchCandidates, map[string]any{
		"jobId":    jobID,
		"cursor":   cursor,
		"pageSize": pageSize,
	})
	if err != nil {
		return nil, err
	}

	var page *CandidatePage
	if err := decodeResult(text, &page); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", ToolFetchCandidates, err)
	}
	if page == nil {
		page = &CandidatePage{}
	}

	return page, nil
}

// RecordMatch persists a decision for a (job, candidate) pair in the store.
func (c *Client) RecordMatch(ctx context.Context, jobID, candidateID string, decision hiring.Decision) error {
	_, err := c.Invoke(ctx, ToolRecordMatch, map[string]any{
		"jobId":       jobID,
		"candidateId": candidateID,
		"decision":    string(decision),
	})
	return err
}

// decodeResult unmarshals the tool's JSON text and decodes it into target
// honoring the json tags of the domain types.
func decodeResult(text string, target any) error {
	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return err
	}

	cfg := &mapstructure.DecoderConfig{
		Result:  target,
		TagName: "json",
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}

	return decoder.Decode(raw)
}
