package screening

import (
	"context"
	"strings"

	"github.com/talentloop/talentloop/internal/hiring"
)

type availabilityFilter struct{}

// NewAvailability creates a filter that removes candidates who are not
// currently available for work.
func NewAvailability() Filter {
	return &availabilityFilter{}
}

func (f *availabilityFilter) Name() string { return "availability" }

func (f *availabilityFilter) Apply(_ context.Context, _ Deps, batch []*hiring.Candidate) ([]*hiring.Candidate, Step, error) {
	kept := make([]*hiring.Candidate, 0, len(batch))
	for _, candidate := range batch {
		if candidate.Available {
			kept = append(kept, candidate)
		}
	}
	return kept, step(len(batch), len(kept)), nil
}

type skillOverlapFilter struct {
	min int
}

// NewSkillOverlap creates a filter that requires at least min skills shared
// with the job, compared case-insensitively.
func NewSkillOverlap(min int) Filter {
	if min < 1 {
		min = 1
	}
	return &skillOverlapFilter{min: min}
}

func (f *skillOverlapFilter) Name() string { return "skill_overlap" }

func (f *skillOverlapFilter) Apply(_ context.Context, deps Deps, batch []*hiring.Candidate) ([]*hiring.Candidate, Step, error) {
	if deps.Job == nil || len(deps.Job.Skills) == 0 {
		return batch, step(len(batch), len(batch)), nil
	}

	wanted := make(map[string]bool, len(deps.Job.Skills))
	for _, skill := range deps.Job.Skills {
		wanted[strings.ToLower(strings.TrimSpace(skill))] = true
	}

	kept := make([]*hiring.Candidate, 0, len(batch))
	for _, candidate := range batch {
		overlap := 0
		for _, skill := range candidate.Skills {
			if wanted[strings.ToLower(strings.TrimSpace(skill))] {
				overlap++
			}
		}
		if overlap >= f.min {
			kept = append(kept, candidate)
		}
	}

	return kept, step(len(batch), len(kept)), nil
}

type seenFilter struct {
	seen func(candidateID string) bool
}

// NewSeen creates a filter that removes candidates already considered for the
// job. SKIP decisions and failed deliveries are never re-evaluated.
func NewSeen(seen func(candidateID string) bool) Filter {
	return &seenFilter{seen: seen}
}

func (f *seenFilter) Name() string { return "already_considered" }

func (f *seenFilter) Apply(_ context.Context, _ Deps, batch []*hiring.Candidate) ([]*hiring.Candidate, Step, error) {
	if f.seen == nil {
		return batch, step(len(batch), len(batch)), nil
	}

	kept := make([]*hiring.Candidate, 0, len(batch))
	for _, candidate := range batch {
		if !f.seen(candidate.ID) {
			kept = append(kept, candidate)
		}
	}

	return kept, step(len(batch), len(kept)), nil
}

func step(initial, left int) Step {
	return Step{Initial: initial, Dropped: initial - left, Left: left}
}
