// Package screening applies ordered pre-filters to a candidate batch before
// it is sent to the reasoning backend.
package screening

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/talentloop/talentloop/internal/hiring"
)

// Filter represents a single screening step applied to a candidate batch.
type Filter interface {
	Name() string
	Apply(ctx context.Context, deps Deps, batch []*hiring.Candidate) ([]*hiring.Candidate, Step, error)
}

// Deps aggregates dependencies shared across all screening steps.
type Deps struct {
	Job    *hiring.Job
	Logger *zap.Logger
}

// Step describes the result of executing a screening step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Run executes the supplied filters sequentially and returns the remaining
// candidates.
func Run(ctx context.Context, deps Deps, steps []Filter, batch []*hiring.Candidate) ([]*hiring.Candidate, error) {
	for _, step := range steps {
		next, info, err := step.Apply(ctx, deps, batch)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		if deps.Logger != nil && info.Dropped > 0 {
			deps.Logger.Debug("screening step",
				zap.String("name", step.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}

		batch = next
	}

	return batch, nil
}
