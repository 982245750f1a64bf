// Package orchestrator runs one matching session per open job on a bounded
// worker pool and aggregates the outcomes.
package orchestrator

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/talentloop/talentloop/internal/hiring"
	"github.com/talentloop/talentloop/internal/reasoning"
	"github.com/talentloop/talentloop/internal/screening"
	"github.com/talentloop/talentloop/internal/session"
)

// Config bounds the pool and the shared reasoning quota.
type Config struct {
	// Workers caps concurrently active sessions. Defaults to the number of
	// available execution units.
	Workers int
	// ReasoningRate is the global reasoning-call budget in calls per minute,
	// shared across all sessions. Zero means 30.
	ReasoningRate int
	// Session is applied to every spawned session.
	Session session.Config
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.ReasoningRate <= 0 {
		c.ReasoningRate = 30
	}
	return c
}

// Summary aggregates all session outcomes of one run.
type Summary struct {
	Filled    int
	Exhausted int
	Stalled   int
	Results   []*session.Result
	Elapsed   time.Duration
}

// Orchestrator fans jobs out to sessions. External collaborators are injected
// once and shared by every session.
type Orchestrator struct {
	cfg     Config
	store   session.Store
	decider reasoning.Decider
	courier session.Courier
	screens []screening.Filter
	logger  *zap.Logger
}

// New creates an orchestrator. The decider is wrapped in the shared rate
// limiter; a session whose call is over quota suspends until a slot frees,
// without blocking other sessions.
func New(store session.Store, decider reasoning.Decider, courier session.Courier, screens []screening.Filter, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	limiter := rate.NewLimiter(rate.Limit(float64(cfg.ReasoningRate)/60.0), 1)

	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		decider: &throttledDecider{next: decider, limiter: limiter},
		courier: courier,
		screens: screens,
		logger:  logger,
	}
}

// Run spawns one session per OPEN job and blocks until every job is terminal
// or stalled, or the context is cancelled. A failure in one session never
// affects another.
func (o *Orchestrator) Run(ctx context.Context, jobs []*hiring.Job) (*Summary, error) {
	start := time.Now()

	summary := &Summary{}
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.cfg.Workers)

	for _, job := range jobs {
		if job.Status != hiring.JobOpen {
			o.logger.Debug("skipping non-open job",
				zap.String("job_id", job.ID),
				zap.String("status", string(job.Status)))
			continue
		}

		group.Go(func() error {
			s := session.New(job, session.Deps{
				Store:   o.store,
				Decider: o.decider,
				Courier: o.courier,
				Screens: o.screens,
				Logger:  o.logger,
			}, o.cfg.Session)

			res, err := s.Run(groupCtx)
			if err != nil && groupCtx.Err() == nil {
				o.logger.Error("session failed",
					zap.String("job_id", job.ID),
					zap.Error(err))
			}

			if res != nil {
				mu.Lock()
				summary.Results = append(summary.Results, res)
				switch res.Status {
				case hiring.JobFilled:
					summary.Filled++
				case hiring.JobExhausted:
					summary.Exhausted++
				case hiring.JobStalled:
					summary.Stalled++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	_ = group.Wait()
	summary.Elapsed = time.Since(start)

	o.logger.Info("run complete",
		zap.Int("jobs", len(summary.Results)),
		zap.Int("filled", summary.Filled),
		zap.Int("exhausted", summary.Exhausted),
		zap.Int("stalled", summary.Stalled),
		zap.Duration("elapsed", summary.Elapsed),
	)

	return summary, ctx.Err()
}

// throttledDecider serializes backend calls through the shared quota.
type throttledDecider struct {
	next    reasoning.Decider
	limiter *rate.Limiter
}

func (d *throttledDecider) Decide(ctx context.Context, req *reasoning.Request) (*reasoning.Decision, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return d.next.Decide(ctx, req)
}
