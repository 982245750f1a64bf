// Package retry provides a bounded exponential-backoff retry policy shared by
// the protocol client and the outreach dispatcher.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/talentloop/talentloop/internal/utils"
)

// Policy controls how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration
	// Factor multiplies the delay after every failed attempt.
	Factor float64
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Jitter adds up to ±25% randomness to each delay when true.
	Jitter bool
}

// DefaultPolicy returns the policy used for transient transport failures:
// 3 attempts, 200ms base delay, factor 2.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Factor:      2,
		MaxDelay:    5 * time.Second,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable. Do returns the wrapped error
// immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, the attempt budget is exhausted, the context
// is cancelled, or fn returns an error marked Permanent. The last error is
// returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		if attempt < attempts-1 {
			if waitErr := utils.WaitFor(ctx, p.delay(attempt)); waitErr != nil {
				return waitErr
			}
		}
	}

	return err
}

// delay computes the backoff before the attempt following the given
// zero-based failed attempt: min(base * factor^attempt, max), plus jitter.
func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}

	factor := p.Factor
	if factor < 1 {
		factor = 1
	}

	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= factor
	}

	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter {
		quarter := d / 4
		if quarter > 0 {
			d += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		}
	}

	return d
}
