package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talentloop/talentloop/internal/hiring"
	"github.com/talentloop/talentloop/internal/retry"
	"github.com/talentloop/talentloop/internal/utils"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultAckDeadline  = 60 * time.Second
	// DefaultSender is the from-address used when none is configured.
	DefaultSender = "recruiter@company.com"
)

// Config tunes the dispatcher.
type Config struct {
	// Retry is applied to each send's transient failures.
	Retry retry.Policy
	// PollInterval is the status poll period while awaiting acknowledgment.
	PollInterval time.Duration
	// AckDeadline bounds the wait for an acknowledgment; reaching it marks
	// the record FAILED.
	AckDeadline time.Duration
	// From is the sender address placed on every message.
	From string
}

func (c Config) withDefaults() Config {
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultPolicy()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.AckDeadline <= 0 {
		c.AckDeadline = defaultAckDeadline
	}
	if c.From == "" {
		c.From = DefaultSender
	}
	return c
}

// Dispatcher drives outreach records through the delivery channel. One
// dispatcher is shared by all job sessions; each record's sends are
// serialized by the session owning its job.
type Dispatcher struct {
	channel Channel
	cfg     Config
	logger  *zap.Logger

	// push is set when the channel notifies acknowledgments instead of
	// requiring status polls.
	push bool
	mu   sync.Mutex
	// subs routes the channel's shared ack stream to the waiter for each
	// message. One buffered slot per message: the ack may arrive before the
	// waiter starts selecting.
	subs map[string]chan hiring.DeliveryStatus
}

// NewDispatcher creates a dispatcher over the given channel. For push-capable
// channels a routing goroutine drains the ack stream until the channel closes
// it.
func NewDispatcher(channel Channel, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		channel: channel,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		subs:    map[string]chan hiring.DeliveryStatus{},
	}
	if notifier, ok := channel.(AckNotifier); ok {
		d.push = true
		go d.routeAcks(notifier)
	}
	return d
}

// routeAcks fans incoming acks out to per-message subscriptions. Concurrent
// waiters must never read the shared channel directly: a waiter would consume
// and drop acks addressed to other messages.
func (d *Dispatcher) routeAcks(notifier AckNotifier) {
	for ack := range notifier.Acks() {
		if !ack.Status.Terminal() {
			continue
		}

		d.mu.Lock()
		sub, ok := d.subs[ack.MessageID]
		d.mu.Unlock()
		if !ok {
			d.logger.Debug("dropping ack without a waiter",
				zap.String("message_id", ack.MessageID))
			continue
		}

		select {
		case sub <- ack.Status:
		default:
		}
	}
}

func (d *Dispatcher) subscribe(messageID string) {
	d.mu.Lock()
	if _, ok := d.subs[messageID]; !ok {
		d.subs[messageID] = make(chan hiring.DeliveryStatus, 1)
	}
	d.mu.Unlock()
}

// resubscribe moves a subscription when the channel assigns its own message
// ID in the send receipt.
func (d *Dispatcher) resubscribe(oldID, newID string) {
	if oldID == newID {
		return
	}
	d.mu.Lock()
	if sub, ok := d.subs[oldID]; ok {
		delete(d.subs, oldID)
		d.subs[newID] = sub
	}
	d.mu.Unlock()
}

func (d *Dispatcher) unsubscribe(messageID string) {
	d.mu.Lock()
	delete(d.subs, messageID)
	d.mu.Unlock()
}

func (d *Dispatcher) subscription(messageID string) chan hiring.DeliveryStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subs[messageID]
}

// Send attempts delivery of a PENDING record, retrying transient failures.
// On success the record is SENT; after the retry budget it is FAILED and
// ErrDeliveryFailed is returned. The record's message ID is assigned once and
// reused across retries so the channel can de-duplicate.
func (d *Dispatcher) Send(ctx context.Context, rec *hiring.OutreachRecord) error {
	if rec.Status != hiring.DeliveryPending {
		return fmt.Errorf("outreach %s/%s: cannot send record in state %s", rec.JobID, rec.CandidateID, rec.Status)
	}

	if rec.MessageID == "" {
		rec.MessageID = uuid.NewString()
	}

	// Register before the first attempt: the ack may arrive as soon as the
	// channel accepts the message.
	if d.push {
		d.subscribe(rec.MessageID)
	}
	sentID := rec.MessageID

	msg := &Message{
		ID:          rec.MessageID,
		JobID:       rec.JobID,
		CandidateID: rec.CandidateID,
		To:          rec.Address,
		From:        d.cfg.From,
		Subject:     rec.Subject,
		Body:        rec.Body,
	}

	err := d.cfg.Retry.Do(ctx, func() error {
		rec.Attempts++
		rec.LastAttempt = time.Now()

		receipt, err := d.channel.Send(ctx, msg)
		if err != nil {
			return err
		}
		if receipt.Status == hiring.DeliveryFailed {
			return errors.New("channel reported failure")
		}
		if receipt.MessageID != "" {
			rec.MessageID = receipt.MessageID
		}
		return nil
	})
	if err != nil {
		if d.push {
			d.unsubscribe(sentID)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if advErr := rec.Advance(hiring.DeliveryFailed); advErr != nil {
			return advErr
		}
		d.logger.Warn("delivery failed after retries",
			zap.String("job_id", rec.JobID),
			zap.String("candidate_id", rec.CandidateID),
			zap.Int("attempts", rec.Attempts),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	if d.push {
		d.resubscribe(sentID, rec.MessageID)
	}

	if err := rec.Advance(hiring.DeliverySent); err != nil {
		return err
	}

	d.logger.Info("message sent",
		zap.String("job_id", rec.JobID),
		zap.String("candidate_id", rec.CandidateID),
		zap.String("message_id", rec.MessageID),
		zap.Int("attempts", rec.Attempts),
	)

	return nil
}

// AwaitAck blocks until the record is acknowledged, fails, the ack deadline
// passes (counted as FAILED), or the context is cancelled. Push notifications
// are used when the channel provides them; otherwise the status is polled.
func (d *Dispatcher) AwaitAck(ctx context.Context, rec *hiring.OutreachRecord) (hiring.DeliveryStatus, error) {
	if rec.Status != hiring.DeliverySent {
		return rec.Status, fmt.Errorf("outreach %s/%s: cannot await ack in state %s", rec.JobID, rec.CandidateID, rec.Status)
	}

	deadline := time.Now().Add(d.cfg.AckDeadline)

	if d.push {
		return d.awaitPush(ctx, rec, deadline)
	}
	return d.awaitPoll(ctx, rec, deadline)
}

func (d *Dispatcher) awaitPush(ctx context.Context, rec *hiring.OutreachRecord, deadline time.Time) (hiring.DeliveryStatus, error) {
	sub := d.subscription(rec.MessageID)
	if sub == nil {
		// Not sent through this dispatcher; fall back to polling.
		return d.awaitPoll(ctx, rec, deadline)
	}
	defer d.unsubscribe(rec.MessageID)

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return rec.Status, ctx.Err()
	case <-timer.C:
		return d.expire(rec)
	case status := <-sub:
		if err := rec.Advance(status); err != nil {
			return rec.Status, err
		}
		return status, nil
	}
}

func (d *Dispatcher) awaitPoll(ctx context.Context, rec *hiring.OutreachRecord, deadline time.Time) (hiring.DeliveryStatus, error) {
	for {
		if time.Now().After(deadline) {
			return d.expire(rec)
		}

		status, err := d.channel.Status(ctx, rec.MessageID)
		if err != nil {
			if ctx.Err() != nil {
				return rec.Status, ctx.Err()
			}
			// Transient poll failures are absorbed until the deadline.
			d.logger.Debug("status poll failed",
				zap.String("message_id", rec.MessageID),
				zap.Error(err),
			)
		} else if status.Terminal() {
			if advErr := rec.Advance(status); advErr != nil {
				return rec.Status, advErr
			}
			return status, nil
		}

		if err := utils.WaitFor(ctx, d.cfg.PollInterval); err != nil {
			return rec.Status, err
		}
	}
}

func (d *Dispatcher) expire(rec *hiring.OutreachRecord) (hiring.DeliveryStatus, error) {
	d.logger.Warn("acknowledgment deadline passed",
		zap.String("job_id", rec.JobID),
		zap.String("candidate_id", rec.CandidateID),
		zap.String("message_id", rec.MessageID),
	)
	if err := rec.Advance(hiring.DeliveryFailed); err != nil {
		return rec.Status, err
	}
	return hiring.DeliveryFailed, nil
}

// Cancel advises the channel to drop a queued record. Best-effort: the
// message may already be in flight, and channels without cancellation support
// are left alone. The record is terminalized locally either way.
func (d *Dispatcher) Cancel(ctx context.Context, rec *hiring.OutreachRecord) {
	if rec.Status.Terminal() {
		return
	}

	if canceler, ok := d.channel.(Canceler); ok && rec.MessageID != "" {
		if err := canceler.Cancel(ctx, rec.MessageID); err != nil {
			d.logger.Debug("advisory cancel failed",
				zap.String("message_id", rec.MessageID),
				zap.Error(err),
			)
		}
	}

	if d.push && rec.MessageID != "" {
		d.unsubscribe(rec.MessageID)
	}

	_ = rec.Advance(hiring.DeliveryFailed)
	d.logger.Debug("outreach cancelled",
		zap.String("job_id", rec.JobID),
		zap.String("candidate_id", rec.CandidateID),
	)
}
