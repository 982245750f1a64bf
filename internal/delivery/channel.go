// Package delivery sends outreach messages through an external channel and
// tracks their acknowledgment.
package delivery

import (
	"context"
	"errors"

	"github.com/talentloop/talentloop/internal/hiring"
)

// ErrDeliveryFailed is returned when a message could not be delivered after
// exhausting the retry budget. It is terminal for the outreach record, not
// for the job.
var ErrDeliveryFailed = errors.New("delivery failed")

// Message is one outbound email to a candidate.
type Message struct {
	// ID is the client-assigned idempotency key, stable across retries.
	ID          string
	JobID       string
	CandidateID string
	To          string
	From        string
	Subject     string
	Body        string
}

// Receipt is the channel's immediate answer to a send.
type Receipt struct {
	Status hiring.DeliveryStatus
	// MessageID is the channel-assigned identifier used for status lookups.
	// Empty means the channel adopted the client-assigned ID.
	MessageID string
}

// Ack is a push notification about a previously sent message.
type Ack struct {
	MessageID string
	Status    hiring.DeliveryStatus
}

// Channel abstracts the delivery service. Implementations are expected to
// exhibit network-like latency and failures.
type Channel interface {
	Send(ctx context.Context, msg *Message) (*Receipt, error)
	Status(ctx context.Context, messageID string) (hiring.DeliveryStatus, error)
}

// AckNotifier is implemented by channels that push acknowledgments instead
// of requiring status polling.
type AckNotifier interface {
	Acks() <-chan Ack
}

// Canceler is implemented by channels that accept best-effort cancellation
// of not-yet-delivered messages.
type Canceler interface {
	Cancel(ctx context.Context, messageID string) error
}
