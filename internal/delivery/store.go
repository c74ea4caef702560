package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultMaxPending caps the pending queue of one identity.
	DefaultMaxPending = 50
	// DefaultMaxAttempts is how many failed flushes a pending message survives.
	DefaultMaxAttempts = 3
	// DefaultPendingTTL is the age after which a pending message is purged.
	DefaultPendingTTL = 300 * time.Second
)

// PendingMessage is a notification that could not be delivered directly.
type PendingMessage struct {
	ID          string          `json:"id"`
	Identity    string          `json:"identity"`
	Payload     json.RawMessage `json:"payload"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
}

// NewPendingMessage wraps an encoded payload. IDs are ULIDs so they sort by
// enqueue time.
func NewPendingMessage(identity string, payload []byte, maxAttempts int, now time.Time) PendingMessage {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return PendingMessage{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Identity:    identity,
		Payload:     json.RawMessage(payload),
		EnqueuedAt:  now,
		MaxAttempts: maxAttempts,
	}
}

// Exhausted reports whether the message has used all its attempts.
func (m PendingMessage) Exhausted() bool {
	return m.Attempts >= m.MaxAttempts
}

// MessageStore keeps a bounded FIFO of pending messages per identity.
type MessageStore interface {
	// Enqueue appends msg to its identity's queue and returns how many of the
	// oldest messages were evicted to stay within the cap.
	Enqueue(ctx context.Context, msg PendingMessage) (int, error)
	// List returns an identity's pending messages, oldest first.
	List(ctx context.Context, identity string) ([]PendingMessage, error)
	// Remove deletes one message. Removing an unknown id is not an error.
	Remove(ctx context.Context, identity, id string) error
	// RecordFailure increments a message's attempt count and drops it once
	// exhausted. It reports whether the message was dropped.
	RecordFailure(ctx context.Context, identity, id string) (bool, error)
	// Clear deletes every pending message of an identity.
	Clear(ctx context.Context, identity string) (int, error)
	// Purge deletes messages enqueued before cutoff across all identities.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// StoreError wraps a store failure with the operation name.
func StoreError(op string, err error) error {
	return fmt.Errorf("pending store %s: %w", op, err)
}
