package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Tx is the transactional handle used by AppendInTx.
//
// It intentionally aliases *sql.Tx so the business write and the outbox
// insert share the caller's database/sql transaction without an adapter
// layer in the write path.
type Tx = *sql.Tx

// Store defines persistence operations for outbox events.
type Store interface {
	// Append inserts a pending event in its own transaction. Prefer
	// AppendInTx (or Writer) on the business write path so the event and
	// the business mutation commit atomically.
	Append(ctx context.Context, event *Event) error
	// AppendInTx inserts a pending event inside the caller's transaction.
	AppendInTx(ctx context.Context, tx Tx, event *Event) error
	// ListPending returns up to limit pending events in creation order.
	ListPending(ctx context.Context, limit int) ([]*Event, error)
	// MarkSent transitions an event PENDING -> SENT, refreshing timestamps.
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	// MarkFailed transitions an event PENDING -> FAILED, incrementing the
	// attempt counter and recording the last error.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	// ResetForRetry reclaims up to limit FAILED events older than
	// failedBefore that still have attempts left, flipping them back to
	// PENDING and returning them.
	ResetForRetry(ctx context.Context, limit int, failedBefore time.Time, maxAttempts int) ([]*Event, error)
}

// RetryPolicy decides whether FAILED events are reclaimed for another
// publish attempt.
//
// The default (MaxAttempts=1) preserves terminal-FAILED behavior: an event
// that failed once is never rescanned. Raising MaxAttempts lets the relay
// reclaim failed events once they are older than RetryWindow.
type RetryPolicy struct {
	MaxAttempts int
	RetryWindow time.Duration
}

// DefaultRetryPolicy returns the no-retry baseline policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 1,
		RetryWindow: 5 * time.Minute,
	}
}

// RetryEnabled reports whether FAILED events are ever reclaimed.
func (p RetryPolicy) RetryEnabled() bool {
	return p.MaxAttempts > 1
}

// Publisher is the message channel boundary consumed by the relay: publish
// an opaque payload under an event type with a partition key. Only
// success/error semantics are consumed; acknowledgment details stay inside
// the implementation.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload []byte) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, eventType, key string, payload []byte) error

// Publish calls fn.
func (fn PublisherFunc) Publish(ctx context.Context, eventType, key string, payload []byte) error {
	return fn(ctx, eventType, key, payload)
}
