// Package refund implements deferred credit reversal for messages that
// ultimately failed to deliver.
//
// A RefundIntent is created by the status reconciler when a charged message
// settles as undelivered or timed out. Intents mature after a fixed delay
// (48h by default) so late gateway corrections can cancel them, then a
// periodic job pays them out. At most one non-cancelled intent ever exists
// per message, and processing is idempotent.
package refund

import (
	"context"
	"errors"
	"time"
)

var (
	ErrIntentNotFound = errors.New("refund intent not found")

	// ErrIntentExists guards the one-intent-per-message invariant.
	ErrIntentExists = errors.New("refund intent already exists for message")

	// ErrNotPending is returned when transitioning an intent that has
	// already been processed or cancelled.
	ErrNotPending = errors.New("refund intent is not pending")
)

// Status is the lifecycle state of a refund intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusCancelled Status = "cancelled"
)

// Intent is one message's pending credit reversal.
type Intent struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	MessageID    string     `json:"messageId"`
	OriginalCost int64      `json:"originalCost"`
	RefundAmount int64      `json:"refundAmount"`
	Reason       string     `json:"reason,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
}

// Stats aggregates intents by status.
type Stats struct {
	PendingCount    int   `json:"pendingCount"`
	PendingAmount   int64 `json:"pendingAmount"`
	ProcessedCount  int   `json:"processedCount"`
	ProcessedAmount int64 `json:"processedAmount"`
	CancelledCount  int   `json:"cancelledCount"`
}

// Store persists refund intents.
type Store interface {
	// Create inserts a new intent. Returns ErrIntentExists when the
	// message already has a non-cancelled intent.
	Create(ctx context.Context, intent *Intent) error

	Get(ctx context.Context, id string) (*Intent, error)

	// ListByUser returns a user's intents, newest first. status filters
	// when non-empty.
	ListByUser(ctx context.Context, userID string, status Status, limit int) ([]*Intent, error)

	// ListMature returns pending intents created before cutoff, oldest
	// first, bounded by limit.
	ListMature(ctx context.Context, cutoff time.Time, limit int) ([]*Intent, error)

	// SetStatus transitions a pending intent to processed or cancelled.
	// Returns ErrNotPending when the intent has already left pending,
	// which makes reprocessing after a crash a safe no-op.
	SetStatus(ctx context.Context, id string, status Status, processedAt time.Time) error

	Stats(ctx context.Context) (*Stats, error)
}
