// Package message persists per-recipient SMS records and their delivery
// lifecycle.
package message

import (
	"context"
	"errors"
	"time"
)

var ErrMessageNotFound = errors.New("message not found")

// Status is the delivery lifecycle state of one recipient's message.
//
//	sent           accepted by the gateway, report not yet polled
//	pending_report polled at least once, gateway report not ready
//	delivered      confirmed delivered
//	undelivered    confirmed not delivered
//	timed_out      gateway gave up, or we force-settled a stale record
//	failed         gateway refused the submission (never charged)
type Status string

const (
	StatusSent          Status = "sent"
	StatusPendingReport Status = "pending_report"
	StatusDelivered     Status = "delivered"
	StatusUndelivered   Status = "undelivered"
	StatusTimedOut      Status = "timed_out"
	StatusFailed        Status = "failed"
)

// Settled reports whether the status is terminal.
func (s Status) Settled() bool {
	switch s {
	case StatusDelivered, StatusUndelivered, StatusTimedOut, StatusFailed:
		return true
	}
	return false
}

// Refundable reports whether a message in this status earns its sender a
// refund intent.
func (s Status) Refundable() bool {
	return s == StatusUndelivered || s == StatusTimedOut
}

// Message is one recipient's SMS record.
type Message struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	PhoneNumber string `json:"phoneNumber"` // normalized 905XXXXXXXXXX
	Body        string `json:"body"`
	Origin      string `json:"origin,omitempty"` // sender label used on the wire
	Status      Status `json:"status"`
	// Cost is the credit units charged for this recipient. Zero for
	// privileged senders and failed submissions.
	Cost             int64      `json:"cost"`
	GatewayMessageID string     `json:"gatewayMessageId,omitempty"`
	Network          string     `json:"network,omitempty"`
	SentAt           time.Time  `json:"sentAt"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
	FailedAt         *time.Time `json:"failedAt,omitempty"`
	RefundProcessed  bool       `json:"refundProcessed"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Store persists message records.
type Store interface {
	Create(ctx context.Context, msg *Message) error
	Get(ctx context.Context, id string) (*Message, error)

	// ListByUser returns a user's messages, newest first. status filters
	// when non-empty.
	ListByUser(ctx context.Context, userID string, status Status, limit, offset int) ([]*Message, error)

	// ListUnsettled returns non-terminal messages sent before cutoff,
	// oldest first, bounded by limit.
	ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]*Message, error)

	// UpdateDelivery moves a message to status, recording the network and
	// stamping delivered_at or failed_at for terminal outcomes.
	UpdateDelivery(ctx context.Context, id string, status Status, network string, at time.Time) error

	// MarkRefundProcessed flags that the message's refund has been applied.
	MarkRefundProcessed(ctx context.Context, id string) error
}
