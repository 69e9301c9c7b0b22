package refund

import (
	"context"
	"errors"
	"time"

	"github.com/kilicc/kentsms-sub000/internal/account"
	"github.com/kilicc/kentsms-sub000/internal/idgen"
	"github.com/kilicc/kentsms-sub000/internal/logging"
	"github.com/kilicc/kentsms-sub000/internal/message"
	"github.com/kilicc/kentsms-sub000/internal/metrics"
	"github.com/kilicc/kentsms-sub000/internal/traces"
)

// batchLimit bounds intents processed per sweep.
const batchLimit = 100

// Service creates and settles refund intents.
type Service struct {
	store    Store
	messages message.Store
	users    *account.Service
	// delay is the maturation window between intent creation and payout.
	delay time.Duration
}

// NewService creates a refund service.
func NewService(store Store, messages message.Store, users *account.Service, delay time.Duration) *Service {
	if delay <= 0 {
		delay = 48 * time.Hour
	}
	return &Service{store: store, messages: messages, users: users, delay: delay}
}

// CreateIntent records that msg's sender is owed its cost back. A message
// that already has an active intent is a no-op, so reconciler re-runs are
// safe. Zero-cost messages never earn intents.
func (s *Service) CreateIntent(ctx context.Context, msg *message.Message, reason string) (*Intent, error) {
	if msg.Cost <= 0 {
		return nil, nil
	}

	intent := &Intent{
		ID:           idgen.WithPrefix("ref_"),
		UserID:       msg.UserID,
		MessageID:    msg.ID,
		OriginalCost: msg.Cost,
		RefundAmount: msg.Cost,
		Reason:       reason,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}
	if err := s.store.Create(ctx, intent); err != nil {
		if errors.Is(err, ErrIntentExists) {
			return nil, nil
		}
		return nil, err
	}

	logging.L(ctx).Info("refund intent created",
		"intent_id", intent.ID, "message_id", msg.ID,
		"user_id", msg.UserID, "amount", intent.RefundAmount)
	return intent, nil
}

// ProcessMature pays out or cancels every pending intent older than the
// maturation window. Returns counts of processed and cancelled intents.
// Idempotent: re-running after a crash revisits nothing already settled.
func (s *Service) ProcessMature(ctx context.Context) (processed, cancelled int, err error) {
	ctx, span := traces.StartSpan(ctx, "refund.process_mature")
	defer span.End()

	cutoff := time.Now().Add(-s.delay)
	intents, err := s.store.ListMature(ctx, cutoff, batchLimit)
	if err != nil {
		return 0, 0, err
	}

	for _, intent := range intents {
		outcome, perr := s.settle(ctx, intent)
		if perr != nil {
			// Leave the intent for the next run.
			logging.L(ctx).Warn("refund settlement failed",
				"intent_id", intent.ID, "error", perr)
			continue
		}
		switch outcome {
		case StatusProcessed:
			processed++
		case StatusCancelled:
			cancelled++
		}
	}

	if processed > 0 || cancelled > 0 {
		logging.L(ctx).Info("mature refunds processed",
			"processed", processed, "cancelled", cancelled)
	}
	return processed, cancelled, nil
}

// settle applies one mature intent. The linked message's current status
// decides: still failed means pay out, a late delivered report means cancel.
func (s *Service) settle(ctx context.Context, intent *Intent) (Status, error) {
	msg, err := s.messages.Get(ctx, intent.MessageID)
	if err != nil {
		if errors.Is(err, message.ErrMessageNotFound) {
			// Orphaned intent; nothing to refund against.
			if serr := s.store.SetStatus(ctx, intent.ID, StatusCancelled, time.Now()); serr != nil && !errors.Is(serr, ErrNotPending) {
				return "", serr
			}
			return StatusCancelled, nil
		}
		return "", err
	}

	if msg.Status == message.StatusDelivered {
		if serr := s.store.SetStatus(ctx, intent.ID, StatusCancelled, time.Now()); serr != nil {
			if errors.Is(serr, ErrNotPending) {
				return "", nil
			}
			return "", serr
		}
		return StatusCancelled, nil
	}

	if !msg.Status.Refundable() || msg.RefundProcessed {
		// Not refundable (still unsettled) or already paid: leave pending
		// for the next pass in the first case; settle the intent without
		// paying twice in the second.
		if msg.RefundProcessed {
			if serr := s.store.SetStatus(ctx, intent.ID, StatusProcessed, time.Now()); serr != nil && !errors.Is(serr, ErrNotPending) {
				return "", serr
			}
			return StatusProcessed, nil
		}
		return "", nil
	}

	// Claim the intent before moving money so a concurrent sweep cannot
	// pay it twice; SetStatus only succeeds from pending.
	if serr := s.store.SetStatus(ctx, intent.ID, StatusProcessed, time.Now()); serr != nil {
		if errors.Is(serr, ErrNotPending) {
			return "", nil
		}
		return "", serr
	}

	if _, err := s.users.AddCredit(ctx, intent.UserID, intent.RefundAmount); err != nil {
		return "", err
	}
	if err := s.messages.MarkRefundProcessed(ctx, intent.MessageID); err != nil {
		logging.L(ctx).Warn("failed to flag message refund",
			"message_id", intent.MessageID, "error", err)
	}

	metrics.CreditsRefundedTotal.Add(float64(intent.RefundAmount))
	logging.L(ctx).Info("refund paid",
		"intent_id", intent.ID, "user_id", intent.UserID,
		"amount", intent.RefundAmount)
	return StatusProcessed, nil
}

// ListByUser returns a user's refund intents.
func (s *Service) ListByUser(ctx context.Context, userID string, status Status, limit int) ([]*Intent, error) {
	return s.store.ListByUser(ctx, userID, status, limit)
}

// Stats returns aggregate intent counts and amounts.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}
