// Package report reconciles delivery status for unsettled messages by
// polling the gateway's report API.
package report

import (
	"context"
	"time"

	"github.com/kilicc/kentsms-sub000/internal/account"
	"github.com/kilicc/kentsms-sub000/internal/cepsms"
	"github.com/kilicc/kentsms-sub000/internal/logging"
	"github.com/kilicc/kentsms-sub000/internal/message"
	"github.com/kilicc/kentsms-sub000/internal/metrics"
	"github.com/kilicc/kentsms-sub000/internal/refund"
	"github.com/kilicc/kentsms-sub000/internal/traces"
)

// batchLimit bounds messages polled per sweep.
const batchLimit = 100

// Gateway is the slice of the CepSMS client the reconciler needs.
type Gateway interface {
	QueryStatus(ctx context.Context, acct cepsms.Account, messageID, phone string) (cepsms.DeliveryState, string, error)
}

// Reconciler polls delivery reports and settles message records.
type Reconciler struct {
	messages message.Store
	gateway  Gateway
	accounts *cepsms.Directory
	users    *account.Service
	refunds  *refund.Service

	// grace is how long after sending before a message is first polled.
	grace time.Duration
	// maxAge force-settles anything unsettled past this as timed out.
	maxAge time.Duration
}

// NewReconciler creates a status reconciler.
func NewReconciler(messages message.Store, gateway Gateway, accounts *cepsms.Directory, users *account.Service, refunds *refund.Service, grace, maxAge time.Duration) *Reconciler {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}
	return &Reconciler{
		messages: messages,
		gateway:  gateway,
		accounts: accounts,
		users:    users,
		refunds:  refunds,
		grace:    grace,
		maxAge:   maxAge,
	}
}

// Sweep polls one bounded page of unsettled messages. Returns how many were
// checked and how many reached a terminal state. Per-message errors leave
// the row for the next run.
func (r *Reconciler) Sweep(ctx context.Context) (checked, settled int, err error) {
	ctx, span := traces.StartSpan(ctx, "report.sweep")
	defer span.End()

	now := time.Now()
	msgs, err := r.messages.ListUnsettled(ctx, now.Add(-r.grace), batchLimit)
	if err != nil {
		return 0, 0, err
	}

	for _, msg := range msgs {
		checked++

		if now.Sub(msg.SentAt) > r.maxAge {
			if r.forceSettle(ctx, msg, now) {
				settled++
			}
			continue
		}

		if r.poll(ctx, msg, now) {
			settled++
		}
	}

	if checked > 0 {
		logging.L(ctx).Info("status sweep complete",
			"checked", checked, "settled", settled)
	}
	return checked, settled, nil
}

// forceSettle times out a message the gateway never reported on, so no row
// is polled forever. Charged messages still earn their refund intent.
func (r *Reconciler) forceSettle(ctx context.Context, msg *message.Message, now time.Time) bool {
	if err := r.messages.UpdateDelivery(ctx, msg.ID, message.StatusTimedOut, "", now); err != nil {
		logging.L(ctx).Warn("force settle failed",
			"message_id", msg.ID, "error", err)
		return false
	}
	if _, err := r.refunds.CreateIntent(ctx, msg, "status report never arrived"); err != nil {
		logging.L(ctx).Warn("refund intent creation failed",
			"message_id", msg.ID, "error", err)
	}
	metrics.MessagesSettledTotal.WithLabelValues("forced").Inc()
	logging.L(ctx).Info("message force-settled as timed out",
		"message_id", msg.ID, "sent_at", msg.SentAt)
	return true
}

// poll queries the gateway for one message and applies the verdict.
func (r *Reconciler) poll(ctx context.Context, msg *message.Message, now time.Time) bool {
	if msg.GatewayMessageID == "" {
		// Nothing to query; ages out via forceSettle eventually.
		return false
	}

	acct, err := r.resolveAccount(ctx, msg.UserID)
	if err != nil {
		logging.L(ctx).Warn("cannot resolve gateway account for report",
			"message_id", msg.ID, "user_id", msg.UserID, "error", err)
		return false
	}

	state, network, err := r.gateway.QueryStatus(ctx, acct, msg.GatewayMessageID, msg.PhoneNumber)
	if err != nil {
		logging.L(ctx).Warn("status query failed",
			"message_id", msg.ID, "error", err)
		return false
	}

	switch state {
	case cepsms.StateDelivered:
		return r.settle(ctx, msg, message.StatusDelivered, network, now, "")
	case cepsms.StateUndelivered:
		return r.settle(ctx, msg, message.StatusUndelivered, network, now, "gateway reported undelivered")
	case cepsms.StateTimedOut:
		return r.settle(ctx, msg, message.StatusTimedOut, network, now, "gateway reported timeout")
	default:
		// Report not ready. Record that we polled at least once.
		if msg.Status == message.StatusSent {
			if uerr := r.messages.UpdateDelivery(ctx, msg.ID, message.StatusPendingReport, network, now); uerr != nil {
				logging.L(ctx).Warn("pending mark failed",
					"message_id", msg.ID, "error", uerr)
			}
		}
		return false
	}
}

// settle moves a message to a terminal state and creates the refund intent
// for charged failures. refundReason empty means no refund.
func (r *Reconciler) settle(ctx context.Context, msg *message.Message, status message.Status, network string, now time.Time, refundReason string) bool {
	if err := r.messages.UpdateDelivery(ctx, msg.ID, status, network, now); err != nil {
		logging.L(ctx).Warn("delivery update failed",
			"message_id", msg.ID, "error", err)
		return false
	}

	if refundReason != "" && status.Refundable() {
		if _, err := r.refunds.CreateIntent(ctx, msg, refundReason); err != nil {
			logging.L(ctx).Warn("refund intent creation failed",
				"message_id", msg.ID, "error", err)
		}
	}

	metrics.MessagesSettledTotal.WithLabelValues(string(status)).Inc()
	return true
}

// resolveAccount maps a message's sender back to gateway credentials,
// falling back to the default credential for privileged users the same way
// dispatch does.
func (r *Reconciler) resolveAccount(ctx context.Context, userID string) (cepsms.Account, error) {
	user, err := r.users.Get(ctx, userID)
	if err != nil {
		return cepsms.Account{}, err
	}
	if acct, ok := r.accounts.ByUsername(user.CepSMSUsername); ok {
		return acct, nil
	}
	if user.Privileged() {
		if acct, ok := r.accounts.Default(); ok {
			return acct, nil
		}
	}
	return cepsms.Account{}, cepsms.ErrNoGatewayAccount
}
