package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilicc/kentsms-sub000/internal/account"
	"github.com/kilicc/kentsms-sub000/internal/cepsms"
	"github.com/kilicc/kentsms-sub000/internal/idgen"
	"github.com/kilicc/kentsms-sub000/internal/ledger"
	"github.com/kilicc/kentsms-sub000/internal/logging"
	"github.com/kilicc/kentsms-sub000/internal/message"
	"github.com/kilicc/kentsms-sub000/internal/metrics"
	"github.com/kilicc/kentsms-sub000/internal/traces"
)

// Service orchestrates credit-gated dispatch.
type Service struct {
	gateway  Gateway
	accounts *cepsms.Directory
	users    *account.Service
	pool     *ledger.Service
	messages message.Store
	cfg      Config
}

// NewService creates a dispatcher.
func NewService(gateway Gateway, accounts *cepsms.Directory, users *account.Service, pool *ledger.Service, messages message.Store, cfg Config) *Service {
	return &Service{
		gateway:  gateway,
		accounts: accounts,
		users:    users,
		pool:     pool,
		messages: messages,
		cfg:      cfg.withDefaults(),
	}
}

type recipient struct {
	raw        string
	normalized string
}

// sendResult carries one recipient's gateway outcome out of a wave.
type sendResult struct {
	recipient recipient
	gatewayID string
	err       error
}

// DispatchSingle sends body to one phone. Same admission rules as a bulk
// call with one recipient.
func (s *Service) DispatchSingle(ctx context.Context, userID, phone, body, origin string) (*Result, error) {
	return s.DispatchBulk(ctx, userID, []string{phone}, body, origin)
}

// DispatchBulk admits, fans out, and records a batch send.
//
// Admission failures (insufficient credit, no gateway account, every
// recipient invalid) abort the whole call before any send. Per-recipient
// failures only mark that recipient; they never abort the batch.
func (s *Service) DispatchBulk(ctx context.Context, userID string, phones []string, body, origin string) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "dispatch.bulk",
		traces.UserID(userID), traces.BatchSize(len(phones)))
	defer span.End()

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Partition recipients up front. Invalid numbers become failed
	// outcomes without touching credit.
	var valid []recipient
	var invalid []Outcome
	for _, raw := range phones {
		normalized, nerr := cepsms.Normalize(raw)
		if nerr != nil {
			invalid = append(invalid, Outcome{Phone: raw, Error: nerr.Error()})
			metrics.MessagesTotal.WithLabelValues("invalid_phone").Inc()
			continue
		}
		valid = append(valid, recipient{raw: raw, normalized: normalized})
	}
	if len(valid) == 0 {
		return nil, ErrNoValidRecipients
	}

	unitCost := UnitCost(body)
	if user.Privileged() {
		unitCost = 0
	}
	span.SetAttributes(traces.CreditCost(unitCost))

	// Whole-batch admission check. The batch must be fundable by both
	// tiers before anything is sent; actual debits stay per-success.
	if unitCost > 0 {
		total := unitCost * int64(len(valid))
		if user.Credit < total {
			return nil, fmt.Errorf("%w: user balance %d, need %d", ErrInsufficientCredit, user.Credit, total)
		}
		ok, perr := s.pool.CanCover(ctx, total)
		if perr != nil {
			return nil, perr
		}
		if !ok {
			return nil, fmt.Errorf("%w: system pool cannot cover %d", ErrInsufficientCredit, total)
		}
	}

	acct, err := s.resolveAccount(ctx, user)
	if err != nil {
		return nil, err
	}

	result := &Result{Results: invalid, Failed: len(invalid)}

	for start := 0; start < len(valid); start += s.cfg.ConcurrentLimit {
		end := start + s.cfg.ConcurrentLimit
		if end > len(valid) {
			end = len(valid)
		}
		wave := valid[start:end]

		if start > 0 && s.cfg.WaveDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(s.cfg.WaveDelay):
			}
		}

		for _, res := range s.sendWave(ctx, acct, wave, body) {
			s.settleSend(ctx, user, res, body, origin, unitCost, acct, result)
		}
	}

	logging.L(ctx).Info("bulk dispatch complete",
		"user_id", userID, "sent", result.Sent, "failed", result.Failed,
		"total_cost", result.TotalCost)
	return result, nil
}

// resolveAccount maps the user to gateway credentials. Ordinary users must
// carry their own mapping; the shared default credential is a privileged-only
// exception and is logged when used.
func (s *Service) resolveAccount(ctx context.Context, user *account.User) (cepsms.Account, error) {
	if acct, ok := s.accounts.ByUsername(user.CepSMSUsername); ok {
		return acct, nil
	}
	if user.Privileged() {
		if acct, ok := s.accounts.Default(); ok {
			logging.L(ctx).Warn("privileged sender using default gateway credential",
				"user_id", user.ID)
			return acct, nil
		}
	}
	return cepsms.Account{}, ErrNoGatewayAccount
}

// sendWave issues all sends in a wave concurrently and waits for every
// result. One slow recipient is bounded by SendTimeout, not by the wave.
func (s *Service) sendWave(ctx context.Context, acct cepsms.Account, wave []recipient, body string) []sendResult {
	results := make([]sendResult, len(wave))
	var wg sync.WaitGroup

	for i, rcpt := range wave {
		wg.Add(1)
		go func(i int, rcpt recipient) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
			defer cancel()

			gatewayID, err := s.gateway.Send(sendCtx, acct, []string{rcpt.normalized}, body)
			results[i] = sendResult{recipient: rcpt, gatewayID: gatewayID, err: err}
		}(i, rcpt)
	}
	wg.Wait()

	return results
}

// settleSend persists one recipient's record and applies the debit saga for
// successes. Runs sequentially after the wave joins so that each debit sees
// a fresh balance.
func (s *Service) settleSend(ctx context.Context, user *account.User, res sendResult, body, origin string, unitCost int64, acct cepsms.Account, result *Result) {
	now := time.Now()

	if res.err != nil {
		// Gateway refused or timed out: record for audit, charge nothing.
		msg := &message.Message{
			ID:          idgen.WithPrefix("sms_"),
			UserID:      user.ID,
			PhoneNumber: res.recipient.normalized,
			Body:        body,
			Origin:      origin,
			Status:      message.StatusFailed,
			Cost:        0,
			SentAt:      now,
			FailedAt:    &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if cerr := s.messages.Create(ctx, msg); cerr != nil {
			logging.L(ctx).Error("failed to record failed send",
				"phone", res.recipient.normalized, "error", cerr)
		}
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		result.Failed++
		result.Results = append(result.Results, Outcome{
			Phone:      res.recipient.raw,
			Normalized: res.recipient.normalized,
			MessageID:  msg.ID,
			Error:      res.err.Error(),
		})
		return
	}

	charged := s.debitSaga(ctx, user, unitCost)

	wireOrigin := origin
	if wireOrigin == "" {
		wireOrigin = acct.WireFrom()
	}
	msg := &message.Message{
		ID:               idgen.WithPrefix("sms_"),
		UserID:           user.ID,
		PhoneNumber:      res.recipient.normalized,
		Body:             body,
		Origin:           wireOrigin,
		Status:           message.StatusSent,
		Cost:             charged,
		GatewayMessageID: res.gatewayID,
		SentAt:           now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if cerr := s.messages.Create(ctx, msg); cerr != nil {
		// Charged but nothing durable proves the spend: compensate.
		s.compensate(ctx, user, charged)
		logging.L(ctx).Error("failed to persist sent message, credit compensated",
			"phone", res.recipient.normalized, "error", cerr)
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		result.Failed++
		result.Results = append(result.Results, Outcome{
			Phone:      res.recipient.raw,
			Normalized: res.recipient.normalized,
			Error:      "persistence error: " + cerr.Error(),
		})
		return
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	result.Sent++
	result.TotalCost += charged
	result.Results = append(result.Results, Outcome{
		Phone:      res.recipient.raw,
		Normalized: res.recipient.normalized,
		Success:    true,
		MessageID:  msg.ID,
	})
}

// debitSaga charges the pool then the user for one accepted send. If the
// user debit fails after the pool debit succeeded, the pool is credited
// back. Returns the units actually charged.
func (s *Service) debitSaga(ctx context.Context, user *account.User, unitCost int64) int64 {
	if unitCost <= 0 {
		return 0
	}

	if _, err := s.pool.Debit(ctx, unitCost); err != nil {
		// Pool drained mid-batch by a concurrent caller. The message is
		// already out; record it uncharged rather than inventing debt.
		logging.L(ctx).Warn("pool debit failed mid-batch, send goes uncharged",
			"user_id", user.ID, "error", err)
		return 0
	}

	if _, err := s.users.DebitCredit(ctx, user.ID, unitCost); err != nil {
		if _, cerr := s.pool.Credit(ctx, unitCost); cerr != nil {
			logging.L(ctx).Error("pool compensation failed", "error", cerr)
		}
		logging.L(ctx).Warn("user debit failed mid-batch, send goes uncharged",
			"user_id", user.ID, "error", err)
		return 0
	}

	metrics.CreditsDebitedTotal.Add(float64(unitCost))
	return unitCost
}

// compensate returns a charge after a persistence failure.
func (s *Service) compensate(ctx context.Context, user *account.User, charged int64) {
	if charged <= 0 {
		return
	}
	if _, err := s.pool.Credit(ctx, charged); err != nil {
		logging.L(ctx).Error("pool compensation failed", "error", err)
	}
	if _, err := s.users.AddCredit(ctx, user.ID, charged); err != nil {
		logging.L(ctx).Error("user compensation failed",
			"user_id", user.ID, "error", err)
	}
}
