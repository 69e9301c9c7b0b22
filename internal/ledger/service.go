package ledger

import (
	"context"

	"github.com/kilicc/kentsms-sub000/internal/logging"
	"github.com/kilicc/kentsms-sub000/internal/metrics"
)

// Service wraps the pool store with logging and metrics.
type Service struct {
	store Store
}

// NewService creates a new system credit service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Balance returns the current pool balance.
func (s *Service) Balance(ctx context.Context) (int64, error) {
	balance, err := s.store.Balance(ctx)
	if err != nil {
		return 0, err
	}
	metrics.SystemCreditBalance.Set(float64(balance))
	return balance, nil
}

// Debit draws amount from the pool.
func (s *Service) Debit(ctx context.Context, amount int64) (int64, error) {
	balance, err := s.store.Debit(ctx, amount)
	if err != nil {
		return balance, err
	}
	metrics.SystemCreditBalance.Set(float64(balance))
	return balance, nil
}

// Credit returns amount to the pool.
func (s *Service) Credit(ctx context.Context, amount int64) (int64, error) {
	balance, err := s.store.Credit(ctx, amount)
	if err != nil {
		return balance, err
	}
	metrics.SystemCreditBalance.Set(float64(balance))
	return balance, nil
}

// Set replaces the pool balance. Admin-only path.
func (s *Service) Set(ctx context.Context, value int64) error {
	if err := s.store.Set(ctx, value); err != nil {
		return err
	}
	if value < 0 {
		value = 0
	}
	metrics.SystemCreditBalance.Set(float64(value))
	logging.L(ctx).Info("system credit set", "value", value)
	return nil
}

// CanCover reports whether the pool could fund a debit of amount.
// Advisory only; Debit remains the authoritative check.
func (s *Service) CanCover(ctx context.Context, amount int64) (bool, error) {
	balance, err := s.Balance(ctx)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}
