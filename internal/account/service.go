package account

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilicc/kentsms-sub000/internal/idgen"
	"github.com/kilicc/kentsms-sub000/internal/logging"
)

// Service provides account business logic.
type Service struct {
	store Store
}

// NewService creates a new account service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, username string, role Role, cepsmsUsername string, initialCredit int64) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if role != RolePrivileged {
		role = RoleOrdinary
	}
	if initialCredit < 0 {
		initialCredit = 0
	}

	now := time.Now()
	user := &User{
		ID:             idgen.New(),
		Username:       username,
		Credit:         initialCredit,
		Role:           role,
		CepSMSUsername: cepsmsUsername,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}

	logging.L(ctx).Info("user registered",
		"user_id", user.ID, "username", username, "role", string(role))
	return user, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

// GetByUsername returns a user by username (case-insensitive).
func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.store.GetByUsername(ctx, username)
}

// DebitCredit atomically subtracts amount from the user's balance.
func (s *Service) DebitCredit(ctx context.Context, userID string, amount int64) (int64, error) {
	return s.store.DebitCredit(ctx, userID, amount)
}

// AddCredit atomically adds amount to the user's balance.
func (s *Service) AddCredit(ctx context.Context, userID string, amount int64) (int64, error) {
	return s.store.AddCredit(ctx, userID, amount)
}

// SetCredit replaces the user's balance. Admin-only path.
func (s *Service) SetCredit(ctx context.Context, userID string, value int64) error {
	if err := s.store.SetCredit(ctx, userID, value); err != nil {
		return err
	}
	logging.L(ctx).Info("user credit set", "user_id", userID, "value", value)
	return nil
}
