// Package account manages user accounts and per-user credit balances.
//
// Credit is an integer count of message units. Privileged users (staff)
// bypass credit checks entirely; ordinary users pay per message and need a
// gateway account mapping before they can send.
package account

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("username already taken")
	ErrInsufficientCredit = errors.New("insufficient user credit")
	ErrInvalidAmount      = errors.New("amount must be positive")
)

// Role determines whether a user is subject to credit gating.
type Role string

const (
	RoleOrdinary   Role = "ordinary"
	RolePrivileged Role = "privileged"
)

// User is a tenant account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Credit   int64  `json:"credit"`
	Role     Role   `json:"role"`
	// CepSMSUsername maps the user to a gateway account in the static
	// directory. Empty means unmapped.
	CepSMSUsername string    `json:"cepsmsUsername,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Privileged reports whether the user bypasses credit checks.
func (u *User) Privileged() bool {
	return u.Role == RolePrivileged
}

// Store persists user accounts.
//
// DebitCredit is atomic compare-and-subtract, same contract as the system
// pool: it never lets a balance go negative.
type Store interface {
	Create(ctx context.Context, user *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)

	// DebitCredit subtracts amount from the user's balance, returning the
	// new balance, or ErrInsufficientCredit without modifying anything.
	DebitCredit(ctx context.Context, userID string, amount int64) (int64, error)

	// AddCredit adds amount to the user's balance and returns the new
	// balance. Used by admin top-ups and refunds.
	AddCredit(ctx context.Context, userID string, amount int64) (int64, error)

	// SetCredit replaces the balance outright. Negative values clamp to zero.
	SetCredit(ctx context.Context, userID string, value int64) error
}
