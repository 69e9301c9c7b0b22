// Package ledger implements the shared system credit pool.
//
// Every billable send draws down a single system-wide balance in addition to
// the sender's own credit. The pool is the operator's prepaid gateway volume;
// once it hits zero no ordinary user can send until an admin tops it up.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientCredit is returned when a debit would take the pool
	// below zero.
	ErrInsufficientCredit = errors.New("insufficient system credit")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Store persists the system credit balance.
//
// Debit is atomic compare-and-subtract: it must never allow the balance to
// go negative, even under concurrent callers.
type Store interface {
	// Balance returns the current pool balance.
	Balance(ctx context.Context) (int64, error)

	// Debit subtracts amount if the balance covers it, returning the new
	// balance. Returns ErrInsufficientCredit without modifying anything
	// when it does not.
	Debit(ctx context.Context, amount int64) (int64, error)

	// Credit adds amount to the pool and returns the new balance.
	Credit(ctx context.Context, amount int64) (int64, error)

	// Set replaces the balance outright. Negative values clamp to zero.
	Set(ctx context.Context, value int64) error
}
