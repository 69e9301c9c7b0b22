package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory credit pool for demo/development mode.
type MemoryStore struct {
	mu      sync.Mutex
	balance int64
}

// NewMemoryStore creates an in-memory pool with the given starting balance.
func NewMemoryStore(initial int64) *MemoryStore {
	if initial < 0 {
		initial = 0
	}
	return &MemoryStore{balance: initial}
}

func (m *MemoryStore) Balance(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *MemoryStore) Debit(ctx context.Context, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balance < amount {
		return m.balance, ErrInsufficientCredit
	}
	m.balance -= amount
	return m.balance, nil
}

func (m *MemoryStore) Credit(ctx context.Context, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balance += amount
	return m.balance, nil
}

func (m *MemoryStore) Set(ctx context.Context, value int64) error {
	if value < 0 {
		value = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balance = value
	return nil
}
