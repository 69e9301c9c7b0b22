package account

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory account store for demo/development mode.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]*User  // by ID
	byUsername map[string]string // lowercase username -> ID
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*User),
		byUsername: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(user.Username)
	if _, ok := m.byUsername[key]; ok {
		return ErrUserExists
	}

	cp := *user
	m.users[user.ID] = &cp
	m.byUsername[key] = user.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (m *MemoryStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *MemoryStore) DebitCredit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if user.Credit < amount {
		return user.Credit, ErrInsufficientCredit
	}
	user.Credit -= amount
	user.UpdatedAt = time.Now()
	return user.Credit, nil
}

func (m *MemoryStore) AddCredit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	user.Credit += amount
	user.UpdatedAt = time.Now()
	return user.Credit, nil
}

func (m *MemoryStore) SetCredit(ctx context.Context, userID string, value int64) error {
	if value < 0 {
		value = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Credit = value
	user.UpdatedAt = time.Now()
	return nil
}
