package message

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory message store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*Message
}

// NewMemoryStore creates a new in-memory message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string]*Message)}
}

func (m *MemoryStore) Create(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, status Status, limit, offset int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Message
	for _, msg := range m.messages {
		if msg.UserID != userID {
			continue
		}
		if status != "" && msg.Status != status {
			continue
		}
		cp := *msg
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SentAt.After(matched[j].SentAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryStore) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Message
	for _, msg := range m.messages {
		if msg.Status.Settled() || !msg.SentAt.Before(cutoff) {
			continue
		}
		cp := *msg
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SentAt.Before(matched[j].SentAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryStore) UpdateDelivery(ctx context.Context, id string, status Status, network string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrMessageNotFound
	}

	msg.Status = status
	if network != "" {
		msg.Network = network
	}
	switch status {
	case StatusDelivered:
		t := at
		msg.DeliveredAt = &t
	case StatusUndelivered, StatusTimedOut, StatusFailed:
		t := at
		msg.FailedAt = &t
	}
	msg.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) MarkRefundProcessed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	msg.RefundProcessed = true
	msg.UpdatedAt = time.Now()
	return nil
}
