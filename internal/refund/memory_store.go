package refund

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory refund store for demo/development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	intents   map[string]*Intent
	byMessage map[string]string // messageID -> active intent ID
}

// NewMemoryStore creates a new in-memory refund store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents:   make(map[string]*Intent),
		byMessage: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, intent *Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.byMessage[intent.MessageID]; ok {
		if m.intents[existingID].Status != StatusCancelled {
			return ErrIntentExists
		}
	}

	cp := *intent
	m.intents[intent.ID] = &cp
	m.byMessage[intent.MessageID] = intent.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	intent, ok := m.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, status Status, limit int) ([]*Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Intent
	for _, intent := range m.intents {
		if intent.UserID != userID {
			continue
		}
		if status != "" && intent.Status != status {
			continue
		}
		cp := *intent
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryStore) ListMature(ctx context.Context, cutoff time.Time, limit int) ([]*Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Intent
	for _, intent := range m.intents {
		if intent.Status != StatusPending || !intent.CreatedAt.Before(cutoff) {
			continue
		}
		cp := *intent
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, status Status, processedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	if intent.Status != StatusPending {
		return ErrNotPending
	}

	intent.Status = status
	t := processedAt
	intent.ProcessedAt = &t
	return nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{}
	for _, intent := range m.intents {
		switch intent.Status {
		case StatusPending:
			stats.PendingCount++
			stats.PendingAmount += intent.RefundAmount
		case StatusProcessed:
			stats.ProcessedCount++
			stats.ProcessedAmount += intent.RefundAmount
		case StatusCancelled:
			stats.CancelledCount++
		}
	}
	return stats, nil
}
