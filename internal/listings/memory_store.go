package listings

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory listing store for demo/development mode.
type MemoryStore struct {
	listings map[string]*Listing
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

func (m *MemoryStore) Create(_ context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.listings[l.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *l
	cp.Version = existing.Version + 1
	m.listings[l.ID] = &cp
	l.Version = cp.Version
	return nil
}

func (m *MemoryStore) MarkSold(_ context.Context, id string, version int64, soldAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return ErrNotFound
	}
	if l.Status != StatusAvailable {
		return ErrAlreadySold
	}
	if l.Version != version {
		return ErrVersionConflict
	}
	l.Status = StatusSold
	l.Version++
	l.SoldAt = &soldAt
	l.UpdatedAt = soldAt
	return nil
}

func (m *MemoryStore) ListBySeller(_ context.Context, sellerID string, limit int) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Listing
	for _, l := range m.listings {
		if l.SellerID == sellerID {
			cp := *l
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
