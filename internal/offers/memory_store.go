package offers

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory offer store for demo/development mode.
type MemoryStore struct {
	offers map[string]*Offer
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory offer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: make(map[string]*Offer)}
}

func copyOffer(o *Offer) *Offer {
	cp := *o
	if o.Counter != nil {
		c := *o.Counter
		cp.Counter = &c
	}
	if o.FinalAmount != nil {
		v := *o.FinalAmount
		cp.FinalAmount = &v
	}
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[o.ID] = copyOffer(o)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	return copyOffer(o), nil
}

func (m *MemoryStore) Update(_ context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offers[o.ID]; !ok {
		return ErrOfferNotFound
	}
	m.offers[o.ID] = copyOffer(o)
	return nil
}

func (m *MemoryStore) ListByListing(_ context.Context, listingID string, status Status, limit int) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Offer
	for _, o := range m.offers {
		if o.ListingID != listingID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		result = append(result, copyOffer(o))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListActiveByListing(_ context.Context, listingID string) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Offer
	for _, o := range m.offers {
		if o.ListingID == listingID && !o.IsTerminal() {
			result = append(result, copyOffer(o))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) GetActiveByBuyerAndListing(_ context.Context, buyerID, listingID string) (*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.offers {
		if o.ListingID == listingID && o.BuyerID == buyerID && !o.IsTerminal() {
			return copyOffer(o), nil
		}
	}
	return nil, ErrOfferNotFound
}

func (m *MemoryStore) GetLatestByBuyerAndListing(_ context.Context, buyerID, listingID string) (*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Offer
	for _, o := range m.offers {
		if o.ListingID != listingID || o.BuyerID != buyerID {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, ErrOfferNotFound
	}
	return copyOffer(latest), nil
}

func (m *MemoryStore) ListByBuyer(_ context.Context, buyerID string, limit int) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Offer
	for _, o := range m.offers {
		if o.BuyerID == buyerID {
			result = append(result, copyOffer(o))
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

func (m *MemoryStore) ListExpired(_ context.Context, before time.Time, limit int) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Offer
	for _, o := range m.offers {
		if o.IsTerminal() || !o.ExpiresAt.Before(before) {
			continue
		}
		result = append(result, copyOffer(o))
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
