// Package listings manages marketplace listings and their offer settings.
//
// Sellers create listings with an asking price and may configure:
//   - minimumOffer: offers strictly below this are auto-declined
//   - autoAcceptPrice: offers at or above this are auto-accepted
//
// A listing moves available -> sold exactly once, guarded by an optimistic
// version check so that concurrent accepts on competing offers cannot both
// mark it sold.
package listings

import (
	"context"
	"errors"
	"time"

	"github.com/finchmarket/offers/internal/idgen"
)

var (
	ErrNotFound        = errors.New("listing not found")
	ErrVersionConflict = errors.New("listing version conflict")
	ErrNotSeller       = errors.New("caller is not the listing seller")
	ErrAlreadySold     = errors.New("listing already sold")
	ErrInvalidPrice    = errors.New("price must be greater than zero")
	ErrInvalidSettings = errors.New("invalid offer settings")
)

// Status represents the state of a listing.
type Status string

const (
	StatusAvailable Status = "available"
	StatusSold      Status = "sold"
)

// Listing represents an item for sale.
type Listing struct {
	ID              string     `json:"id"`
	SellerID        string     `json:"sellerId"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Price           int64      `json:"price"` // cents
	AcceptsOffers   bool       `json:"acceptsOffers"`
	MinimumOffer    *int64     `json:"minimumOffer,omitempty"`    // cents; offers below auto-decline
	AutoAcceptPrice *int64     `json:"autoAcceptPrice,omitempty"` // cents; offers at/above auto-accept
	Status          Status     `json:"status"`
	Version         int64      `json:"version"`
	SoldAt          *time.Time `json:"soldAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// CreateRequest contains the parameters for creating a listing.
type CreateRequest struct {
	Title           string `json:"title" binding:"required"`
	Description     string `json:"description"`
	Price           int64  `json:"price" binding:"required"`
	AcceptsOffers   bool   `json:"acceptsOffers"`
	MinimumOffer    *int64 `json:"minimumOffer"`
	AutoAcceptPrice *int64 `json:"autoAcceptPrice"`
}

// OfferSettingsRequest contains the parameters for updating offer settings.
// Nil fields are left unchanged; pointer-to-zero clears the threshold.
type OfferSettingsRequest struct {
	AcceptsOffers   *bool  `json:"acceptsOffers"`
	MinimumOffer    *int64 `json:"minimumOffer"`
	AutoAcceptPrice *int64 `json:"autoAcceptPrice"`
}

// Store persists listings.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Update(ctx context.Context, l *Listing) error
	// MarkSold transitions an available listing to sold if and only if the
	// stored version matches. Returns ErrVersionConflict when another writer
	// got there first, ErrAlreadySold when the listing is no longer available.
	MarkSold(ctx context.Context, id string, version int64, soldAt time.Time) error
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error)
}

// Service implements listing business logic.
type Service struct {
	store Store
	nowFn func() time.Time
}

// NewService creates a new listings service.
func NewService(store Store) *Service {
	return &Service{store: store, nowFn: time.Now}
}

// WithClock overrides the service clock. Used in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.nowFn = now
	return s
}

// Create creates a new listing owned by sellerID.
func (s *Service) Create(ctx context.Context, sellerID string, req CreateRequest) (*Listing, error) {
	if req.Price <= 0 {
		return nil, ErrInvalidPrice
	}
	if err := validateThresholds(req.Price, req.MinimumOffer, req.AutoAcceptPrice); err != nil {
		return nil, err
	}

	now := s.nowFn()
	l := &Listing{
		ID:              idgen.WithPrefix("lst_"),
		SellerID:        sellerID,
		Title:           req.Title,
		Description:     req.Description,
		Price:           req.Price,
		AcceptsOffers:   req.AcceptsOffers,
		MinimumOffer:    req.MinimumOffer,
		AutoAcceptPrice: req.AutoAcceptPrice,
		Status:          StatusAvailable,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Get returns a listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// UpdateOfferSettings updates a listing's offer configuration. Only the
// listing's seller may change settings. Settings on a sold listing are frozen.
func (s *Service) UpdateOfferSettings(ctx context.Context, id, callerID string, req OfferSettingsRequest) (*Listing, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if l.SellerID != callerID {
		return nil, ErrNotSeller
	}
	if l.Status == StatusSold {
		return nil, ErrAlreadySold
	}

	if req.AcceptsOffers != nil {
		l.AcceptsOffers = *req.AcceptsOffers
	}
	if req.MinimumOffer != nil {
		if *req.MinimumOffer == 0 {
			l.MinimumOffer = nil
		} else {
			v := *req.MinimumOffer
			l.MinimumOffer = &v
		}
	}
	if req.AutoAcceptPrice != nil {
		if *req.AutoAcceptPrice == 0 {
			l.AutoAcceptPrice = nil
		} else {
			v := *req.AutoAcceptPrice
			l.AutoAcceptPrice = &v
		}
	}

	if err := validateThresholds(l.Price, l.MinimumOffer, l.AutoAcceptPrice); err != nil {
		return nil, err
	}

	l.UpdatedAt = s.nowFn()
	if err := s.store.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// MarkSold transitions a listing to sold under optimistic concurrency.
func (s *Service) MarkSold(ctx context.Context, id string, version int64) error {
	return s.store.MarkSold(ctx, id, version, s.nowFn())
}

// ListBySeller returns a seller's listings, newest first.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}

// validateThresholds checks the offer threshold configuration against the
// asking price. Thresholds must be positive and at most the asking price.
// minimumOffer above autoAcceptPrice is allowed; the offer engine resolves
// the overlap by checking the minimum first.
func validateThresholds(price int64, minOffer, autoAccept *int64) error {
	if minOffer != nil && (*minOffer <= 0 || *minOffer > price) {
		return ErrInvalidSettings
	}
	if autoAccept != nil && (*autoAccept <= 0 || *autoAccept > price) {
		return ErrInvalidSettings
	}
	return nil
}
