// Package offers implements price negotiation between buyers and sellers.
//
// Flow:
//  1. Buyer creates an offer below the asking price on an available listing
//  2. Seller thresholds apply synchronously: below minimumOffer auto-declines,
//     at/above autoAcceptPrice auto-accepts
//  3. Otherwise the offer is pending; the seller accepts, declines, or counters
//  4. Counters alternate between parties until one side accepts or declines
//  5. Accepting is exclusive: the listing is marked sold and every competing
//     active offer on it is declined in the same step
//  6. Offers expire after a TTL; expiration is checked lazily on reads and by
//     a background sweeper
//
// All events are pushed to webhook subscribers and WebSocket clients.
package offers

import (
	"context"
	"errors"
	"time"

	"github.com/finchmarket/offers/internal/listings"
)

var (
	ErrOfferNotFound     = errors.New("offer not found")
	ErrAmountInvalid     = errors.New("offer amount must be greater than zero")
	ErrAmountAboveAsking = errors.New("offer amount exceeds asking price")
	ErrOffersNotAccepted = errors.New("listing does not accept offers")
	ErrSelfOffer         = errors.New("seller cannot offer on own listing")
	ErrActiveOfferExists = errors.New("buyer already has an active offer on this listing")
	ErrOfferCooldown     = errors.New("buyer must wait before offering again on this listing")
	ErrTerminalState     = errors.New("offer is in a terminal state")
	ErrInvalidTransition = errors.New("action not allowed from current offer state")
	ErrUnauthorized      = errors.New("not authorized for this operation")
	ErrListingSold       = errors.New("listing is no longer available")
	ErrMaxCounterRounds  = errors.New("maximum counter-offer rounds exceeded")
)

// Status represents the state of an offer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCountered Status = "countered"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusExpired   Status = "expired"
	StatusWithdrawn Status = "withdrawn"
)

// Action is a state machine input.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionCounter  Action = "counter"
	ActionWithdraw Action = "withdraw"
	ActionExpire   Action = "expire"
)

// transitions is the full state machine. Absent entries are invalid moves.
var transitions = map[Status]map[Action]Status{
	StatusPending: {
		ActionAccept:   StatusAccepted,
		ActionDecline:  StatusDeclined,
		ActionCounter:  StatusCountered,
		ActionWithdraw: StatusWithdrawn,
		ActionExpire:   StatusExpired,
	},
	StatusCountered: {
		ActionAccept:  StatusAccepted,
		ActionDecline: StatusDeclined,
		ActionCounter: StatusCountered,
		ActionExpire:  StatusExpired,
	},
}

// Transition returns the target state for an action, or ErrTerminalState /
// ErrInvalidTransition when the move is not allowed.
func Transition(from Status, action Action) (Status, error) {
	allowed, ok := transitions[from]
	if !ok {
		return "", ErrTerminalState
	}
	to, ok := allowed[action]
	if !ok {
		return "", ErrInvalidTransition
	}
	return to, nil
}

// Party identifies which side of the negotiation performed an action.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

// Decline reasons recorded on automatically declined offers.
const (
	DeclineReasonBelowMinimum = "below_minimum"
	DeclineReasonListingSold  = "listing_sold"
)

// CounterOffer is the active counter proposal on a countered offer.
type CounterOffer struct {
	Amount    int64     `json:"amount"` // cents
	Message   string    `json:"message,omitempty"`
	By        Party     `json:"by"`
	CreatedAt time.Time `json:"createdAt"`
}

// Offer represents a buyer's price proposal on a listing.
type Offer struct {
	ID            string        `json:"id"`
	ListingID     string        `json:"listingId"`
	BuyerID       string        `json:"buyerId"`
	SellerID      string        `json:"sellerId"` // denormalized from the listing at creation
	Amount        int64         `json:"amount"`   // cents
	Message       string        `json:"message,omitempty"`
	Status        Status        `json:"status"`
	DeclineReason string        `json:"declineReason,omitempty"`
	Counter       *CounterOffer `json:"counter,omitempty"` // present iff status == countered
	Round         int           `json:"round"`             // counter rounds so far
	FinalAmount   *int64        `json:"finalAmount,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// IsTerminal returns true if the offer is in a final state.
func (o *Offer) IsTerminal() bool {
	switch o.Status {
	case StatusAccepted, StatusDeclined, StatusExpired, StatusWithdrawn:
		return true
	}
	return false
}

// nextActor returns the party allowed to respond to the offer in its current
// state. Pending offers await the seller; countered offers await whichever
// party did not make the current counter.
func (o *Offer) nextActor() Party {
	if o.Status == StatusCountered && o.Counter != nil && o.Counter.By == PartyBuyer {
		return PartySeller
	}
	if o.Status == StatusCountered {
		return PartyBuyer
	}
	return PartySeller
}

// partyOf maps an actor ID to its role on this offer, or "" for strangers.
func (o *Offer) partyOf(actorID string) Party {
	switch actorID {
	case o.BuyerID:
		return PartyBuyer
	case o.SellerID:
		return PartySeller
	}
	return ""
}

// CreateRequest contains the parameters for creating an offer.
type CreateRequest struct {
	ListingID string `json:"listingId" binding:"required"`
	BuyerID   string `json:"buyerId" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"` // cents
	Message   string `json:"message"`
}

// RespondRequest contains the parameters for a seller/buyer response.
type RespondRequest struct {
	Action  Action `json:"action" binding:"required"` // accept, decline, counter
	Amount  int64  `json:"amount"`                    // required for counter
	Message string `json:"message"`
}

// Store persists offers.
type Store interface {
	Create(ctx context.Context, o *Offer) error
	Get(ctx context.Context, id string) (*Offer, error)
	Update(ctx context.Context, o *Offer) error
	// ListByListing returns a listing's offers, newest first, optionally
	// filtered by status.
	ListByListing(ctx context.Context, listingID string, status Status, limit int) ([]*Offer, error)
	// ListActiveByListing returns all non-terminal offers on a listing.
	ListActiveByListing(ctx context.Context, listingID string) ([]*Offer, error)
	// GetActiveByBuyerAndListing returns the buyer's non-terminal offer on a
	// listing, or ErrOfferNotFound.
	GetActiveByBuyerAndListing(ctx context.Context, buyerID, listingID string) (*Offer, error)
	// GetLatestByBuyerAndListing returns the buyer's most recent offer on a
	// listing regardless of status, or ErrOfferNotFound.
	GetLatestByBuyerAndListing(ctx context.Context, buyerID, listingID string) (*Offer, error)
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Offer, error)
	// ListExpired returns non-terminal offers whose expiresAt is before the
	// given time.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Offer, error)
}

// ListingService is the listing collaborator the engine depends on.
// Implemented by listings.Service.
type ListingService interface {
	Get(ctx context.Context, id string) (*listings.Listing, error)
	MarkSold(ctx context.Context, id string, version int64) error
}

// Emitter receives negotiation events. Implementations must not block.
type Emitter interface {
	Emit(ctx context.Context, event *Event)
}
