package offers

import (
	"context"
	"sync"
	"time"

	"github.com/finchmarket/offers/internal/idgen"
)

// EventType identifies a negotiation event.
type EventType string

const (
	EventOfferCreated      EventType = "offer.created"
	EventOfferAutoDeclined EventType = "offer.auto_declined"
	EventOfferAutoAccepted EventType = "offer.auto_accepted"
	EventOfferAccepted     EventType = "offer.accepted"
	EventOfferDeclined     EventType = "offer.declined"
	EventOfferCountered    EventType = "offer.countered"
	EventOfferWithdrawn    EventType = "offer.withdrawn"
	EventOfferExpired      EventType = "offer.expired"
)

// Event is emitted on every offer state change.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	OfferID     string    `json:"offerId"`
	ListingID   string    `json:"listingId"`
	BuyerID     string    `json:"buyerId"`
	SellerID    string    `json:"sellerId"`
	Amount      int64     `json:"amount"` // cents; the current proposal amount
	FinalAmount *int64    `json:"finalAmount,omitempty"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// newEvent builds an event snapshot from an offer.
func newEvent(typ EventType, o *Offer, at time.Time) *Event {
	amount := o.Amount
	if o.Counter != nil {
		amount = o.Counter.Amount
	}
	return &Event{
		ID:          idgen.WithPrefix("evt_"),
		Type:        typ,
		OfferID:     o.ID,
		ListingID:   o.ListingID,
		BuyerID:     o.BuyerID,
		SellerID:    o.SellerID,
		Amount:      amount,
		FinalAmount: o.FinalAmount,
		Status:      o.Status,
		Timestamp:   at,
	}
}

// MultiEmitter fans events out to several sinks.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, event *Event) {
	for _, e := range m {
		e.Emit(ctx, event)
	}
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, *Event) {}

// RecordingEmitter captures events for tests.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []*Event
}

func (r *RecordingEmitter) Emit(_ context.Context, event *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a snapshot of the captured events.
func (r *RecordingEmitter) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the captured event types in emission order.
func (r *RecordingEmitter) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
