package offers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finchmarket/offers/internal/idgen"
	"github.com/finchmarket/offers/internal/listings"
	"github.com/finchmarket/offers/internal/metrics"
	"github.com/finchmarket/offers/internal/syncutil"
	"github.com/finchmarket/offers/internal/traces"
)

const (
	// DefaultTTL is how long an offer stays actionable.
	DefaultTTL = 48 * time.Hour
	// DefaultCooldown is how long a buyer must wait before re-offering on the
	// same listing.
	DefaultCooldown = 24 * time.Hour
)

// Service implements offer negotiation business logic.
//
// All mutations of a listing's offers serialize through a per-listing lock.
// Acceptance additionally passes through the listing's version check, so two
// replicas cannot both sell the same listing.
type Service struct {
	store    Store
	listings ListingService
	emitter  Emitter
	locks    *syncutil.ShardedMutex
	logger   *slog.Logger

	ttl       time.Duration
	cooldown  time.Duration
	maxRounds int // 0 = unbounded
	nowFn     func() time.Time
}

// NewService creates a new offers service.
func NewService(store Store, ls ListingService, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		listings: ls,
		emitter:  NopEmitter{},
		locks:    &syncutil.ShardedMutex{},
		logger:   logger,
		ttl:      DefaultTTL,
		cooldown: DefaultCooldown,
		nowFn:    time.Now,
	}
}

// WithEmitter sets the event sink.
func (s *Service) WithEmitter(e Emitter) *Service {
	s.emitter = e
	return s
}

// WithTTL overrides the offer expiration window.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithCooldown overrides the re-offer cooldown.
func (s *Service) WithCooldown(d time.Duration) *Service {
	if d >= 0 {
		s.cooldown = d
	}
	return s
}

// WithMaxCounterRounds caps counter rounds. Zero leaves them unbounded.
func (s *Service) WithMaxCounterRounds(n int) *Service {
	if n >= 0 {
		s.maxRounds = n
	}
	return s
}

// WithClock overrides the service clock. Used in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.nowFn = now
	return s
}

// Create creates an offer on a listing, applying the seller's thresholds
// synchronously: below minimumOffer auto-declines, at/above autoAcceptPrice
// auto-accepts. The minimum check wins when both would apply.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offers.Create",
		traces.ListingID(req.ListingID),
		traces.ActorID(req.BuyerID),
		traces.AmountCents(req.Amount),
	)
	defer span.End()

	if req.Amount <= 0 {
		return nil, ErrAmountInvalid
	}

	unlock := s.locks.Lock(req.ListingID)
	defer unlock()

	listing, err := s.listings.Get(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}

	if listing.Status != listings.StatusAvailable {
		return nil, ErrListingSold
	}
	if !listing.AcceptsOffers {
		return nil, ErrOffersNotAccepted
	}
	if req.BuyerID == listing.SellerID {
		return nil, ErrSelfOffer
	}
	if req.Amount > listing.Price {
		return nil, ErrAmountAboveAsking
	}

	if _, err := s.store.GetActiveByBuyerAndListing(ctx, req.BuyerID, req.ListingID); err == nil {
		return nil, ErrActiveOfferExists
	}

	now := s.nowFn()
	if prev, err := s.store.GetLatestByBuyerAndListing(ctx, req.BuyerID, req.ListingID); err == nil {
		if now.Sub(prev.CreatedAt) < s.cooldown {
			return nil, ErrOfferCooldown
		}
	}

	offer := &Offer{
		ID:        idgen.WithPrefix("off_"),
		ListingID: req.ListingID,
		BuyerID:   req.BuyerID,
		SellerID:  listing.SellerID,
		Amount:    req.Amount,
		Message:   req.Message,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		UpdatedAt: now,
	}

	switch {
	case listing.MinimumOffer != nil && req.Amount < *listing.MinimumOffer:
		offer.Status = StatusDeclined
		offer.DeclineReason = DeclineReasonBelowMinimum
		if err := s.store.Create(ctx, offer); err != nil {
			return nil, fmt.Errorf("failed to create offer: %w", err)
		}
		s.emitter.Emit(ctx, newEvent(EventOfferCreated, offer, now))
		s.emitter.Emit(ctx, newEvent(EventOfferAutoDeclined, offer, now))
		metrics.OffersCreatedTotal.WithLabelValues("auto_declined").Inc()
		metrics.OffersResolvedTotal.WithLabelValues(string(StatusDeclined)).Inc()

	case listing.AutoAcceptPrice != nil && req.Amount >= *listing.AutoAcceptPrice:
		// Exclusive accept runs before the offer is persisted, so a lost
		// race against a concurrent accept leaves no record behind.
		if err := s.markSold(ctx, listing); err != nil {
			return nil, err
		}
		amount := req.Amount
		offer.Status = StatusAccepted
		offer.FinalAmount = &amount
		if err := s.store.Create(ctx, offer); err != nil {
			return nil, fmt.Errorf("failed to create offer: %w", err)
		}
		s.emitter.Emit(ctx, newEvent(EventOfferCreated, offer, now))
		s.emitter.Emit(ctx, newEvent(EventOfferAutoAccepted, offer, now))
		s.declineCompeting(ctx, offer, now)
		metrics.OffersCreatedTotal.WithLabelValues("auto_accepted").Inc()
		metrics.OffersResolvedTotal.WithLabelValues(string(StatusAccepted)).Inc()
		metrics.TimeToResolutionSeconds.Observe(0)

	default:
		if err := s.store.Create(ctx, offer); err != nil {
			return nil, fmt.Errorf("failed to create offer: %w", err)
		}
		s.emitter.Emit(ctx, newEvent(EventOfferCreated, offer, now))
		metrics.OffersCreatedTotal.WithLabelValues("pending").Inc()
	}

	metrics.OfferAmountRatio.Observe(float64(req.Amount) / float64(listing.Price))
	return offer, nil
}

// Respond dispatches a seller/buyer response on an offer.
func (s *Service) Respond(ctx context.Context, offerID, callerID string, req RespondRequest) (*Offer, error) {
	switch req.Action {
	case ActionAccept:
		return s.Accept(ctx, offerID, callerID)
	case ActionDecline:
		return s.Decline(ctx, offerID, callerID)
	case ActionCounter:
		return s.Counter(ctx, offerID, callerID, req.Amount, req.Message)
	default:
		return nil, ErrInvalidTransition
	}
}

// Accept accepts an offer. From pending the seller accepts at the offer
// amount; from countered the responding party accepts at the counter amount.
// Acceptance is exclusive: the listing is marked sold under a version check
// and every competing active offer on it is declined. A caller that loses the
// race gets ErrListingSold and mutates nothing.
func (s *Service) Accept(ctx context.Context, offerID, callerID string) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offers.Accept",
		traces.OfferID(offerID),
		traces.ActorID(callerID),
	)
	defer span.End()

	offer, unlock, err := s.lockOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.nowFn()
	if s.expireIfStale(ctx, offer, now) {
		return nil, ErrTerminalState
	}

	target, err := Transition(offer.Status, ActionAccept)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeResponse(offer, callerID); err != nil {
		return nil, err
	}

	listing, err := s.listings.Get(ctx, offer.ListingID)
	if err != nil {
		return nil, err
	}
	if err := s.markSold(ctx, listing); err != nil {
		return nil, err
	}

	amount := offer.Amount
	if offer.Status == StatusCountered {
		amount = offer.Counter.Amount
	}
	offer.Status = target
	offer.FinalAmount = &amount
	offer.Counter = nil
	offer.UpdatedAt = now
	if err := s.store.Update(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to accept offer: %w", err)
	}

	s.emitter.Emit(ctx, newEvent(EventOfferAccepted, offer, now))
	s.declineCompeting(ctx, offer, now)
	metrics.OffersResolvedTotal.WithLabelValues(string(StatusAccepted)).Inc()
	metrics.TimeToResolutionSeconds.Observe(now.Sub(offer.CreatedAt).Seconds())
	return offer, nil
}

// Decline declines an offer. From pending the seller declines; from countered
// the responding party declines.
func (s *Service) Decline(ctx context.Context, offerID, callerID string) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offers.Decline",
		traces.OfferID(offerID),
		traces.ActorID(callerID),
	)
	defer span.End()

	offer, unlock, err := s.lockOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.nowFn()
	if s.expireIfStale(ctx, offer, now) {
		return nil, ErrTerminalState
	}

	target, err := Transition(offer.Status, ActionDecline)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeResponse(offer, callerID); err != nil {
		return nil, err
	}

	offer.Status = target
	offer.Counter = nil
	offer.UpdatedAt = now
	if err := s.store.Update(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to decline offer: %w", err)
	}

	s.emitter.Emit(ctx, newEvent(EventOfferDeclined, offer, now))
	metrics.OffersResolvedTotal.WithLabelValues(string(StatusDeclined)).Inc()
	metrics.TimeToResolutionSeconds.Observe(now.Sub(offer.CreatedAt).Seconds())
	return offer, nil
}

// Counter proposes a new amount. Counters alternate: the seller counters a
// pending offer, then each party counters the other's counter.
func (s *Service) Counter(ctx context.Context, offerID, callerID string, amount int64, message string) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offers.Counter",
		traces.OfferID(offerID),
		traces.ActorID(callerID),
		traces.AmountCents(amount),
	)
	defer span.End()

	if amount <= 0 {
		return nil, ErrAmountInvalid
	}

	offer, unlock, err := s.lockOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.nowFn()
	if s.expireIfStale(ctx, offer, now) {
		return nil, ErrTerminalState
	}

	target, err := Transition(offer.Status, ActionCounter)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeResponse(offer, callerID); err != nil {
		return nil, err
	}

	listing, err := s.listings.Get(ctx, offer.ListingID)
	if err != nil {
		return nil, err
	}
	if amount > listing.Price {
		return nil, ErrAmountAboveAsking
	}
	if s.maxRounds > 0 && offer.Round >= s.maxRounds {
		return nil, ErrMaxCounterRounds
	}

	offer.Status = target
	offer.Counter = &CounterOffer{
		Amount:    amount,
		Message:   message,
		By:        offer.partyOf(callerID),
		CreatedAt: now,
	}
	offer.Round++
	offer.UpdatedAt = now
	if err := s.store.Update(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to counter offer: %w", err)
	}

	s.emitter.Emit(ctx, newEvent(EventOfferCountered, offer, now))
	metrics.OffersCounteredTotal.Inc()
	return offer, nil
}

// Withdraw lets the buyer retract a pending offer.
func (s *Service) Withdraw(ctx context.Context, offerID, callerID string) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offers.Withdraw",
		traces.OfferID(offerID),
		traces.ActorID(callerID),
	)
	defer span.End()

	offer, unlock, err := s.lockOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.nowFn()
	if s.expireIfStale(ctx, offer, now) {
		return nil, ErrTerminalState
	}

	target, err := Transition(offer.Status, ActionWithdraw)
	if err != nil {
		return nil, err
	}
	if offer.partyOf(callerID) != PartyBuyer {
		return nil, ErrUnauthorized
	}

	offer.Status = target
	offer.UpdatedAt = now
	if err := s.store.Update(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to withdraw offer: %w", err)
	}

	s.emitter.Emit(ctx, newEvent(EventOfferWithdrawn, offer, now))
	metrics.OffersResolvedTotal.WithLabelValues(string(StatusWithdrawn)).Inc()
	return offer, nil
}

// Get returns an offer by ID, applying the lazy expiration check.
func (s *Service) Get(ctx context.Context, id string) (*Offer, error) {
	offer, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !offer.IsTerminal() && s.nowFn().After(offer.ExpiresAt) {
		unlock := s.locks.Lock(offer.ListingID)
		defer unlock()
		offer, err = s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		s.expireIfStale(ctx, offer, s.nowFn())
	}

	return offer, nil
}

// ListByListing returns a listing's offers, newest first, expiration-checked.
func (s *Service) ListByListing(ctx context.Context, listingID string, status Status, limit int) ([]*Offer, error) {
	if limit <= 0 {
		limit = 50
	}
	result, err := s.store.ListByListing(ctx, listingID, status, limit)
	if err != nil {
		return nil, err
	}
	return s.expireStaleInList(ctx, result, status), nil
}

// ListByBuyer returns a buyer's offers, newest first, expiration-checked.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Offer, error) {
	if limit <= 0 {
		limit = 50
	}
	result, err := s.store.ListByBuyer(ctx, buyerID, limit)
	if err != nil {
		return nil, err
	}
	return s.expireStaleInList(ctx, result, ""), nil
}

// ExpireStale expires every active offer past its deadline. Called by the
// sweeper; safe to run concurrently with reads and responses.
func (s *Service) ExpireStale(ctx context.Context) {
	now := s.nowFn()
	stale, err := s.store.ListExpired(ctx, now, 100)
	if err != nil {
		s.logger.Warn("failed to list expired offers", "error", err)
		return
	}

	for _, o := range stale {
		unlock := s.locks.Lock(o.ListingID)
		fresh, err := s.store.Get(ctx, o.ID)
		if err == nil {
			s.expireIfStale(ctx, fresh, now)
		}
		unlock()
	}
}

// --- internals ---

// lockOffer loads the offer, locks its listing, and reloads under the lock.
func (s *Service) lockOffer(ctx context.Context, id string) (*Offer, func(), error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.locks.Lock(o.ListingID)
	o, err = s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return o, unlock, nil
}

// authorizeResponse checks that callerID is the party whose turn it is to
// respond: the seller on pending offers, the non-countering party on
// countered offers.
func (s *Service) authorizeResponse(o *Offer, callerID string) error {
	party := o.partyOf(callerID)
	if party == "" || party != o.nextActor() {
		return ErrUnauthorized
	}
	return nil
}

// markSold transitions the listing to sold under its version check. Losing
// the race maps to ErrListingSold.
func (s *Service) markSold(ctx context.Context, listing *listings.Listing) error {
	err := s.listings.MarkSold(ctx, listing.ID, listing.Version)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, listings.ErrVersionConflict), errors.Is(err, listings.ErrAlreadySold):
		metrics.AcceptConflictsTotal.Inc()
		return ErrListingSold
	}
	return err
}

// expireIfStale flips an active offer past its deadline to expired. Must be
// called under the listing lock. Expiry is decided by the wall clock, so even
// if the write fails the offer is reported expired; the sweeper retries.
func (s *Service) expireIfStale(ctx context.Context, o *Offer, now time.Time) bool {
	if o.IsTerminal() || !now.After(o.ExpiresAt) {
		return false
	}

	o.Status = StatusExpired
	o.Counter = nil
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		s.logger.Warn("failed to persist offer expiry", "offerId", o.ID, "error", err)
		return true
	}

	s.emitter.Emit(ctx, newEvent(EventOfferExpired, o, now))
	metrics.OffersResolvedTotal.WithLabelValues(string(StatusExpired)).Inc()
	return true
}

// expireStaleInList applies the lazy expiration check to query results. When
// a status filter is set, offers that flipped out of it are dropped.
func (s *Service) expireStaleInList(ctx context.Context, result []*Offer, statusFilter Status) []*Offer {
	now := s.nowFn()
	out := result[:0]
	for _, o := range result {
		if !o.IsTerminal() && now.After(o.ExpiresAt) {
			unlock := s.locks.Lock(o.ListingID)
			fresh, err := s.store.Get(ctx, o.ID)
			if err == nil {
				s.expireIfStale(ctx, fresh, now)
				o = fresh
			}
			unlock()
		}
		if statusFilter != "" && o.Status != statusFilter {
			continue
		}
		out = append(out, o)
	}
	return out
}

// declineCompeting declines every other active offer on the accepted offer's
// listing. Runs under the listing lock as part of acceptance.
func (s *Service) declineCompeting(ctx context.Context, accepted *Offer, now time.Time) {
	active, err := s.store.ListActiveByListing(ctx, accepted.ListingID)
	if err != nil {
		s.logger.Warn("failed to list competing offers", "listingId", accepted.ListingID, "error", err)
		return
	}

	for _, o := range active {
		if o.ID == accepted.ID {
			continue
		}
		o.Status = StatusDeclined
		o.DeclineReason = DeclineReasonListingSold
		o.Counter = nil
		o.UpdatedAt = now
		if err := s.store.Update(ctx, o); err != nil {
			s.logger.Warn("failed to decline competing offer", "offerId", o.ID, "error", err)
			continue
		}
		s.emitter.Emit(ctx, newEvent(EventOfferDeclined, o, now))
		metrics.OffersResolvedTotal.WithLabelValues(string(StatusDeclined)).Inc()
	}
}
