//go:build integration

package offers

import (
	"context"
	"testing"
	"time"

	"github.com/finchmarket/offers/internal/testutil"
)

func pgOffer(id string, created time.Time) *Offer {
	return &Offer{
		ID:        id,
		ListingID: "lst_pg1",
		BuyerID:   "buyer-1",
		SellerID:  "seller-1",
		Amount:    40000,
		Message:   "would you take 400?",
		Status:    StatusPending,
		CreatedAt: created,
		ExpiresAt: created.Add(48 * time.Hour),
		UpdatedAt: created,
	}
}

func TestPostgresOffers_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	o := pgOffer("off_pg001", now)
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "off_pg001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.ListingID != "lst_pg1" {
		t.Errorf("ListingID: got %s, want lst_pg1", got.ListingID)
	}
	if got.Amount != 40000 {
		t.Errorf("Amount: got %d, want 40000", got.Amount)
	}
	if got.Message != "would you take 400?" {
		t.Errorf("Message: got %q", got.Message)
	}
	if got.Status != StatusPending {
		t.Errorf("Status: got %s, want pending", got.Status)
	}
	if got.Counter != nil {
		t.Errorf("Counter: expected nil, got %+v", got.Counter)
	}
	if got.FinalAmount != nil {
		t.Errorf("FinalAmount: expected nil, got %d", *got.FinalAmount)
	}
	if !got.ExpiresAt.Equal(o.ExpiresAt) {
		t.Errorf("ExpiresAt: got %v, want %v", got.ExpiresAt, o.ExpiresAt)
	}
}

func TestPostgresOffers_Get_NotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	if _, err := store.Get(context.Background(), "off_missing"); err != ErrOfferNotFound {
		t.Errorf("Expected ErrOfferNotFound, got %v", err)
	}
}

func TestPostgresOffers_Update_CounterRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	o := pgOffer("off_pg010", now)
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Seller counters.
	o.Status = StatusCountered
	o.Round = 1
	o.Counter = &CounterOffer{
		Amount:    45000,
		Message:   "how about 450?",
		By:        PartySeller,
		CreatedAt: now,
	}
	o.UpdatedAt = now
	if err := store.Update(ctx, o); err != nil {
		t.Fatalf("Update (counter) failed: %v", err)
	}

	got, err := store.Get(ctx, "off_pg010")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusCountered {
		t.Errorf("Status: got %s, want countered", got.Status)
	}
	if got.Counter == nil {
		t.Fatal("Expected counter to survive the round trip")
	}
	if got.Counter.Amount != 45000 || got.Counter.By != PartySeller {
		t.Errorf("Counter: got %+v", got.Counter)
	}
	if got.Round != 1 {
		t.Errorf("Round: got %d, want 1", got.Round)
	}

	// Buyer accepts at the countered amount; the counter is cleared.
	final := int64(45000)
	o.Status = StatusAccepted
	o.Counter = nil
	o.FinalAmount = &final
	if err := store.Update(ctx, o); err != nil {
		t.Fatalf("Update (accept) failed: %v", err)
	}

	got, err = store.Get(ctx, "off_pg010")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusAccepted {
		t.Errorf("Status: got %s, want accepted", got.Status)
	}
	if got.Counter != nil {
		t.Errorf("Counter: expected cleared, got %+v", got.Counter)
	}
	if got.FinalAmount == nil || *got.FinalAmount != 45000 {
		t.Errorf("FinalAmount: got %v, want 45000", got.FinalAmount)
	}
}

func TestPostgresOffers_Update_NotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	o := pgOffer("off_pg_missing", time.Now().UTC())
	if err := store.Update(context.Background(), o); err != ErrOfferNotFound {
		t.Errorf("Expected ErrOfferNotFound, got %v", err)
	}
}

func TestPostgresOffers_ListByListing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	// Three offers on the listing, staggered creation times, one declined.
	for i, spec := range []struct {
		id     string
		buyer  string
		status Status
	}{
		{"off_pg020", "buyer-1", StatusPending},
		{"off_pg021", "buyer-2", StatusDeclined},
		{"off_pg022", "buyer-3", StatusPending},
	} {
		o := pgOffer(spec.id, base.Add(time.Duration(i)*time.Second))
		o.BuyerID = spec.buyer
		o.Status = spec.status
		if err := store.Create(ctx, o); err != nil {
			t.Fatalf("Create %s failed: %v", spec.id, err)
		}
	}

	all, err := store.ListByListing(ctx, "lst_pg1", "", 50)
	if err != nil {
		t.Fatalf("ListByListing failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 offers, got %d", len(all))
	}
	// Newest first.
	if all[0].ID != "off_pg022" || all[2].ID != "off_pg020" {
		t.Errorf("Expected newest-first ordering, got %s..%s", all[0].ID, all[2].ID)
	}

	pending, err := store.ListByListing(ctx, "lst_pg1", StatusPending, 50)
	if err != nil {
		t.Fatalf("ListByListing (pending) failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("Expected 2 pending offers, got %d", len(pending))
	}

	limited, err := store.ListByListing(ctx, "lst_pg1", "", 1)
	if err != nil {
		t.Fatalf("ListByListing (limit) failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "off_pg022" {
		t.Errorf("Expected the newest offer only, got %v", limited)
	}
}

func TestPostgresOffers_ActiveLookups(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	// buyer-1: a withdrawn offer then a countered one (the active one).
	old := pgOffer("off_pg030", base.Add(-time.Hour))
	old.Status = StatusWithdrawn
	if err := store.Create(ctx, old); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	active := pgOffer("off_pg031", base)
	active.Status = StatusCountered
	active.Counter = &CounterOffer{Amount: 42000, By: PartySeller, CreatedAt: base}
	if err := store.Create(ctx, active); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// buyer-2: declined only.
	declined := pgOffer("off_pg032", base)
	declined.BuyerID = "buyer-2"
	declined.Status = StatusDeclined
	if err := store.Create(ctx, declined); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.GetActiveByBuyerAndListing(ctx, "buyer-1", "lst_pg1")
	if err != nil {
		t.Fatalf("GetActiveByBuyerAndListing failed: %v", err)
	}
	if got.ID != "off_pg031" {
		t.Errorf("Expected off_pg031, got %s", got.ID)
	}

	if _, err := store.GetActiveByBuyerAndListing(ctx, "buyer-2", "lst_pg1"); err != ErrOfferNotFound {
		t.Errorf("Expected ErrOfferNotFound for buyer-2, got %v", err)
	}

	// Latest lookup is status-agnostic.
	latest, err := store.GetLatestByBuyerAndListing(ctx, "buyer-2", "lst_pg1")
	if err != nil {
		t.Fatalf("GetLatestByBuyerAndListing failed: %v", err)
	}
	if latest.ID != "off_pg032" {
		t.Errorf("Expected off_pg032, got %s", latest.ID)
	}

	activeList, err := store.ListActiveByListing(ctx, "lst_pg1")
	if err != nil {
		t.Fatalf("ListActiveByListing failed: %v", err)
	}
	if len(activeList) != 1 || activeList[0].ID != "off_pg031" {
		t.Errorf("Expected only the countered offer, got %v", activeList)
	}
}

func TestPostgresOffers_ListExpired(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	// Past-deadline pending offer.
	stale := pgOffer("off_pg040", now.Add(-72*time.Hour))
	if err := store.Create(ctx, stale); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Past-deadline but already terminal; must not be returned.
	terminal := pgOffer("off_pg041", now.Add(-72*time.Hour))
	terminal.BuyerID = "buyer-2"
	terminal.Status = StatusWithdrawn
	if err := store.Create(ctx, terminal); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Fresh pending offer.
	fresh := pgOffer("off_pg042", now)
	fresh.BuyerID = "buyer-3"
	if err := store.Create(ctx, fresh); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	expired, err := store.ListExpired(ctx, now, 100)
	if err != nil {
		t.Fatalf("ListExpired failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "off_pg040" {
		t.Errorf("Expected only the stale pending offer, got %v", expired)
	}
}
