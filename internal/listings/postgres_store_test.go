//go:build integration

package listings

import (
	"context"
	"testing"
	"time"

	"github.com/finchmarket/offers/internal/testutil"
)

func pgListing(id string, created time.Time) *Listing {
	return &Listing{
		ID:            id,
		SellerID:      "seller-1",
		Title:         "Vintage Camera",
		Description:   "Light wear, fully working",
		Price:         50000,
		AcceptsOffers: true,
		Status:        StatusAvailable,
		Version:       1,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestPostgresListings_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	min := int64(30000)
	auto := int64(45000)
	l := pgListing("lst_pg001", now)
	l.MinimumOffer = &min
	l.AutoAcceptPrice = &auto

	if err := store.Create(ctx, l); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "lst_pg001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SellerID != "seller-1" || got.Price != 50000 {
		t.Errorf("Round trip mismatch: %+v", got)
	}
	if got.MinimumOffer == nil || *got.MinimumOffer != 30000 {
		t.Errorf("MinimumOffer: got %v, want 30000", got.MinimumOffer)
	}
	if got.AutoAcceptPrice == nil || *got.AutoAcceptPrice != 45000 {
		t.Errorf("AutoAcceptPrice: got %v, want 45000", got.AutoAcceptPrice)
	}
	if got.Status != StatusAvailable || got.Version != 1 {
		t.Errorf("Expected available v1, got %s v%d", got.Status, got.Version)
	}
	if got.SoldAt != nil {
		t.Errorf("SoldAt: expected nil, got %v", got.SoldAt)
	}
}

func TestPostgresListings_Get_NotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	if _, err := store.Get(context.Background(), "lst_missing"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPostgresListings_Update_BumpsVersion(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	l := pgListing("lst_pg010", now)
	if err := store.Create(ctx, l); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	min := int64(20000)
	l.MinimumOffer = &min
	l.UpdatedAt = now
	if err := store.Update(ctx, l); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if l.Version != 2 {
		t.Errorf("Expected version 2 after update, got %d", l.Version)
	}

	got, err := store.Get(ctx, "lst_pg010")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MinimumOffer == nil || *got.MinimumOffer != 20000 {
		t.Errorf("MinimumOffer: got %v, want 20000", got.MinimumOffer)
	}
}

func TestPostgresListings_MarkSold(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	l := pgListing("lst_pg020", now)
	if err := store.Create(ctx, l); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.MarkSold(ctx, "lst_pg020", 1, now); err != nil {
		t.Fatalf("MarkSold failed: %v", err)
	}

	got, err := store.Get(ctx, "lst_pg020")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusSold {
		t.Errorf("Status: got %s, want sold", got.Status)
	}
	if got.Version != 2 {
		t.Errorf("Version: got %d, want 2", got.Version)
	}
	if got.SoldAt == nil {
		t.Error("Expected SoldAt to be set")
	}

	// Second sale attempt fails regardless of version.
	if err := store.MarkSold(ctx, "lst_pg020", 2, now); err != ErrAlreadySold {
		t.Errorf("Expected ErrAlreadySold, got %v", err)
	}
}

func TestPostgresListings_MarkSold_VersionConflict(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	l := pgListing("lst_pg021", now)
	if err := store.Create(ctx, l); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Settings update bumps the version to 2; a sale against v1 is stale.
	l.UpdatedAt = now
	if err := store.Update(ctx, l); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := store.MarkSold(ctx, "lst_pg021", 1, now); err != ErrVersionConflict {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}

	// Fresh version succeeds.
	if err := store.MarkSold(ctx, "lst_pg021", 2, now); err != nil {
		t.Errorf("MarkSold with current version failed: %v", err)
	}
}

func TestPostgresListings_ListBySeller(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i, id := range []string{"lst_pg030", "lst_pg031", "lst_pg032"} {
		l := pgListing(id, base.Add(time.Duration(i)*time.Second))
		if err := store.Create(ctx, l); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}
	other := pgListing("lst_pg033", base)
	other.SellerID = "seller-2"
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.ListBySeller(ctx, "seller-1", 50)
	if err != nil {
		t.Fatalf("ListBySeller failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 listings, got %d", len(got))
	}
	if got[0].ID != "lst_pg032" {
		t.Errorf("Expected newest first, got %s", got[0].ID)
	}

	limited, err := store.ListBySeller(ctx, "seller-1", 2)
	if err != nil {
		t.Fatalf("ListBySeller (limit) failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 listings with limit, got %d", len(limited))
	}
}
