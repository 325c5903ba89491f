package webhooks

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchmarket/offers/internal/idgen"
	"github.com/finchmarket/offers/internal/offers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// MemoryStore tests
// ---------------------------------------------------------------------------

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID:        "whsub_test1",
		OwnerID:   "seller-1",
		URL:       "https://example.com/hook",
		Secret:    "secret123",
		Events:    []offers.EventType{offers.EventOfferCreated},
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "whsub_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("Expected URL, got %s", got.URL)
	}

	sub.Active = false
	if err := store.Update(ctx, sub); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, _ = store.Get(ctx, "whsub_test1")
	if got.Active {
		t.Error("Expected inactive after update")
	}

	if err := store.Delete(ctx, "whsub_test1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "whsub_test1"); err != ErrSubscriptionNotFound {
		t.Errorf("Expected ErrSubscriptionNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_GetByOwner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "whsub_1", OwnerID: "seller-1"})
	store.Create(ctx, &Subscription{ID: "whsub_2", OwnerID: "buyer-1"})
	store.Create(ctx, &Subscription{ID: "whsub_3", OwnerID: "seller-1"})

	subs, _ := store.GetByOwner(ctx, "seller-1")
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for seller-1, got %d", len(subs))
	}
}

func TestMemoryStore_GetByEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "whsub_1", Events: []offers.EventType{offers.EventOfferCreated, offers.EventOfferAccepted}})
	store.Create(ctx, &Subscription{ID: "whsub_2", Events: []offers.EventType{offers.EventOfferDeclined}})
	store.Create(ctx, &Subscription{ID: "whsub_3", Events: []offers.EventType{offers.EventOfferCreated}})
	// Empty list means all events.
	store.Create(ctx, &Subscription{ID: "whsub_4"})

	subs, _ := store.GetByEvent(ctx, offers.EventOfferCreated)
	if len(subs) != 3 {
		t.Errorf("Expected 3 subs for offer.created, got %d", len(subs))
	}
}

// ---------------------------------------------------------------------------
// Signature tests
// ---------------------------------------------------------------------------

func TestSign_Deterministic(t *testing.T) {
	payload := []byte(`{"type":"offer.created"}`)

	sig1 := Sign(payload, "secret1")
	sig2 := Sign(payload, "secret1")
	if sig1 != sig2 {
		t.Error("Same payload and secret should produce the same signature")
	}

	if Sign(payload, "secret1") == Sign(payload, "secret2") {
		t.Error("Different secrets should produce different signatures")
	}
}

// ---------------------------------------------------------------------------
// Dispatch tests
// ---------------------------------------------------------------------------

func testEvent(typ offers.EventType) *offers.Event {
	return &offers.Event{
		ID:        "evt_test1",
		Type:      typ,
		OfferID:   "off_test1",
		ListingID: "lst_test1",
		BuyerID:   "buyer-1",
		SellerID:  "seller-1",
		Amount:    15000,
		Status:    offers.StatusPending,
		Timestamp: time.Now(),
	}
}

func TestDispatch_SendsToSubscribers(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "whsub_1",
		URL:    server.URL,
		Events: []offers.EventType{offers.EventOfferCreated},
		Active: true,
	})

	d := NewDispatcher(store, testLogger())
	if err := d.Dispatch(ctx, testEvent(offers.EventOfferCreated)); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// Wait for async delivery.
	time.Sleep(200 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("Expected 1 webhook delivery, got %d", received.Load())
	}
}

func TestDispatch_SkipsInactiveAndUnsubscribed(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "whsub_inactive",
		URL:    server.URL,
		Events: []offers.EventType{offers.EventOfferCreated},
		Active: false,
	})
	store.Create(ctx, &Subscription{
		ID:     "whsub_other_event",
		URL:    server.URL,
		Events: []offers.EventType{offers.EventOfferExpired},
		Active: true,
	})

	d := NewDispatcher(store, testLogger())
	d.Dispatch(ctx, testEvent(offers.EventOfferCreated))

	time.Sleep(200 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("Expected 0 deliveries, got %d", received.Load())
	}
}

func TestDispatch_IncludesSignatureAndHeaders(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotSig, gotEvent string
	var gotBody []byte
	secret := "test_webhook_secret" //nolint:gosec // test credential

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-Offers-Signature")
		gotEvent = r.Header.Get("X-Offers-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "whsub_1",
		URL:    server.URL,
		Secret: secret,
		Active: true,
	})

	d := NewDispatcher(store, testLogger())
	d.Dispatch(ctx, testEvent(offers.EventOfferAccepted))

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if gotEvent != string(offers.EventOfferAccepted) {
		t.Errorf("Expected event header offer.accepted, got %s", gotEvent)
	}
	if gotSig != Sign(gotBody, secret) {
		t.Error("Signature does not verify against the delivered body")
	}

	var delivered offers.Event
	if err := json.Unmarshal(gotBody, &delivered); err != nil {
		t.Fatalf("Delivered payload is not a valid event: %v", err)
	}
	if delivered.OfferID != "off_test1" {
		t.Errorf("Expected offerId off_test1, got %s", delivered.OfferID)
	}
}

func TestDispatch_DisablesAfterRepeatedFailures(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "whsub_flaky",
		URL:    server.URL,
		Active: true,
	})

	d := NewDispatcher(store, testLogger())
	for i := 0; i < MaxConsecutiveFailures; i++ {
		sub, err := store.Get(ctx, "whsub_flaky")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		// Deliver synchronously to observe the failure bookkeeping.
		d.send(ctx, sub, testEvent(offers.EventOfferCreated))
	}

	sub, err := store.Get(ctx, "whsub_flaky")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sub.Active {
		t.Errorf("Expected subscription disabled after %d failures, got active with %d failures",
			MaxConsecutiveFailures, sub.ConsecutiveFailures)
	}
}

func TestEmitter_NilSafe(t *testing.T) {
	var e *Emitter
	// Must not panic when wired as a no-op.
	e.Emit(context.Background(), testEvent(offers.EventOfferCreated))
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func newWebhookRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("actorID", c.GetHeader("X-Actor-ID"))
		c.Next()
	})
	NewHandler(store).RegisterRoutes(&r.RouterGroup)
	return r
}

func TestCreateSubscriptionEndpoint(t *testing.T) {
	store := NewMemoryStore()
	r := newWebhookRouter(store)

	body := `{"url":"https://example.com/hook","events":["offer.accepted","offer.declined"]}`
	req := httptest.NewRequest("POST", "/webhooks", jsonBody(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "seller-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Subscription Subscription `json:"subscription"`
		Secret       string       `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Secret, 64) // 32 random bytes, hex-encoded
	_, err := hex.DecodeString(resp.Secret)
	assert.NoError(t, err)
	assert.Equal(t, "seller-1", resp.Subscription.OwnerID)
	assert.True(t, resp.Subscription.Active)
	assert.Len(t, resp.Subscription.Events, 2)
}

func TestCreateSubscriptionEndpoint_Invalid(t *testing.T) {
	store := NewMemoryStore()
	r := newWebhookRouter(store)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing url", `{"events":["offer.accepted"]}`, "invalid_request"},
		{"bad scheme", `{"url":"ftp://example.com"}`, "invalid_url"},
		{"unknown event", `{"url":"https://example.com","events":["offer.teleported"]}`, "invalid_event"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/webhooks", jsonBody(tc.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Actor-ID", "seller-1")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tc.code)
		})
	}
}

func TestDeleteSubscriptionEndpoint_Ownership(t *testing.T) {
	store := NewMemoryStore()
	r := newWebhookRouter(store)

	subID := idgen.WithPrefix("whsub_")
	store.Create(context.Background(), &Subscription{
		ID:      subID,
		OwnerID: "seller-1",
		URL:     "https://example.com/hook",
		Active:  true,
	})

	req := httptest.NewRequest("DELETE", "/webhooks/"+subID, nil)
	req.Header.Set("X-Actor-ID", "someone-else")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest("DELETE", "/webhooks/"+subID, nil)
	req.Header.Set("X-Actor-ID", "seller-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	_, err := store.Get(context.Background(), subID)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestDeleteSubscriptionEndpoint_MalformedID(t *testing.T) {
	r := newWebhookRouter(NewMemoryStore())

	req := httptest.NewRequest("DELETE", "/webhooks/not-a-subscription-id", nil)
	req.Header.Set("X-Actor-ID", "seller-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_id")
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}
