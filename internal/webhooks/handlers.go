package webhooks

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finchmarket/offers/internal/idgen"
	"github.com/finchmarket/offers/internal/offers"
	"github.com/finchmarket/offers/internal/validation"
)

// Handler provides HTTP endpoints for webhook subscription management.
type Handler struct {
	store Store
}

// NewHandler creates a new webhook handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up webhook routes. All routes act on the caller's own
// subscriptions.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateSubscription)
	r.GET("/webhooks", h.ListSubscriptions)
	r.DELETE("/webhooks/:id", validation.IDParamMiddleware("id"), h.DeleteSubscription)
}

// CreateSubscriptionRequest for creating a webhook subscription.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events"` // empty subscribes to all offer events
}

var validEvents = map[offers.EventType]bool{
	offers.EventOfferCreated:      true,
	offers.EventOfferAutoDeclined: true,
	offers.EventOfferAutoAccepted: true,
	offers.EventOfferAccepted:     true,
	offers.EventOfferDeclined:     true,
	offers.EventOfferCountered:    true,
	offers.EventOfferWithdrawn:    true,
	offers.EventOfferExpired:      true,
}

// CreateSubscription handles POST /v1/webhooks
func (h *Handler) CreateSubscription(c *gin.Context) {
	ownerID := c.GetString("actorID")
	if ownerID == "" {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Caller identity required",
		})
		return
	}

	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: url is required",
		})
		return
	}

	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": "url must be http or https",
		})
		return
	}

	events := make([]offers.EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := offers.EventType(e)
		if !validEvents[et] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_event",
				"message": "unknown event type: " + e,
			})
			return
		}
		events = append(events, et)
	}

	// 32 random bytes; idgen panics rather than degrade on RNG failure.
	secret := idgen.Hex(32)
	sub := &Subscription{
		ID:        idgen.WithPrefix("whsub_"),
		OwnerID:   ownerID,
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook subscription",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       secret, // only shown once
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Offers-Signature",
		},
	})
}

// ListSubscriptions handles GET /v1/webhooks
func (h *Handler) ListSubscriptions(c *gin.Context) {
	ownerID := c.GetString("actorID")

	subs, err := h.store.GetByOwner(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhook subscriptions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// DeleteSubscription handles DELETE /v1/webhooks/:id
func (h *Handler) DeleteSubscription(c *gin.Context) {
	id := c.Param("id")
	ownerID := c.GetString("actorID")

	sub, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Subscription not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete subscription",
		})
		return
	}
	if sub.OwnerID != ownerID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Caller does not own this subscription",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete subscription",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
