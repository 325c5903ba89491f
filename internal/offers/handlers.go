package offers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/finchmarket/offers/internal/listings"
	"github.com/finchmarket/offers/internal/validation"
)

// Handler provides HTTP endpoints for offer negotiation.
type Handler struct {
	service *Service
}

// NewHandler creates a new offers handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up offer routes. Resource-ID params are validated
// before the handler runs; buyer IDs are caller identities, not prefixed IDs.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	checkID := validation.IDParamMiddleware("id")
	r.POST("/offers", h.CreateOffer)
	r.GET("/offers/:id", checkID, h.GetOffer)
	r.POST("/offers/:id/respond", checkID, h.RespondToOffer)
	r.POST("/offers/:id/withdraw", checkID, h.WithdrawOffer)
	r.GET("/listings/:id/offers", checkID, h.ListListingOffers)
	r.GET("/buyers/:id/offers", h.ListBuyerOffers)
}

// CreateOffer handles POST /v1/offers
func (h *Handler) CreateOffer(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// The caller makes offers on its own behalf only.
	callerID := c.GetString("actorID")
	if callerID != req.BuyerID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Caller must be the buyer",
		})
		return
	}

	req.Message = validation.SanitizeString(req.Message, validation.MaxMessageLength)

	offer, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		status, code := createErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"offer": offer})
}

func createErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, listings.ErrNotFound):
		return http.StatusNotFound, "listing_not_found"
	case errors.Is(err, ErrAmountInvalid):
		return http.StatusBadRequest, "amount_invalid"
	case errors.Is(err, ErrAmountAboveAsking):
		return http.StatusBadRequest, "amount_above_asking"
	case errors.Is(err, ErrOffersNotAccepted):
		return http.StatusBadRequest, "offers_not_accepted"
	case errors.Is(err, ErrSelfOffer):
		return http.StatusBadRequest, "self_offer"
	case errors.Is(err, ErrActiveOfferExists):
		return http.StatusConflict, "active_offer_exists"
	case errors.Is(err, ErrOfferCooldown):
		return http.StatusTooManyRequests, "offer_cooldown"
	case errors.Is(err, ErrListingSold):
		return http.StatusConflict, "listing_sold"
	}
	return http.StatusInternalServerError, "create_failed"
}

// GetOffer handles GET /v1/offers/:id
func (h *Handler) GetOffer(c *gin.Context) {
	id := c.Param("id")

	offer, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Offer not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": offer})
}

// RespondToOffer handles POST /v1/offers/:id/respond
func (h *Handler) RespondToOffer(c *gin.Context) {
	id := c.Param("id")

	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: action is required",
		})
		return
	}

	switch req.Action {
	case ActionAccept, ActionDecline, ActionCounter:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_action",
			"message": "action must be accept, decline, or counter",
		})
		return
	}

	req.Message = validation.SanitizeString(req.Message, validation.MaxMessageLength)
	callerID := c.GetString("actorID")

	offer, err := h.service.Respond(c.Request.Context(), id, callerID, req)
	if err != nil {
		status, code := respondErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": offer})
}

func respondErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrOfferNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, listings.ErrNotFound):
		return http.StatusNotFound, "listing_not_found"
	case errors.Is(err, ErrTerminalState):
		return http.StatusConflict, "terminal_state"
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ErrListingSold):
		return http.StatusConflict, "listing_sold"
	case errors.Is(err, ErrAmountInvalid):
		return http.StatusBadRequest, "amount_invalid"
	case errors.Is(err, ErrAmountAboveAsking):
		return http.StatusBadRequest, "amount_above_asking"
	case errors.Is(err, ErrMaxCounterRounds):
		return http.StatusConflict, "max_counter_rounds"
	}
	return http.StatusInternalServerError, "respond_failed"
}

// WithdrawOffer handles POST /v1/offers/:id/withdraw
func (h *Handler) WithdrawOffer(c *gin.Context) {
	id := c.Param("id")
	callerID := c.GetString("actorID")

	offer, err := h.service.Withdraw(c.Request.Context(), id, callerID)
	if err != nil {
		status, code := respondErrorStatus(err)
		if code == "respond_failed" {
			code = "withdraw_failed"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": offer})
}

// ListListingOffers handles GET /v1/listings/:id/offers
func (h *Handler) ListListingOffers(c *gin.Context) {
	listingID := c.Param("id")
	status := Status(c.Query("status"))
	limit := parseOfferLimit(c.Query("limit"), 50, 200)

	result, err := h.service.ListByListing(c.Request.Context(), listingID, status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"offers": result,
		"count":  len(result),
	})
}

// ListBuyerOffers handles GET /v1/buyers/:id/offers
func (h *Handler) ListBuyerOffers(c *gin.Context) {
	buyerID := c.Param("id")
	limit := parseOfferLimit(c.Query("limit"), 50, 200)

	result, err := h.service.ListByBuyer(c.Request.Context(), buyerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"offers": result,
		"count":  len(result),
	})
}

func parseOfferLimit(s string, defaultVal, maxVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}
