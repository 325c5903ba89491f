package listings

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/finchmarket/offers/internal/validation"
)

// Handler provides HTTP endpoints for listing management.
type Handler struct {
	service *Service
}

// NewHandler creates a new listings handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up listing routes. Listing-ID params are validated
// before the handler runs; seller IDs are caller identities, not prefixed IDs.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	checkID := validation.IDParamMiddleware("id")
	r.POST("/listings", h.CreateListing)
	r.GET("/listings/:id", checkID, h.GetListing)
	r.PATCH("/listings/:id/offer-settings", checkID, h.UpdateOfferSettings)
	r.GET("/sellers/:id/listings", h.ListSellerListings)
}

// CreateListing handles POST /v1/listings
func (h *Handler) CreateListing(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	req.Title = validation.SanitizeString(req.Title, validation.MaxTitleLength)
	if verrs := validation.Validate(
		validation.Required("title", req.Title),
		validation.MaxLength("description", req.Description, validation.MaxDescriptionLength),
		validation.PositiveAmount("price", req.Price),
		validation.NonNegativeAmount("minimumOffer", derefOrZero(req.MinimumOffer)),
		validation.NonNegativeAmount("autoAcceptPrice", derefOrZero(req.AutoAcceptPrice)),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": verrs.Error(),
			"fields":  verrs,
		})
		return
	}

	sellerID := c.GetString("actorID")
	listing, err := h.service.Create(c.Request.Context(), sellerID, req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "create_failed"
		switch {
		case errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrInvalidSettings):
			status = http.StatusBadRequest
			code = "invalid_settings"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": listing})
}

// GetListing handles GET /v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	id := c.Param("id")

	listing, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Listing not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// UpdateOfferSettings handles PATCH /v1/listings/:id/offer-settings
func (h *Handler) UpdateOfferSettings(c *gin.Context) {
	id := c.Param("id")

	var req OfferSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// Zero clears a threshold; negative amounts are rejected before the
	// service sees them.
	if verrs := validation.Validate(
		validation.NonNegativeAmount("minimumOffer", derefOrZero(req.MinimumOffer)),
		validation.NonNegativeAmount("autoAcceptPrice", derefOrZero(req.AutoAcceptPrice)),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": verrs.Error(),
			"fields":  verrs,
		})
		return
	}

	callerID := c.GetString("actorID")
	listing, err := h.service.UpdateOfferSettings(c.Request.Context(), id, callerID, req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "update_failed"
		switch {
		case errors.Is(err, ErrNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrNotSeller):
			status = http.StatusForbidden
			code = "not_seller"
		case errors.Is(err, ErrAlreadySold):
			status = http.StatusConflict
			code = "already_sold"
		case errors.Is(err, ErrInvalidSettings):
			status = http.StatusBadRequest
			code = "invalid_settings"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// ListSellerListings handles GET /v1/sellers/:id/listings
func (h *Handler) ListSellerListings(c *gin.Context) {
	sellerID := c.Param("id")
	limit := parseLimit(c.Query("limit"), 50, 200)

	result, err := h.service.ListBySeller(c.Request.Context(), sellerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": result,
		"count":    len(result),
	})
}

func derefOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func parseLimit(s string, defaultVal, maxVal int) int {
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
