// Inventory HTTP handlers.
//
// Endpoints for checkout-time stock holds and cart validation:
//   - POST /stores/{storeID}/reservations                       (place a hold)
//   - GET  /stores/{storeID}/products/{productID}/availability  (derived availability)
//   - POST /stores/{storeID}/cart/validate                      (pre-checkout check)
//
// Availability is always derived (stock minus reserved); it is never stored,
// so these reads cannot drift from the reservation table.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/services"
)

// InventoryService defines reservation and availability operations consumed
// by HTTP handlers.
type InventoryService interface {
	// Reserve places a hold of qty units for a checkout session. ttl <= 0
	// uses the service default.
	Reserve(ctx context.Context, productID, storeID, sessionID string, qty int, ttl time.Duration) (*domain.InventoryReservation, error)
	// Availability returns stock minus active holds for one product.
	Availability(ctx context.Context, productID, storeID string) (int, error)
	// ReleaseExpiredReservations returns expired holds to availability.
	ReleaseExpiredReservations(ctx context.Context) (services.ReleaseSummary, error)
}

// ReserveRequest is the JSON payload for placing an inventory hold.
type ReserveRequest struct {
	// ProductID names the product to hold.
	ProductID string `json:"product_id" binding:"required" example:"3f1c9a0e-7f43-4a31-b1ce-6f9f6d6f2a11"`
	// SessionID identifies the checkout session placing the hold.
	SessionID string `json:"session_id" binding:"required" example:"sess_a91x"`
	// Quantity is the number of units to hold (>= 1).
	Quantity int `json:"quantity" binding:"required" example:"2"`
	// TTLSeconds optionally overrides the default hold lifetime.
	TTLSeconds int `json:"ttl_seconds,omitempty" example:"900"`
}

// AvailabilityResponse reports the derived availability of one product.
type AvailabilityResponse struct {
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id"`
	Available int    `json:"available"`
}

// ValidateCartRequest is the JSON payload for pre-checkout cart validation.
type ValidateCartRequest struct {
	Items []services.CartItem `json:"items" binding:"required"`
}

// Reserve godoc
// @ID          reserveStock
// @Summary     Reserve stock
// @Description Places a time-limited hold on product stock for a checkout session. A session's prior hold on the same product is superseded.
// @Tags        Inventory
// @Accept      json
// @Produce     json
//
// @Param       storeID  path  string                   true  "Store ID"
// @Param       body     body  handlers.ReserveRequest  true  "Reservation payload"
//
// @Success     201  {object}  domain.InventoryReservation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Product not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Insufficient stock"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /stores/{storeID}/reservations [post]
func (h *Handlers) Reserve(c *gin.Context) {
	storeID := c.Param("storeID")

	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	res, err := h.inv.Reserve(c.Request.Context(), req.ProductID, storeID, req.SessionID, req.Quantity, ttl)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusCreated, res)
}

// GetAvailability godoc
// @ID          getAvailability
// @Summary     Get product availability
// @Description Returns stock minus active reservations for one product.
// @Tags        Inventory
// @Produce     json
//
// @Param       storeID    path  string  true  "Store ID"
// @Param       productID  path  string  true  "Product ID"
//
// @Success     200  {object}  handlers.AvailabilityResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Product not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /stores/{storeID}/products/{productID}/availability [get]
func (h *Handlers) GetAvailability(c *gin.Context) {
	storeID := c.Param("storeID")
	productID := c.Param("productID")

	avail, err := h.inv.Availability(c.Request.Context(), productID, storeID)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, AvailabilityResponse{
		ProductID: productID,
		StoreID:   storeID,
		Available: avail,
	})
}

// ValidateCart godoc
// @ID          validateCart
// @Summary     Validate a cart
// @Description Checks each cart line against current visibility, price, and availability. Returns per-line issues plus a corrected item list. Never mutates state.
// @Tags        Inventory
// @Accept      json
// @Produce     json
//
// @Param       storeID  path  string                        true  "Store ID"
// @Param       body     body  handlers.ValidateCartRequest  true  "Cart payload"
//
// @Success     200  {object}  services.CartValidation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /stores/{storeID}/cart/validate [post]
func (h *Handlers) ValidateCart(c *gin.Context) {
	storeID := c.Param("storeID")

	var req ValidateCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	result, err := h.orders.ValidateCartItems(c.Request.Context(), storeID, req.Items)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}
