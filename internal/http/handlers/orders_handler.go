// Order HTTP handlers.
//
// Endpoints for atomic checkout:
//   - POST /stores/{storeID}/orders   (create, Idempotency-Key aware)
//   - GET  /orders/{id}               (fetch with line items)
//
// Order creation commits stock and completes the session's holds in one
// transaction; a replayed Idempotency-Key returns the original order.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/http/middleware"
	"github.com/merchantry/commerce-core/internal/services"
)

// OrderService defines cart validation and order lifecycle operations
// consumed by HTTP handlers.
type OrderService interface {
	// ValidateCartItems checks cart lines against the live catalog.
	ValidateCartItems(ctx context.Context, storeID string, items []services.CartItem) (*services.CartValidation, error)
	// CreateOrder atomically creates an order, commits stock, and completes
	// the session's reservations.
	CreateOrder(ctx context.Context, in services.CreateOrderInput) (*domain.Order, error)
	// GetOrder loads one order with its line items.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
}

// CreateOrderRequest is the JSON payload for placing an order.
type CreateOrderRequest struct {
	// SessionID identifies the checkout session whose holds the order claims.
	SessionID string `json:"session_id" binding:"required" example:"sess_a91x"`
	// Lines are the products and quantities to purchase.
	Lines []services.OrderLine `json:"lines" binding:"required"`
}

// CreateOrder godoc
// @ID          createOrder
// @Summary     Create an order
// @Description Atomically validates stock, decrements inventory, and completes the session's reservations. Supply an Idempotency-Key header to make retries safe: a replay returns the original order with 200.
// @Tags        Orders
// @Accept      json
// @Produce     json
//
// @Param       storeID          path    string                       true   "Store ID"
// @Param       Idempotency-Key  header  string                       false  "Client-chosen key; retries with the same key replay the original order"
// @Param       body             body    handlers.CreateOrderRequest  true   "Order payload"
//
// @Success     201  {object}  domain.Order
// @Success     200  {object}  domain.Order            "Replayed via Idempotency-Key"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Product not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Insufficient stock"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /stores/{storeID}/orders [post]
func (h *Handlers) CreateOrder(c *gin.Context) {
	storeID := c.Param("storeID")

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	order, err := h.orders.CreateOrder(c.Request.Context(), services.CreateOrderInput{
		StoreID:        storeID,
		SessionID:      req.SessionID,
		IdempotencyKey: idemKey,
		Lines:          req.Lines,
	})
	if err != nil {
		failFromService(c, err)
		return
	}

	status := http.StatusCreated
	if middleware.IsReplay(c) {
		status = http.StatusOK
	}
	ok(c, status, order)
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Get an order
// @Description Returns one order with its line items.
// @Tags        Orders
// @Produce     json
//
// @Param       id  path  string  true  "Order ID"
//
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse  "Order not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, order)
}
