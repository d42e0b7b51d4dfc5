// Package services – OrderService
//
// This file implements cart validation and the all-or-nothing order
// transaction. validateCartItems is a pure read used ahead of checkout to
// surface actionable issues; CreateOrder locks every referenced product,
// revalidates stock, and either commits the order plus stock decrements in
// full or aborts with no partial state.
//
// CreateOrder is idempotent: a retried call with the same idempotency key
// returns the order the first call created, and stock is decremented
// exactly once.
package services

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/repo"
)

// OrderService creates orders and validates carts against live inventory.
type OrderService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewOrderService constructs an OrderService.
func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{DB: db}
}

// CartItem is one line of a cart as supplied by the storefront, including
// the price the shopper last saw so drift can be detected.
type CartItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CartIssueType classifies a cart validation problem.
type CartIssueType string

const (
	IssueProductDeleted    CartIssueType = "product_deleted"
	IssueProductHidden     CartIssueType = "product_hidden"
	IssueOutOfStock        CartIssueType = "out_of_stock"
	IssueInsufficientStock CartIssueType = "insufficient_stock"
	IssuePriceChanged      CartIssueType = "price_changed"
)

// CartIssue is one actionable validation finding.
type CartIssue struct {
	Type      CartIssueType    `json:"type"`
	ProductID string           `json:"product_id"`
	Message   string           `json:"message"`
	Available *int             `json:"available,omitempty"`
	Requested *int             `json:"requested,omitempty"`
	OldPrice  *decimal.Decimal `json:"old_price,omitempty"`
	NewPrice  *decimal.Decimal `json:"new_price,omitempty"`
}

// ValidatedItem is a cart line corrected against the live catalog: current
// price, quantity clamped to availability.
type ValidatedItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CartValidation is the result of ValidateCartItems.
type CartValidation struct {
	Valid          bool            `json:"valid"`
	Issues         []CartIssue     `json:"issues"`
	ValidatedItems []ValidatedItem `json:"validated_items"`
}

// ValidateCartItems checks each cart line against current visibility,
// price, and derived availability. Pure read; never mutates state. The
// returned validated list drops dead lines, clamps quantities, and always
// carries the current catalog price.
func (s *OrderService) ValidateCartItems(ctx context.Context, storeID string, items []CartItem) (*CartValidation, error) {
	out := &CartValidation{
		Valid:          true,
		Issues:         []CartIssue{},
		ValidatedItems: []ValidatedItem{},
	}

	for _, item := range items {
		if item.Quantity < 1 {
			return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
		}

		p, err := repo.GetProduct(ctx, s.DB, item.ProductID, storeID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				out.Valid = false
				out.Issues = append(out.Issues, CartIssue{
					Type:      IssueProductDeleted,
					ProductID: item.ProductID,
					Message:   "this product is no longer available",
				})
				continue
			}
			return nil, err
		}

		if !p.IsVisible {
			out.Valid = false
			out.Issues = append(out.Issues, CartIssue{
				Type:      IssueProductHidden,
				ProductID: item.ProductID,
				Message:   "this product is currently unavailable",
			})
			continue
		}

		avail := p.AvailableQuantity()
		qty := item.Quantity
		switch {
		case avail <= 0:
			out.Valid = false
			out.Issues = append(out.Issues, CartIssue{
				Type:      IssueOutOfStock,
				ProductID: item.ProductID,
				Message:   p.Name + " is out of stock",
			})
			continue
		case avail < qty:
			out.Valid = false
			a, r := avail, qty
			out.Issues = append(out.Issues, CartIssue{
				Type:      IssueInsufficientStock,
				ProductID: item.ProductID,
				Message:   userMsgPrinter.Sprintf("only %d of %s left", avail, p.Name),
				Available: &a,
				Requested: &r,
			})
			qty = avail
		}

		if !item.UnitPrice.Equal(p.Price) {
			out.Valid = false
			oldP, newP := item.UnitPrice, p.Price
			out.Issues = append(out.Issues, CartIssue{
				Type:      IssuePriceChanged,
				ProductID: item.ProductID,
				Message:   "the price of " + p.Name + " has changed",
				OldPrice:  &oldP,
				NewPrice:  &newP,
			})
		}

		out.ValidatedItems = append(out.ValidatedItems, ValidatedItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  qty,
			UnitPrice: p.Price,
		})
	}

	return out, nil
}

// OrderLine is one requested order line. Prices are captured from the
// catalog at creation time, not taken from the caller.
type OrderLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderInput carries everything CreateOrder needs.
type CreateOrderInput struct {
	StoreID        string
	SessionID      string
	IdempotencyKey string // optional; empty disables replay protection
	Lines          []OrderLine
}

// CreateOrder creates an order atomically: every referenced product row is
// locked (in stable order, to avoid lock cycles), stock is revalidated for
// each line, and if any line is short the whole transaction aborts. On
// success the order is inserted, the session's active holds are completed
// and stamped with the order id, and stock_quantity is decremented for
// every line before commit.
//
// When IdempotencyKey matches an existing order, that order is returned
// unchanged and nothing is decremented.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if len(in.Lines) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "must not be empty"}
	}
	for _, l := range in.Lines {
		if l.Quantity < 1 {
			return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
		}
	}

	if in.IdempotencyKey != "" {
		if existing, err := repo.GetOrderByIdempotencyKey(ctx, s.DB, in.IdempotencyKey); err == nil {
			return existing, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	// Stable lock order across concurrent order transactions.
	lines := make([]OrderLine, len(in.Lines))
	copy(lines, in.Lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	var order *domain.Order
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orderID := uuid.NewString()

		// The session's own active holds count toward its availability:
		// they are cleared by completion inside this same transaction.
		ownHolds := make(map[string]int)
		if in.SessionID != "" {
			holds, err := repo.ListActiveReservationsForSession(ctx, tx, in.SessionID)
			if err != nil {
				return err
			}
			for _, h := range holds {
				ownHolds[h.ProductID] += h.Quantity
			}
		}

		total := decimal.Zero
		items := make([]domain.OrderItem, 0, len(lines))
		for _, line := range lines {
			p, err := repo.GetProductForUpdate(ctx, tx, line.ProductID, in.StoreID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return ErrProductNotFound
				}
				return err
			}
			if !p.IsVisible {
				return ErrProductNotFound
			}

			avail := p.AvailableQuantity() + ownHolds[p.ID]
			if avail < line.Quantity {
				return &InsufficientResourceError{
					Resource:  "stock",
					Available: int64(avail),
					Requested: int64(line.Quantity),
				}
			}

			items = append(items, domain.OrderItem{
				ProductID: p.ID,
				Quantity:  line.Quantity,
				UnitPrice: p.Price,
			})
			total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		order = &domain.Order{
			ID:        orderID,
			StoreID:   in.StoreID,
			SessionID: in.SessionID,
			Status:    domain.OrderConfirmed,
			Total:     total,
			Items:     items,
		}
		if in.IdempotencyKey != "" {
			key := in.IdempotencyKey
			order.IdempotencyKey = &key
		}
		if err := repo.CreateOrder(ctx, tx, order); err != nil {
			return err
		}

		if in.SessionID != "" {
			if err := completeReservations(ctx, tx, in.SessionID, orderID); err != nil {
				return err
			}
		}

		for _, line := range lines {
			if err := repo.AdjustProductCounters(ctx, tx, line.ProductID, -line.Quantity, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateKey) && in.IdempotencyKey != "" {
			// Lost the insert race to a concurrent retry; return the winner.
			if existing, rerr := repo.GetOrderByIdempotencyKey(ctx, s.DB, in.IdempotencyKey); rerr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	ordersCreated.Inc()
	log.Info().
		Str("order_id", order.ID).
		Str("store_id", in.StoreID).
		Int("items", len(order.Items)).
		Str("total", order.Total.String()).
		Msg("order created")
	return order, nil
}

// GetOrder fetches one order with its items.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := repo.GetOrder(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}
