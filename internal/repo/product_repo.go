// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for products and
// their stock counters.
//
// Stock discipline: any mutation of stock_quantity or reserved_quantity
// happens through a transaction that first takes the product row via
// GetProductForUpdate, so concurrent reservations and order commits on the
// same product serialize instead of losing updates.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
)

// GetProduct fetches a visible-or-hidden, non-deleted product scoped to a
// store, without locking.
func GetProduct(ctx context.Context, db *gorm.DB, id, storeID string) (*domain.Product, error) {
	var p domain.Product
	err := db.WithContext(ctx).
		Where("id = ? AND store_id = ?", id, storeID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProductForUpdate fetches a product under a pessimistic row lock. Must
// run inside a transaction; the lock is held until commit so availability
// checks and counter updates cannot interleave with a concurrent writer.
func GetProductForUpdate(ctx context.Context, tx *gorm.DB, id, storeID string) (*domain.Product, error) {
	var p domain.Product
	err := forUpdate(tx.WithContext(ctx)).
		Where("id = ? AND store_id = ?", id, storeID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AdjustProductCounters applies deltas to stock_quantity and
// reserved_quantity in one UPDATE. Callers must hold the product row lock
// and have validated that the result keeps 0 <= reserved <= stock.
func AdjustProductCounters(ctx context.Context, tx *gorm.DB, productID string, stockDelta, reservedDelta int) error {
	res := tx.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ?", productID).
		Updates(map[string]any{
			"stock_quantity":    gorm.Expr("stock_quantity + ?", stockDelta),
			"reserved_quantity": gorm.Expr("reserved_quantity + ?", reservedDelta),
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateProduct inserts a product row. Used by store provisioning and tests.
func CreateProduct(ctx context.Context, db *gorm.DB, p *domain.Product) error {
	return db.WithContext(ctx).Create(p).Error
}
