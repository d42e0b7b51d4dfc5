// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for orders and
// their line items, including the idempotency-key lookup that makes order
// creation safe under retries.
package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
)

// ErrDuplicateKey indicates a unique-constraint violation on insert, e.g.
// two concurrent order creations racing on the same idempotency key.
var ErrDuplicateKey = errors.New("duplicate key")

// GetOrderByIdempotencyKey returns the order previously created with key,
// items preloaded, or ErrNotFound.
func GetOrderByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Preload("Items").
		Where("idempotency_key = ?", key).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrder fetches one order with items, or ErrNotFound.
func GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOrder inserts the order and its items in one go. A unique violation
// on the idempotency key surfaces as ErrDuplicateKey so the caller can
// re-read and return the winner's row instead of failing the request.
func CreateOrder(ctx context.Context, tx *gorm.DB, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = uuid.NewString()
		}
		o.Items[i].OrderID = o.ID
	}
	if err := tx.WithContext(ctx).Create(o).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") ||
			strings.Contains(low, "duplicate key value") {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}
