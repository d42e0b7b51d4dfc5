// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for inventory
// reservations: the time-boxed stock holds taken during checkout.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
)

// CreateReservation inserts a reservation row.
func CreateReservation(ctx context.Context, tx *gorm.DB, r *domain.InventoryReservation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ReservedAt.IsZero() {
		r.ReservedAt = time.Now().UTC()
	}
	return tx.WithContext(ctx).Create(r).Error
}

// GetActiveReservation returns the active hold for (sessionID, productID),
// or ErrNotFound. At most one such row exists at a time.
func GetActiveReservation(ctx context.Context, tx *gorm.DB, sessionID, productID string) (*domain.InventoryReservation, error) {
	var r domain.InventoryReservation
	err := tx.WithContext(ctx).
		Where("session_id = ? AND product_id = ? AND status = ?", sessionID, productID, domain.ReservationActive).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListActiveReservationsForSession returns every active hold for a checkout
// session, oldest first.
func ListActiveReservationsForSession(ctx context.Context, tx *gorm.DB, sessionID string) ([]domain.InventoryReservation, error) {
	var out []domain.InventoryReservation
	err := tx.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, domain.ReservationActive).
		Order("reserved_at asc").
		Find(&out).Error
	return out, err
}

// ListExpiredActiveReservations returns active holds whose expires_at has
// passed, taken FOR UPDATE SKIP LOCKED so the sweep never contends with a
// live checkout transaction. Must run inside a transaction.
func ListExpiredActiveReservations(ctx context.Context, tx *gorm.DB, now time.Time) ([]domain.InventoryReservation, error) {
	var out []domain.InventoryReservation
	err := forUpdateSkipLocked(tx.WithContext(ctx)).
		Where("status = ? AND expires_at < ?", domain.ReservationActive, now).
		Order("product_id asc").
		Find(&out).Error
	return out, err
}

// TransitionReservation moves a reservation from active to the given
// terminal state, optionally stamping the completing order. Returns
// ErrNotFound when the row was no longer active (already swept, completed,
// or superseded), which callers treat as "someone else got here first".
func TransitionReservation(ctx context.Context, tx *gorm.DB, id string, to domain.ReservationStatus, orderID *string) error {
	fields := map[string]any{"status": to}
	if orderID != nil {
		fields["order_id"] = *orderID
	}
	res := tx.WithContext(ctx).
		Model(&domain.InventoryReservation{}).
		Where("id = ? AND status = ?", id, domain.ReservationActive).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetReservation fetches one reservation by id.
func GetReservation(ctx context.Context, db *gorm.DB, id string) (*domain.InventoryReservation, error) {
	var r domain.InventoryReservation
	err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}
