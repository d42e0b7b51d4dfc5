// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the credit
// purchase audit trail and the package catalog.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
)

// GetCreditPackage fetches an active package by id, or ErrNotFound.
func GetCreditPackage(ctx context.Context, db *gorm.DB, id string) (*domain.CreditPackage, error) {
	var p domain.CreditPackage
	err := db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListCreditPackages returns the active catalog, cheapest first.
func ListCreditPackages(ctx context.Context, db *gorm.DB) ([]domain.CreditPackage, error) {
	var out []domain.CreditPackage
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order("credits asc").
		Find(&out).Error
	return out, err
}

// GetPurchaseByKey returns the purchase recorded for an idempotency key,
// or ErrNotFound.
func GetPurchaseByKey(ctx context.Context, db *gorm.DB, key string) (*domain.CreditPurchase, error) {
	var p domain.CreditPurchase
	err := db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePurchase inserts a purchase audit row. A unique violation on the
// idempotency key surfaces as ErrDuplicateKey.
func CreatePurchase(ctx context.Context, tx *gorm.DB, p *domain.CreditPurchase) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
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

// UpdatePurchaseStatus moves a purchase row to a new status, recording the
// payment reference and failure code when present.
func UpdatePurchaseStatus(ctx context.Context, db *gorm.DB, id string, status domain.PurchaseStatus, paymentRef, failureCode string) error {
	fields := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if paymentRef != "" {
		fields["payment_ref"] = paymentRef
	}
	if failureCode != "" {
		fields["failure_code"] = failureCode
	}
	res := db.WithContext(ctx).
		Model(&domain.CreditPurchase{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpgradePurchaseStatus moves a purchase row from one status to another,
// recording the payment reference and clearing the failure code. The status
// guard makes the transition single-winner: ErrNotFound means the row is
// gone or no longer in the expected status, so a concurrent caller that
// already upgraded it is detected instead of overwritten.
func UpgradePurchaseStatus(ctx context.Context, tx *gorm.DB, id string, from, to domain.PurchaseStatus, paymentRef string) error {
	fields := map[string]any{
		"status":       to,
		"failure_code": "",
		"updated_at":   time.Now().UTC(),
	}
	if paymentRef != "" {
		fields["payment_ref"] = paymentRef
	}
	res := tx.WithContext(ctx).
		Model(&domain.CreditPurchase{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListPurchasesNeedingReconciliation returns the purchases flagged for
// manual reconciliation, oldest first. Operator tooling reads this.
func ListPurchasesNeedingReconciliation(ctx context.Context, db *gorm.DB) ([]domain.CreditPurchase, error) {
	var out []domain.CreditPurchase
	err := db.WithContext(ctx).
		Where("status = ?", domain.PurchaseNeedsReconciliation).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}
