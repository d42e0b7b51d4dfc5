// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides CRUD for per-tenant credit expiration
// rules. Rules are read-only input to the expiration sweep.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
)

// CreateExpirationRule inserts a rule row.
func CreateExpirationRule(ctx context.Context, db *gorm.DB, r *domain.CreditExpirationRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(r).Error
}

// GetExpirationRule fetches one rule scoped to its tenant, or ErrNotFound.
func GetExpirationRule(ctx context.Context, db *gorm.DB, id, tenantID string) (*domain.CreditExpirationRule, error) {
	var r domain.CreditExpirationRule
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListExpirationRules returns all rules for a tenant, newest first.
func ListExpirationRules(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.CreditExpirationRule, error) {
	var out []domain.CreditExpirationRule
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// ListActiveExpirationRules returns every active rule across all tenants.
// The sweep iterates these.
func ListActiveExpirationRules(ctx context.Context, db *gorm.DB) ([]domain.CreditExpirationRule, error) {
	var out []domain.CreditExpirationRule
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("tenant_id asc, created_at asc").
		Find(&out).Error
	return out, err
}

// UpdateExpirationRule applies field updates to a rule, enforcing tenant
// ownership. Returns ErrNotFound when no row matched.
func UpdateExpirationRule(ctx context.Context, db *gorm.DB, id, tenantID string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.CreditExpirationRule{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeactivateExpirationRule soft-disables a rule (is_active = false) rather
// than deleting it, preserving the audit trail of past sweeps.
func DeactivateExpirationRule(ctx context.Context, db *gorm.DB, id, tenantID string) error {
	return UpdateExpirationRule(ctx, db, id, tenantID, map[string]any{"is_active": false})
}
