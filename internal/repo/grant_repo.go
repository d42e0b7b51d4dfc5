// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for credit grants,
// including the candidate selection the expiration sweep relies on.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
)

// CreateGrant inserts a credit grant row.
func CreateGrant(ctx context.Context, tx *gorm.DB, g *domain.CreditGrant) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = time.Now().UTC()
	}
	return tx.WithContext(ctx).Create(g).Error
}

// ListGrants returns all grants for a tenant, newest first.
func ListGrants(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.CreditGrant, error) {
	var out []domain.CreditGrant
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("granted_at desc").
		Find(&out).Error
	return out, err
}

// SelectExpirableGrants returns unused grants of the given types for a
// tenant that are past the age cutoff or past their own explicit expiry.
// Rows are taken FOR UPDATE SKIP LOCKED so concurrent sweep runs (or a
// consumption transaction holding a grant) never double-process one.
//
// Must run inside a transaction.
func SelectExpirableGrants(ctx context.Context, tx *gorm.DB, tenantID string, types []domain.GrantType, cutoff, now time.Time) ([]domain.CreditGrant, error) {
	var out []domain.CreditGrant
	err := forUpdateSkipLocked(tx.WithContext(ctx)).
		Where("tenant_id = ? AND grant_type IN ? AND is_used = ?", tenantID, types, false).
		Where("granted_at <= ? OR (expires_at IS NOT NULL AND expires_at <= ?)", cutoff, now).
		Order("granted_at asc").
		Find(&out).Error
	return out, err
}

// GetGrantForUpdate re-reads a single grant under a row lock, skipping it if
// another transaction holds it. Returns ErrNotFound when the grant vanished
// or is locked elsewhere.
func GetGrantForUpdate(ctx context.Context, tx *gorm.DB, id string) (*domain.CreditGrant, error) {
	var g domain.CreditGrant
	err := forUpdateSkipLocked(tx.WithContext(ctx)).
		Where("id = ?", id).
		First(&g).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListUnusedGrantsForUpdate returns a tenant's unused grants of the given
// types, newest first, locking the rows and skipping any held by a
// concurrent sweep. Must run inside a transaction.
func ListUnusedGrantsForUpdate(ctx context.Context, tx *gorm.DB, tenantID string, types []domain.GrantType) ([]domain.CreditGrant, error) {
	var out []domain.CreditGrant
	err := forUpdateSkipLocked(tx.WithContext(ctx)).
		Where("tenant_id = ? AND grant_type IN ? AND is_used = ?", tenantID, types, false).
		Order("granted_at desc").
		Find(&out).Error
	return out, err
}

// MarkGrantUsed flips is_used exactly once. Returns ErrNotFound when the
// grant was already consumed by another transaction, so callers can treat
// the row as lost to a concurrent processor and move on.
func MarkGrantUsed(ctx context.Context, tx *gorm.DB, id string, usedAt time.Time) error {
	res := tx.WithContext(ctx).
		Model(&domain.CreditGrant{}).
		Where("id = ? AND is_used = ?", id, false).
		Updates(map[string]any{"is_used": true, "used_at": usedAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListGrantsExpiringBetween returns unused grants of the given types whose
// rule-derived expiry falls inside (from, to]. Used for the expiration
// warning read API; no locks taken.
func ListGrantsExpiringBetween(ctx context.Context, db *gorm.DB, tenantID string, types []domain.GrantType, from, to time.Time) ([]domain.CreditGrant, error) {
	var out []domain.CreditGrant
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND grant_type IN ? AND is_used = ?", tenantID, types, false).
		Where("granted_at > ? AND granted_at <= ?", from, to).
		Order("granted_at asc").
		Find(&out).Error
	return out, err
}
