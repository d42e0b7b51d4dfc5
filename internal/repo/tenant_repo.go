// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for tenants,
// used by the state validator/repair tool and request handlers.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
)

// GetTenant fetches one tenant, or ErrNotFound.
func GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTenant inserts a tenant row. Used by provisioning and tests.
func CreateTenant(ctx context.Context, db *gorm.DB, t *domain.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(t).Error
}

// UpdateTenantState corrects subscription_status and is_free_tier. Only the
// repair tool writes these fields.
func UpdateTenantState(ctx context.Context, tx *gorm.DB, id string, status domain.SubscriptionStatus, isFreeTier bool) error {
	res := tx.WithContext(ctx).
		Model(&domain.Tenant{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"subscription_status": status,
			"is_free_tier":        isFreeTier,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListTenantIDs returns every tenant id, in stable order. The batch repair
// scan iterates this.
func ListTenantIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Tenant{}).
		Order("created_at asc").
		Pluck("id", &ids).Error
	return ids, err
}
