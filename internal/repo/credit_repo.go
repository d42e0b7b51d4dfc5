// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the tenant
// credit balance and the append-only transaction ledger.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Locking: GetTenantCreditsForUpdate must be called inside a transaction;
// it holds the tenant's balance row lock until the transaction ends so a
// concurrent balance mutation on the same tenant can never interleave with
// the caller's read-validate-write sequence.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetTenantCredits fetches the balance row for tenantID without locking.
// Read-only callers (balance endpoint, validator) use this.
func GetTenantCredits(ctx context.Context, db *gorm.DB, tenantID string) (*domain.TenantCredits, error) {
	var tc domain.TenantCredits
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&tc).Error
	if err != nil {
		return nil, err
	}
	return &tc, nil
}

// GetTenantCreditsForUpdate fetches the balance row under a pessimistic row
// lock. Must run inside a transaction; the lock is held until commit.
func GetTenantCreditsForUpdate(ctx context.Context, tx *gorm.DB, tenantID string) (*domain.TenantCredits, error) {
	var tc domain.TenantCredits
	err := forUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ?", tenantID).
		First(&tc).Error
	if err != nil {
		return nil, err
	}
	return &tc, nil
}

// SaveTenantCredits persists the mutated balance row. Callers must hold the
// row lock acquired by GetTenantCreditsForUpdate in the same transaction.
func SaveTenantCredits(ctx context.Context, tx *gorm.DB, tc *domain.TenantCredits) error {
	tc.UpdatedAt = time.Now().UTC()
	return tx.WithContext(ctx).Save(tc).Error
}

// CreateTenantCredits inserts a fresh balance row for a tenant.
func CreateTenantCredits(ctx context.Context, db *gorm.DB, tc *domain.TenantCredits) error {
	if tc.UpdatedAt.IsZero() {
		tc.UpdatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(tc).Error
}

// InsertTransaction appends one ledger row. Ledger rows are never updated
// or deleted after this insert.
func InsertTransaction(ctx context.Context, tx *gorm.DB, rec *domain.CreditTransaction) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return tx.WithContext(ctx).Create(rec).Error
}

// CountTransactions returns the total ledger rows for a tenant.
func CountTransactions(ctx context.Context, db *gorm.DB, tenantID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.CreditTransaction{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error
	return total, err
}

// ListTransactionsPage returns a page of ledger rows for a tenant, newest
// first. The caller computes offset and limit (e.g., (page-1)*pageSize).
func ListTransactionsPage(ctx context.Context, db *gorm.DB, tenantID string, offset, limit int) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SumTransactionAmounts returns the running sum of ledger amounts for a
// tenant. For tenants whose balance is not the unlimited sentinel this must
// equal the stored balance; the state validator checks exactly that.
func SumTransactionAmounts(ctx context.Context, db *gorm.DB, tenantID string) (int64, error) {
	var row struct {
		Total int64
	}
	err := db.WithContext(ctx).
		Model(&domain.CreditTransaction{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("tenant_id = ?", tenantID).
		Scan(&row).Error
	return row.Total, err
}
