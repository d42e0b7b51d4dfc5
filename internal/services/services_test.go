package services

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/repo"
)

// newTestDB opens a private in-memory SQLite database, migrated and capped
// at one connection so concurrent test transactions serialize the same way
// on every run.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func statusPtr(s domain.SubscriptionStatus) *domain.SubscriptionStatus { return &s }

// seedTenant inserts a well-formed tenant plus a zero-balance credits row.
func seedTenant(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	err := repo.CreateTenant(context.Background(), db, &domain.Tenant{
		ID:                 id,
		Name:               "tenant " + id,
		SubscriptionStatus: statusPtr(domain.SubscriptionActive),
		IsFreeTier:         boolPtr(true),
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := repo.CreateTenantCredits(context.Background(), db, &domain.TenantCredits{TenantID: id}); err != nil {
		t.Fatalf("seed credits: %v", err)
	}
}

// seedUnlimitedTenant inserts a paid tenant whose balance is the unlimited
// sentinel.
func seedUnlimitedTenant(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	err := repo.CreateTenant(context.Background(), db, &domain.Tenant{
		ID:                 id,
		Name:               "tenant " + id,
		SubscriptionStatus: statusPtr(domain.SubscriptionActive),
		IsFreeTier:         boolPtr(false),
		SubscriptionRef:    strPtr("sub_" + id),
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	err = repo.CreateTenantCredits(context.Background(), db, &domain.TenantCredits{
		TenantID: id,
		Balance:  domain.UnlimitedSentinel,
	})
	if err != nil {
		t.Fatalf("seed credits: %v", err)
	}
}

// seedProduct inserts a visible product with the given stock.
func seedProduct(t *testing.T, db *gorm.DB, id, storeID string, stock int, price string) {
	t.Helper()
	err := repo.CreateProduct(context.Background(), db, &domain.Product{
		ID:            id,
		StoreID:       storeID,
		Name:          "product " + id,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		IsVisible:     true,
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func ledgerSum(t *testing.T, db *gorm.DB, tenantID string) int64 {
	t.Helper()
	sum, err := repo.SumTransactionAmounts(context.Background(), db, tenantID)
	if err != nil {
		t.Fatalf("sum transactions: %v", err)
	}
	return sum
}
