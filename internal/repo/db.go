// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver, dev/test) and PostgreSQL (production), schema
// migration, and seed data.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/merchantry/commerce-core/internal/domain"
)

// Open opens a database for the given driver ("sqlite" or "postgres") and
// installs the GORM OpenTelemetry plugin so queries show up as spans.
//
// SQLite is intended for development and tests; row-locking clauses are a
// no-op there (see locking.go) and writes serialize through the engine's
// single-writer model. PostgreSQL is the production target and gets real
// SELECT ... FOR UPDATE / SKIP LOCKED behavior.
func Open(driver, dsn string) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	switch driver {
	case "sqlite", "":
		db, err = openSQLite(dsn)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	return db, nil
}

// openSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func openSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for every domain model.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Tenant{},
		&domain.TenantCredits{},
		&domain.CreditTransaction{},
		&domain.CreditGrant{},
		&domain.CreditExpirationRule{},
		&domain.CreditPackage{},
		&domain.CreditPurchase{},
		&domain.Product{},
		&domain.InventoryReservation{},
		&domain.Order{},
		&domain.OrderItem{},
	)
}

// SeedCreditPackages inserts the default purchasable packages if the catalog
// is empty. Idempotent; safe to call on every boot.
func SeedCreditPackages(db *gorm.DB) error {
	var n int64
	if err := db.Model(&domain.CreditPackage{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	defaults := []domain.CreditPackage{
		{ID: "starter", Name: "Starter", Credits: 5000, Price: decimal.NewFromInt(19), Currency: "USD", Active: true},
		{ID: "growth", Name: "Growth", Credits: 25000, Price: decimal.NewFromInt(79), Currency: "USD", Active: true},
		{ID: "scale", Name: "Scale", Credits: 100000, Price: decimal.NewFromInt(249), Currency: "USD", Active: true},
	}
	return db.Create(&defaults).Error
}
