// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file centralizes pessimistic row-locking clauses so
// every read-modify-write path spells its locking discipline the same way.
package repo

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// supportsRowLocks reports whether the active dialect understands
// SELECT ... FOR UPDATE. SQLite does not; it serializes all writers through
// a single write lock, which gives the same lost-update protection as long
// as the read and write happen inside one transaction.
func supportsRowLocks(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

// forUpdate applies FOR UPDATE on dialects that support it. Callers must
// already be inside a transaction; the lock is held until commit/rollback.
func forUpdate(db *gorm.DB) *gorm.DB {
	if supportsRowLocks(db) {
		return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	return db
}

// forUpdateSkipLocked applies FOR UPDATE SKIP LOCKED on dialects that
// support it. Batch sweeps use this so they never block on, and are never
// blocked by, rows a live user transaction currently holds; skipped rows
// are picked up on the next run.
func forUpdateSkipLocked(db *gorm.DB) *gorm.DB {
	if supportsRowLocks(db) {
		return db.Clauses(clause.Locking{
			Strength: clause.LockingStrengthUpdate,
			Options:  clause.LockingOptionsSkipLocked,
		})
	}
	return db
}
