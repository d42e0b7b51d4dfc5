// Package services – LedgerService
//
// This file implements the tenant credit ledger: the single write path for
// every balance mutation. A mutation locks the tenant's balance row, applies
// the signed delta, and appends exactly one ledger transaction in the same
// database transaction, so the running sum of ledger amounts always equals
// the stored balance (when the balance is not unlimited).
//
// Two concurrent deltas on the same tenant serialize on the row lock; a
// delta is never silently lost. Deltas on different tenants are fully
// independent.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/repo"
)

// LedgerService is the durable balance plus append-only transaction log per
// tenant. Everything else mutates credits through it.
type LedgerService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewLedgerService constructs a LedgerService.
func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// ApplyDelta applies a signed credit delta to a tenant's balance and appends
// the matching ledger row, all inside one transaction holding the balance
// row lock.
//
// If the resulting finite balance would go below zero the delta is rejected
// with an InsufficientResourceError; callers that need a floor-at-zero debit
// (the expiration sweep) use applyDelta with clampAtZero instead of relying
// on failure. Unlimited balances record the ledger row but never change.
func (s *LedgerService) ApplyDelta(ctx context.Context, tenantID string, amount int64, txType domain.TransactionType, metadata map[string]any) (domain.Balance, string, error) {
	var bal domain.Balance
	var rec *domain.CreditTransaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		bal, rec, err = applyDelta(ctx, tx, tenantID, amount, txType, metadata, false)
		return err
	})
	if err != nil {
		return domain.Balance{}, "", err
	}
	return bal, rec.ID, nil
}

// Consume debits metered usage from a tenant. amount must be positive.
//
// Grants whose credits the debit fully drains are marked used inside the
// same transaction, so a later expiration sweep never revokes credits the
// tenant already spent.
func (s *LedgerService) Consume(ctx context.Context, tenantID string, amount int64, metadata map[string]any) (domain.Balance, string, error) {
	if amount <= 0 {
		return domain.Balance{}, "", &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	var bal domain.Balance
	var rec *domain.CreditTransaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		bal, rec, err = applyDelta(ctx, tx, tenantID, -amount, domain.TxUsage, metadata, false)
		if err != nil {
			return err
		}
		if bal.IsUnlimited() {
			return nil
		}
		return settleSpentGrants(ctx, tx, tenantID, time.Now().UTC())
	})
	if err != nil {
		return domain.Balance{}, "", err
	}
	return bal, rec.ID, nil
}

// GrantCredits issues a credit grant and applies the positive delta in the
// same transaction, so a grant row never exists without its ledger row.
func (s *LedgerService) GrantCredits(ctx context.Context, tenantID string, amount int64, grantType domain.GrantType, expiresAt *time.Time, metadata map[string]any) (*domain.CreditGrant, domain.Balance, error) {
	if amount <= 0 {
		return nil, domain.Balance{}, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	var grant *domain.CreditGrant
	var bal domain.Balance
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		grant, bal, err = grantCredits(ctx, tx, tenantID, amount, grantType, expiresAt, metadata)
		return err
	})
	if err != nil {
		return nil, domain.Balance{}, err
	}
	return grant, bal, nil
}

// Balance returns the tenant's current balance and the raw credits row.
func (s *LedgerService) Balance(ctx context.Context, tenantID string) (domain.Balance, *domain.TenantCredits, error) {
	tc, err := repo.GetTenantCredits(ctx, s.DB, tenantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Balance{}, nil, ErrTenantNotFound
		}
		return domain.Balance{}, nil, err
	}
	return domain.BalanceFromSentinel(tc.Balance), tc, nil
}

// ListTransactions returns a page of ledger rows for a tenant, newest
// first, plus the total count for pagination metadata.
func (s *LedgerService) ListTransactions(ctx context.Context, tenantID string, page, pageSize int) ([]domain.CreditTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountTransactions(ctx, s.DB, tenantID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.CreditTransaction{}, 0, nil
	}

	items, err := repo.ListTransactionsPage(ctx, s.DB, tenantID, offset, pageSize)
	return items, total, err
}

// ListGrants returns all grants for a tenant, newest first.
func (s *LedgerService) ListGrants(ctx context.Context, tenantID string) ([]domain.CreditGrant, error) {
	return repo.ListGrants(ctx, s.DB, tenantID)
}

// grantCredits is the in-transaction grant + credit step, shared with the
// purchase coordinator so allocation rides the caller's transaction.
func grantCredits(ctx context.Context, tx *gorm.DB, tenantID string, amount int64, grantType domain.GrantType, expiresAt *time.Time, metadata map[string]any) (*domain.CreditGrant, domain.Balance, error) {
	grant := &domain.CreditGrant{
		TenantID:  tenantID,
		Amount:    amount,
		GrantType: grantType,
		GrantedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := repo.CreateGrant(ctx, tx, grant); err != nil {
		return nil, domain.Balance{}, err
	}

	md := cloneMetadata(metadata)
	md["grant_id"] = grant.ID
	md["grant_type"] = string(grantType)

	bal, _, err := applyDelta(ctx, tx, tenantID, amount, txTypeForGrant(grantType), md, false)
	if err != nil {
		return nil, domain.Balance{}, err
	}
	creditsGranted.WithLabelValues(string(grantType)).Add(float64(amount))
	return grant, bal, nil
}

// applyDelta is the locked read-modify-write at the heart of the ledger.
// Must run inside tx. When clampAtZero is set, a debit that would overdraw
// a finite balance is reduced so the balance lands exactly on zero; the
// returned record carries the amount actually applied.
func applyDelta(ctx context.Context, tx *gorm.DB, tenantID string, amount int64, txType domain.TransactionType, metadata map[string]any, clampAtZero bool) (domain.Balance, *domain.CreditTransaction, error) {
	tc, err := repo.GetTenantCreditsForUpdate(ctx, tx, tenantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Balance{}, nil, ErrTenantNotFound
		}
		return domain.Balance{}, nil, err
	}

	bal := domain.BalanceFromSentinel(tc.Balance)

	rec := &domain.CreditTransaction{
		TenantID: tenantID,
		Amount:   amount,
		Type:     txType,
		Metadata: encodeMetadata(metadata),
	}

	if bal.IsUnlimited() {
		// Unmetered tenants keep the audit trail but the balance is pinned.
		rec.BalanceAfter = domain.UnlimitedSentinel
		if err := repo.InsertTransaction(ctx, tx, rec); err != nil {
			return domain.Balance{}, nil, err
		}
		return bal, rec, nil
	}

	newBalance := tc.Balance + amount
	if newBalance < 0 {
		if !clampAtZero {
			return domain.Balance{}, nil, &InsufficientResourceError{
				Resource:  "credits",
				Available: tc.Balance,
				Requested: -amount,
			}
		}
		amount = -tc.Balance
		rec.Amount = amount
		newBalance = 0
	}

	routeBuckets(tc, amount, txType)
	tc.Balance = newBalance
	rec.BalanceAfter = newBalance

	if err := repo.SaveTenantCredits(ctx, tx, tc); err != nil {
		return domain.Balance{}, nil, err
	}
	if err := repo.InsertTransaction(ctx, tx, rec); err != nil {
		return domain.Balance{}, nil, err
	}
	return domain.Limited(newBalance), rec, nil
}

// freeGrantTypes are the grant types whose credits land in the free bucket;
// purchased grants land in the other one. Mirrors routeBuckets.
var freeGrantTypes = []domain.GrantType{domain.GrantBonus, domain.GrantPromotional, domain.GrantSubscription}

// settleSpentGrants marks grants whose credits a tenant has fully spent.
// Debits drain the oldest grants first, so within each bucket the newest
// unused grants cover the remaining sub-balance and everything older is
// spent. Rows held by a concurrent sweep are skipped; the sweep's own
// used-flag flip keeps such a grant from being settled twice.
//
// Must run inside tx, after the debit has been saved.
func settleSpentGrants(ctx context.Context, tx *gorm.DB, tenantID string, now time.Time) error {
	tc, err := repo.GetTenantCredits(ctx, tx, tenantID)
	if err != nil {
		return err
	}

	buckets := []struct {
		types     []domain.GrantType
		remaining int64
	}{
		{freeGrantTypes, tc.FreeCreditsBalance},
		{[]domain.GrantType{domain.GrantPurchased}, tc.PurchasedCreditsBalance},
	}
	for _, b := range buckets {
		grants, err := repo.ListUnusedGrantsForUpdate(ctx, tx, tenantID, b.types)
		if err != nil {
			return err
		}
		covered := int64(0)
		for _, g := range grants {
			if covered >= b.remaining {
				if err := repo.MarkGrantUsed(ctx, tx, g.ID, now); err != nil && !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				continue
			}
			covered += g.Amount
		}
	}
	return nil
}

// routeBuckets keeps the free/purchased sub-balances and lifetime counter in
// step with the main balance. Debits drain the free bucket before the
// purchased one.
func routeBuckets(tc *domain.TenantCredits, amount int64, txType domain.TransactionType) {
	switch {
	case amount > 0:
		if txType == domain.TxPurchase {
			tc.PurchasedCreditsBalance += amount
		} else {
			tc.FreeCreditsBalance += amount
		}
		if txType != domain.TxRepairAdjustment {
			tc.LifetimeEarned += amount
		}
	case amount < 0:
		debit := -amount
		fromFree := debit
		if fromFree > tc.FreeCreditsBalance {
			fromFree = tc.FreeCreditsBalance
		}
		tc.FreeCreditsBalance -= fromFree
		tc.PurchasedCreditsBalance -= debit - fromFree
		if tc.PurchasedCreditsBalance < 0 {
			tc.PurchasedCreditsBalance = 0
		}
	}
}

// txTypeForGrant maps a grant type to the ledger transaction type recorded
// for its issuance.
func txTypeForGrant(gt domain.GrantType) domain.TransactionType {
	switch gt {
	case domain.GrantPurchased:
		return domain.TxPurchase
	case domain.GrantPromotional:
		return domain.TxPromotional
	case domain.GrantSubscription:
		return domain.TxSubscription
	default:
		return domain.TxBonus
	}
}

// encodeMetadata serializes transaction metadata to the TEXT column.
// nil maps encode to the empty string.
func encodeMetadata(md map[string]any) string {
	if len(md) == 0 {
		return ""
	}
	data, err := json.Marshal(md)
	if err != nil {
		return ""
	}
	return string(data)
}

// cloneMetadata copies a metadata map so callers' maps are never mutated.
func cloneMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md)+2)
	for k, v := range md {
		out[k] = v
	}
	return out
}
