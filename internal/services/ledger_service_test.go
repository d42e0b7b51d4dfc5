package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/repo"
)

func TestGrantAndConsumeKeepLedgerSumEqualToBalance(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")
	svc := NewLedgerService(db)

	if _, _, err := svc.GrantCredits(ctx, "t1", 100, domain.GrantBonus, nil, nil); err != nil {
		t.Fatalf("GrantCredits: %v", err)
	}
	bal, _, err := svc.Consume(ctx, "t1", 30, map[string]any{"feature": "search"})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got, _ := bal.Credits(); got != 70 {
		t.Fatalf("balance = %d, want 70", got)
	}
	if sum := ledgerSum(t, db, "t1"); sum != 70 {
		t.Fatalf("ledger sum = %d, want 70", sum)
	}

	_, tc, err := svc.Balance(ctx, "t1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if tc.FreeCreditsBalance != 70 || tc.PurchasedCreditsBalance != 0 {
		t.Fatalf("buckets = free %d purchased %d, want 70/0", tc.FreeCreditsBalance, tc.PurchasedCreditsBalance)
	}
	if tc.LifetimeEarned != 100 {
		t.Fatalf("lifetime earned = %d, want 100", tc.LifetimeEarned)
	}
}

func TestConsumeOverdraftRejectedAndBalanceUntouched(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")
	svc := NewLedgerService(db)

	if _, _, err := svc.GrantCredits(ctx, "t1", 50, domain.GrantBonus, nil, nil); err != nil {
		t.Fatalf("GrantCredits: %v", err)
	}

	_, _, err := svc.Consume(ctx, "t1", 60, nil)
	var ire *InsufficientResourceError
	if !errors.As(err, &ire) {
		t.Fatalf("Consume err = %v, want InsufficientResourceError", err)
	}
	if ire.Available != 50 || ire.Requested != 60 {
		t.Fatalf("error carries %d/%d, want 50/60", ire.Available, ire.Requested)
	}

	bal, _, err := svc.Balance(ctx, "t1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got, _ := bal.Credits(); got != 50 {
		t.Fatalf("balance = %d, want 50 after rejected debit", got)
	}
	if sum := ledgerSum(t, db, "t1"); sum != 50 {
		t.Fatalf("ledger sum = %d, want 50", sum)
	}
}

func TestUnlimitedBalanceRecordsButNeverChanges(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedUnlimitedTenant(t, db, "paid")
	svc := NewLedgerService(db)

	bal, txID, err := svc.Consume(ctx, "paid", 1000000, nil)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !bal.IsUnlimited() {
		t.Fatalf("balance lost unlimited flag")
	}

	var rec domain.CreditTransaction
	if err := db.First(&rec, "id = ?", txID).Error; err != nil {
		t.Fatalf("fetch transaction: %v", err)
	}
	if rec.BalanceAfter != domain.UnlimitedSentinel {
		t.Fatalf("balance_after = %d, want sentinel", rec.BalanceAfter)
	}
	if rec.Amount != -1000000 {
		t.Fatalf("amount = %d, want -1000000", rec.Amount)
	}
}

func TestDebitsDrainFreeBucketBeforePurchased(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")
	svc := NewLedgerService(db)

	if _, _, err := svc.GrantCredits(ctx, "t1", 100, domain.GrantBonus, nil, nil); err != nil {
		t.Fatalf("grant bonus: %v", err)
	}
	if _, _, err := svc.GrantCredits(ctx, "t1", 100, domain.GrantPurchased, nil, nil); err != nil {
		t.Fatalf("grant purchased: %v", err)
	}

	if _, _, err := svc.Consume(ctx, "t1", 150, nil); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	_, tc, err := svc.Balance(ctx, "t1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if tc.FreeCreditsBalance != 0 {
		t.Fatalf("free bucket = %d, want 0", tc.FreeCreditsBalance)
	}
	if tc.PurchasedCreditsBalance != 50 {
		t.Fatalf("purchased bucket = %d, want 50", tc.PurchasedCreditsBalance)
	}
	if tc.Balance != 50 {
		t.Fatalf("balance = %d, want 50", tc.Balance)
	}
}

func TestConsumeRetiresGrantsOldestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")
	svc := NewLedgerService(db)

	old, _, err := svc.GrantCredits(ctx, "t1", 50, domain.GrantBonus, nil, nil)
	if err != nil {
		t.Fatalf("grant old: %v", err)
	}
	young, _, err := svc.GrantCredits(ctx, "t1", 50, domain.GrantBonus, nil, nil)
	if err != nil {
		t.Fatalf("grant young: %v", err)
	}
	// granted_at must order the two deterministically
	if err := db.Model(&domain.CreditGrant{}).
		Where("id = ?", young.ID).
		Update("granted_at", old.GrantedAt.Add(time.Minute)).Error; err != nil {
		t.Fatalf("order grants: %v", err)
	}

	// 40 spent: neither grant is fully drained yet.
	if _, _, err := svc.Consume(ctx, "t1", 40, nil); err != nil {
		t.Fatalf("Consume 40: %v", err)
	}
	var g domain.CreditGrant
	if err := db.First(&g, "id = ?", old.ID).Error; err != nil {
		t.Fatalf("fetch old grant: %v", err)
	}
	if g.IsUsed {
		t.Fatalf("partially spent grant marked used")
	}

	// 60 spent total: the oldest grant's 50 credits are gone.
	if _, _, err := svc.Consume(ctx, "t1", 20, nil); err != nil {
		t.Fatalf("Consume 20: %v", err)
	}
	if err := db.First(&g, "id = ?", old.ID).Error; err != nil {
		t.Fatalf("fetch old grant: %v", err)
	}
	if !g.IsUsed {
		t.Fatalf("fully spent oldest grant not marked used")
	}
	var yg domain.CreditGrant
	if err := db.First(&yg, "id = ?", young.ID).Error; err != nil {
		t.Fatalf("fetch young grant: %v", err)
	}
	if yg.IsUsed {
		t.Fatalf("newest grant marked used while credits remain")
	}
}

func TestConcurrentConsumesAreNeverLost(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")
	svc := NewLedgerService(db)

	if _, _, err := svc.GrantCredits(ctx, "t1", 100, domain.GrantBonus, nil, nil); err != nil {
		t.Fatalf("GrantCredits: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.Consume(ctx, "t1", 10, nil); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Consume: %v", err)
	}

	bal, _, err := svc.Balance(ctx, "t1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got, _ := bal.Credits(); got != 0 {
		t.Fatalf("balance = %d, want 0 after 10x10 debits", got)
	}
	if sum := ledgerSum(t, db, "t1"); sum != 0 {
		t.Fatalf("ledger sum = %d, want 0", sum)
	}

	count, err := repo.CountTransactions(ctx, db, "t1")
	if err != nil {
		t.Fatalf("CountTransactions: %v", err)
	}
	if count != 11 { // 1 grant + 10 debits
		t.Fatalf("transaction count = %d, want 11", count)
	}
}

func TestConsumeRejectsNonPositiveAmounts(t *testing.T) {
	db := newTestDB(t)
	svc := NewLedgerService(db)

	for _, amount := range []int64{0, -5} {
		_, _, err := svc.Consume(context.Background(), "t1", amount, nil)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Consume(%d) err = %v, want ValidationError", amount, err)
		}
	}
}

func TestBalanceUnknownTenant(t *testing.T) {
	db := newTestDB(t)
	svc := NewLedgerService(db)

	if _, _, err := svc.Balance(context.Background(), "nope"); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("Balance err = %v, want ErrTenantNotFound", err)
	}
}

func TestListTransactionsPaginates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")
	svc := NewLedgerService(db)

	if _, _, err := svc.GrantCredits(ctx, "t1", 100, domain.GrantBonus, nil, nil); err != nil {
		t.Fatalf("GrantCredits: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, _, err := svc.Consume(ctx, "t1", 1, nil); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}

	items, total, err := svc.ListTransactions(ctx, "t1", 1, 2)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(items) != 2 {
		t.Fatalf("page size = %d, want 2", len(items))
	}

	items, _, err = svc.ListTransactions(ctx, "t1", 3, 2)
	if err != nil {
		t.Fatalf("ListTransactions page 3: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("last page size = %d, want 1", len(items))
	}
}
