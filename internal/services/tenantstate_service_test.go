package services

import (
	"context"
	"testing"
	"time"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/repo"
)

func TestValidateReportsBrokenProvisioning(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Half-provisioned tenant: no status, no tier flag, no credits row.
	err := repo.CreateTenant(ctx, db, &domain.Tenant{ID: "broken", Name: "broken"})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	svc := NewTenantStateService(db, 0)
	report, err := svc.Validate(ctx, "broken")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Valid {
		t.Fatalf("broken tenant reported valid")
	}
	if len(report.Issues) != 3 {
		t.Fatalf("issues = %v, want 3 findings", report.Issues)
	}
}

func TestValidatePassesOnHealthyTenants(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTenant(t, db, "free")
	seedUnlimitedTenant(t, db, "paid")

	svc := NewTenantStateService(db, 0)
	for _, id := range []string{"free", "paid"} {
		report, err := svc.Validate(ctx, id)
		if err != nil {
			t.Fatalf("Validate(%s): %v", id, err)
		}
		if !report.Valid {
			t.Fatalf("tenant %s flagged: %v", id, report.Issues)
		}
	}
}

func TestValidateDetectsLedgerDrift(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTenant(t, db, "t1")

	if _, _, err := NewLedgerService(db).GrantCredits(ctx, "t1", 100, domain.GrantBonus, nil, nil); err != nil {
		t.Fatalf("GrantCredits: %v", err)
	}
	// Corrupt the stored balance behind the ledger's back.
	if err := db.Model(&domain.TenantCredits{}).Where("tenant_id = ?", "t1").Update("balance", 75).Error; err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}

	report, err := NewTenantStateService(db, 0).Validate(ctx, "t1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Valid {
		t.Fatalf("drifted ledger reported valid")
	}
}

func TestRepairProvisionsMissingFreeTierState(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := repo.CreateTenant(ctx, db, &domain.Tenant{ID: "broken", Name: "broken"})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	svc := NewTenantStateService(db, 0)
	result, err := svc.Repair(ctx, "broken")
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(result.Corrections) == 0 {
		t.Fatalf("no corrections applied")
	}
	if got, _ := result.Balance.Credits(); got != DefaultFreeTierCredits {
		t.Fatalf("balance = %d, want %d", got, DefaultFreeTierCredits)
	}

	tenant, err := repo.GetTenant(ctx, db, "broken")
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if tenant.SubscriptionStatus == nil || *tenant.SubscriptionStatus != domain.SubscriptionActive {
		t.Fatalf("status = %v, want active", tenant.SubscriptionStatus)
	}
	if tenant.IsFreeTier == nil || !*tenant.IsFreeTier {
		t.Fatalf("is_free_tier = %v, want true", tenant.IsFreeTier)
	}

	// The correction is ledger-logged and the invariant holds.
	if sum := ledgerSum(t, db, "broken"); sum != DefaultFreeTierCredits {
		t.Fatalf("ledger sum = %d, want %d", sum, DefaultFreeTierCredits)
	}
	var rec domain.CreditTransaction
	if err := db.First(&rec, "tenant_id = ? AND type = ?", "broken", domain.TxRepairAdjustment).Error; err != nil {
		t.Fatalf("repair_adjustment row missing: %v", err)
	}

	report, err := svc.Validate(ctx, "broken")
	if err != nil {
		t.Fatalf("Validate after repair: %v", err)
	}
	if !report.Valid {
		t.Fatalf("still invalid after repair: %v", report.Issues)
	}
}

func TestRepairUpgradesSubscribedTenantToUnlimited(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := repo.CreateTenant(ctx, db, &domain.Tenant{
		ID:              "t1",
		Name:            "t1",
		SubscriptionRef: strPtr("sub_123"),
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := repo.CreateTenantCredits(ctx, db, &domain.TenantCredits{TenantID: "t1", Balance: 0}); err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	result, err := NewTenantStateService(db, 0).Repair(ctx, "t1")
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !result.Balance.IsUnlimited() {
		t.Fatalf("balance not unlimited after repair")
	}

	tenant, _ := repo.GetTenant(ctx, db, "t1")
	if tenant.IsFreeTier == nil || *tenant.IsFreeTier {
		t.Fatalf("is_free_tier = %v, want false", tenant.IsFreeTier)
	}
}

func TestRepairRestoresFiniteBalanceForFreeTenant(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Free tenant wrongly holding the unlimited sentinel.
	err := repo.CreateTenant(ctx, db, &domain.Tenant{
		ID:                 "t1",
		Name:               "t1",
		SubscriptionStatus: statusPtr(domain.SubscriptionActive),
		IsFreeTier:         boolPtr(true),
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	err = repo.CreateTenantCredits(ctx, db, &domain.TenantCredits{
		TenantID: "t1",
		Balance:  domain.UnlimitedSentinel,
	})
	if err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	svc := NewTenantStateService(db, 2500)
	result, err := svc.Repair(ctx, "t1")
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if got, _ := result.Balance.Credits(); got != 2500 {
		t.Fatalf("balance = %d, want 2500", got)
	}
	if sum := ledgerSum(t, db, "t1"); sum != 2500 {
		t.Fatalf("ledger sum = %d, want rebased 2500", sum)
	}

	report, err := svc.Validate(ctx, "t1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.Valid {
		t.Fatalf("still invalid after repair: %v", report.Issues)
	}
}

func TestRepairRespectsActiveTrial(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	future := time.Now().UTC().Add(7 * 24 * time.Hour)
	err := repo.CreateTenant(ctx, db, &domain.Tenant{
		ID:          "t1",
		Name:        "t1",
		TrialEndsAt: &future,
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	if _, err := NewTenantStateService(db, 0).Repair(ctx, "t1"); err != nil {
		t.Fatalf("Repair: %v", err)
	}

	tenant, _ := repo.GetTenant(ctx, db, "t1")
	if tenant.SubscriptionStatus == nil || *tenant.SubscriptionStatus != domain.SubscriptionTrialing {
		t.Fatalf("status = %v, want trialing", tenant.SubscriptionStatus)
	}
	if tenant.IsFreeTier == nil || !*tenant.IsFreeTier {
		t.Fatalf("is_free_tier = %v, want true", tenant.IsFreeTier)
	}
}

func TestRepairIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := repo.CreateTenant(ctx, db, &domain.Tenant{ID: "t1", Name: "t1"}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	svc := NewTenantStateService(db, 0)
	if _, err := svc.Repair(ctx, "t1"); err != nil {
		t.Fatalf("first Repair: %v", err)
	}
	second, err := svc.Repair(ctx, "t1")
	if err != nil {
		t.Fatalf("second Repair: %v", err)
	}
	if len(second.Corrections) != 0 {
		t.Fatalf("second repair applied corrections: %v", second.Corrections)
	}
	if sum := ledgerSum(t, db, "t1"); sum != DefaultFreeTierCredits {
		t.Fatalf("ledger sum = %d, want single adjustment", sum)
	}
}

func TestRepairAllScansAndFixesOnlyInvalidTenants(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedTenant(t, db, "healthy")
	if err := repo.CreateTenant(ctx, db, &domain.Tenant{ID: "broken", Name: "broken"}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	sum, err := NewTenantStateService(db, 0).RepairAll(ctx)
	if err != nil {
		t.Fatalf("RepairAll: %v", err)
	}
	if sum.Scanned != 2 || sum.Repaired != 1 || sum.Errors != 0 {
		t.Fatalf("summary = %+v, want scanned 2 repaired 1", sum)
	}
}
