// Package services – TenantStateService
//
// This file implements the consistency checker and self-healing repair tool
// that keeps subscription status, the free-tier flag, and the credits row
// mutually consistent. It is operational tooling, invoked by an operator or
// a scheduled batch scan, never on the request hot path.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/repo"
)

// DefaultFreeTierCredits is the finite balance a free-tier tenant holds.
const DefaultFreeTierCredits int64 = 10000

// TenantStateService validates and repairs tenant tier/balance state.
type TenantStateService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// FreeTierCredits is the balance credited to repaired free tenants;
	// zero means DefaultFreeTierCredits.
	FreeTierCredits int64

	// Now is the clock; overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

// NewTenantStateService constructs a TenantStateService.
func NewTenantStateService(db *gorm.DB, freeTierCredits int64) *TenantStateService {
	if freeTierCredits <= 0 {
		freeTierCredits = DefaultFreeTierCredits
	}
	return &TenantStateService{DB: db, FreeTierCredits: freeTierCredits, Now: time.Now}
}

// StateReport is the result of a validation pass over one tenant.
type StateReport struct {
	TenantID string   `json:"tenant_id"`
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues"`
}

// RepairResult describes the corrections a repair applied.
type RepairResult struct {
	TenantID    string         `json:"tenant_id"`
	Corrections []string       `json:"corrections"`
	Balance     domain.Balance `json:"balance"`
}

// RepairSummary is the outcome of the batch scan.
type RepairSummary struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
	Errors   int `json:"errors"`
}

// Validate runs the pure consistency check for one tenant. It never
// mutates state; findings are informational and repairable via Repair.
func (s *TenantStateService) Validate(ctx context.Context, tenantID string) (*StateReport, error) {
	t, err := repo.GetTenant(ctx, s.DB, tenantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	report := &StateReport{TenantID: tenantID, Issues: []string{}}
	add := func(format string, args ...any) {
		report.Issues = append(report.Issues, fmt.Sprintf(format, args...))
	}

	switch {
	case t.SubscriptionStatus == nil:
		add("subscription_status is not set")
	case !domain.ValidSubscriptionStatus(*t.SubscriptionStatus):
		add("subscription_status %q is not a recognized status", *t.SubscriptionStatus)
	}

	if t.IsFreeTier == nil {
		add("is_free_tier is not set")
	} else if *t.IsFreeTier == s.hasPaidSubscription(t) {
		add("is_free_tier disagrees with the subscription reference")
	}

	tc, err := repo.GetTenantCredits(ctx, s.DB, tenantID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		add("tenant_credits row is missing")
	case err != nil:
		return nil, err
	default:
		free := t.IsFreeTier != nil && *t.IsFreeTier
		unlimited := tc.Balance == domain.UnlimitedSentinel
		if free && unlimited {
			add("free-tier tenant holds the unlimited balance")
		}
		if !free && t.IsFreeTier != nil && !unlimited {
			add("paid tenant holds a finite balance (%d)", tc.Balance)
		}
		if !unlimited {
			sum, err := repo.SumTransactionAmounts(ctx, s.DB, tenantID)
			if err != nil {
				return nil, err
			}
			if sum != tc.Balance {
				add("ledger sum (%d) disagrees with stored balance (%d)", sum, tc.Balance)
			}
		}
	}

	report.Valid = len(report.Issues) == 0
	return report, nil
}

// Repair derives the should-be tier from the external subscription
// reference and trial expiry, then corrects subscription_status,
// is_free_tier, and the credits row to match. Every balance correction is
// ledger-logged as a repair_adjustment transaction so the running-sum
// invariant holds afterwards.
func (s *TenantStateService) Repair(ctx context.Context, tenantID string) (*RepairResult, error) {
	t, err := repo.GetTenant(ctx, s.DB, tenantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	targetStatus, targetFree := s.deriveTier(t)

	result := &RepairResult{TenantID: tenantID, Corrections: []string{}}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if t.SubscriptionStatus == nil || *t.SubscriptionStatus != targetStatus ||
			t.IsFreeTier == nil || *t.IsFreeTier != targetFree {
			if err := repo.UpdateTenantState(ctx, tx, tenantID, targetStatus, targetFree); err != nil {
				return err
			}
			result.Corrections = append(result.Corrections,
				fmt.Sprintf("set subscription_status=%s is_free_tier=%t", targetStatus, targetFree))
		}

		bal, err := s.repairCredits(ctx, tx, tenantID, targetFree, result)
		if err != nil {
			return err
		}
		result.Balance = bal
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.Corrections) > 0 {
		tenantsRepaired.Inc()
		log.Info().
			Str("tenant_id", tenantID).
			Strs("corrections", result.Corrections).
			Msg("tenant state repaired")
	}
	return result, nil
}

// repairCredits creates or fixes the credits row under its row lock so the
// balance matches the target tier, logging the delta as a ledger row.
func (s *TenantStateService) repairCredits(ctx context.Context, tx *gorm.DB, tenantID string, free bool, result *RepairResult) (domain.Balance, error) {
	tc, err := repo.GetTenantCreditsForUpdate(ctx, tx, tenantID)
	if errors.Is(err, repo.ErrNotFound) {
		target := domain.UnlimitedSentinel
		freeBucket := int64(0)
		if free {
			target = s.FreeTierCredits
			freeBucket = s.FreeTierCredits
		}
		tc = &domain.TenantCredits{
			TenantID:           tenantID,
			Balance:            target,
			FreeCreditsBalance: freeBucket,
			LifetimeEarned:     freeBucket,
		}
		if err := repo.CreateTenantCredits(ctx, tx, tc); err != nil {
			return domain.Balance{}, err
		}
		if err := s.logAdjustment(ctx, tx, tenantID, freeBucket, target, "created missing tenant_credits row"); err != nil {
			return domain.Balance{}, err
		}
		result.Corrections = append(result.Corrections,
			fmt.Sprintf("created tenant_credits row with balance=%d", target))
		return domain.BalanceFromSentinel(target), nil
	}
	if err != nil {
		return domain.Balance{}, err
	}

	unlimited := tc.Balance == domain.UnlimitedSentinel
	switch {
	case free && unlimited:
		// Rebase the ledger so its running sum equals the restored
		// finite balance.
		sum, err := repo.SumTransactionAmounts(ctx, tx, tenantID)
		if err != nil {
			return domain.Balance{}, err
		}
		tc.Balance = s.FreeTierCredits
		tc.FreeCreditsBalance = s.FreeTierCredits
		tc.PurchasedCreditsBalance = 0
		if err := repo.SaveTenantCredits(ctx, tx, tc); err != nil {
			return domain.Balance{}, err
		}
		if err := s.logAdjustment(ctx, tx, tenantID, s.FreeTierCredits-sum, s.FreeTierCredits, "restored finite free-tier balance"); err != nil {
			return domain.Balance{}, err
		}
		result.Corrections = append(result.Corrections,
			fmt.Sprintf("reset balance from unlimited to %d", s.FreeTierCredits))

	case !free && !unlimited:
		tc.Balance = domain.UnlimitedSentinel
		if err := repo.SaveTenantCredits(ctx, tx, tc); err != nil {
			return domain.Balance{}, err
		}
		if err := s.logAdjustment(ctx, tx, tenantID, 0, domain.UnlimitedSentinel, "set unlimited balance for paid tenant"); err != nil {
			return domain.Balance{}, err
		}
		result.Corrections = append(result.Corrections, "set unlimited balance")
	}

	return domain.BalanceFromSentinel(tc.Balance), nil
}

// logAdjustment appends the repair_adjustment ledger row for a correction.
func (s *TenantStateService) logAdjustment(ctx context.Context, tx *gorm.DB, tenantID string, amount, balanceAfter int64, reason string) error {
	return repo.InsertTransaction(ctx, tx, &domain.CreditTransaction{
		TenantID:     tenantID,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Type:         domain.TxRepairAdjustment,
		Metadata:     encodeMetadata(map[string]any{"reason": reason}),
	})
}

// RepairAll scans every tenant, validating each and repairing the invalid
// ones. A failure on one tenant is logged and the scan continues.
func (s *TenantStateService) RepairAll(ctx context.Context) (RepairSummary, error) {
	ids, err := repo.ListTenantIDs(ctx, s.DB)
	if err != nil {
		return RepairSummary{}, err
	}

	var sum RepairSummary
	for _, id := range ids {
		sum.Scanned++
		report, err := s.Validate(ctx, id)
		if err != nil {
			sum.Errors++
			log.Error().Err(err).Str("tenant_id", id).Msg("tenant validation failed")
			continue
		}
		if report.Valid {
			continue
		}
		if _, err := s.Repair(ctx, id); err != nil {
			sum.Errors++
			log.Error().Err(err).Str("tenant_id", id).Msg("tenant repair failed")
			continue
		}
		sum.Repaired++
	}

	log.Info().
		Int("scanned", sum.Scanned).
		Int("repaired", sum.Repaired).
		Int("errors", sum.Errors).
		Msg("tenant repair scan finished")
	return sum, nil
}

// hasPaidSubscription reports whether the tenant carries an active external
// subscription reference.
func (s *TenantStateService) hasPaidSubscription(t *domain.Tenant) bool {
	return t.SubscriptionRef != nil && *t.SubscriptionRef != ""
}

// deriveTier computes the should-be status and free-tier flag from the
// external subscription reference and the trial expiry date.
func (s *TenantStateService) deriveTier(t *domain.Tenant) (domain.SubscriptionStatus, bool) {
	if s.hasPaidSubscription(t) {
		return domain.SubscriptionActive, false
	}
	if t.TrialEndsAt != nil && t.TrialEndsAt.After(s.now()) {
		return domain.SubscriptionTrialing, true
	}
	return domain.SubscriptionActive, true
}

func (s *TenantStateService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
