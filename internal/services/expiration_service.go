// Package services – ExpirationService
//
// This file implements the scheduled credit expiration sweep. For each
// active per-tenant rule it selects unused grants past the rule's age
// cutoff (or past their own explicit expiry), marks each grant used, and
// debits the ledger with the grant amount clamped so the balance never goes
// below zero.
//
// Grants are processed one transaction each: this is bulk maintenance, not
// a user-facing operation, so a failure on one grant is logged and the
// sweep moves on. Candidate rows are taken with skip-locked semantics so a
// concurrent sweep run, or a live consumption transaction, never
// double-processes a grant.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/repo"
)

// ExpirationService expires unused credit grants per tenant-configured
// rules. Invoked by the external scheduler; it owns no timer of its own.
type ExpirationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Now is the clock; overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

// NewExpirationService constructs an ExpirationService.
func NewExpirationService(db *gorm.DB) *ExpirationService {
	return &ExpirationService{DB: db, Now: time.Now}
}

// SweepSummary reports what one expiration run did.
type SweepSummary struct {
	RulesEvaluated int   `json:"rules_evaluated"`
	GrantsExpired  int   `json:"grants_expired"`
	CreditsRevoked int64 `json:"credits_revoked"`
	Errors         int   `json:"errors"`
}

// ExpiringGrant is one row of the warning read API: a grant that will be
// expired by an upcoming sweep.
type ExpiringGrant struct {
	Grant     domain.CreditGrant `json:"grant"`
	RuleID    string             `json:"rule_id"`
	ExpiresOn time.Time          `json:"expires_on"`
}

// ruleCutoff returns the granted-at instant at or before which a grant is
// expirable under the rule, evaluated at now. Kept free of query text so
// the boundary is unit-testable: a 30-day rule expires a 31-day-old grant
// and leaves a 29-day-old one alone.
func ruleCutoff(rule domain.CreditExpirationRule, now time.Time) time.Time {
	return now.Add(-time.Duration(rule.DaysUntilExpiration) * 24 * time.Hour)
}

// Run executes one sweep over all active rules. A failure on one grant or
// one rule never aborts the rest of the run; errors are counted and logged.
func (s *ExpirationService) Run(ctx context.Context) (SweepSummary, error) {
	now := s.now()
	var sum SweepSummary

	rules, err := repo.ListActiveExpirationRules(ctx, s.DB)
	if err != nil {
		return sum, err
	}

	for _, rule := range rules {
		sum.RulesEvaluated++
		types := domain.GrantTypesFor(rule.AppliesTo)
		if types == nil {
			log.Warn().
				Str("rule_id", rule.ID).
				Str("applies_to", string(rule.AppliesTo)).
				Msg("expiration rule references unknown grant category, skipping")
			continue
		}

		var candidates []domain.CreditGrant
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			candidates, err = repo.SelectExpirableGrants(ctx, tx, rule.TenantID, types, ruleCutoff(rule, now), now)
			return err
		})
		if err != nil {
			sum.Errors++
			log.Error().Err(err).Str("rule_id", rule.ID).Msg("expiration candidate selection failed")
			continue
		}

		for _, g := range candidates {
			revoked, err := s.expireGrant(ctx, rule, g, now)
			if err != nil {
				sum.Errors++
				log.Error().Err(err).
					Str("rule_id", rule.ID).
					Str("grant_id", g.ID).
					Str("tenant_id", g.TenantID).
					Msg("grant expiration failed")
				continue
			}
			if revoked >= 0 {
				sum.GrantsExpired++
				sum.CreditsRevoked += revoked
			}
		}
	}

	grantsExpired.Add(float64(sum.GrantsExpired))
	creditsExpired.Add(float64(sum.CreditsRevoked))

	log.Info().
		Int("rules", sum.RulesEvaluated).
		Int("grants_expired", sum.GrantsExpired).
		Int64("credits_revoked", sum.CreditsRevoked).
		Int("errors", sum.Errors).
		Msg("credit expiration sweep finished")
	return sum, nil
}

// expireGrant processes a single grant in its own transaction: re-take the
// row (skip-locked), flip is_used, and apply the clamped debit with the
// causing rule recorded in the transaction metadata.
//
// Returns the revoked amount, or -1 when the grant was already claimed by
// a concurrent processor (not an error).
func (s *ExpirationService) expireGrant(ctx context.Context, rule domain.CreditExpirationRule, g domain.CreditGrant, now time.Time) (int64, error) {
	var revoked int64 = -1
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.GetGrantForUpdate(ctx, tx, g.ID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil // locked or gone; next run picks it up if still due
			}
			return err
		}
		if err := repo.MarkGrantUsed(ctx, tx, g.ID, now); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil // consumed concurrently
			}
			return err
		}

		bal, rec, err := applyDelta(ctx, tx, g.TenantID, -g.Amount, domain.TxExpiration, map[string]any{
			"rule_id":    rule.ID,
			"grant_id":   g.ID,
			"grant_type": string(g.GrantType),
		}, true)
		if err != nil {
			return err
		}
		// The debit is clamped at zero, so the record's amount (not the
		// grant's) is what was actually revoked. An unlimited balance never
		// changes, so nothing is revoked there either.
		revoked = -rec.Amount
		if bal.IsUnlimited() {
			revoked = 0
		}
		return nil
	})
	return revoked, err
}

// ExpiringSoon returns the grants that will be expired within each active
// rule's warning window, so billing surfaces can warn the tenant ahead of
// the sweep. Read-only.
func (s *ExpirationService) ExpiringSoon(ctx context.Context, tenantID string) ([]ExpiringGrant, error) {
	now := s.now()
	rules, err := repo.ListExpirationRules(ctx, s.DB, tenantID)
	if err != nil {
		return nil, err
	}

	var out []ExpiringGrant
	for _, rule := range rules {
		if !rule.IsActive || rule.WarningDaysBefore <= 0 {
			continue
		}
		types := domain.GrantTypesFor(rule.AppliesTo)
		if types == nil {
			continue
		}
		// Grants already past the cutoff are the sweep's business; the
		// warning window covers (cutoff, cutoff+warning_days].
		from := ruleCutoff(rule, now)
		to := from.Add(time.Duration(rule.WarningDaysBefore) * 24 * time.Hour)
		grants, err := repo.ListGrantsExpiringBetween(ctx, s.DB, tenantID, types, from, to)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			out = append(out, ExpiringGrant{
				Grant:     g,
				RuleID:    rule.ID,
				ExpiresOn: g.GrantedAt.Add(time.Duration(rule.DaysUntilExpiration) * 24 * time.Hour),
			})
		}
	}
	return out, nil
}

func (s *ExpirationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
