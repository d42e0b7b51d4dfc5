package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/repo"
)

// RuleService manages per-tenant credit expiration rules. Rules are
// configuration for the expiration sweep; creating or updating one never
// expires anything by itself.
type RuleService struct {
	DB *gorm.DB
}

// NewRuleService constructs a RuleService.
func NewRuleService(db *gorm.DB) *RuleService {
	return &RuleService{DB: db}
}

// RuleInput carries the caller-supplied fields for a create or update.
type RuleInput struct {
	AppliesTo           domain.GrantCategory `json:"applies_to"`
	DaysUntilExpiration int                  `json:"days_until_expiration"`
	WarningDaysBefore   int                  `json:"warning_days_before"`
}

func validateRuleInput(in RuleInput) error {
	if domain.GrantTypesFor(in.AppliesTo) == nil {
		return &ValidationError{Field: "applies_to", Reason: "unknown grant category"}
	}
	if in.DaysUntilExpiration <= 0 {
		return &ValidationError{Field: "days_until_expiration", Reason: "must be positive"}
	}
	if in.WarningDaysBefore < 0 {
		return &ValidationError{Field: "warning_days_before", Reason: "must not be negative"}
	}
	if in.WarningDaysBefore >= in.DaysUntilExpiration {
		return &ValidationError{Field: "warning_days_before", Reason: "must be less than days_until_expiration"}
	}
	return nil
}

// Create validates and inserts a new active rule for the tenant.
func (s *RuleService) Create(ctx context.Context, tenantID string, in RuleInput) (*domain.CreditExpirationRule, error) {
	if tenantID == "" {
		return nil, &ValidationError{Field: "tenant_id", Reason: "must not be empty"}
	}
	if err := validateRuleInput(in); err != nil {
		return nil, err
	}
	if _, err := repo.GetTenant(ctx, s.DB, tenantID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	r := &domain.CreditExpirationRule{
		TenantID:            tenantID,
		AppliesTo:           in.AppliesTo,
		DaysUntilExpiration: in.DaysUntilExpiration,
		WarningDaysBefore:   in.WarningDaysBefore,
		IsActive:            true,
	}
	if err := repo.CreateExpirationRule(ctx, s.DB, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Get fetches one rule scoped to its tenant.
func (s *RuleService) Get(ctx context.Context, tenantID, ruleID string) (*domain.CreditExpirationRule, error) {
	r, err := repo.GetExpirationRule(ctx, s.DB, ruleID, tenantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return r, nil
}

// List returns every rule owned by the tenant, newest first.
func (s *RuleService) List(ctx context.Context, tenantID string) ([]domain.CreditExpirationRule, error) {
	return repo.ListExpirationRules(ctx, s.DB, tenantID)
}

// Update validates and applies new field values to an existing rule.
func (s *RuleService) Update(ctx context.Context, tenantID, ruleID string, in RuleInput) (*domain.CreditExpirationRule, error) {
	if err := validateRuleInput(in); err != nil {
		return nil, err
	}
	err := repo.UpdateExpirationRule(ctx, s.DB, ruleID, tenantID, map[string]any{
		"applies_to":            in.AppliesTo,
		"days_until_expiration": in.DaysUntilExpiration,
		"warning_days_before":   in.WarningDaysBefore,
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return s.Get(ctx, tenantID, ruleID)
}

// Deactivate soft-disables a rule. Disabled rules are kept for audit and
// excluded from future sweeps.
func (s *RuleService) Deactivate(ctx context.Context, tenantID, ruleID string) error {
	err := repo.DeactivateExpirationRule(ctx, s.DB, ruleID, tenantID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrRuleNotFound
	}
	return err
}
