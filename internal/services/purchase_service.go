// Package services – PurchaseService
//
// This file orchestrates a credit purchase: build a stable idempotency key
// for the attempt, capture payment through the external gateway, and on
// approval allocate the credits (grant + ledger delta + audit row) in one
// local transaction.
//
// The critical failure mode is payment captured but allocation failed. That
// purchase is flagged needs_reconciliation, logged with the payment
// reference, and surfaced as a ReconciliationError: retrying could
// double-credit, dropping it would keep money from a tenant who paid, so an
// operator settles it by hand.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/payments"
	"github.com/merchantry/commerce-core/internal/repo"
)

// PurchaseService coordinates the payment gateway and the credit ledger.
type PurchaseService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Gateway is the external payment processor.
	Gateway payments.Gateway
}

// NewPurchaseService constructs a PurchaseService.
func NewPurchaseService(db *gorm.DB, gw payments.Gateway) *PurchaseService {
	return &PurchaseService{DB: db, Gateway: gw}
}

// PurchaseResult is the outcome of a successful (or replayed) purchase.
type PurchaseResult struct {
	Purchase *domain.CreditPurchase `json:"purchase"`
	Balance  domain.Balance         `json:"balance"`
	Replayed bool                   `json:"replayed"`
}

// PurchaseKey builds the stable idempotency key for one purchase attempt.
// tenant+package+attempt identifies the semantic operation, so a network
// retry of the same attempt reuses the key and the gateway captures once.
func PurchaseKey(tenantID, packageID, attemptID string) string {
	return fmt.Sprintf("purchase:%s:%s:%s", tenantID, packageID, attemptID)
}

// Purchase executes one purchase attempt for a tenant.
//
// Replays (same attempt already completed) return the prior result rather
// than erroring. An attempt flagged needs_reconciliation is frozen: it
// returns the ReconciliationError again instead of touching the gateway.
func (s *PurchaseService) Purchase(ctx context.Context, tenantID, packageID, methodRef, attemptID string) (*PurchaseResult, error) {
	if attemptID == "" {
		return nil, &ValidationError{Field: "attempt_id", Reason: "must not be empty"}
	}
	if methodRef == "" {
		return nil, &ValidationError{Field: "payment_method", Reason: "must not be empty"}
	}

	pkg, err := repo.GetCreditPackage(ctx, s.DB, packageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}

	key := PurchaseKey(tenantID, packageID, attemptID)

	// Replay detection before any side effect.
	var priorFailed *domain.CreditPurchase
	if prior, err := repo.GetPurchaseByKey(ctx, s.DB, key); err == nil {
		switch prior.Status {
		case domain.PurchaseCompleted:
			bal, _, berr := NewLedgerService(s.DB).Balance(ctx, tenantID)
			if berr != nil {
				return nil, berr
			}
			return &PurchaseResult{Purchase: prior, Balance: bal, Replayed: true}, nil
		case domain.PurchaseNeedsReconciliation:
			return nil, &ReconciliationError{
				TenantID:   tenantID,
				PaymentRef: prior.PaymentRef,
				Err:        errors.New("purchase awaiting manual reconciliation"),
			}
		default:
			// A previously failed attempt may be retried with the same
			// key; its audit row still holds the key and is upgraded in
			// place if this retry succeeds.
			priorFailed = prior
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	res, err := s.Gateway.Charge(ctx, payments.ChargeRequest{
		IdempotencyKey: key,
		Amount:         pkg.Price,
		Currency:       pkg.Currency,
		MethodRef:      methodRef,
		Description:    fmt.Sprintf("%s (%d credits)", pkg.Name, pkg.Credits),
	})
	if err != nil {
		return nil, &ExternalDependencyError{
			Dependency: "payment_gateway",
			Code:       string(payments.DeclineProcessingError),
			Message:    "payment could not be processed, please try again later",
		}
	}
	if !res.Approved {
		s.recordFailure(ctx, tenantID, pkg, key, res.DeclineCode)
		return nil, &ExternalDependencyError{
			Dependency: "payment_gateway",
			Code:       string(res.DeclineCode),
			Message:    declineMessage(res.DeclineCode),
		}
	}

	// Payment captured. Allocate credits and write the audit row in one
	// local transaction.
	var purchase *domain.CreditPurchase
	var bal domain.Balance
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if priorFailed != nil {
			// The key is already taken by the declined attempt; upgrade
			// that row instead of inserting a duplicate. The status guard
			// makes the upgrade single-winner when the same failed attempt
			// is retried concurrently: the loser matches zero rows and is
			// routed to the replay path below, so the tenant is credited
			// once per captured payment.
			if err := repo.UpgradePurchaseStatus(ctx, tx, priorFailed.ID, domain.PurchaseFailed, domain.PurchaseCompleted, res.PaymentRef); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return repo.ErrDuplicateKey
				}
				return err
			}
			purchase = priorFailed
			purchase.Status = domain.PurchaseCompleted
			purchase.PaymentRef = res.PaymentRef
			purchase.FailureCode = ""
		} else {
			purchase = &domain.CreditPurchase{
				TenantID:       tenantID,
				PackageID:      pkg.ID,
				IdempotencyKey: key,
				Credits:        pkg.Credits,
				Amount:         pkg.Price,
				Currency:       pkg.Currency,
				Status:         domain.PurchaseCompleted,
				PaymentRef:     res.PaymentRef,
			}
			if err := repo.CreatePurchase(ctx, tx, purchase); err != nil {
				return err
			}
		}
		_, b, err := grantCredits(ctx, tx, tenantID, pkg.Credits, domain.GrantPurchased, nil, map[string]any{
			"package_id":  pkg.ID,
			"payment_ref": res.PaymentRef,
			"purchase_id": purchase.ID,
		})
		if err != nil {
			return err
		}
		bal = b
		return nil
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateKey) {
			// Lost a race against our own retry, either on the fresh-row
			// insert or on the failed-row upgrade; the winner allocated.
			if prior, perr := repo.GetPurchaseByKey(ctx, s.DB, key); perr == nil && prior.Status == domain.PurchaseCompleted {
				b, _, berr := NewLedgerService(s.DB).Balance(ctx, tenantID)
				if berr != nil {
					return nil, berr
				}
				return &PurchaseResult{Purchase: prior, Balance: b, Replayed: true}, nil
			}
		}
		return nil, s.flagUnreconciled(ctx, tenantID, pkg, key, res.PaymentRef, err)
	}

	log.Info().
		Str("tenant_id", tenantID).
		Str("package_id", pkg.ID).
		Str("payment_ref", res.PaymentRef).
		Int64("credits", pkg.Credits).
		Msg("credit purchase completed")
	return &PurchaseResult{Purchase: purchase, Balance: bal}, nil
}

// ListUnreconciled returns the purchases awaiting manual reconciliation.
func (s *PurchaseService) ListUnreconciled(ctx context.Context) ([]domain.CreditPurchase, error) {
	return repo.ListPurchasesNeedingReconciliation(ctx, s.DB)
}

// ListPackages returns the active purchasable catalog.
func (s *PurchaseService) ListPackages(ctx context.Context) ([]domain.CreditPackage, error) {
	return repo.ListCreditPackages(ctx, s.DB)
}

// recordFailure writes the failed-attempt audit row. Best effort: a decline
// must still reach the caller even if the audit insert fails.
func (s *PurchaseService) recordFailure(ctx context.Context, tenantID string, pkg *domain.CreditPackage, key string, code payments.DeclineCode) {
	p := &domain.CreditPurchase{
		TenantID:       tenantID,
		PackageID:      pkg.ID,
		IdempotencyKey: key,
		Credits:        pkg.Credits,
		Amount:         pkg.Price,
		Currency:       pkg.Currency,
		Status:         domain.PurchaseFailed,
		FailureCode:    string(code),
	}
	if err := repo.CreatePurchase(ctx, s.DB, p); err != nil && !errors.Is(err, repo.ErrDuplicateKey) {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("failed to record declined purchase")
	}
}

// flagUnreconciled handles the fatal path: money moved, credits did not.
// The flag write is best effort outside the failed transaction; the error
// log with the payment reference is the reconciliation source of truth.
func (s *PurchaseService) flagUnreconciled(ctx context.Context, tenantID string, pkg *domain.CreditPackage, key, paymentRef string, cause error) error {
	purchasesUnreconciled.Inc()
	log.Error().
		Err(cause).
		Str("tenant_id", tenantID).
		Str("package_id", pkg.ID).
		Str("payment_ref", paymentRef).
		Str("idempotency_key", key).
		Msg("FATAL: payment captured but credit allocation failed, manual reconciliation required")

	flag := &domain.CreditPurchase{
		TenantID:       tenantID,
		PackageID:      pkg.ID,
		IdempotencyKey: key,
		Credits:        pkg.Credits,
		Amount:         pkg.Price,
		Currency:       pkg.Currency,
		Status:         domain.PurchaseNeedsReconciliation,
		PaymentRef:     paymentRef,
	}
	if err := repo.CreatePurchase(ctx, s.DB, flag); err != nil {
		if errors.Is(err, repo.ErrDuplicateKey) {
			// A failed row from an earlier attempt holds the key; upgrade it.
			if prior, perr := repo.GetPurchaseByKey(ctx, s.DB, key); perr == nil {
				if uerr := repo.UpdatePurchaseStatus(ctx, s.DB, prior.ID, domain.PurchaseNeedsReconciliation, paymentRef, ""); uerr != nil {
					log.Error().Err(uerr).Str("payment_ref", paymentRef).Msg("failed to flag purchase for reconciliation")
				}
			}
		} else {
			log.Error().Err(err).Str("payment_ref", paymentRef).Msg("failed to flag purchase for reconciliation")
		}
	}

	return &ReconciliationError{TenantID: tenantID, PaymentRef: paymentRef, Err: cause}
}

// declineMessage maps structured gateway decline codes to the user-facing
// message shown at the API boundary. This is the only place the mapping
// lives.
func declineMessage(code payments.DeclineCode) string {
	switch code {
	case payments.DeclineExpiredCard:
		return "your card has expired, please use a different payment method"
	case payments.DeclineInsufficientFunds:
		return "your payment method has insufficient funds"
	case payments.DeclineAuthenticationRequired:
		return "your bank requires additional authentication for this payment"
	case payments.DeclineProcessingError:
		return "payment could not be processed, please try again later"
	default:
		return "your payment was declined"
	}
}
