// Credit ledger HTTP handlers.
//
// This file exposes REST endpoints for a tenant's credit state:
//   - GET  /tenants/{tenantID}/credits                (balance)
//   - GET  /tenants/{tenantID}/credits/transactions   (ledger, paginated)
//   - GET  /tenants/{tenantID}/credits/grants         (grant history)
//   - POST /tenants/{tenantID}/credits/grants         (issue a grant)
//   - POST /tenants/{tenantID}/credits/consume        (debit usage)
//   - GET  /tenants/{tenantID}/credits/expiring       (expiration warnings)
//   - GET  /packages                                  (purchasable catalog)
//   - POST /tenants/{tenantID}/purchases              (buy a credit package)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/http/middleware"
	"github.com/merchantry/commerce-core/internal/services"
	"github.com/merchantry/commerce-core/internal/utils"
)

//
// Service contracts (context-aware)
//

// LedgerService defines the credit ledger operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type LedgerService interface {
	// Balance returns the tenant's current balance and raw credits row.
	Balance(ctx context.Context, tenantID string) (domain.Balance, *domain.TenantCredits, error)
	// Consume debits metered usage from a tenant.
	Consume(ctx context.Context, tenantID string, amount int64, metadata map[string]any) (domain.Balance, string, error)
	// GrantCredits issues a grant and credits the balance atomically.
	GrantCredits(ctx context.Context, tenantID string, amount int64, grantType domain.GrantType, expiresAt *time.Time, metadata map[string]any) (*domain.CreditGrant, domain.Balance, error)
	// ListTransactions returns a page of ledger rows plus the total count.
	ListTransactions(ctx context.Context, tenantID string, page, pageSize int) ([]domain.CreditTransaction, int64, error)
	// ListGrants returns all grants for a tenant, newest first.
	ListGrants(ctx context.Context, tenantID string) ([]domain.CreditGrant, error)
}

// PurchaseService defines credit package purchase operations.
type PurchaseService interface {
	// Purchase executes one purchase attempt; replays return the prior result.
	Purchase(ctx context.Context, tenantID, packageID, methodRef, attemptID string) (*services.PurchaseResult, error)
	// ListPackages returns the active purchasable catalog.
	ListPackages(ctx context.Context) ([]domain.CreditPackage, error)
	// ListUnreconciled returns purchases stuck in needs_reconciliation.
	ListUnreconciled(ctx context.Context) ([]domain.CreditPurchase, error)
}

// ExpirationService defines the expiration sweep and its read API.
type ExpirationService interface {
	// Run executes one sweep over all active expiration rules.
	Run(ctx context.Context) (services.SweepSummary, error)
	// ExpiringSoon lists grants inside an active rule's warning window.
	ExpiringSoon(ctx context.Context, tenantID string) ([]services.ExpiringGrant, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for credits, purchases, expiration
// rules, inventory, orders, and admin operations. It depends on abstract
// service interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	ledger   LedgerService
	purchase PurchaseService
	expiry   ExpirationService
	rules    RuleService
	inv      InventoryService
	orders   OrderService
	state    TenantStateService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(ledger LedgerService, purchase PurchaseService, expiry ExpirationService,
	rules RuleService, inv InventoryService, orders OrderService, state TenantStateService) *Handlers {
	return &Handlers{
		ledger:   ledger,
		purchase: purchase,
		expiry:   expiry,
		rules:    rules,
		inv:      inv,
		orders:   orders,
		state:    state,
	}
}

// tenantID extracts the tenant identity resolved by middleware.TenantContext.
// An empty result means the route was registered without a :tenantID param
// and no X-Tenant-ID header arrived; tenant-scoped handlers reject that.
func tenantID(c *gin.Context) string {
	return middleware.TenantIDFrom(c)
}

// requireTenant fetches the tenant ID or fails the request with a 400.
func requireTenant(c *gin.Context) (string, bool) {
	tid := tenantID(c)
	if tid == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tenant id required")
		return "", false
	}
	return tid, true
}

//
// DTOs
//

// GrantCreditsRequest is the JSON payload for issuing a credit grant.
type GrantCreditsRequest struct {
	// Amount is the number of credits to grant (positive).
	Amount int64 `json:"amount" binding:"required" example:"5000"`
	// GrantType is one of: purchased, bonus, promotional, subscription.
	GrantType string `json:"grant_type" binding:"required" example:"bonus"`
	// ExpiresAt optionally pins an explicit expiry, independent of rules.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// Metadata is attached verbatim to the ledger row.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ConsumeCreditsRequest is the JSON payload for debiting usage.
type ConsumeCreditsRequest struct {
	// Amount is the number of credits to debit (positive).
	Amount int64 `json:"amount" binding:"required" example:"250"`
	// Metadata is attached verbatim to the ledger row.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PurchaseRequest is the JSON payload for buying a credit package.
type PurchaseRequest struct {
	// PackageID names a row of the package catalog.
	PackageID string `json:"package_id" binding:"required" example:"starter"`
	// PaymentMethod is the gateway payment method reference.
	PaymentMethod string `json:"payment_method" binding:"required" example:"pm_card_visa"`
	// AttemptID identifies the semantic attempt; retries reuse it.
	AttemptID string `json:"attempt_id" binding:"required" example:"att_8412"`
}

// BalanceResponse wraps the balance plus the bucket breakdown.
type BalanceResponse struct {
	TenantID                string         `json:"tenant_id"`
	Balance                 domain.Balance `json:"balance"`
	FreeCreditsBalance      int64          `json:"free_credits_balance"`
	PurchasedCreditsBalance int64          `json:"purchased_credits_balance"`
	LifetimeEarned          int64          `json:"lifetime_earned"`
}

// ConsumeResponse reports the post-debit balance and the ledger row id.
type ConsumeResponse struct {
	Balance       domain.Balance `json:"balance"`
	TransactionID string         `json:"transaction_id"`
}

// GrantResponse reports the created grant and the post-credit balance.
type GrantResponse struct {
	Grant   *domain.CreditGrant `json:"grant"`
	Balance domain.Balance      `json:"balance"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListTransactionsResponse wraps a page of ledger rows and pagination info.
type ListTransactionsResponse struct {
	Transactions []domain.CreditTransaction `json:"transactions"`
	Pagination   Pagination                 `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// parseGrantType validates the closed set of grant types.
func parseGrantType(s string) (domain.GrantType, bool) {
	switch gt := domain.GrantType(strings.ToLower(strings.TrimSpace(s))); gt {
	case domain.GrantPurchased, domain.GrantBonus, domain.GrantPromotional, domain.GrantSubscription:
		return gt, true
	default:
		return "", false
	}
}

//
// Handlers
//

// GetBalance godoc
// @ID          getBalance
// @Summary     Get credit balance
// @Description Returns the tenant's balance, bucket breakdown, and lifetime earned total.
// @Tags        Credits
// @Produce     json
//
// @Param       tenantID  path  string  true  "Tenant ID"  example(5f0d2a61-9e5e-4c7a-8e89-0a5be4d0a10f)
//
// @Success     200  {object}  handlers.BalanceResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Tenant not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tenants/{tenantID}/credits [get]
func (h *Handlers) GetBalance(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}

	bal, tc, err := h.ledger.Balance(c.Request.Context(), tid)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, BalanceResponse{
		TenantID:                tid,
		Balance:                 bal,
		FreeCreditsBalance:      tc.FreeCreditsBalance,
		PurchasedCreditsBalance: tc.PurchasedCreditsBalance,
		LifetimeEarned:          tc.LifetimeEarned,
	})
}

// ListTransactions godoc
// @ID          listTransactions
// @Summary     List ledger transactions (paginated)
// @Description Returns a page of the tenant's credit transactions, newest first.
// @Tags        Credits
// @Produce     json
//
// @Param       tenantID   path   string  true  "Tenant ID"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListTransactionsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tenants/{tenantID}/credits/transactions [get]
func (h *Handlers) ListTransactions(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.ledger.ListTransactions(c.Request.Context(), tid, page, pageSize)
	if err != nil {
		failFromService(c, err)
		return
	}

	totalPages := utils.Pages(total, pageSize)
	ok(c, http.StatusOK, ListTransactionsResponse{
		Transactions: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// ListGrants godoc
// @ID          listGrants
// @Summary     List credit grants
// @Description Returns all credit grants for the tenant, newest first.
// @Tags        Credits
// @Produce     json
//
// @Param       tenantID  path  string  true  "Tenant ID"
//
// @Success     200  {array}   domain.CreditGrant
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tenants/{tenantID}/credits/grants [get]
func (h *Handlers) ListGrants(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}
	grants, err := h.ledger.ListGrants(c.Request.Context(), tid)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, grants)
}

// GrantCredits godoc
// @ID          grantCredits
// @Summary     Issue a credit grant
// @Description Creates a grant and credits the tenant's balance atomically.
// @Tags        Credits
// @Accept      json
// @Produce     json
//
// @Param       tenantID  path  string                        true  "Tenant ID"
// @Param       body      body  handlers.GrantCreditsRequest  true  "Grant payload"
//
// @Success     201  {object}  handlers.GrantResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Tenant not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tenants/{tenantID}/credits/grants [post]
func (h *Handlers) GrantCredits(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}

	var req GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	gt, valid := parseGrantType(req.GrantType)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "grant_type must be one of: purchased, bonus, promotional, subscription")
		return
	}

	grant, bal, err := h.ledger.GrantCredits(c.Request.Context(), tid, req.Amount, gt, req.ExpiresAt, req.Metadata)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusCreated, GrantResponse{Grant: grant, Balance: bal})
}

// ConsumeCredits godoc
// @ID          consumeCredits
// @Summary     Consume credits
// @Description Debits metered usage from the tenant's balance.
// @Tags        Credits
// @Accept      json
// @Produce     json
//
// @Param       tenantID  path  string                          true  "Tenant ID"
// @Param       body      body  handlers.ConsumeCreditsRequest  true  "Consume payload"
//
// @Success     200  {object}  handlers.ConsumeResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse  "Insufficient credits"
// @Failure     404  {object}  handlers.ErrorResponse  "Tenant not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tenants/{tenantID}/credits/consume [post]
func (h *Handlers) ConsumeCredits(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}

	var req ConsumeCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	bal, txID, err := h.ledger.Consume(c.Request.Context(), tid, req.Amount, req.Metadata)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, ConsumeResponse{Balance: bal, TransactionID: txID})
}

// ListExpiring godoc
// @ID          listExpiring
// @Summary     List grants expiring soon
// @Description Returns grants inside an active expiration rule's warning window.
// @Tags        Credits
// @Produce     json
//
// @Param       tenantID  path  string  true  "Tenant ID"
//
// @Success     200  {array}   services.ExpiringGrant
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tenants/{tenantID}/credits/expiring [get]
func (h *Handlers) ListExpiring(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}
	warnings, err := h.expiry.ExpiringSoon(c.Request.Context(), tid)
	if err != nil {
		failFromService(c, err)
		return
	}
	if warnings == nil {
		warnings = []services.ExpiringGrant{}
	}
	ok(c, http.StatusOK, warnings)
}

// ListPackages godoc
// @ID          listPackages
// @Summary     List credit packages
// @Description Returns the active purchasable package catalog, cheapest first.
// @Tags        Purchases
// @Produce     json
//
// @Success     200  {array}   domain.CreditPackage
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /packages [get]
func (h *Handlers) ListPackages(c *gin.Context) {
	pkgs, err := h.purchase.ListPackages(c.Request.Context())
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, pkgs)
}

// PurchasePackage godoc
// @ID          purchasePackage
// @Summary     Purchase a credit package
// @Description Charges the payment gateway and allocates the package's credits. Retries of the same attempt replay the prior result without recharging.
// @Tags        Purchases
// @Accept      json
// @Produce     json
//
// @Param       tenantID  path  string                    true  "Tenant ID"
// @Param       body      body  handlers.PurchaseRequest  true  "Purchase payload"
//
// @Success     201  {object}  services.PurchaseResult
// @Success     200  {object}  services.PurchaseResult  "Replayed attempt"
// @Failure     400  {object}  handlers.ErrorResponse   "Bad request"
// @Failure     402  {object}  handlers.ErrorResponse   "Payment declined"
// @Failure     404  {object}  handlers.ErrorResponse   "Unknown package"
// @Failure     409  {object}  handlers.ErrorResponse   "Needs reconciliation"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /tenants/{tenantID}/purchases [post]
func (h *Handlers) PurchasePackage(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.purchase.Purchase(c.Request.Context(), tid, req.PackageID, req.PaymentMethod, req.AttemptID)
	if err != nil {
		failFromService(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	ok(c, status, res)
}
