// Admin and operations HTTP handlers.
//
// These endpoints back scheduled jobs and operator tooling rather than the
// storefront:
//   - POST /admin/jobs/expire-credits         (run the expiration sweep)
//   - POST /admin/jobs/release-reservations   (return expired holds to stock)
//   - POST /admin/jobs/repair-tenants         (scan + repair all tenants)
//   - GET  /admin/tenants/{tenantID}/state    (validate one tenant)
//   - POST /admin/tenants/{tenantID}/repair   (repair one tenant)
//   - GET  /admin/purchases/unreconciled      (paid-but-uncredited purchases)
//
// Each job endpoint returns the sweep's summary so schedulers can alert on
// error counts without scraping logs.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/merchantry/commerce-core/internal/services"
)

// TenantStateService defines tenant state validation and repair operations
// consumed by HTTP handlers.
type TenantStateService interface {
	// Validate runs the pure consistency check for one tenant.
	Validate(ctx context.Context, tenantID string) (*services.StateReport, error)
	// Repair derives the correct tier and rewrites broken state.
	Repair(ctx context.Context, tenantID string) (*services.RepairResult, error)
	// RepairAll scans every tenant and repairs the invalid ones.
	RepairAll(ctx context.Context) (services.RepairSummary, error)
}

// RunExpireCredits godoc
// @ID          runExpireCredits
// @Summary     Run the credit expiration sweep
// @Description Expires grants older than each active rule allows and debits the revoked credits (floored at zero). Idempotent.
// @Tags        Admin
// @Produce     json
//
// @Success     200  {object}  services.SweepSummary
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/jobs/expire-credits [post]
func (h *Handlers) RunExpireCredits(c *gin.Context) {
	summary, err := h.expiry.Run(c.Request.Context())
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, summary)
}

// RunReleaseReservations godoc
// @ID          runReleaseReservations
// @Summary     Release expired reservations
// @Description Marks expired holds released and returns their quantity to availability. Idempotent.
// @Tags        Admin
// @Produce     json
//
// @Success     200  {object}  services.ReleaseSummary
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/jobs/release-reservations [post]
func (h *Handlers) RunReleaseReservations(c *gin.Context) {
	summary, err := h.inv.ReleaseExpiredReservations(c.Request.Context())
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, summary)
}

// RunRepairTenants godoc
// @ID          runRepairTenants
// @Summary     Scan and repair all tenants
// @Description Validates every tenant's provisioning state and repairs the invalid ones. Failures are counted, not fatal.
// @Tags        Admin
// @Produce     json
//
// @Success     200  {object}  services.RepairSummary
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/jobs/repair-tenants [post]
func (h *Handlers) RunRepairTenants(c *gin.Context) {
	summary, err := h.state.RepairAll(c.Request.Context())
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, summary)
}

// GetTenantState godoc
// @ID          getTenantState
// @Summary     Validate a tenant's state
// @Description Returns the tenant's consistency report without mutating anything.
// @Tags        Admin
// @Produce     json
//
// @Param       tenantID  path  string  true  "Tenant ID"
//
// @Success     200  {object}  services.StateReport
// @Failure     404  {object}  handlers.ErrorResponse  "Tenant not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/tenants/{tenantID}/state [get]
func (h *Handlers) GetTenantState(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}
	report, err := h.state.Validate(c.Request.Context(), tid)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, report)
}

// RepairTenant godoc
// @ID          repairTenant
// @Summary     Repair a tenant's state
// @Description Derives the correct tier from payment facts and rewrites broken status, flags, and balances. Every balance change lands in the ledger. Idempotent.
// @Tags        Admin
// @Produce     json
//
// @Param       tenantID  path  string  true  "Tenant ID"
//
// @Success     200  {object}  services.RepairResult
// @Failure     404  {object}  handlers.ErrorResponse  "Tenant not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/tenants/{tenantID}/repair [post]
func (h *Handlers) RepairTenant(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}
	result, err := h.state.Repair(c.Request.Context(), tid)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// ListUnreconciled godoc
// @ID          listUnreconciled
// @Summary     List unreconciled purchases
// @Description Returns purchases where payment was captured but credit allocation failed. These require manual operator resolution.
// @Tags        Admin
// @Produce     json
//
// @Success     200  {array}   domain.CreditPurchase
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/purchases/unreconciled [get]
func (h *Handlers) ListUnreconciled(c *gin.Context) {
	purchases, err := h.purchase.ListUnreconciled(c.Request.Context())
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, purchases)
}
