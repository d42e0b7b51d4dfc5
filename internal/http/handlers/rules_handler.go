// Expiration rule HTTP handlers.
//
// CRUD surface for per-tenant credit expiration policies:
//   - POST   /tenants/{tenantID}/credit-rules
//   - GET    /tenants/{tenantID}/credit-rules
//   - GET    /tenants/{tenantID}/credit-rules/{ruleID}
//   - PUT    /tenants/{tenantID}/credit-rules/{ruleID}
//   - DELETE /tenants/{tenantID}/credit-rules/{ruleID}   (deactivate)
//
// Rules are never hard-deleted; DELETE deactivates so past sweeps stay
// explainable from the audit trail.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/services"
)

// RuleService defines expiration rule lifecycle operations consumed by HTTP
// handlers.
type RuleService interface {
	Create(ctx context.Context, tenantID string, in services.RuleInput) (*domain.CreditExpirationRule, error)
	Get(ctx context.Context, tenantID, ruleID string) (*domain.CreditExpirationRule, error)
	List(ctx context.Context, tenantID string) ([]domain.CreditExpirationRule, error)
	Update(ctx context.Context, tenantID, ruleID string, in services.RuleInput) (*domain.CreditExpirationRule, error)
	Deactivate(ctx context.Context, tenantID, ruleID string) error
}

// RuleRequest is the JSON payload for creating or updating a rule.
type RuleRequest struct {
	// AppliesTo is the grant category the rule governs: purchased, bonus,
	// promotional, or subscription.
	AppliesTo string `json:"applies_to" binding:"required" example:"promotional"`
	// DaysUntilExpiration ages out grants older than this many days.
	DaysUntilExpiration int `json:"days_until_expiration" binding:"required" example:"90"`
	// WarningDaysBefore sizes the expiring-soon window; 0 disables warnings.
	WarningDaysBefore int `json:"warning_days_before" example:"7"`
}

func (r RuleRequest) toInput() services.RuleInput {
	return services.RuleInput{
		AppliesTo:           domain.GrantCategory(r.AppliesTo),
		DaysUntilExpiration: r.DaysUntilExpiration,
		WarningDaysBefore:   r.WarningDaysBefore,
	}
}

// CreateRule godoc
// @ID          createRule
// @Summary     Create an expiration rule
// @Description Creates a credit expiration rule for the tenant.
// @Tags        Rules
// @Accept      json
// @Produce     json
//
// @Param       tenantID  path  string                true  "Tenant ID"
// @Param       body      body  handlers.RuleRequest  true  "Rule payload"
//
// @Success     201  {object}  domain.CreditExpirationRule
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Tenant not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tenants/{tenantID}/credit-rules [post]
func (h *Handlers) CreateRule(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}

	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	rule, err := h.rules.Create(c.Request.Context(), tid, req.toInput())
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusCreated, rule)
}

// ListRules godoc
// @ID          listRules
// @Summary     List expiration rules
// @Description Returns all expiration rules for the tenant, active and inactive.
// @Tags        Rules
// @Produce     json
//
// @Param       tenantID  path  string  true  "Tenant ID"
//
// @Success     200  {array}   domain.CreditExpirationRule
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tenants/{tenantID}/credit-rules [get]
func (h *Handlers) ListRules(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}
	rules, err := h.rules.List(c.Request.Context(), tid)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, rules)
}

// GetRule godoc
// @ID          getRule
// @Summary     Get an expiration rule
// @Description Returns one expiration rule by id, scoped to the tenant.
// @Tags        Rules
// @Produce     json
//
// @Param       tenantID  path  string  true  "Tenant ID"
// @Param       ruleID    path  string  true  "Rule ID"
//
// @Success     200  {object}  domain.CreditExpirationRule
// @Failure     404  {object}  handlers.ErrorResponse  "Rule not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tenants/{tenantID}/credit-rules/{ruleID} [get]
func (h *Handlers) GetRule(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}
	rule, err := h.rules.Get(c.Request.Context(), tid, c.Param("ruleID"))
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, rule)
}

// UpdateRule godoc
// @ID          updateRule
// @Summary     Update an expiration rule
// @Description Replaces the rule's category, age limit, and warning window.
// @Tags        Rules
// @Accept      json
// @Produce     json
//
// @Param       tenantID  path  string                true  "Tenant ID"
// @Param       ruleID    path  string                true  "Rule ID"
// @Param       body      body  handlers.RuleRequest  true  "Rule payload"
//
// @Success     200  {object}  domain.CreditExpirationRule
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Rule not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tenants/{tenantID}/credit-rules/{ruleID} [put]
func (h *Handlers) UpdateRule(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}

	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	rule, err := h.rules.Update(c.Request.Context(), tid, c.Param("ruleID"), req.toInput())
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, rule)
}

// DeactivateRule godoc
// @ID          deactivateRule
// @Summary     Deactivate an expiration rule
// @Description Marks the rule inactive; past sweeps keep referencing it.
// @Tags        Rules
//
// @Param       tenantID  path  string  true  "Tenant ID"
// @Param       ruleID    path  string  true  "Rule ID"
//
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Rule not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tenants/{tenantID}/credit-rules/{ruleID} [delete]
func (h *Handlers) DeactivateRule(c *gin.Context) {
	tid, okTID := requireTenant(c)
	if !okTID {
		return
	}
	if err := h.rules.Deactivate(c.Request.Context(), tid, c.Param("ruleID")); err != nil {
		failFromService(c, err)
		return
	}
	noContent(c)
}
