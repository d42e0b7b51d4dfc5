// Package services implements the business logic for the credit ledger,
// expiration sweeps, purchases, inventory reservations, orders, and tenant
// state repair. This file centralizes the service-level error taxonomy so
// every method returns values callers can branch on with errors.Is/As.
//
// Translation into HTTP statuses and user-facing payloads happens at the
// handler layer, never here.
package services

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Not-found errors. Returned before any state is touched.
var (
	// ErrTenantNotFound indicates the tenant (or its credits row) is absent.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrProductNotFound indicates the product does not exist in the store
	// or has been deleted.
	ErrProductNotFound = errors.New("product not found")

	// ErrPackageNotFound indicates an unknown or inactive credit package.
	ErrPackageNotFound = errors.New("credit package not found")

	// ErrOrderNotFound indicates the requested order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrRuleNotFound indicates the expiration rule does not exist or
	// belongs to a different tenant.
	ErrRuleNotFound = errors.New("expiration rule not found")
)

// ValidationError rejects malformed input immediately, with no side effects.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// userMsgPrinter formats quantities in user-facing messages (thousands
// separators), so "25,000 credits" instead of "25000 credits".
var userMsgPrinter = message.NewPrinter(language.English)

// InsufficientResourceError reports a credits or stock shortfall. It always
// carries available vs. requested so the caller can render an actionable
// message.
type InsufficientResourceError struct {
	Resource  string // "credits" or "stock"
	Available int64
	Requested int64
}

// Error implements the error interface.
func (e *InsufficientResourceError) Error() string {
	return userMsgPrinter.Sprintf("insufficient %s: %d available, %d requested",
		e.Resource, e.Available, e.Requested)
}

// ConsistencyError reports that a tenant's stored state violates the
// tier/balance invariants. It is informational and repairable, never fatal
// to the caller; the operator pairs it with the repair action.
type ConsistencyError struct {
	TenantID string
	Issues   []string
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("tenant %s state invalid: %d issue(s)", e.TenantID, len(e.Issues))
}

// ExternalDependencyError reports a failure of an external collaborator
// (currently the payment gateway). Message is already user-facing; this
// subsystem never retries these automatically.
type ExternalDependencyError struct {
	Dependency string
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("%s failure (%s): %s", e.Dependency, e.Code, e.Message)
}

// ReconciliationError is the one genuinely fatal condition in this
// subsystem: payment was captured but credit allocation failed. The tenant
// has paid and must be made whole by an operator. It is logged with the
// payment reference, flagged on the purchase row, and must never be
// silently retried (double credit) nor dropped.
type ReconciliationError struct {
	TenantID   string
	PaymentRef string
	Err        error
}

// Error implements the error interface.
func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("payment %s captured for tenant %s but credit allocation failed: %v",
		e.PaymentRef, e.TenantID, e.Err)
}

// Unwrap exposes the allocation failure for errors.Is/As chains.
func (e *ReconciliationError) Unwrap() error { return e.Err }
