// Package payments defines the external payment gateway contract used by
// the purchase flow, and a sandbox implementation for development and tests.
//
// The gateway is an opaque collaborator: it accepts an idempotency key,
// an amount, and a payment-method reference, and answers with either an
// approval carrying an opaque payment reference or a structured decline.
// Mapping decline codes to user-facing messages happens in the service
// layer, not here.
package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// DeclineCode is the structured failure classification a gateway returns.
type DeclineCode string

const (
	DeclineGeneric                DeclineCode = "declined"
	DeclineExpiredCard            DeclineCode = "expired_card"
	DeclineInsufficientFunds      DeclineCode = "insufficient_funds"
	DeclineProcessingError        DeclineCode = "processing_error"
	DeclineAuthenticationRequired DeclineCode = "authentication_required"
)

// ChargeRequest describes one capture attempt. IdempotencyKey must be
// stable across retries of the same semantic purchase so the gateway never
// captures twice.
type ChargeRequest struct {
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	MethodRef      string
	Description    string
}

// ChargeResult is the gateway's answer. When Approved is false, DeclineCode
// carries the structured reason and PaymentRef is empty.
type ChargeResult struct {
	Approved    bool
	PaymentRef  string
	DeclineCode DeclineCode
}

// Gateway is the external payment processor. Implementations must be safe
// for concurrent use and must honor the context for cancellation.
type Gateway interface {
	// Charge attempts to capture the given amount. A non-nil error means
	// the gateway itself was unreachable or misbehaved (transport-level
	// failure); a declined card is a successful call with Approved=false.
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// Sandbox is a deterministic in-process gateway for development and tests.
//
// Behavior is driven by the payment-method reference:
//   - "decline:<code>" declines with that code (e.g. "decline:expired_card")
//   - anything else approves with a payment ref derived from the
//     idempotency key, so retries of the same attempt observe the same ref.
type Sandbox struct{}

// Charge implements Gateway.
func (Sandbox) Charge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	if code, ok := strings.CutPrefix(req.MethodRef, "decline:"); ok {
		return &ChargeResult{Approved: false, DeclineCode: DeclineCode(code)}, nil
	}
	sum := sha256.Sum256([]byte(req.IdempotencyKey))
	return &ChargeResult{
		Approved:   true,
		PaymentRef: "sbx_" + hex.EncodeToString(sum[:12]),
	}, nil
}
