// Package domain defines the core persistence models for the platform.
// This file models a tenant's credit balance as a tagged union so callers
// never reason about the storage sentinel directly.
package domain

import "encoding/json"

// UnlimitedSentinel is the stored balance value meaning "unlimited".
// It exists only inside the tenant_credits row; everything above the
// repository boundary works with Balance instead.
const UnlimitedSentinel int64 = -1

// Balance is either Unlimited (paid tenants) or Limited(n) with n >= 0
// (free tenants). The zero value is Limited(0).
type Balance struct {
	unlimited bool
	credits   int64
}

// Unlimited returns the unlimited balance.
func Unlimited() Balance { return Balance{unlimited: true} }

// Limited returns a finite balance of n credits. Negative n is clamped to
// zero; a stored balance can never be negative.
func Limited(n int64) Balance {
	if n < 0 {
		n = 0
	}
	return Balance{credits: n}
}

// BalanceFromSentinel converts a stored balance column value into a Balance.
func BalanceFromSentinel(v int64) Balance {
	if v == UnlimitedSentinel {
		return Unlimited()
	}
	return Limited(v)
}

// Sentinel converts the Balance back to its storage representation.
func (b Balance) Sentinel() int64 {
	if b.unlimited {
		return UnlimitedSentinel
	}
	return b.credits
}

// IsUnlimited reports whether the balance is unmetered.
func (b Balance) IsUnlimited() bool { return b.unlimited }

// Credits returns the finite credit count and true, or (0, false) when the
// balance is unlimited.
func (b Balance) Credits() (int64, bool) {
	if b.unlimited {
		return 0, false
	}
	return b.credits, true
}

// balanceJSON is the wire shape of a Balance.
type balanceJSON struct {
	Unlimited bool   `json:"unlimited"`
	Credits   *int64 `json:"credits,omitempty"`
}

// MarshalJSON emits {"unlimited":true} or {"unlimited":false,"credits":n}.
func (b Balance) MarshalJSON() ([]byte, error) {
	if b.unlimited {
		return json.Marshal(balanceJSON{Unlimited: true})
	}
	n := b.credits
	return json.Marshal(balanceJSON{Credits: &n})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (b *Balance) UnmarshalJSON(data []byte) error {
	var w balanceJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Unlimited {
		*b = Unlimited()
		return nil
	}
	var n int64
	if w.Credits != nil {
		n = *w.Credits
	}
	*b = Limited(n)
	return nil
}
