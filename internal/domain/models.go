// Package domain defines the persistence models for tenants, credits,
// inventory, and orders. These types are mapped with GORM and form the core
// data layer of the commerce platform.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionType is the business reason recorded on a ledger row.
type TransactionType string

// Ledger transaction types. The ledger is append-only; every balance
// mutation carries exactly one of these.
const (
	TxPurchase         TransactionType = "purchase"
	TxUsage            TransactionType = "usage"
	TxBonus            TransactionType = "bonus"
	TxPromotional      TransactionType = "promotional"
	TxSubscription     TransactionType = "subscription"
	TxExpiration       TransactionType = "expiration"
	TxRepairAdjustment TransactionType = "repair_adjustment"
)

// GrantType identifies how a credit grant was issued.
type GrantType string

// The closed set of grant types.
const (
	GrantPurchased    GrantType = "purchased"
	GrantBonus        GrantType = "bonus"
	GrantPromotional  GrantType = "promotional"
	GrantSubscription GrantType = "subscription"
)

// GrantCategory is the policy bucket an expiration rule applies to.
// Categories map onto one or more grant types.
type GrantCategory string

const (
	CategoryPurchased    GrantCategory = "purchased"
	CategoryBonus        GrantCategory = "bonus"
	CategoryPromotional  GrantCategory = "promotional"
	CategorySubscription GrantCategory = "subscription"
)

// GrantTypesFor maps an expiration-rule category to the grant types it
// governs. Unknown categories yield nil so callers can reject them.
func GrantTypesFor(cat GrantCategory) []GrantType {
	switch cat {
	case CategoryPurchased:
		return []GrantType{GrantPurchased}
	case CategoryBonus:
		return []GrantType{GrantBonus}
	case CategoryPromotional:
		return []GrantType{GrantPromotional}
	case CategorySubscription:
		return []GrantType{GrantSubscription}
	default:
		return nil
	}
}

// SubscriptionStatus is the fixed enum of tenant subscription states.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// ValidSubscriptionStatus reports whether s is a member of the enum.
func ValidSubscriptionStatus(s SubscriptionStatus) bool {
	switch s {
	case SubscriptionActive, SubscriptionTrialing, SubscriptionPastDue, SubscriptionCanceled:
		return true
	default:
		return false
	}
}

// Tenant is the isolation boundary. Every credits row, grant, and ledger
// transaction belongs to exactly one tenant.
//
// SubscriptionStatus and IsFreeTier are pointers because the upstream
// provisioning flow can leave them unset; the state validator detects and
// repairs that.
type Tenant struct {
	ID                 string              `json:"id"                  gorm:"type:char(36);primaryKey"`
	Name               string              `json:"name"                gorm:"type:varchar(255);not null"`
	SubscriptionStatus *SubscriptionStatus `json:"subscription_status" gorm:"type:varchar(16)"`
	IsFreeTier         *bool               `json:"is_free_tier"`
	SubscriptionRef    *string             `json:"subscription_ref,omitempty" gorm:"type:varchar(128)"`
	TrialEndsAt        *time.Time          `json:"trial_ends_at,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// TableName returns the database table name for Tenant.
func (Tenant) TableName() string { return "tenants" }

// TenantCredits is the single balance row per tenant. Balance stores the
// UnlimitedSentinel for paid tenants; use BalanceFromSentinel at the
// service boundary instead of reading Balance directly.
//
// The row is mutated exclusively through the ledger service, which locks it
// for the duration of every read-modify-write.
type TenantCredits struct {
	TenantID                string     `json:"tenant_id" gorm:"type:char(36);primaryKey"`
	Balance                 int64      `json:"balance"   gorm:"not null;default:0"`
	FreeCreditsBalance      int64      `json:"free_credits_balance"      gorm:"not null;default:0"`
	PurchasedCreditsBalance int64      `json:"purchased_credits_balance" gorm:"not null;default:0"`
	LifetimeEarned          int64      `json:"lifetime_earned"           gorm:"not null;default:0"`
	FreeCreditsExpiresAt    *time.Time `json:"free_credits_expires_at,omitempty"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// TableName returns the database table name for TenantCredits.
func (TenantCredits) TableName() string { return "tenant_credits" }

// CreditTransaction is one append-only ledger row. Rows are never updated
// or deleted after insert; for any tenant whose balance is not the
// unlimited sentinel, the running sum of Amount equals the balance.
type CreditTransaction struct {
	ID           string          `json:"id"            gorm:"type:char(36);primaryKey"`
	TenantID     string          `json:"tenant_id"     gorm:"type:char(36);not null;index:idx_tenant_tx,priority:1"`
	Amount       int64           `json:"amount"        gorm:"not null"`
	BalanceAfter int64           `json:"balance_after" gorm:"not null"`
	Type         TransactionType `json:"type"          gorm:"type:varchar(32);not null"`
	Metadata     string          `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt    time.Time       `json:"created_at"    gorm:"index:idx_tenant_tx,priority:2"`
}

// TableName returns the database table name for CreditTransaction.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// CreditGrant records a credit-issuing event. A grant flips to IsUsed
// exactly once: either consumed normally or expired by the sweep.
type CreditGrant struct {
	ID        string     `json:"id"         gorm:"type:char(36);primaryKey"`
	TenantID  string     `json:"tenant_id"  gorm:"type:char(36);not null;index"`
	Amount    int64      `json:"amount"     gorm:"not null"`
	GrantType GrantType  `json:"grant_type" gorm:"type:varchar(32);not null;index"`
	GrantedAt time.Time  `json:"granted_at" gorm:"not null"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsUsed    bool       `json:"is_used"    gorm:"not null;default:false;index"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// TableName returns the database table name for CreditGrant.
func (CreditGrant) TableName() string { return "credit_grants" }

// CreditExpirationRule is a per-tenant, per-category expiration policy.
// Rules are read-only input to the expiration sweep and CRUD-managed
// independently of it.
type CreditExpirationRule struct {
	ID                  string        `json:"id"         gorm:"type:char(36);primaryKey"`
	TenantID            string        `json:"tenant_id"  gorm:"type:char(36);not null;index"`
	AppliesTo           GrantCategory `json:"applies_to" gorm:"type:varchar(32);not null"`
	DaysUntilExpiration int           `json:"days_until_expiration" gorm:"not null"`
	WarningDaysBefore   int           `json:"warning_days_before"   gorm:"not null;default:0"`
	IsActive            bool          `json:"is_active"  gorm:"not null;default:true;index"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// TableName returns the database table name for CreditExpirationRule.
func (CreditExpirationRule) TableName() string { return "credit_expiration_rules" }

// CreditPackage is a purchasable bundle of credits.
type CreditPackage struct {
	ID        string          `json:"id"       gorm:"type:varchar(64);primaryKey"`
	Name      string          `json:"name"     gorm:"type:varchar(255);not null"`
	Credits   int64           `json:"credits"  gorm:"not null"`
	Price     decimal.Decimal `json:"price"    gorm:"type:decimal(12,2);not null"`
	Currency  string          `json:"currency" gorm:"type:char(3);not null;default:'USD'"`
	Active    bool            `json:"active"   gorm:"not null;default:true"`
	CreatedAt time.Time       `json:"created_at"`
}

// TableName returns the database table name for CreditPackage.
func (CreditPackage) TableName() string { return "credit_packages" }

// PurchaseStatus is the terminal state of a purchase attempt.
type PurchaseStatus string

const (
	// PurchaseCompleted means payment was captured and credits allocated.
	PurchaseCompleted PurchaseStatus = "completed"
	// PurchaseFailed means the gateway declined; nothing was allocated.
	PurchaseFailed PurchaseStatus = "failed"
	// PurchaseNeedsReconciliation means payment was captured but credit
	// allocation failed. Requires manual operator intervention; never
	// retried automatically.
	PurchaseNeedsReconciliation PurchaseStatus = "needs_reconciliation"
)

// CreditPurchase is the audit record for one purchase attempt, keyed by a
// stable idempotency key so a retried attempt never charges twice.
type CreditPurchase struct {
	ID             string          `json:"id"              gorm:"type:char(36);primaryKey"`
	TenantID       string          `json:"tenant_id"       gorm:"type:char(36);not null;index"`
	PackageID      string          `json:"package_id"      gorm:"type:varchar(64);not null"`
	IdempotencyKey string          `json:"idempotency_key" gorm:"type:varchar(200);not null;uniqueIndex:ux_purchase_key"`
	Credits        int64           `json:"credits"         gorm:"not null"`
	Amount         decimal.Decimal `json:"amount"          gorm:"type:decimal(12,2);not null"`
	Currency       string          `json:"currency"        gorm:"type:char(3);not null"`
	Status         PurchaseStatus  `json:"status"          gorm:"type:varchar(32);not null"`
	PaymentRef     string          `json:"payment_ref,omitempty"  gorm:"type:varchar(128)"`
	FailureCode    string          `json:"failure_code,omitempty" gorm:"type:varchar(64)"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName returns the database table name for CreditPurchase.
func (CreditPurchase) TableName() string { return "credit_purchases" }

// Product is a sellable item with physical stock. ReservedQuantity counts
// stock currently held by active reservations; availability is always
// derived as StockQuantity - ReservedQuantity and never stored.
//
// Invariant: 0 <= ReservedQuantity <= StockQuantity.
type Product struct {
	ID               string          `json:"id"       gorm:"type:char(36);primaryKey"`
	StoreID          string          `json:"store_id" gorm:"type:char(36);not null;index"`
	Name             string          `json:"name"     gorm:"type:varchar(255);not null"`
	Price            decimal.Decimal `json:"price"    gorm:"type:decimal(12,2);not null"`
	StockQuantity    int             `json:"stock_quantity"    gorm:"not null;default:0"`
	ReservedQuantity int             `json:"reserved_quantity" gorm:"not null;default:0"`
	IsVisible        bool            `json:"is_visible" gorm:"not null;default:true"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `json:"-" gorm:"index"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }

// AvailableQuantity derives the quantity free for new reservations.
func (p Product) AvailableQuantity() int { return p.StockQuantity - p.ReservedQuantity }

// ReservationStatus is the lifecycle state of an inventory reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

// InventoryReservation is a time-boxed hold on product stock during
// checkout. At most one active reservation exists per (session, product);
// creating a new one cancels the prior hold. A reservation reaches exactly
// one terminal state: completed (order created), expired (sweep), or
// cancelled (superseded).
type InventoryReservation struct {
	ID         string            `json:"id"         gorm:"type:char(36);primaryKey"`
	ProductID  string            `json:"product_id" gorm:"type:char(36);not null;index:idx_res_session_product,priority:2"`
	StoreID    string            `json:"store_id"   gorm:"type:char(36);not null"`
	SessionID  string            `json:"session_id" gorm:"type:varchar(128);not null;index:idx_res_session_product,priority:1"`
	Quantity   int               `json:"quantity"   gorm:"not null"`
	Status     ReservationStatus `json:"status"     gorm:"type:varchar(16);not null;index:idx_res_expiry,priority:1"`
	ReservedAt time.Time         `json:"reserved_at" gorm:"not null"`
	ExpiresAt  time.Time         `json:"expires_at"  gorm:"not null;index:idx_res_expiry,priority:2"`
	OrderID    *string           `json:"order_id,omitempty" gorm:"type:char(36)"`
}

// TableName returns the database table name for InventoryReservation.
func (InventoryReservation) TableName() string { return "inventory_reservations" }

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
)

// Order is the result of a successful checkout. For a given non-null
// IdempotencyKey at most one row exists; retried creation calls return the
// existing order instead of creating a duplicate.
type Order struct {
	ID             string          `json:"id"       gorm:"type:char(36);primaryKey"`
	StoreID        string          `json:"store_id" gorm:"type:char(36);not null;index"`
	SessionID      string          `json:"session_id" gorm:"type:varchar(128);not null"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" gorm:"type:varchar(200);uniqueIndex:ux_order_idem_key"`
	Status         OrderStatus     `json:"status" gorm:"type:varchar(16);not null"`
	Total          decimal.Decimal `json:"total"  gorm:"type:decimal(12,2);not null"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Items are the order lines captured at checkout price.
	Items []OrderItem `json:"items" gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// OrderItem is a single order line. UnitPrice is the catalog price at the
// moment the order was created.
type OrderItem struct {
	ID        string          `json:"id"         gorm:"type:char(36);primaryKey"`
	OrderID   string          `json:"order_id"   gorm:"type:char(36);not null;index"`
	ProductID string          `json:"product_id" gorm:"type:char(36);not null"`
	Quantity  int             `json:"quantity"   gorm:"not null"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,2);not null"`
}

// TableName returns the database table name for OrderItem.
func (OrderItem) TableName() string { return "order_items" }
