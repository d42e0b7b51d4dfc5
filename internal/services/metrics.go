// Package services implements the business logic of the platform. This file
// exposes Prometheus counters for the domain operations that matter in
// dashboards: grants, expirations, reservation sweeps, orders, and the
// purchases flagged for manual reconciliation. Label cardinality is kept to
// closed enums only. All collectors are safe for concurrent use.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// creditsGranted counts credits added to ledgers, by grant type.
	creditsGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_credits_granted_total",
			Help: "Total credits granted to tenant ledgers.",
		},
		[]string{"grant_type"},
	)

	// creditsExpired counts credits revoked by the expiration sweep.
	creditsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "commerce_credits_expired_total",
			Help: "Total credits revoked by the expiration sweep.",
		},
	)

	// grantsExpired counts grants marked used by the expiration sweep.
	grantsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "commerce_grants_expired_total",
			Help: "Total grants expired by the sweep.",
		},
	)

	// reservationsReleased counts stock holds reclaimed by the sweep.
	reservationsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "commerce_reservations_released_total",
			Help: "Total expired reservations reclaimed by the sweep.",
		},
	)

	// ordersCreated counts orders successfully committed.
	ordersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "commerce_orders_created_total",
			Help: "Total orders created.",
		},
	)

	// purchasesUnreconciled counts the fatal payment-captured-but-not-
	// credited condition. Any increase here pages an operator.
	purchasesUnreconciled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "commerce_purchases_unreconciled_total",
			Help: "Purchases where payment succeeded but credit allocation failed.",
		},
	)

	// tenantsRepaired counts repair operations that corrected state.
	tenantsRepaired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "commerce_tenants_repaired_total",
			Help: "Tenants whose state was corrected by the repair tool.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		creditsGranted,
		creditsExpired,
		grantsExpired,
		reservationsReleased,
		ordersCreated,
		purchasesUnreconciled,
		tenantsRepaired,
	)
}
