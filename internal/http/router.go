// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/config"
	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/http/handlers"
	"github.com/merchantry/commerce-core/internal/http/middleware"
	"github.com/merchantry/commerce-core/internal/payments"
	"github.com/merchantry/commerce-core/internal/repo"
	"github.com/merchantry/commerce-core/internal/services"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Tenant identity (feeds rate limit keys and handlers)
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per tenant/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, gw payments.Gateway, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Tenant identity from route param or trusted header
	r.Use(middleware.TenantContext())

	// 8) Idempotency validation (before rate limiting). Both order and
	// purchase keys live in unique columns, so a key-only lookup suffices.
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, key string, _ time.Time) (bool, error) {
			if _, err := repo.GetOrderByIdempotencyKey(ctx, db, key); err == nil {
				return true, nil
			} else if !errors.Is(err, repo.ErrNotFound) {
				return false, err
			}
			p, err := repo.GetPurchaseByKey(ctx, db, key)
			if err != nil || p == nil {
				return false, nil
			}
			return p.Status == domain.PurchaseCompleted, nil
		},
	))

	// 9) Token-bucket rate limiter per tenant/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByTenantOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.TenantIDHeader, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.TenantIDHeader, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/gateway
	ledgerSvc := services.NewLedgerService(db)
	purchaseSvc := services.NewPurchaseService(db, gw)
	expirySvc := services.NewExpirationService(db)
	ruleSvc := services.NewRuleService(db)
	reservationSvc := services.NewReservationService(db, cfg.ReservationTTL)
	orderSvc := services.NewOrderService(db)
	stateSvc := services.NewTenantStateService(db, cfg.FreeTierCredits)

	h := handlers.New(ledgerSvc, purchaseSvc, expirySvc, ruleSvc, reservationSvc, orderSvc, stateSvc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Credits
		api.GET("/tenants/:tenantID/credits", h.GetBalance)
		api.GET("/tenants/:tenantID/credits/transactions", h.ListTransactions)
		api.GET("/tenants/:tenantID/credits/grants", h.ListGrants)
		api.POST("/tenants/:tenantID/credits/grants", h.GrantCredits)
		api.POST("/tenants/:tenantID/credits/consume", h.ConsumeCredits)
		api.GET("/tenants/:tenantID/credits/expiring", h.ListExpiring)

		// Purchases
		api.GET("/packages", h.ListPackages)
		api.POST("/tenants/:tenantID/purchases", h.PurchasePackage)

		// Expiration rules
		api.POST("/tenants/:tenantID/credit-rules", h.CreateRule)
		api.GET("/tenants/:tenantID/credit-rules", h.ListRules)
		api.GET("/tenants/:tenantID/credit-rules/:ruleID", h.GetRule)
		api.PUT("/tenants/:tenantID/credit-rules/:ruleID", h.UpdateRule)
		api.DELETE("/tenants/:tenantID/credit-rules/:ruleID", h.DeactivateRule)

		// Inventory
		api.POST("/stores/:storeID/reservations", h.Reserve)
		api.GET("/stores/:storeID/products/:productID/availability", h.GetAvailability)
		api.POST("/stores/:storeID/cart/validate", h.ValidateCart)

		// Orders
		api.POST("/stores/:storeID/orders", h.CreateOrder)
		api.GET("/orders/:id", h.GetOrder)

		// Admin: scheduled jobs and operator tooling
		api.POST("/admin/jobs/expire-credits", h.RunExpireCredits)
		api.POST("/admin/jobs/release-reservations", h.RunReleaseReservations)
		api.POST("/admin/jobs/repair-tenants", h.RunRepairTenants)
		api.GET("/admin/tenants/:tenantID/state", h.GetTenantState)
		api.POST("/admin/tenants/:tenantID/repair", h.RepairTenant)
		api.GET("/admin/purchases/unreconciled", h.ListUnreconciled)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
