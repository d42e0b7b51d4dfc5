// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the tenant identity for a request and stashes it in the
// Gin context so logging, rate limiting, and handlers all key off the same
// value. Authentication itself happens upstream (the API gateway injects the
// trusted tenant header); this middleware only normalizes where the identity
// lives.
package middleware

import (
	"github.com/gin-gonic/gin"
)

const (
	// TenantIDKey is the Gin context key under which the tenant ID is stored.
	TenantIDKey = "tenantID"
	// TenantIDHeader carries the authenticated tenant identity, injected by
	// the upstream gateway.
	TenantIDHeader = "X-Tenant-ID"
)

// TenantContext extracts the tenant identity from the :tenantID route
// parameter or, failing that, the X-Tenant-ID header, and stores it under
// TenantIDKey. Requests without a tenant identity pass through untouched;
// tenant-scoped handlers validate presence themselves.
func TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tid := c.Param("tenantID")
		if tid == "" {
			tid = c.GetHeader(TenantIDHeader)
		}
		if tid != "" {
			c.Set(TenantIDKey, tid)
		}
		c.Next()
	}
}

// TenantIDFrom returns the tenant ID stored by TenantContext, or "".
func TenantIDFrom(c *gin.Context) string {
	if v, ok := c.Get(TenantIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
