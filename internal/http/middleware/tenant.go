// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the tenant identity for a request. Every API object is
// tenant-scoped, so the resolved id is stashed early and read by handlers,
// the idempotency layer and the rate limiter.
package middleware

import "github.com/gin-gonic/gin"

// HeaderTenantID carries the caller's tenant identity. Authentication of the
// header is performed upstream (gateway); here it only selects the scope.
const HeaderTenantID = "X-Tenant-ID"

const ctxKeyTenantID = "tenantID"

// DefaultTenant is the development-friendly fallback used when no tenant
// header is present.
const DefaultTenant = "demo-tenant"

// Tenant returns a middleware that resolves the tenant id from the request
// header and stashes it in the Gin context.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderTenantID)
		if id == "" {
			id = DefaultTenant
		}
		c.Set(ctxKeyTenantID, id)
		c.Next()
	}
}

// TenantID returns the tenant id resolved by Tenant. Handlers should prefer
// this over reading the header directly.
func TenantID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyTenantID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return DefaultTenant
}
