package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/revaiconcierge/concierge/internal/orgcontext"
)

const (
	HeaderTenant         = "X-Tenant-ID"
	HeaderInternalToken  = "X-Internal-Token"
	queryTenant          = "organizationId"
	contextTenantIDKey   = "tenant_id"
	contextResourceKey   = "resource_type"
	contextQuotaDecision = "quota_decision"
	quotaDecisionAllowed = "allowed"
	quotaDecisionDenied  = "denied"
)

// TenantContext resolves the tenant from X-Tenant-ID, falling back to ?organizationId.
func TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(HeaderTenant))
		if tenantID == "" {
			tenantID = strings.TrimSpace(c.Query(queryTenant))
		}
		if tenantID == "" {
			AbortWithError(c, ErrTenantRequired)
			return
		}

		c.Set(contextTenantIDKey, tenantID)
		c.Request = c.Request.WithContext(orgcontext.WithTenantID(c.Request.Context(), tenantID))
		c.Next()
	}
}

// InternalAuthRequired guards signal endpoints called by the billing backend.
// With no token configured the routes are closed.
func (s *Server) InternalAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := s.cfg.InternalToken
		if expected == "" {
			AbortWithError(c, ErrForbidden)
			return
		}

		token := strings.TrimSpace(c.GetHeader(HeaderInternalToken))
		if token == "" {
			token = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func tenantIDFromGin(c *gin.Context) (string, bool) {
	return orgcontext.TenantIDFromContext(c.Request.Context())
}
