package server

import (
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagelimitdomain "github.com/revaiconcierge/concierge/internal/usagelimit/domain"
)

type incrementUsageRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) ListUsageLimits(c *gin.Context) {
	tenantID, _ := tenantIDFromGin(c)

	usage, err := s.usageLimitSvc.Usage(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": usage})
}

func (s *Server) GetUsageLimit(c *gin.Context) {
	tenantID, _ := tenantIDFromGin(c)
	resourceType, ok := resourceTypeParam(c)
	if !ok {
		return
	}

	result := s.usageLimitSvc.CheckUsageLimit(c.Request.Context(), usagelimitdomain.CheckRequest{
		TenantID:     tenantID,
		ResourceType: resourceType,
	})

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) IncrementUsageLimit(c *gin.Context) {
	tenantID, _ := tenantIDFromGin(c)
	resourceType, ok := resourceTypeParam(c)
	if !ok {
		return
	}

	var req incrementUsageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if req.Amount < 0 {
		AbortWithError(c, usagelimitdomain.ErrInvalidAmount)
		return
	}

	ctx := c.Request.Context()
	counter, err := s.usageLimitSvc.GetOrInitCounter(ctx, tenantID, resourceType)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	if req.Amount > math.MaxInt64-counter.CurrentUsage {
		AbortWithError(c, usagelimitdomain.ErrInvalidAmount)
		return
	}

	if !s.usageLimitSvc.IncrementUsage(ctx, usagelimitdomain.IncrementRequest{
		TenantID:     tenantID,
		ResourceType: resourceType,
		Amount:       req.Amount,
	}) {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	result := s.usageLimitSvc.CheckUsageLimit(ctx, usagelimitdomain.CheckRequest{
		TenantID:     tenantID,
		ResourceType: resourceType,
	})
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func resourceTypeParam(c *gin.Context) (usagelimitdomain.ResourceType, bool) {
	resourceType := usagelimitdomain.ResourceType(strings.TrimSpace(c.Param("resource_type")))
	if !resourceType.Valid() {
		AbortWithError(c, usagelimitdomain.ErrInvalidResourceType)
		return "", false
	}
	c.Set(contextResourceKey, string(resourceType))
	return resourceType, true
}
