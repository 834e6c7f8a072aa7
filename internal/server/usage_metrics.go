package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	usagemetricdomain "github.com/revaiconcierge/concierge/internal/usagemetric/domain"
)

func (s *Server) RecordUsageMetric(c *gin.Context) {
	var req usagemetricdomain.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.TenantID, _ = tenantIDFromGin(c)

	resp, err := s.usageMetricSvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListUsageMetrics(c *gin.Context) {
	var req usagemetricdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.TenantID, _ = tenantIDFromGin(c)

	resp, err := s.usageMetricSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetUsageMetricSummary(c *gin.Context) {
	tenantID, _ := tenantIDFromGin(c)

	items, err := s.usageMetricSvc.Summary(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
