package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/revaiconcierge/concierge/internal/observability/logger"
	subscriptiondomain "github.com/revaiconcierge/concierge/internal/subscription/domain"
	"go.uber.org/zap"
)

func (s *Server) GetSubscription(c *gin.Context) {
	tenantID, _ := tenantIDFromGin(c)

	sub, err := s.subscriptionSvc.GetByTenantID(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

// UpsertSubscription applies a payment-succeeded or subscription-updated signal.
func (s *Server) UpsertSubscription(c *gin.Context) {
	var req subscriptiondomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.PlanCode = strings.TrimSpace(req.PlanCode)

	sub, err := s.subscriptionSvc.Upsert(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("subscription signal applied",
		zap.String("tenant_id", sub.TenantID),
		zap.String("plan_code", sub.PlanCode),
		zap.String("status", string(sub.Status)),
	)
	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ChangeSubscriptionPlan(c *gin.Context) {
	var req subscriptiondomain.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.subscriptionSvc.ChangePlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req subscriptiondomain.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.subscriptionSvc.Cancel(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}
