package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	replydomain "github.com/revaiconcierge/concierge/internal/reply/domain"
	usagemetricdomain "github.com/revaiconcierge/concierge/internal/usagemetric/domain"
)

type replyLimitExceededResponse struct {
	Error         string `json:"error"`
	LimitExceeded bool   `json:"limitExceeded"`
	CurrentUsage  int64  `json:"currentUsage"`
	Limit         int64  `json:"limit"`
}

func (s *Server) GenerateAIReply(c *gin.Context) {
	var req replydomain.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.TenantID, _ = tenantIDFromGin(c)

	resp, err := s.replySvc.Generate(c.Request.Context(), req)
	if err != nil {
		var exceeded *usagemetricdomain.LimitExceededError
		if errors.As(err, &exceeded) {
			c.Set(contextResourceKey, exceeded.MetricName)
			c.Set(contextQuotaDecision, quotaDecisionDenied)
			c.AbortWithStatusJSON(http.StatusForbidden, replyLimitExceededResponse{
				Error:         "monthly AI reply limit reached",
				LimitExceeded: true,
				CurrentUsage:  exceeded.Current,
				Limit:         exceeded.Limit,
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
