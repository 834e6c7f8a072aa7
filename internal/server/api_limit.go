package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/revaiconcierge/concierge/internal/observability/logger"
	usagelimitdomain "github.com/revaiconcierge/concierge/internal/usagelimit/domain"
	"go.uber.org/zap"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerAPILimitWarning    = "X-API-Limit-Warning"

	apiLimitWarningPercentage = 20
)

type apiLimitExceededResponse struct {
	Error               string `json:"error"`
	Code                string `json:"code"`
	Current             int64  `json:"current"`
	Limit               int64  `json:"limit"`
	RemainingPercentage int    `json:"remainingPercentage"`
	UpgradeURL          string `json:"upgradeUrl"`
}

// APILimit consumes one api_calls unit per request and rejects the request once the daily quota is spent.
// Must run after TenantContext.
func (s *Server) APILimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantIDFromGin(c)
		if !ok {
			AbortWithError(c, ErrTenantRequired)
			return
		}

		ctx := c.Request.Context()
		c.Set(contextResourceKey, string(usagelimitdomain.ResourceAPICalls))

		result := s.usageLimitSvc.CheckUsageLimit(ctx, usagelimitdomain.CheckRequest{
			TenantID:         tenantID,
			ResourceType:     usagelimitdomain.ResourceAPICalls,
			IncrementOnCheck: true,
		})

		if !result.Allowed {
			c.Set(contextQuotaDecision, quotaDecisionDenied)
			logger.FromContext(ctx).Warn("api limit exceeded",
				zap.Int64("current", result.Current),
				zap.Int64("limit", result.Limit),
			)

			c.Header(headerRateLimitLimit, strconv.FormatInt(result.Limit, 10))
			c.Header(headerRateLimitRemaining, "0")
			c.Header(headerRateLimitReset, strconv.FormatInt(s.resetAt(result).Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apiLimitExceededResponse{
				Error:               "daily API usage limit reached",
				Code:                "api_limit_exceeded",
				Current:             result.Current,
				Limit:               result.Limit,
				RemainingPercentage: result.RemainingPercentage,
				UpgradeURL:          s.upgradeURL(tenantID),
			})
			return
		}

		c.Set(contextQuotaDecision, quotaDecisionAllowed)
		if result.Limit != usagelimitdomain.Unlimited {
			c.Header(headerRateLimitLimit, strconv.FormatInt(result.Limit, 10))
			c.Header(headerRateLimitRemaining, strconv.FormatInt(max(0, result.Limit-result.Current), 10))
			c.Header(headerRateLimitReset, strconv.FormatInt(s.resetAt(result).Unix(), 10))
		}
		if result.RemainingPercentage < apiLimitWarningPercentage {
			c.Header(headerAPILimitWarning, fmt.Sprintf("usage reached %d/%d", result.Current, result.Limit))
		}

		c.Next()
	}
}

// resetAt falls back to the next boundary when the check failed before a counter was read.
func (s *Server) resetAt(result usagelimitdomain.CheckResult) time.Time {
	if !result.ResetAt.IsZero() {
		return result.ResetAt
	}
	return usagelimitdomain.NextResetAt(s.clock.Now(), s.cfg.ResetLocation())
}

func (s *Server) upgradeURL(tenantID string) string {
	return s.cfg.BillingURL + "?org=" + url.QueryEscape(tenantID)
}
