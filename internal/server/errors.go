package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	plandomain "github.com/revaiconcierge/concierge/internal/plan/domain"
	replydomain "github.com/revaiconcierge/concierge/internal/reply/domain"
	subscriptiondomain "github.com/revaiconcierge/concierge/internal/subscription/domain"
	usagelimitdomain "github.com/revaiconcierge/concierge/internal/usagelimit/domain"
	usagemetricdomain "github.com/revaiconcierge/concierge/internal/usagemetric/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrTenantRequired     = errors.New("tenant_required")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var exceeded *usagemetricdomain.LimitExceededError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.As(err, &exceeded):
		return http.StatusForbidden, errorPayload{
			Type:    "limit_exceeded",
			Message: "usage limit exceeded",
		}
	case errors.Is(err, subscriptiondomain.ErrSubscriptionCanceled):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "subscription is canceled",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, replydomain.ErrGeneratorDisabled):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, replydomain.ErrEmptyCompletion):
		return http.StatusBadGateway, errorPayload{
			Type:    "bad_gateway",
			Message: "reply generation returned no content",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog yields the error_type and error_code fields of the request log line.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError && errors.Is(err, usagelimitdomain.ErrStorage) {
		code = usagelimitdomain.ErrStorage.Error()
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrTenantRequired):
		return true
	case isUsageLimitValidationError(err),
		isUsageMetricValidationError(err),
		isSubscriptionValidationError(err),
		isReplyValidationError(err),
		errors.Is(err, plandomain.ErrInvalidTenant):
		return true
	default:
		return false
	}
}

func isUsageLimitValidationError(err error) bool {
	return errors.Is(err, usagelimitdomain.ErrInvalidTenant) ||
		errors.Is(err, usagelimitdomain.ErrInvalidResourceType) ||
		errors.Is(err, usagelimitdomain.ErrInvalidAmount)
}

func isUsageMetricValidationError(err error) bool {
	return errors.Is(err, usagemetricdomain.ErrInvalidTenant) ||
		errors.Is(err, usagemetricdomain.ErrInvalidMetricName) ||
		errors.Is(err, usagemetricdomain.ErrInvalidCount) ||
		errors.Is(err, usagemetricdomain.ErrInvalidPeriod) ||
		errors.Is(err, usagemetricdomain.ErrInvalidPageToken)
}

func isSubscriptionValidationError(err error) bool {
	return errors.Is(err, subscriptiondomain.ErrInvalidTenant) ||
		errors.Is(err, subscriptiondomain.ErrInvalidPlan) ||
		errors.Is(err, subscriptiondomain.ErrInvalidStatus) ||
		errors.Is(err, subscriptiondomain.ErrInvalidBillingCycle) ||
		errors.Is(err, subscriptiondomain.ErrInvalidPeriod)
}

func isReplyValidationError(err error) bool {
	return errors.Is(err, replydomain.ErrInvalidTenant) ||
		errors.Is(err, replydomain.ErrInvalidReview)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	var sentinel error
	for _, candidate := range []error{
		ErrInvalidRequest,
		ErrTenantRequired,
		usagelimitdomain.ErrInvalidResourceType,
		usagelimitdomain.ErrInvalidAmount,
		usagemetricdomain.ErrInvalidMetricName,
		usagemetricdomain.ErrInvalidCount,
		usagemetricdomain.ErrInvalidPeriod,
		usagemetricdomain.ErrInvalidPageToken,
		subscriptiondomain.ErrInvalidPlan,
		subscriptiondomain.ErrInvalidStatus,
		subscriptiondomain.ErrInvalidBillingCycle,
		subscriptiondomain.ErrInvalidPeriod,
		replydomain.ErrInvalidReview,
	} {
		if errors.Is(err, candidate) {
			sentinel = candidate
			break
		}
	}
	if sentinel == nil {
		return strings.TrimSpace(err.Error())
	}
	return sentinel.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "tenant_required":
		return "tenant_id"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "tenant_required":
		return "tenant id is required"
	default:
		return "invalid value"
	}
}
