package domain

import (
	"context"
	"errors"
	"time"
)

// LimitResolver maps a tenant to the limit of every resource type under its current plan.
type LimitResolver interface {
	GetPlanLimits(ctx context.Context, tenantID string) (map[ResourceType]int64, error)
}

type Service interface {
	GetOrInitCounter(ctx context.Context, tenantID string, resourceType ResourceType) (*UsageCounter, error)
	// CheckUsageLimit never fails; any error yields the denied zero result.
	CheckUsageLimit(ctx context.Context, req CheckRequest) CheckResult
	IncrementUsage(ctx context.Context, req IncrementRequest) bool
	Usage(ctx context.Context, tenantID string) ([]CheckResult, error)
	// RolloverDue resets up to batchSize counters whose window has closed.
	RolloverDue(ctx context.Context, batchSize int) (int, error)
}

type CheckRequest struct {
	TenantID         string
	ResourceType     ResourceType
	IncrementOnCheck bool
}

type CheckResult struct {
	ResourceType        ResourceType `json:"resource_type,omitempty"`
	Allowed             bool         `json:"allowed"`
	Current             int64        `json:"current"`
	Limit               int64        `json:"limit"`
	RemainingPercentage int          `json:"remaining_percentage"`
	ResetAt             time.Time    `json:"reset_at,omitzero"`
}

// Denied is the fail-closed result returned when usage could not be determined.
func Denied(resourceType ResourceType) CheckResult {
	return CheckResult{ResourceType: resourceType}
}

type IncrementRequest struct {
	TenantID     string
	ResourceType ResourceType
	// Amount defaults to 1 when zero.
	Amount int64
}

var (
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidResourceType = errors.New("invalid_resource_type")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrStorage             = errors.New("usage_storage_error")
	ErrCounterContention   = errors.New("usage_counter_contention")
)
