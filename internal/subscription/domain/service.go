package domain

import (
	"context"
	"errors"
	"time"
)

// Lookup resolves the plan-bearing subscription of a tenant.
type Lookup interface {
	GetActiveByTenantID(ctx context.Context, tenantID string) (Subscription, error)
}

type Service interface {
	Lookup
	GetByTenantID(ctx context.Context, tenantID string) (Subscription, error)
	Upsert(ctx context.Context, req UpsertRequest) (Subscription, error)
	ChangePlan(ctx context.Context, req ChangePlanRequest) (Subscription, error)
	Cancel(ctx context.Context, req CancelRequest) (Subscription, error)
}

// UpsertRequest carries a "payment succeeded / subscription updated" signal.
type UpsertRequest struct {
	TenantID                      string             `json:"tenant_id"`
	PlanCode                      string             `json:"plan_code"`
	Status                        SubscriptionStatus `json:"status"`
	BillingCycle                  BillingCycle       `json:"billing_cycle"`
	CurrentPeriodStart            *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd              *time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd             bool               `json:"cancel_at_period_end"`
	PaymentProvider               string             `json:"payment_provider"`
	PaymentProviderSubscriptionID string             `json:"payment_provider_subscription_id"`
	Metadata                      map[string]any     `json:"metadata"`
}

type ChangePlanRequest struct {
	TenantID     string       `json:"tenant_id"`
	PlanCode     string       `json:"plan_code"`
	BillingCycle BillingCycle `json:"billing_cycle"`
}

type CancelRequest struct {
	TenantID string `json:"tenant_id"`
	// Immediately ends the subscription instead of flagging cancel_at_period_end.
	Immediately bool `json:"immediately"`
}

var (
	ErrInvalidTenant        = errors.New("invalid_tenant")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidBillingCycle  = errors.New("invalid_billing_cycle")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionCanceled = errors.New("subscription_canceled")
)
