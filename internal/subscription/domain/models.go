package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive,
		SubscriptionStatusTrialing,
		SubscriptionStatusPastDue,
		SubscriptionStatusCanceled,
		SubscriptionStatusIncomplete:
		return true
	default:
		return false
	}
}

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleAnnual  BillingCycle = "annual"
)

func (b BillingCycle) Valid() bool {
	return b == BillingCycleMonthly || b == BillingCycleAnnual
}

// Subscription binds a tenant to a plan. A tenant has at most one row.
type Subscription struct {
	ID       snowflake.ID       `gorm:"primaryKey" json:"id"`
	TenantID string             `gorm:"column:tenant_id;type:varchar(191);not null;uniqueIndex:ux_subscriptions_tenant" json:"tenant_id"`
	PlanCode string             `gorm:"column:plan_code;type:text;not null" json:"plan_code"`
	Status   SubscriptionStatus `gorm:"type:text;not null" json:"status"`

	BillingCycle       BillingCycle `gorm:"column:billing_cycle;type:text;not null" json:"billing_cycle"`
	CurrentPeriodStart *time.Time   `gorm:"column:current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time   `gorm:"column:current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool         `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time   `gorm:"column:canceled_at" json:"canceled_at,omitempty"`

	PaymentProvider               string            `gorm:"column:payment_provider;type:text" json:"payment_provider,omitempty"`
	PaymentProviderSubscriptionID string            `gorm:"column:payment_provider_subscription_id;type:text" json:"payment_provider_subscription_id,omitempty"`
	Metadata                      datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}
