package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ResourceType string

const (
	ResourceAPICalls  ResourceType = "api_calls"
	ResourceStorage   ResourceType = "storage"
	ResourceLocations ResourceType = "locations"
	ResourceUsers     ResourceType = "users"
)

// Unlimited is the limit_value sentinel for a quota that is never enforced.
const Unlimited int64 = -1

// ResourceTypes lists the metered resources in display order.
func ResourceTypes() []ResourceType {
	return []ResourceType{ResourceAPICalls, ResourceStorage, ResourceLocations, ResourceUsers}
}

func (r ResourceType) Valid() bool {
	switch r {
	case ResourceAPICalls, ResourceStorage, ResourceLocations, ResourceUsers:
		return true
	default:
		return false
	}
}

func (r ResourceType) String() string { return string(r) }

// UsageCounter is the single quota row of a tenant for one resource type.
type UsageCounter struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID     string       `gorm:"column:tenant_id;type:varchar(191);not null;uniqueIndex:ux_usage_limits_tenant_resource,priority:1" json:"tenant_id"`
	ResourceType ResourceType `gorm:"column:resource_type;type:varchar(32);not null;uniqueIndex:ux_usage_limits_tenant_resource,priority:2" json:"resource_type"`
	LimitValue   int64        `gorm:"column:limit_value;not null" json:"limit_value"`
	CurrentUsage int64        `gorm:"column:current_usage;not null;default:0" json:"current_usage"`
	ResetAt      time.Time    `gorm:"column:reset_at;not null;index:ix_usage_limits_reset_at" json:"reset_at"`
	Version      int64        `gorm:"not null;default:0" json:"version"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (UsageCounter) TableName() string { return "usage_limits" }

func (c UsageCounter) Unlimited() bool { return c.LimitValue == Unlimited }

// Due reports whether the counter's window has closed at now.
func (c UsageCounter) Due(now time.Time) bool { return !now.Before(c.ResetAt) }

// NextResetAt returns the first local midnight in loc strictly after now.
func NextResetAt(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
