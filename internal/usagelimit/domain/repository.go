package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByTenantAndResource(ctx context.Context, db *gorm.DB, tenantID string, resourceType ResourceType) (*UsageCounter, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID string) ([]UsageCounter, error)
	// ListDue returns counters whose reset_at is at or before now, oldest first.
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]UsageCounter, error)

	// InsertIfAbsent is a no-op when a row for (tenant_id, resource_type) already exists.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, counter *UsageCounter) error
	// Increment reports false when the row is gone or current_usage + amount would overflow.
	Increment(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) (bool, error)
	// TryConsume adds amount only while the result stays within limit_value.
	TryConsume(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) (bool, error)
	// Reset and UpdateLimit apply only when version still matches and bump it on success.
	Reset(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, limit int64, resetAt, now time.Time) (bool, error)
	UpdateLimit(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, limit int64, now time.Time) (bool, error)
}
