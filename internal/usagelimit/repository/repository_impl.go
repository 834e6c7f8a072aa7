package repository

import (
	"context"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/revaiconcierge/concierge/internal/usagelimit/domain"
	"github.com/revaiconcierge/concierge/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `id, tenant_id, resource_type, limit_value, current_usage, reset_at, version, created_at, updated_at`

func (r *repo) FindByTenantAndResource(ctx context.Context, conn *gorm.DB, tenantID string, resourceType domain.ResourceType) (*domain.UsageCounter, error) {
	var counter domain.UsageCounter
	err := conn.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM usage_limits WHERE tenant_id = ? AND resource_type = ?`,
		tenantID,
		resourceType,
	).Scan(&counter).Error
	if err != nil {
		return nil, err
	}
	if counter.ID == 0 {
		return nil, nil
	}
	return &counter, nil
}

func (r *repo) ListByTenant(ctx context.Context, conn *gorm.DB, tenantID string) ([]domain.UsageCounter, error) {
	var items []domain.UsageCounter
	err := conn.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM usage_limits WHERE tenant_id = ? ORDER BY resource_type ASC`,
		tenantID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListDue(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.UsageCounter, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []domain.UsageCounter
	err := conn.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM usage_limits WHERE reset_at <= ? ORDER BY reset_at ASC, id ASC LIMIT ?`,
		now.UTC(),
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertIfAbsent(ctx context.Context, conn *gorm.DB, c *domain.UsageCounter) error {
	if c == nil {
		return gorm.ErrInvalidData
	}

	insert := `INSERT INTO usage_limits (id, tenant_id, resource_type, limit_value, current_usage, reset_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, resource_type) DO NOTHING`
	if db.IsMySQL(conn) {
		insert = `INSERT IGNORE INTO usage_limits (id, tenant_id, resource_type, limit_value, current_usage, reset_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}

	return conn.WithContext(ctx).Exec(insert,
		c.ID,
		c.TenantID,
		c.ResourceType,
		c.LimitValue,
		c.CurrentUsage,
		c.ResetAt.UTC(),
		c.Version,
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC(),
	).Error
}

func (r *repo) Increment(ctx context.Context, conn *gorm.DB, id snowflake.ID, amount int64, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE usage_limits SET current_usage = current_usage + ?, updated_at = ?
		 WHERE id = ? AND current_usage <= ?`,
		amount,
		now.UTC(),
		id,
		headroom(amount),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) TryConsume(ctx context.Context, conn *gorm.DB, id snowflake.ID, amount int64, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE usage_limits SET current_usage = current_usage + ?, updated_at = ?
		 WHERE id = ? AND current_usage <= ? AND (limit_value = ? OR current_usage <= limit_value - ?)`,
		amount,
		now.UTC(),
		id,
		headroom(amount),
		domain.Unlimited,
		amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// headroom is the largest stored usage that can still absorb amount without overflowing int64.
func headroom(amount int64) int64 {
	if amount <= 0 {
		return math.MaxInt64
	}
	return math.MaxInt64 - amount
}

func (r *repo) Reset(ctx context.Context, conn *gorm.DB, id snowflake.ID, version int64, limit int64, resetAt, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE usage_limits SET current_usage = 0, limit_value = ?, reset_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		limit,
		resetAt.UTC(),
		now.UTC(),
		id,
		version,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateLimit(ctx context.Context, conn *gorm.DB, id snowflake.ID, version int64, limit int64, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE usage_limits SET limit_value = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		limit,
		now.UTC(),
		id,
		version,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
