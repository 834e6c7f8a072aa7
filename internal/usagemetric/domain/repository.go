package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	TenantID   string
	MetricName string
	Month      string
	Year       int
	// BeforeID restricts results to ids lower than it when non-zero.
	BeforeID snowflake.ID
	Limit    int
}

type Total struct {
	MetricName string
	Total      int64
}

type Repository interface {
	FindBucket(ctx context.Context, db *gorm.DB, tenantID, metricName string, year int, month string) (*Metric, error)
	EnsureBucket(ctx context.Context, db *gorm.DB, metric *Metric) error
	// Add reports false when the row is gone or the bucket would overflow int64.
	Add(ctx context.Context, db *gorm.DB, id snowflake.ID, count int64, now time.Time) (bool, error)
	// AddWithin adds count only while the bucket stays at or below max.
	AddWithin(ctx context.Context, db *gorm.DB, id snowflake.ID, count, max int64, now time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Metric, error)
	Totals(ctx context.Context, db *gorm.DB, tenantID string, year int, month string) ([]Total, error)
}
