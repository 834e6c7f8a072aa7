package repository

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/revaiconcierge/concierge/internal/usagemetric/domain"
	"github.com/revaiconcierge/concierge/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `id, tenant_id, metric_name, year, month, count, created_at, updated_at`

func (r *repo) FindBucket(ctx context.Context, conn *gorm.DB, tenantID, metricName string, year int, month string) (*domain.Metric, error) {
	var m domain.Metric
	err := conn.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM usage_metrics
		 WHERE tenant_id = ? AND metric_name = ? AND year = ? AND month = ?`,
		tenantID,
		metricName,
		year,
		month,
	).Scan(&m).Error
	if err != nil {
		return nil, err
	}
	if m.ID == 0 {
		return nil, nil
	}
	return &m, nil
}

func (r *repo) EnsureBucket(ctx context.Context, conn *gorm.DB, m *domain.Metric) error {
	if m == nil {
		return gorm.ErrInvalidData
	}

	insert := `INSERT INTO usage_metrics (id, tenant_id, metric_name, year, month, count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, metric_name, year, month) DO NOTHING`
	if db.IsMySQL(conn) {
		insert = `INSERT IGNORE INTO usage_metrics (id, tenant_id, metric_name, year, month, count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	}

	return conn.WithContext(ctx).Exec(insert,
		m.ID,
		m.TenantID,
		m.MetricName,
		m.Year,
		m.Month,
		m.Count,
		m.CreatedAt.UTC(),
		m.UpdatedAt.UTC(),
	).Error
}

func (r *repo) Add(ctx context.Context, conn *gorm.DB, id snowflake.ID, count int64, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE usage_metrics SET count = count + ?, updated_at = ? WHERE id = ? AND count <= ?`,
		count,
		now.UTC(),
		id,
		math.MaxInt64-count,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AddWithin(ctx context.Context, conn *gorm.DB, id snowflake.ID, count, max int64, now time.Time) (bool, error) {
	if count > max {
		return false, nil
	}
	res := conn.WithContext(ctx).Exec(
		`UPDATE usage_metrics SET count = count + ?, updated_at = ? WHERE id = ? AND count <= ?`,
		count,
		now.UTC(),
		id,
		max-count,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]domain.Metric, error) {
	var (
		clauses = []string{"tenant_id = ?"}
		args    = []any{filter.TenantID}
	)
	if filter.MetricName != "" {
		clauses = append(clauses, "metric_name = ?")
		args = append(args, filter.MetricName)
	}
	if filter.Year != 0 {
		clauses = append(clauses, "year = ?")
		args = append(args, filter.Year)
	}
	if filter.Month != "" {
		clauses = append(clauses, "month = ?")
		args = append(args, filter.Month)
	}
	if filter.BeforeID != 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, filter.BeforeID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	var items []domain.Metric
	err := conn.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM usage_metrics WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id DESC LIMIT ?`,
		args...,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Totals(ctx context.Context, conn *gorm.DB, tenantID string, year int, month string) ([]domain.Total, error) {
	var totals []domain.Total
	err := conn.WithContext(ctx).Raw(
		`SELECT metric_name, SUM(count) AS total FROM usage_metrics
		 WHERE tenant_id = ? AND year = ? AND month = ?
		 GROUP BY metric_name ORDER BY metric_name ASC`,
		tenantID,
		year,
		month,
	).Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}
