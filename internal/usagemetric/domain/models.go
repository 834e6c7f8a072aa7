package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Metric names with a monthly plan limit. Any other name is recorded without one.
const (
	MetricLocation = "location"
	MetricReview   = "review"
	MetricAIReply  = "ai_reply"
)

func KnownMetrics() []string {
	return []string{MetricLocation, MetricReview, MetricAIReply}
}

func IsKnownMetric(name string) bool {
	switch name {
	case MetricLocation, MetricReview, MetricAIReply:
		return true
	default:
		return false
	}
}

// Metric is a monthly analytics bucket. It never feeds the quota decision of usagelimit.
type Metric struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID   string       `gorm:"column:tenant_id;type:varchar(191);not null;uniqueIndex:ux_usage_metrics_bucket,priority:1" json:"tenant_id"`
	MetricName string       `gorm:"column:metric_name;type:varchar(64);not null;uniqueIndex:ux_usage_metrics_bucket,priority:2" json:"metric_name"`
	Year       int          `gorm:"not null;uniqueIndex:ux_usage_metrics_bucket,priority:3" json:"year"`
	Month      string       `gorm:"type:varchar(2);not null;uniqueIndex:ux_usage_metrics_bucket,priority:4" json:"month"`
	Count      int64        `gorm:"not null;default:0" json:"count"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Metric) TableName() string { return "usage_metrics" }

// Period names the calendar month bucket of t, with Month zero padded.
func Period(t time.Time) (year int, month string) {
	return t.Year(), t.Format("01")
}
