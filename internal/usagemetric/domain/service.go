package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/revaiconcierge/concierge/pkg/db/pagination"
)

type Service interface {
	Record(ctx context.Context, req RecordRequest) (RecordResponse, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	// Summary reports the current month of every known metric against the tenant's plan.
	Summary(ctx context.Context, tenantID string) ([]SummaryItem, error)
}

type RecordRequest struct {
	TenantID   string `json:"-"`
	MetricName string `json:"metric_name"`
	Count      int64  `json:"count"`
}

type RecordResponse struct {
	Metric       Metric `json:"data"`
	CurrentUsage int64  `json:"currentUsage"`
	// Limit is 0 when the metric has no monthly cap.
	Limit int64 `json:"limit"`
}

type ListRequest struct {
	TenantID   string
	MetricName string `form:"metric"`
	Month      string `form:"month"`
	Year       int    `form:"year"`
	pagination.Pagination
}

type ListResponse struct {
	Items    []Metric            `json:"items"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type SummaryItem struct {
	MetricName string `json:"metric_name"`
	Count      int64  `json:"count"`
	Limit      int64  `json:"limit"`
	Year       int    `json:"year"`
	Month      string `json:"month"`
}

// LimitExceededError reports that recording would push a capped metric past its monthly limit.
type LimitExceededError struct {
	MetricName string
	Current    int64
	Limit      int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("usage limit exceeded for %s: %d of %d", e.MetricName, e.Current, e.Limit)
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidMetricName = errors.New("invalid_metric_name")
	ErrInvalidCount      = errors.New("invalid_count")
	ErrInvalidPeriod     = errors.New("invalid_period")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
)
