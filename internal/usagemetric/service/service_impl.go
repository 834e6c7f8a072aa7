package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/revaiconcierge/concierge/internal/clock"
	"github.com/revaiconcierge/concierge/internal/config"
	obsmetrics "github.com/revaiconcierge/concierge/internal/observability/metrics"
	plandomain "github.com/revaiconcierge/concierge/internal/plan/domain"
	"github.com/revaiconcierge/concierge/internal/usagemetric/domain"
	"github.com/revaiconcierge/concierge/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxMetricNameLength = 64

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Repo    domain.Repository
	Plans   plandomain.Service
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	loc     *time.Location
	repo    domain.Repository
	plans   plandomain.Service
	metrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usagemetric.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		loc:     p.Cfg.ResetLocation(),
		repo:    p.Repo,
		plans:   p.Plans,
		metrics: p.Metrics,
	}
}

func (s *Service) Record(ctx context.Context, req domain.RecordRequest) (domain.RecordResponse, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return domain.RecordResponse{}, domain.ErrInvalidTenant
	}
	name, err := normalizeMetricName(req.MetricName)
	if err != nil {
		return domain.RecordResponse{}, err
	}
	count := req.Count
	if count == 0 {
		count = 1
	}
	if count < 0 {
		return domain.RecordResponse{}, domain.ErrInvalidCount
	}

	var limit int64
	if domain.IsKnownMetric(name) {
		plan, err := s.plans.GetPlan(ctx, tenantID)
		if err != nil {
			s.metrics.RecordMetricRecord(ctx, metricLabel(name), "failed")
			return domain.RecordResponse{}, fmt.Errorf("resolve plan: %w", err)
		}
		limit = monthlyLimit(plan, name)
	}

	now := s.clock.Now().In(s.loc)
	year, month := domain.Period(now)
	bucket, err := s.bucket(ctx, tenantID, name, year, month, now)
	if err != nil {
		s.metrics.RecordMetricRecord(ctx, metricLabel(name), "failed")
		return domain.RecordResponse{}, err
	}

	if limit > 0 {
		ok, err := s.repo.AddWithin(ctx, s.db, bucket.ID, count, limit, now)
		if err != nil {
			s.metrics.RecordMetricRecord(ctx, metricLabel(name), "failed")
			return domain.RecordResponse{}, err
		}
		if !ok {
			current := bucket.Count
			if fresh, err := s.repo.FindBucket(ctx, s.db, tenantID, name, year, month); err == nil && fresh != nil {
				current = fresh.Count
			}
			s.metrics.RecordMetricRecord(ctx, metricLabel(name), "limit_exceeded")
			s.log.Info("usage metric limit exceeded",
				zap.String("tenant_id", tenantID),
				zap.String("metric_name", name),
				zap.Int64("current", current),
				zap.Int64("limit", limit),
			)
			return domain.RecordResponse{}, &domain.LimitExceededError{MetricName: name, Current: current, Limit: limit}
		}
	} else {
		ok, err := s.repo.Add(ctx, s.db, bucket.ID, count, now)
		if err != nil {
			s.metrics.RecordMetricRecord(ctx, metricLabel(name), "failed")
			return domain.RecordResponse{}, err
		}
		if !ok {
			s.metrics.RecordMetricRecord(ctx, metricLabel(name), "failed")
			return domain.RecordResponse{}, domain.ErrInvalidCount
		}
	}

	updated, err := s.repo.FindBucket(ctx, s.db, tenantID, name, year, month)
	if err != nil {
		return domain.RecordResponse{}, err
	}
	if updated == nil {
		updated = bucket
		updated.Count += count
	}

	s.metrics.RecordMetricRecord(ctx, metricLabel(name), "recorded")
	return domain.RecordResponse{Metric: *updated, CurrentUsage: updated.Count, Limit: limit}, nil
}

func (s *Service) bucket(ctx context.Context, tenantID, name string, year int, month string, now time.Time) (*domain.Metric, error) {
	if err := s.repo.EnsureBucket(ctx, s.db, &domain.Metric{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		MetricName: name,
		Year:       year,
		Month:      month,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		return nil, err
	}

	bucket, err := s.repo.FindBucket(ctx, s.db, tenantID, name, year, month)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, fmt.Errorf("usage metric bucket %s/%d-%s missing after insert", name, year, month)
	}
	return bucket, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return domain.ListResponse{}, domain.ErrInvalidTenant
	}

	filter := domain.ListFilter{
		TenantID: tenantID,
		Year:     req.Year,
		Limit:    req.Limit() + 1,
	}
	if strings.TrimSpace(req.MetricName) != "" {
		name, err := normalizeMetricName(req.MetricName)
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.MetricName = name
	}
	if month := strings.TrimSpace(req.Month); month != "" {
		parsed, err := time.Parse("01", month)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPeriod
		}
		filter.Month = parsed.Format("01")
	}
	if req.Year < 0 || req.Year > 9999 {
		return domain.ListResponse{}, domain.ErrInvalidPeriod
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, domain.ErrInvalidPageToken
	}
	if cursor != nil && cursor.ID != "" {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		filter.BeforeID = id
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	page, info, err := pagination.Page(items, req.Limit(), func(m domain.Metric) string { return m.ID.String() })
	if err != nil {
		return domain.ListResponse{}, err
	}
	if page == nil {
		page = []domain.Metric{}
	}
	return domain.ListResponse{Items: page, PageInfo: info}, nil
}

func (s *Service) Summary(ctx context.Context, tenantID string) ([]domain.SummaryItem, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}

	plan, err := s.plans.GetPlan(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}

	year, month := domain.Period(s.clock.Now().In(s.loc))
	totals, err := s.repo.Totals(ctx, s.db, tenantID, year, month)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int64, len(totals))
	for _, t := range totals {
		byName[t.MetricName] = t.Total
	}

	items := make([]domain.SummaryItem, 0, len(totals)+len(domain.KnownMetrics()))
	for _, name := range domain.KnownMetrics() {
		items = append(items, domain.SummaryItem{
			MetricName: name,
			Count:      byName[name],
			Limit:      monthlyLimit(plan, name),
			Year:       year,
			Month:      month,
		})
		delete(byName, name)
	}
	for _, t := range totals {
		if _, ok := byName[t.MetricName]; !ok {
			continue
		}
		items = append(items, domain.SummaryItem{MetricName: t.MetricName, Count: t.Total, Year: year, Month: month})
	}
	return items, nil
}

func monthlyLimit(plan plandomain.Plan, name string) int64 {
	switch name {
	case domain.MetricLocation:
		return plan.Limits.Locations
	case domain.MetricReview:
		return plan.Limits.ReviewsPerMonth
	case domain.MetricAIReply:
		return plan.Limits.AIRepliesPerMonth
	default:
		return 0
	}
}

func normalizeMetricName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" || len(name) > maxMetricNameLength {
		return "", domain.ErrInvalidMetricName
	}
	return name, nil
}

// metricLabel keeps free-form metric names out of metric label values.
func metricLabel(name string) string {
	if domain.IsKnownMetric(name) {
		return name
	}
	return "other"
}
