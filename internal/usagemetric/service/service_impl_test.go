package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/revaiconcierge/concierge/internal/clock"
	"github.com/revaiconcierge/concierge/internal/config"
	planservice "github.com/revaiconcierge/concierge/internal/plan/service"
	subscriptiondomain "github.com/revaiconcierge/concierge/internal/subscription/domain"
	"github.com/revaiconcierge/concierge/internal/usagemetric/domain"
	"github.com/revaiconcierge/concierge/internal/usagemetric/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubLookup map[string]string

func (s stubLookup) GetActiveByTenantID(ctx context.Context, tenantID string) (subscriptiondomain.Subscription, error) {
	code, ok := s[tenantID]
	if !ok {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscriptiondomain.Subscription{ID: 1, TenantID: tenantID, PlanCode: code, Status: subscriptiondomain.SubscriptionStatusActive}, nil
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func setupUsageMetricService(t *testing.T, lookup stubLookup) (domain.Service, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&domain.Metric{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Config{Usage: config.UsageConfig{ResetTimezone: "UTC", DefaultPlanCode: "free"}}
	plans := planservice.New(planservice.Params{
		Log:     zap.NewNop(),
		Cfg:     cfg,
		Catalog: planservice.NewCatalog(config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog())),
		Lookup:  lookup,
	})

	fake := clock.NewFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: mustNode(t),
		Clock: fake,
		Cfg:   cfg,
		Repo:  repository.Provide(),
		Plans: plans,
	})
	return svc, fake
}

func TestRecordAccumulatesMonthlyBucket(t *testing.T) {
	svc, _ := setupUsageMetricService(t, stubLookup{})
	ctx := context.Background()

	first, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: "review", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), first.CurrentUsage)
	assert.Equal(t, int64(50), first.Limit)
	assert.Equal(t, "03", first.Metric.Month)
	assert.Equal(t, 2024, first.Metric.Year)

	second, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: " Review "})
	require.NoError(t, err)
	assert.Equal(t, first.Metric.ID, second.Metric.ID)
	assert.Equal(t, int64(4), second.CurrentUsage)
}

func TestRecordRejectsOverLimit(t *testing.T) {
	svc, _ := setupUsageMetricService(t, stubLookup{})
	ctx := context.Background()

	_, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: domain.MetricAIReply, Count: 19})
	require.NoError(t, err)

	res, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: domain.MetricAIReply})
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.CurrentUsage, "reaching the limit exactly is allowed")

	_, err = svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: domain.MetricAIReply})
	var exceeded *domain.LimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	assert.Equal(t, int64(20), exceeded.Current)
	assert.Equal(t, int64(20), exceeded.Limit)
}

func TestRecordStartsFreshEachMonth(t *testing.T) {
	svc, fake := setupUsageMetricService(t, stubLookup{})
	ctx := context.Background()

	_, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: domain.MetricAIReply, Count: 20})
	require.NoError(t, err)

	fake.Set(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	res, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: domain.MetricAIReply})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.CurrentUsage)
	assert.Equal(t, "04", res.Metric.Month)
}

func TestRecordUnlimitedAndOpenMetrics(t *testing.T) {
	svc, _ := setupUsageMetricService(t, stubLookup{"tenant-e": "enterprise"})
	ctx := context.Background()

	res, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-e", MetricName: "export", Count: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Limit)
	assert.Equal(t, int64(500), res.CurrentUsage)

	_, err = svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-e", MetricName: domain.MetricReview, Count: 5000})
	require.NoError(t, err)
	_, err = svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-e", MetricName: domain.MetricReview})
	assert.Error(t, err, "enterprise reviews are capped at 5000")
}

func TestRecordRejectsOverflowingCount(t *testing.T) {
	svc, _ := setupUsageMetricService(t, stubLookup{})
	ctx := context.Background()

	_, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: "export", Count: 1000})
	require.NoError(t, err)

	_, err = svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: "export", Count: math.MaxInt64})
	assert.ErrorIs(t, err, domain.ErrInvalidCount)

	res, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: "export"})
	require.NoError(t, err)
	assert.Equal(t, int64(1001), res.CurrentUsage)

	_, err = svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: domain.MetricReview, Count: math.MaxInt64})
	var exceeded *domain.LimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	assert.Equal(t, int64(0), exceeded.Current)
}

func TestRecordValidation(t *testing.T) {
	svc, _ := setupUsageMetricService(t, stubLookup{})
	ctx := context.Background()

	_, err := svc.Record(ctx, domain.RecordRequest{MetricName: "review"})
	assert.ErrorIs(t, err, domain.ErrInvalidTenant)

	_, err = svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidMetricName)

	_, err = svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: "review", Count: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidCount)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, fake := setupUsageMetricService(t, stubLookup{})
	ctx := context.Background()

	for _, month := range []time.Month{1, 2, 3} {
		fake.Set(time.Date(2024, month, 5, 0, 0, 0, 0, time.UTC))
		_, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: "review"})
		require.NoError(t, err)
	}
	_, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-b", MetricName: "review"})
	require.NoError(t, err)

	req := domain.ListRequest{TenantID: "tenant-a"}
	req.PageSize = 2
	page, err := svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "03", page.Items[0].Month)
	assert.Equal(t, "02", page.Items[1].Month)
	require.True(t, page.PageInfo.HasMore)

	req.PageToken = page.PageInfo.NextPageToken
	page, err = svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "01", page.Items[0].Month)
	assert.False(t, page.PageInfo.HasMore)

	filtered, err := svc.List(ctx, domain.ListRequest{TenantID: "tenant-a", Month: "02", Year: 2024})
	require.NoError(t, err)
	require.Len(t, filtered.Items, 1)

	_, err = svc.List(ctx, domain.ListRequest{TenantID: "tenant-a", Month: "13"})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	bad := domain.ListRequest{TenantID: "tenant-a"}
	bad.PageToken = "not-a-token"
	_, err = svc.List(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestSummaryCoversKnownMetrics(t *testing.T) {
	svc, _ := setupUsageMetricService(t, stubLookup{"tenant-a": "basic"})
	ctx := context.Background()

	_, err := svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: domain.MetricAIReply, Count: 7})
	require.NoError(t, err)
	_, err = svc.Record(ctx, domain.RecordRequest{TenantID: "tenant-a", MetricName: "export", Count: 2})
	require.NoError(t, err)

	items, err := svc.Summary(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, items, 4)

	byName := map[string]domain.SummaryItem{}
	for _, item := range items {
		byName[item.MetricName] = item
	}
	assert.Equal(t, int64(7), byName[domain.MetricAIReply].Count)
	assert.Equal(t, int64(100), byName[domain.MetricAIReply].Limit)
	assert.Equal(t, int64(0), byName[domain.MetricReview].Count)
	assert.Equal(t, int64(200), byName[domain.MetricReview].Limit)
	assert.Equal(t, int64(3), byName[domain.MetricLocation].Limit)
	assert.Equal(t, int64(2), byName["export"].Count)
}
