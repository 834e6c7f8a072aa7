package repository

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/revaiconcierge/concierge/internal/usagelimit/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) (*gorm.DB, domain.Repository) {
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

	if err := db.AutoMigrate(&domain.UsageCounter{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db, Provide()
}

func seedCounter(t *testing.T, db *gorm.DB, r domain.Repository, limit int64) *domain.UsageCounter {
	t.Helper()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	c := &domain.UsageCounter{
		ID:           1,
		TenantID:     "tenant-a",
		ResourceType: domain.ResourceAPICalls,
		LimitValue:   limit,
		ResetAt:      now.Add(15 * time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, r.InsertIfAbsent(context.Background(), db, c))
	return c
}

func TestInsertIfAbsentKeepsFirstRow(t *testing.T) {
	db, r := setupRepo(t)
	ctx := context.Background()
	first := seedCounter(t, db, r, 10)

	dup := *first
	dup.ID = 2
	dup.LimitValue = 99
	require.NoError(t, r.InsertIfAbsent(ctx, db, &dup))

	got, err := r.FindByTenantAndResource(ctx, db, "tenant-a", domain.ResourceAPICalls)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, int64(10), got.LimitValue)

	missing, err := r.FindByTenantAndResource(ctx, db, "tenant-a", domain.ResourceUsers)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTryConsumeStopsAtLimit(t *testing.T) {
	db, r := setupRepo(t)
	ctx := context.Background()
	c := seedCounter(t, db, r, 3)
	now := c.CreatedAt

	ok, err := r.TryConsume(ctx, db, c.ID, 2, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TryConsume(ctx, db, c.ID, 2, now)
	require.NoError(t, err)
	assert.False(t, ok, "2 + 2 exceeds the limit of 3")

	ok, err = r.TryConsume(ctx, db, c.ID, 1, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.FindByTenantAndResource(ctx, db, c.TenantID, c.ResourceType)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.CurrentUsage)
}

func TestIncrementRefusesOverflow(t *testing.T) {
	db, r := setupRepo(t)
	ctx := context.Background()
	c := seedCounter(t, db, r, domain.Unlimited)
	now := c.CreatedAt

	ok, err := r.Increment(ctx, db, c.ID, 1000, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.Increment(ctx, db, c.ID, math.MaxInt64, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.TryConsume(ctx, db, c.ID, math.MaxInt64, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.FindByTenantAndResource(ctx, db, c.TenantID, c.ResourceType)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1000), got.CurrentUsage)

	due, err := r.ListDue(ctx, db, c.ResetAt, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestResetAndUpdateLimitRequireVersion(t *testing.T) {
	db, r := setupRepo(t)
	ctx := context.Background()
	c := seedCounter(t, db, r, 3)
	now := c.CreatedAt

	ok, err := r.Increment(ctx, db, c.ID, 3, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.UpdateLimit(ctx, db, c.ID, 0, 5, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Reset(ctx, db, c.ID, 0, 5, c.ResetAt.Add(24*time.Hour), now)
	require.NoError(t, err)
	assert.False(t, ok, "stale version must not reset")

	ok, err = r.Reset(ctx, db, c.ID, 1, 5, c.ResetAt.Add(24*time.Hour), now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.FindByTenantAndResource(ctx, db, c.TenantID, c.ResourceType)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.CurrentUsage)
	assert.Equal(t, int64(5), got.LimitValue)
	assert.Equal(t, int64(2), got.Version)
}

func TestListDue(t *testing.T) {
	db, r := setupRepo(t)
	ctx := context.Background()
	c := seedCounter(t, db, r, 3)

	due, err := r.ListDue(ctx, db, c.ResetAt.Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = r.ListDue(ctx, db, c.ResetAt, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, c.ID, due[0].ID)

	all, err := r.ListByTenant(ctx, db, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
