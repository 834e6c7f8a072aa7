package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/revaiconcierge/concierge/internal/clock"
	"github.com/revaiconcierge/concierge/internal/config"
	"github.com/revaiconcierge/concierge/internal/usagelimit/domain"
	"github.com/revaiconcierge/concierge/internal/usagelimit/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubResolver struct {
	mu     sync.Mutex
	limits map[domain.ResourceType]int64
	err    error
	calls  int
}

func newStubResolver() *stubResolver {
	return &stubResolver{limits: map[domain.ResourceType]int64{
		domain.ResourceAPICalls:  100,
		domain.ResourceStorage:   100 * 1024 * 1024,
		domain.ResourceLocations: 1,
		domain.ResourceUsers:     1,
	}}
}

func (r *stubResolver) GetPlanLimits(ctx context.Context, tenantID string) (map[domain.ResourceType]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[domain.ResourceType]int64, len(r.limits))
	for k, v := range r.limits {
		out[k] = v
	}
	return out, nil
}

func (r *stubResolver) set(resourceType domain.ResourceType, limit int64) {
	r.mu.Lock()
	r.limits[resourceType] = limit
	r.mu.Unlock()
}

func (r *stubResolver) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

type testEnv struct {
	svc      domain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	resolver *stubResolver
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func setupUsageLimitService(t *testing.T) testEnv {
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

	fake := clock.NewFakeClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	resolver := newStubResolver()
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    mustNode(t),
		Clock:    fake,
		Cfg:      config.Config{Usage: config.UsageConfig{ResetTimezone: "UTC"}},
		Repo:     repository.Provide(),
		Resolver: resolver,
	})
	return testEnv{svc: svc, db: db, clock: fake, resolver: resolver}
}

func check(env testEnv, tenantID string) domain.CheckResult {
	return env.svc.CheckUsageLimit(context.Background(), domain.CheckRequest{
		TenantID:     tenantID,
		ResourceType: domain.ResourceAPICalls,
	})
}

func TestFirstCheckCreatesCounter(t *testing.T) {
	env := setupUsageLimitService(t)

	res := check(env, "tenant-a")
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Current)
	assert.Equal(t, int64(100), res.Limit)
	assert.Equal(t, 100, res.RemainingPercentage)
	assert.True(t, res.ResetAt.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)), "reset at %s", res.ResetAt)

	counter, err := env.svc.GetOrInitCounter(context.Background(), "tenant-a", domain.ResourceAPICalls)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counter.CurrentUsage)
}

func TestIncrementsUpToLimitDeny(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		ok := env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls})
		if !ok {
			t.Fatalf("increment %d failed", i)
		}
	}

	res := check(env, "tenant-a")
	assert.Equal(t, domain.CheckResult{
		ResourceType:        domain.ResourceAPICalls,
		Allowed:             false,
		Current:             100,
		Limit:               100,
		RemainingPercentage: 0,
		ResetAt:             res.ResetAt,
	}, res)
}

func TestResetAfterBoundaryIsIdempotent(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()

	require.True(t, env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls, Amount: 100}))
	first := check(env, "tenant-a")
	require.False(t, first.Allowed)

	env.clock.Set(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		res := check(env, "tenant-a")
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(0), res.Current)
		assert.Equal(t, int64(100), res.Limit)
		assert.Equal(t, 100, res.RemainingPercentage)
		assert.True(t, res.ResetAt.After(env.clock.Now()))
		assert.True(t, res.ResetAt.Equal(time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)))
	}
}

func TestPlanUpgradeKeepsUsage(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()

	require.True(t, env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls, Amount: 100}))
	require.False(t, check(env, "tenant-a").Allowed)

	env.resolver.set(domain.ResourceAPICalls, 1000)
	res := check(env, "tenant-a")
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(100), res.Current)
	assert.Equal(t, int64(1000), res.Limit)
	assert.Equal(t, 90, res.RemainingPercentage)
}

func TestPlanDowngradeDoesNotCapUsage(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()

	require.True(t, env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls, Amount: 50}))

	env.resolver.set(domain.ResourceAPICalls, 20)
	res := check(env, "tenant-a")
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(50), res.Current)
	assert.Equal(t, int64(20), res.Limit)
	assert.Equal(t, 0, res.RemainingPercentage)
}

func TestUnlimitedAlwaysAllows(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()
	env.resolver.set(domain.ResourceAPICalls, domain.Unlimited)

	require.True(t, env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls, Amount: 10000}))

	res := check(env, "tenant-a")
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(10000), res.Current)
	assert.Equal(t, int64(-1), res.Limit)
	assert.Equal(t, 100, res.RemainingPercentage)

	res = env.svc.CheckUsageLimit(ctx, domain.CheckRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls, IncrementOnCheck: true})
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(10001), res.Current)
}

func TestFailClosedOnResolverError(t *testing.T) {
	env := setupUsageLimitService(t)
	env.resolver.fail(errors.New("subscription store unreachable"))

	res := check(env, "tenant-a")
	assert.Equal(t, domain.CheckResult{ResourceType: domain.ResourceAPICalls}, res)

	ok := env.svc.IncrementUsage(context.Background(), domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls})
	assert.False(t, ok)

	_, err := env.svc.GetOrInitCounter(context.Background(), "tenant-a", domain.ResourceAPICalls)
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestFailClosedOnStorageError(t *testing.T) {
	env := setupUsageLimitService(t)
	require.True(t, check(env, "tenant-a").Allowed)

	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	res := check(env, "tenant-a")
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Current)
	assert.Equal(t, int64(0), res.Limit)
	assert.Equal(t, 0, res.RemainingPercentage)
}

func TestIncrementOnCheckConsumesOnlyWhenAllowed(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()
	env.resolver.set(domain.ResourceAPICalls, 2)

	req := domain.CheckRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls, IncrementOnCheck: true}

	first := env.svc.CheckUsageLimit(ctx, req)
	assert.True(t, first.Allowed)
	assert.Equal(t, int64(1), first.Current)
	assert.Equal(t, 50, first.RemainingPercentage)

	second := env.svc.CheckUsageLimit(ctx, req)
	assert.True(t, second.Allowed, "last unit within the limit is granted")
	assert.Equal(t, int64(2), second.Current)
	assert.Equal(t, 0, second.RemainingPercentage)

	third := env.svc.CheckUsageLimit(ctx, req)
	assert.False(t, third.Allowed)
	assert.Equal(t, int64(2), third.Current, "denied checks do not consume")
}

func TestConcurrentConsumersNeverExceedLimit(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()
	env.resolver.set(domain.ResourceAPICalls, 5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := env.svc.CheckUsageLimit(ctx, domain.CheckRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls, IncrementOnCheck: true})
			if res.Allowed {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, granted)
	counter, err := env.svc.GetOrInitCounter(ctx, "tenant-a", domain.ResourceAPICalls)
	require.NoError(t, err)
	assert.Equal(t, int64(5), counter.CurrentUsage)
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()

	require.True(t, check(env, "tenant-a").Allowed)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(25), check(env, "tenant-a").Current)
}

func TestRemainingPercentageIsMonotonic(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()
	env.resolver.set(domain.ResourceAPICalls, 7)

	previous := check(env, "tenant-a").RemainingPercentage
	assert.Equal(t, 100, previous)
	for i := 0; i < 9; i++ {
		require.True(t, env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls}))
		res := check(env, "tenant-a")
		if res.RemainingPercentage > previous {
			t.Fatalf("remaining grew from %d to %d at current=%d", previous, res.RemainingPercentage, res.Current)
		}
		assert.Equal(t, res.Current < 7, res.Allowed)
		if res.Current >= 7 {
			assert.Equal(t, 0, res.RemainingPercentage)
		}
		previous = res.RemainingPercentage
	}
}

func TestInvalidInputsFailClosed(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()

	res := env.svc.CheckUsageLimit(ctx, domain.CheckRequest{TenantID: "tenant-a", ResourceType: "ai_reply"})
	assert.False(t, res.Allowed)

	res = env.svc.CheckUsageLimit(ctx, domain.CheckRequest{TenantID: " ", ResourceType: domain.ResourceAPICalls})
	assert.False(t, res.Allowed)

	_, err := env.svc.GetOrInitCounter(ctx, "tenant-a", "ai_reply")
	assert.ErrorIs(t, err, domain.ErrInvalidResourceType)

	assert.False(t, env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls, Amount: -3}))
}

func TestMissingPlanLimitDenies(t *testing.T) {
	env := setupUsageLimitService(t)
	env.resolver.mu.Lock()
	delete(env.resolver.limits, domain.ResourceUsers)
	env.resolver.mu.Unlock()

	res := env.svc.CheckUsageLimit(context.Background(), domain.CheckRequest{TenantID: "tenant-a", ResourceType: domain.ResourceUsers})
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Limit)
}

func TestTenantsAreIsolated(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()

	require.True(t, env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "Tenant-A", ResourceType: domain.ResourceAPICalls, Amount: 42}))

	assert.Equal(t, int64(42), check(env, "Tenant-A").Current)
	assert.Equal(t, int64(0), check(env, "tenant-a").Current)
}

func TestUsageReportsEveryResourceType(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()

	require.True(t, env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceLocations}))

	results, err := env.svc.Usage(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, results, 4)

	byType := map[domain.ResourceType]domain.CheckResult{}
	for _, r := range results {
		byType[r.ResourceType] = r
	}
	assert.False(t, byType[domain.ResourceLocations].Allowed)
	assert.Equal(t, int64(1), byType[domain.ResourceLocations].Current)
	assert.True(t, byType[domain.ResourceStorage].Allowed)
	assert.Equal(t, int64(100*1024*1024), byType[domain.ResourceStorage].Limit)

	_, err = env.svc.Usage(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTenant)
}

func TestRolloverDueResetsIdleCounters(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()

	for _, tenant := range []string{"tenant-a", "tenant-b", "tenant-c"} {
		require.True(t, env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: tenant, ResourceType: domain.ResourceAPICalls, Amount: 10}))
	}

	n, err := env.svc.RolloverDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing is due before midnight")

	env.clock.Set(time.Date(2024, 3, 11, 0, 5, 0, 0, time.UTC))
	sweeper := NewSweeper(env.svc, zap.NewNop(), 2)
	assert.Equal(t, 3, sweeper.Run(ctx))

	var counters []domain.UsageCounter
	require.NoError(t, env.db.Find(&counters).Error)
	require.Len(t, counters, 3)
	for _, c := range counters {
		assert.Equal(t, int64(0), c.CurrentUsage)
		assert.True(t, c.ResetAt.Equal(time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)))
		assert.Equal(t, int64(1), c.Version)
	}
}

func TestIncrementRejectsOverflowingAmount(t *testing.T) {
	env := setupUsageLimitService(t)
	ctx := context.Background()
	env.resolver.set(domain.ResourceAPICalls, domain.Unlimited)

	require.True(t, env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls, Amount: 1000}))
	assert.False(t, env.svc.IncrementUsage(ctx, domain.IncrementRequest{TenantID: "tenant-a", ResourceType: domain.ResourceAPICalls, Amount: math.MaxInt64}))

	res := check(env, "tenant-a")
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1000), res.Current)

	env.clock.Set(time.Date(2024, 3, 11, 0, 0, 1, 0, time.UTC))
	res = check(env, "tenant-a")
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Current)
}

func TestNextResetAt(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)

	cases := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{"midday", time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), time.UTC, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"exact midnight moves a full day", time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), time.UTC, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)},
		{"month end", time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC), time.UTC, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"local zone", time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC), jst, time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.NextResetAt(tc.now, tc.loc)
			if !got.Equal(tc.want) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
			if !got.After(tc.now) {
				t.Fatalf("reset %s is not after %s", got, tc.now)
			}
		})
	}
}

func TestNextResetAtSkipsMidnightGap(t *testing.T) {
	// Sao Paulo started DST at 00:00 on 2018-11-04, so that local midnight never happened.
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	now := time.Date(2018, 11, 4, 1, 30, 0, 0, loc)
	got := domain.NextResetAt(now, loc)
	want := time.Date(2018, 11, 5, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	before := time.Date(2018, 11, 3, 22, 0, 0, 0, loc)
	got = domain.NextResetAt(before, loc)
	if !got.After(before) || got.Sub(before) > 3*time.Hour {
		t.Fatalf("expected the skipped midnight to resolve within hours of %s, got %s", before, got)
	}
}
