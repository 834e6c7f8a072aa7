package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/revaiconcierge/concierge/internal/clock"
	"github.com/revaiconcierge/concierge/internal/config"
	obslogger "github.com/revaiconcierge/concierge/internal/observability/logger"
	obsmetrics "github.com/revaiconcierge/concierge/internal/observability/metrics"
	"github.com/revaiconcierge/concierge/internal/observability/tracing"
	"github.com/revaiconcierge/concierge/internal/usagelimit/domain"
	"github.com/revaiconcierge/concierge/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Bounded retries for versioned reset and limit refresh.
const maxCounterAttempts = 3

const (
	decisionAllowed    = "allowed"
	decisionDenied     = "denied"
	decisionFailClosed = "fail_closed"

	triggerLazy  = "lazy"
	triggerSweep = "sweep"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Repo     domain.Repository
	Resolver domain.LimitResolver
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	loc      *time.Location
	repo     domain.Repository
	resolver domain.LimitResolver
	metrics  *obsmetrics.Metrics
	tracer   trace.Tracer
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("usagelimit.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		loc:      p.Cfg.ResetLocation(),
		repo:     p.Repo,
		resolver: p.Resolver,
		metrics:  p.Metrics,
		tracer:   otel.Tracer("concierge/usagelimit"),
	}
}

func (s *Service) GetOrInitCounter(ctx context.Context, tenantID string, resourceType domain.ResourceType) (*domain.UsageCounter, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}
	if !resourceType.Valid() {
		return nil, domain.ErrInvalidResourceType
	}

	ctx, span := s.tracer.Start(ctx, "usagelimit.GetOrInitCounter", trace.WithAttributes(
		attribute.String("usage.resource_type", resourceType.String()),
	))
	defer span.End()

	limits, err := s.resolver.GetPlanLimits(ctx, tenantID)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		return nil, fmt.Errorf("%w: resolve plan limits: %w", domain.ErrStorage, err)
	}

	counter, err := s.ensureCounter(ctx, tenantID, resourceType, s.limitFor(tenantID, resourceType, limits))
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		return nil, err
	}
	return counter, nil
}

// ensureCounter creates the row when absent and rolls it over or refreshes its limit when stale.
func (s *Service) ensureCounter(ctx context.Context, tenantID string, resourceType domain.ResourceType, limit int64) (*domain.UsageCounter, error) {
	for attempt := 0; attempt < maxCounterAttempts; attempt++ {
		counter, err := s.repo.FindByTenantAndResource(ctx, s.db, tenantID, resourceType)
		if err != nil {
			return nil, storageErr(err)
		}

		now := s.clock.Now()
		if counter == nil {
			counter = &domain.UsageCounter{
				ID:           s.genID.Generate(),
				TenantID:     tenantID,
				ResourceType: resourceType,
				LimitValue:   limit,
				ResetAt:      domain.NextResetAt(now, s.loc),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := s.repo.InsertIfAbsent(ctx, s.db, counter); err != nil {
				return nil, storageErr(err)
			}
			// Re-read: a concurrent caller may have created the row first.
			continue
		}

		if counter.Due(now) {
			next := domain.NextResetAt(now, s.loc)
			ok, err := s.repo.Reset(ctx, s.db, counter.ID, counter.Version, limit, next, now)
			if err != nil {
				return nil, storageErr(err)
			}
			if !ok {
				continue
			}
			counter.CurrentUsage = 0
			counter.LimitValue = limit
			counter.ResetAt = next
			counter.Version++
			counter.UpdatedAt = now
			s.metrics.RecordCounterReset(ctx, resourceType.String(), triggerLazy)
			return counter, nil
		}

		if counter.LimitValue != limit {
			ok, err := s.repo.UpdateLimit(ctx, s.db, counter.ID, counter.Version, limit, now)
			if err != nil {
				return nil, storageErr(err)
			}
			if !ok {
				continue
			}
			s.log.Info("usage limit refreshed from plan",
				zap.String("tenant_id", tenantID),
				zap.String("resource_type", resourceType.String()),
				zap.Int64("previous_limit", counter.LimitValue),
				zap.Int64("limit", limit),
			)
			counter.LimitValue = limit
			counter.Version++
			counter.UpdatedAt = now
			return counter, nil
		}

		return counter, nil
	}

	return nil, fmt.Errorf("%w: %w", domain.ErrStorage, domain.ErrCounterContention)
}

func (s *Service) CheckUsageLimit(ctx context.Context, req domain.CheckRequest) domain.CheckResult {
	ctx, span := s.tracer.Start(ctx, "usagelimit.CheckUsageLimit", trace.WithAttributes(
		attribute.String("usage.resource_type", req.ResourceType.String()),
		attribute.Bool("usage.increment_on_check", req.IncrementOnCheck),
	))
	defer span.End()

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("tenant_id", strings.TrimSpace(req.TenantID)),
		zap.String("resource_type", req.ResourceType.String()),
	)

	failClosed := func(err error) domain.CheckResult {
		log.Warn("usage check failed closed", zap.Error(err))
		span.SetStatus(codes.Error, "fail_closed")
		span.SetAttributes(attribute.String("usage.decision", decisionFailClosed))
		s.metrics.RecordUsageCheck(ctx, req.ResourceType.String(), decisionFailClosed)
		return domain.Denied(req.ResourceType)
	}

	counter, err := s.GetOrInitCounter(ctx, req.TenantID, req.ResourceType)
	if err != nil {
		return failClosed(err)
	}

	current := counter.CurrentUsage
	allowed := counter.Unlimited() || current < counter.LimitValue
	if req.IncrementOnCheck && allowed {
		consumed, err := s.repo.TryConsume(ctx, s.db, counter.ID, 1, s.clock.Now())
		if err != nil {
			return failClosed(storageErr(err))
		}
		allowed = consumed

		fresh, err := s.repo.FindByTenantAndResource(ctx, s.db, counter.TenantID, counter.ResourceType)
		switch {
		case err == nil && fresh != nil:
			current = fresh.CurrentUsage
		case consumed:
			current++
		}
	}

	result := evaluate(req.ResourceType, current, counter.LimitValue, counter.ResetAt)
	if req.IncrementOnCheck {
		// The conditional update decided; post-increment usage may already equal the limit.
		result.Allowed = allowed
	}

	decision := decisionDenied
	if result.Allowed {
		decision = decisionAllowed
	}
	span.SetAttributes(attribute.String("usage.decision", decision))
	s.metrics.RecordUsageCheck(ctx, req.ResourceType.String(), decision)
	if !result.Allowed {
		log.Info("usage limit reached",
			zap.Int64("current", result.Current),
			zap.Int64("limit", result.Limit),
		)
	}
	return result
}

func (s *Service) IncrementUsage(ctx context.Context, req domain.IncrementRequest) bool {
	ctx, span := s.tracer.Start(ctx, "usagelimit.IncrementUsage", trace.WithAttributes(
		attribute.String("usage.resource_type", req.ResourceType.String()),
	))
	defer span.End()

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("tenant_id", strings.TrimSpace(req.TenantID)),
		zap.String("resource_type", req.ResourceType.String()),
	)

	fail := func(err error) bool {
		log.Warn("usage increment not recorded", zap.Int64("amount", req.Amount), zap.Error(err))
		span.SetStatus(codes.Error, "increment_failed")
		s.metrics.RecordUsageIncrement(ctx, req.ResourceType.String(), false)
		return false
	}

	amount := req.Amount
	if amount == 0 {
		amount = 1
	}
	if amount < 0 {
		return fail(domain.ErrInvalidAmount)
	}

	counter, err := s.GetOrInitCounter(ctx, req.TenantID, req.ResourceType)
	if err != nil {
		return fail(err)
	}

	if amount > math.MaxInt64-counter.CurrentUsage {
		return fail(fmt.Errorf("%w: %d on top of %d overflows", domain.ErrInvalidAmount, amount, counter.CurrentUsage))
	}

	ok, err := s.repo.Increment(ctx, s.db, counter.ID, amount, s.clock.Now())
	if err != nil {
		if db.IsOutOfRangeErr(err) {
			return fail(fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err))
		}
		return fail(storageErr(err))
	}
	if !ok {
		return fail(fmt.Errorf("%w: counter %d not updated", domain.ErrStorage, counter.ID))
	}

	s.metrics.RecordUsageIncrement(ctx, req.ResourceType.String(), true)
	return true
}

func (s *Service) Usage(ctx context.Context, tenantID string) ([]domain.CheckResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrInvalidTenant
	}

	limits, err := s.resolver.GetPlanLimits(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve plan limits: %w", domain.ErrStorage, err)
	}

	results := make([]domain.CheckResult, 0, len(domain.ResourceTypes()))
	for _, resourceType := range domain.ResourceTypes() {
		counter, err := s.ensureCounter(ctx, tenantID, resourceType, s.limitFor(tenantID, resourceType, limits))
		if err != nil {
			return nil, err
		}
		results = append(results, evaluate(resourceType, counter.CurrentUsage, counter.LimitValue, counter.ResetAt))
	}
	return results, nil
}

func (s *Service) RolloverDue(ctx context.Context, batchSize int) (int, error) {
	now := s.clock.Now()
	due, err := s.repo.ListDue(ctx, s.db, now, batchSize)
	if err != nil {
		return 0, storageErr(err)
	}

	next := domain.NextResetAt(now, s.loc)
	limitsByTenant := make(map[string]map[domain.ResourceType]int64)
	reset := 0
	for _, counter := range due {
		limits, ok := limitsByTenant[counter.TenantID]
		if !ok {
			limits, err = s.resolver.GetPlanLimits(ctx, counter.TenantID)
			if err != nil {
				s.log.Warn("skip counter rollover, plan limits unavailable",
					zap.String("tenant_id", counter.TenantID),
					zap.Error(err),
				)
				continue
			}
			limitsByTenant[counter.TenantID] = limits
		}

		ok, err := s.repo.Reset(ctx, s.db, counter.ID, counter.Version, s.limitFor(counter.TenantID, counter.ResourceType, limits), next, now)
		if err != nil {
			return reset, storageErr(err)
		}
		if ok {
			reset++
			s.metrics.RecordCounterReset(ctx, counter.ResourceType.String(), triggerSweep)
		}
	}
	return reset, nil
}

// limitFor returns 0 for resource types the plan does not price, which denies them.
func (s *Service) limitFor(tenantID string, resourceType domain.ResourceType, limits map[domain.ResourceType]int64) int64 {
	limit, ok := limits[resourceType]
	if !ok {
		s.log.Warn("plan has no limit for resource type",
			zap.String("tenant_id", tenantID),
			zap.String("resource_type", resourceType.String()),
		)
		return 0
	}
	return limit
}

func evaluate(resourceType domain.ResourceType, current, limit int64, resetAt time.Time) domain.CheckResult {
	result := domain.CheckResult{
		ResourceType: resourceType,
		Current:      current,
		Limit:        limit,
		ResetAt:      resetAt,
	}
	if limit == domain.Unlimited {
		result.Allowed = true
		result.RemainingPercentage = 100
		return result
	}

	result.Allowed = current < limit
	if limit > 0 {
		remaining := math.Round((1 - float64(current)/float64(limit)) * 100)
		result.RemainingPercentage = int(math.Max(0, remaining))
	}
	return result
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrStorage, err)
}
