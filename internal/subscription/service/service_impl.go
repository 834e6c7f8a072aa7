package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/revaiconcierge/concierge/internal/cache"
	"github.com/revaiconcierge/concierge/internal/clock"
	plandomain "github.com/revaiconcierge/concierge/internal/plan/domain"
	subscriptiondomain "github.com/revaiconcierge/concierge/internal/subscription/domain"
	"github.com/revaiconcierge/concierge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo    subscriptiondomain.Repository
	cache   cache.SubscriptionCache
	catalog plandomain.Catalog
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	Cache   cache.SubscriptionCache
	Catalog plandomain.Catalog
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		genID: p.GenID,
		clock: p.Clock,

		repo:    p.Repo,
		cache:   p.Cache,
		catalog: p.Catalog,
	}
}

// GetActiveByTenantID implements domain.Lookup. Hits are served from the cache.
func (s *Service) GetActiveByTenantID(ctx context.Context, tenantID string) (subscriptiondomain.Subscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}

	if cached, ok := s.cache.GetActiveSubscription(ctx, tenantID); ok {
		return cached, nil
	}

	item, err := s.repo.FindActiveByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if item == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}

	s.cache.SetActiveSubscription(ctx, tenantID, *item)
	return *item, nil
}

func (s *Service) GetByTenantID(ctx context.Context, tenantID string) (subscriptiondomain.Subscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}

	item, err := s.repo.FindByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if item == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *item, nil
}

// Upsert applies a subscription signal from the payment provider.
func (s *Service) Upsert(ctx context.Context, req subscriptiondomain.UpsertRequest) (subscriptiondomain.Subscription, error) {
	return s.upsert(ctx, req, true)
}

func (s *Service) upsert(ctx context.Context, req subscriptiondomain.UpsertRequest, retryOnConflict bool) (subscriptiondomain.Subscription, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}
	planCode, err := s.validatePlan(req.PlanCode)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	status := req.Status
	if status == "" {
		status = subscriptiondomain.SubscriptionStatusActive
	}
	if !status.Valid() {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidStatus
	}
	cycle := req.BillingCycle
	if cycle == "" {
		cycle = subscriptiondomain.BillingCycleMonthly
	}
	if !cycle.Valid() {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidBillingCycle
	}
	if req.CurrentPeriodStart != nil && req.CurrentPeriodEnd != nil && !req.CurrentPeriodEnd.After(*req.CurrentPeriodStart) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidPeriod
	}

	now := s.clock.Now().UTC()
	apply := func(sub *subscriptiondomain.Subscription) {
		sub.PlanCode = planCode
		sub.Status = status
		sub.BillingCycle = cycle
		sub.CurrentPeriodStart = utcPtr(req.CurrentPeriodStart)
		sub.CurrentPeriodEnd = utcPtr(req.CurrentPeriodEnd)
		sub.CancelAtPeriodEnd = req.CancelAtPeriodEnd
		sub.PaymentProvider = strings.TrimSpace(req.PaymentProvider)
		sub.PaymentProviderSubscriptionID = strings.TrimSpace(req.PaymentProviderSubscriptionID)
		if req.Metadata != nil {
			sub.Metadata = datatypes.JSONMap(req.Metadata)
		}
		if status == subscriptiondomain.SubscriptionStatusCanceled && sub.CanceledAt == nil {
			sub.CanceledAt = &now
		}
		if status != subscriptiondomain.SubscriptionStatusCanceled {
			sub.CanceledAt = nil
		}
		sub.UpdatedAt = now
	}

	var result subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByTenantID(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if existing != nil {
			apply(existing)
			if err := s.repo.Update(ctx, tx, existing); err != nil {
				return err
			}
			result = *existing
			return nil
		}

		sub := subscriptiondomain.Subscription{
			ID:        s.genID.Generate(),
			TenantID:  tenantID,
			CreatedAt: now,
		}
		apply(&sub)
		if err := s.repo.Insert(ctx, tx, &sub); err != nil {
			return err
		}
		result = sub
		return nil
	})
	if err != nil && retryOnConflict && db.IsDuplicateKeyErr(err) {
		// A concurrent signal created the row first; retry as an update.
		return s.upsert(ctx, req, false)
	}
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.cache.Invalidate(ctx, tenantID)
	s.log.Info("subscription upserted",
		zap.String("tenant_id", tenantID),
		zap.String("plan_code", result.PlanCode),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

func (s *Service) ChangePlan(ctx context.Context, req subscriptiondomain.ChangePlanRequest) (subscriptiondomain.Subscription, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}
	planCode, err := s.validatePlan(req.PlanCode)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if req.BillingCycle != "" && !req.BillingCycle.Valid() {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidBillingCycle
	}

	existing, err := s.repo.FindByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if existing == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	if existing.Status == subscriptiondomain.SubscriptionStatusCanceled {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionCanceled
	}

	previous := existing.PlanCode
	existing.PlanCode = planCode
	if req.BillingCycle != "" {
		existing.BillingCycle = req.BillingCycle
	}
	existing.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Update(ctx, s.db, existing); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.cache.Invalidate(ctx, tenantID)
	s.log.Info("subscription plan changed",
		zap.String("tenant_id", tenantID),
		zap.String("from_plan", previous),
		zap.String("to_plan", planCode),
	)
	return *existing, nil
}

func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelRequest) (subscriptiondomain.Subscription, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTenant
	}

	existing, err := s.repo.FindByTenantID(ctx, s.db, tenantID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if existing == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	if existing.Status == subscriptiondomain.SubscriptionStatusCanceled {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionCanceled
	}

	now := s.clock.Now().UTC()
	if req.Immediately {
		existing.Status = subscriptiondomain.SubscriptionStatusCanceled
		existing.CanceledAt = &now
		existing.CancelAtPeriodEnd = false
	} else {
		existing.CancelAtPeriodEnd = true
	}
	existing.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, existing); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.cache.Invalidate(ctx, tenantID)
	s.log.Info("subscription canceled",
		zap.String("tenant_id", tenantID),
		zap.Bool("immediately", req.Immediately),
	)
	return *existing, nil
}

func (s *Service) validatePlan(code string) (string, error) {
	plan, ok := s.catalog.Get(code)
	if !ok {
		return "", subscriptiondomain.ErrInvalidPlan
	}
	return plan.Code, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
