package service

import (
	"context"
	"errors"
	"strings"

	"github.com/revaiconcierge/concierge/internal/config"
	plandomain "github.com/revaiconcierge/concierge/internal/plan/domain"
	subscriptiondomain "github.com/revaiconcierge/concierge/internal/subscription/domain"
	usagelimitdomain "github.com/revaiconcierge/concierge/internal/usagelimit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const bytesPerMB = int64(1024 * 1024)

// Limits used when neither the tenant's plan nor the free plan supplies a value.
var fallbackLimits = map[usagelimitdomain.ResourceType]int64{
	usagelimitdomain.ResourceAPICalls:  100,
	usagelimitdomain.ResourceStorage:   100 * bytesPerMB,
	usagelimitdomain.ResourceLocations: 1,
	usagelimitdomain.ResourceUsers:     1,
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	Catalog plandomain.Catalog
	Lookup  subscriptiondomain.Lookup
}

type Service struct {
	plandomain.Catalog

	log         *zap.Logger
	lookup      subscriptiondomain.Lookup
	defaultCode string
}

func New(p Params) plandomain.Service {
	defaultCode := strings.TrimSpace(p.Cfg.Usage.DefaultPlanCode)
	if defaultCode == "" {
		defaultCode = plandomain.FreePlanCode
	}
	return &Service{
		Catalog:     p.Catalog,
		log:         p.Log.Named("plan.service"),
		lookup:      p.Lookup,
		defaultCode: defaultCode,
	}
}

func (s *Service) GetPlan(ctx context.Context, tenantID string) (plandomain.Plan, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return plandomain.Plan{}, plandomain.ErrInvalidTenant
	}

	plan, ok, err := s.subscribedPlan(ctx, tenantID)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if ok {
		return plan, nil
	}
	if plan, ok := s.Get(s.defaultCode); ok {
		return plan, nil
	}
	return plandomain.Plan{}, plandomain.ErrPlanNotFound
}

// GetPlanLimits implements usagelimitdomain.LimitResolver.
func (s *Service) GetPlanLimits(ctx context.Context, tenantID string) (map[usagelimitdomain.ResourceType]int64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, plandomain.ErrInvalidTenant
	}

	plan, ok, err := s.subscribedPlan(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		plan, ok = s.Get(s.defaultCode)
	}
	if !ok {
		return copyLimits(fallbackLimits), nil
	}
	return limitsFor(plan.Limits), nil
}

// subscribedPlan resolves the plan of the tenant's active subscription. ok is false when the
// tenant has no active subscription or it points at a plan the catalog no longer offers.
func (s *Service) subscribedPlan(ctx context.Context, tenantID string) (plandomain.Plan, bool, error) {
	sub, err := s.lookup.GetActiveByTenantID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return plandomain.Plan{}, false, nil
		}
		return plandomain.Plan{}, false, err
	}

	plan, ok := s.Get(sub.PlanCode)
	if !ok {
		s.log.Warn("subscription references unknown plan",
			zap.String("tenant_id", tenantID),
			zap.String("plan_code", sub.PlanCode),
		)
		return plandomain.Plan{}, false, nil
	}
	return plan, true, nil
}

// limitsFor treats a zero plan value as absent and falls back to the minimal defaults.
func limitsFor(l plandomain.Limits) map[usagelimitdomain.ResourceType]int64 {
	storage := orDefault(l.StorageMB, 100)
	if storage != usagelimitdomain.Unlimited {
		storage *= bytesPerMB
	}
	return map[usagelimitdomain.ResourceType]int64{
		usagelimitdomain.ResourceAPICalls:  orDefault(l.APICallsPerDay, fallbackLimits[usagelimitdomain.ResourceAPICalls]),
		usagelimitdomain.ResourceStorage:   storage,
		usagelimitdomain.ResourceLocations: orDefault(l.Locations, fallbackLimits[usagelimitdomain.ResourceLocations]),
		usagelimitdomain.ResourceUsers:     orDefault(l.Users, fallbackLimits[usagelimitdomain.ResourceUsers]),
	}
}

func orDefault(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

func copyLimits(src map[usagelimitdomain.ResourceType]int64) map[usagelimitdomain.ResourceType]int64 {
	out := make(map[usagelimitdomain.ResourceType]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
