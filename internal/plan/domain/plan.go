package domain

import (
	"context"
	"errors"
	"math"
	"slices"

	usagelimitdomain "github.com/revaiconcierge/concierge/internal/usagelimit/domain"
)

const (
	FreePlanCode = "free"
	Unlimited    = int64(-1)
)

type Limits struct {
	Users             int64 `json:"users"`
	Locations         int64 `json:"locations"`
	APICallsPerDay    int64 `json:"api_calls_per_day"`
	AIRepliesPerMonth int64 `json:"ai_replies_per_month"`
	ReviewsPerMonth   int64 `json:"reviews_per_month"`
	StorageMB         int64 `json:"storage_mb"`
}

type Plan struct {
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	MonthlyPrice int64    `json:"monthly_price"`
	AnnualPrice  int64    `json:"annual_price"`
	Currency     string   `json:"currency"`
	Limits       Limits   `json:"limits"`
	Features     []string `json:"features"`
}

// PriceFor returns the price charged per billing cycle.
func (p Plan) PriceFor(cycle string) int64 {
	if cycle == "annual" {
		return p.AnnualPrice
	}
	return p.MonthlyPrice
}

// AnnualDiscountPercent compares the annual price against twelve monthly payments.
func (p Plan) AnnualDiscountPercent() int {
	if p.MonthlyPrice == 0 {
		return 0
	}
	monthlyTotal := float64(p.MonthlyPrice * 12)
	return int(math.Round((1 - float64(p.AnnualPrice)/monthlyTotal) * 100))
}

func (p Plan) HasFeature(feature string) bool {
	return slices.Contains(p.Features, feature)
}

type Catalog interface {
	Get(code string) (Plan, bool)
	// List returns enabled plans ordered by monthly price.
	List() []Plan
}

type Service interface {
	Catalog
	// GetPlan returns the plan the tenant is billed on, the free plan when none applies.
	GetPlan(ctx context.Context, tenantID string) (Plan, error)
	usagelimitdomain.LimitResolver
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrPlanNotFound  = errors.New("plan_not_found")
)
