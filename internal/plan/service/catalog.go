package service

import (
	"sort"
	"strings"

	"github.com/revaiconcierge/concierge/internal/config"
	plandomain "github.com/revaiconcierge/concierge/internal/plan/domain"
)

type catalog struct {
	holder *config.PlanCatalogHolder
}

// NewCatalog reads plans from the holder on every call so reloads apply immediately.
func NewCatalog(holder *config.PlanCatalogHolder) plandomain.Catalog {
	return &catalog{holder: holder}
}

func (c *catalog) Get(code string) (plandomain.Plan, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return plandomain.Plan{}, false
	}
	for _, def := range c.holder.Get().Plans {
		if def.Code == code && !def.Disabled {
			return toPlan(def), true
		}
	}
	return plandomain.Plan{}, false
}

func (c *catalog) List() []plandomain.Plan {
	defs := c.holder.Get().Plans
	plans := make([]plandomain.Plan, 0, len(defs))
	for _, def := range defs {
		if def.Disabled {
			continue
		}
		plans = append(plans, toPlan(def))
	}
	sort.SliceStable(plans, func(i, j int) bool {
		return plans[i].MonthlyPrice < plans[j].MonthlyPrice
	})
	return plans
}

func toPlan(def config.PlanDefinition) plandomain.Plan {
	features := make([]string, len(def.Features))
	copy(features, def.Features)
	return plandomain.Plan{
		Code:         def.Code,
		Name:         def.Name,
		Description:  def.Description,
		MonthlyPrice: def.MonthlyPrice,
		AnnualPrice:  def.AnnualPrice,
		Currency:     def.Currency,
		Features:     features,
		Limits: plandomain.Limits{
			Users:             def.Limits.Users,
			Locations:         def.Limits.Locations,
			APICallsPerDay:    def.Limits.APICallsPerDay,
			AIRepliesPerMonth: def.Limits.AIRepliesPerMonth,
			ReviewsPerMonth:   def.Limits.ReviewsPerMonth,
			StorageMB:         def.Limits.StorageMB,
		},
	}
}
