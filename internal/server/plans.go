package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	plandomain "github.com/revaiconcierge/concierge/internal/plan/domain"
)

type planView struct {
	plandomain.Plan
	AnnualDiscountPercent int `json:"annual_discount_percent"`
}

func (s *Server) ListPlans(c *gin.Context) {
	plans := s.planSvc.List()
	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, planView{Plan: p, AnnualDiscountPercent: p.AnnualDiscountPercent()})
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}

// GetCurrentPlan reports the plan the tenant is metered against, including the free fallback.
func (s *Server) GetCurrentPlan(c *gin.Context) {
	tenantID, _ := tenantIDFromGin(c)

	plan, err := s.planSvc.GetPlan(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": planView{Plan: plan, AnnualDiscountPercent: plan.AnnualDiscountPercent()}})
}
