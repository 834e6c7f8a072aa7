package plan

import (
	"github.com/revaiconcierge/concierge/internal/plan/domain"
	"github.com/revaiconcierge/concierge/internal/plan/service"
	usagelimitdomain "github.com/revaiconcierge/concierge/internal/usagelimit/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(service.NewCatalog),
	fx.Provide(service.New),
	fx.Provide(func(s domain.Service) usagelimitdomain.LimitResolver { return s }),
)
