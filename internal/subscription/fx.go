package subscription

import (
	"github.com/revaiconcierge/concierge/internal/subscription/domain"
	"github.com/revaiconcierge/concierge/internal/subscription/repository"
	"github.com/revaiconcierge/concierge/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s domain.Service) domain.Lookup { return s }),
)
