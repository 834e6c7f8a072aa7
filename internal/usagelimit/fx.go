package usagelimit

import (
	"github.com/revaiconcierge/concierge/internal/usagelimit/repository"
	"github.com/revaiconcierge/concierge/internal/usagelimit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usagelimit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(service.RegisterSweeper),
)
