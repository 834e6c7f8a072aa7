package usagemetric

import (
	"github.com/revaiconcierge/concierge/internal/usagemetric/repository"
	"github.com/revaiconcierge/concierge/internal/usagemetric/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usagemetric.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
