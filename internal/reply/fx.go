package reply

import (
	"github.com/revaiconcierge/concierge/internal/reply/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reply.service",
	fx.Provide(service.NewChatClient),
	fx.Provide(service.New),
)
