package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/revaiconcierge/concierge/internal/cache"
	"github.com/revaiconcierge/concierge/internal/clock"
	"github.com/revaiconcierge/concierge/internal/config"
	"github.com/revaiconcierge/concierge/internal/migration"
	"github.com/revaiconcierge/concierge/internal/observability"
	"github.com/revaiconcierge/concierge/internal/server"
	"github.com/revaiconcierge/concierge/pkg/db"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
