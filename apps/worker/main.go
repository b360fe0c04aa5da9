package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/config"
	"github.com/smallbiznis/tixgate/internal/eventlog"
	"github.com/smallbiznis/tixgate/internal/observability"
	"github.com/smallbiznis/tixgate/internal/outbox"
	"github.com/smallbiznis/tixgate/internal/outbox/delivery"
	"github.com/smallbiznis/tixgate/internal/providers"
	"github.com/smallbiznis/tixgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		eventlog.Module,
		outbox.Module,
		providers.Module,

		// No server module
		delivery.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
