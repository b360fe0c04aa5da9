package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/authorization"
	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/config"
	"github.com/smallbiznis/tixgate/internal/entitlement"
	"github.com/smallbiznis/tixgate/internal/eventlog"
	"github.com/smallbiznis/tixgate/internal/observability"
	"github.com/smallbiznis/tixgate/internal/outbox"
	"github.com/smallbiznis/tixgate/internal/ratelimit"
	"github.com/smallbiznis/tixgate/internal/scheduler"
	"github.com/smallbiznis/tixgate/internal/slo"
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
		ratelimit.Module,

		// Domain services required by scheduler
		authorization.Module,
		eventlog.Module,
		outbox.Module,
		entitlement.Module,
		slo.Module,

		// No server module
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
