package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/authorization"
	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/config"
	"github.com/smallbiznis/tixgate/internal/entitlement"
	"github.com/smallbiznis/tixgate/internal/eventlog"
	"github.com/smallbiznis/tixgate/internal/ledger"
	"github.com/smallbiznis/tixgate/internal/migration"
	"github.com/smallbiznis/tixgate/internal/notification"
	"github.com/smallbiznis/tixgate/internal/observability"
	"github.com/smallbiznis/tixgate/internal/outbox"
	"github.com/smallbiznis/tixgate/internal/outbox/delivery"
	"github.com/smallbiznis/tixgate/internal/payment"
	"github.com/smallbiznis/tixgate/internal/providers"
	"github.com/smallbiznis/tixgate/internal/ratelimit"
	"github.com/smallbiznis/tixgate/internal/scheduler"
	"github.com/smallbiznis/tixgate/internal/server"
	"github.com/smallbiznis/tixgate/internal/slo"
	"github.com/smallbiznis/tixgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,
		authorization.Module,

		// Domain
		eventlog.Module,
		outbox.Module,
		entitlement.Module,
		ledger.Module,
		payment.Module,
		notification.Module,
		slo.Module,

		// Background work
		providers.Module,
		delivery.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
