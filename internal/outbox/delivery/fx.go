package delivery

import (
	"context"

	"github.com/smallbiznis/tixgate/internal/config"
	amqpprovider "github.com/smallbiznis/tixgate/internal/providers/amqp"
	"github.com/smallbiznis/tixgate/internal/providers/email"
	"github.com/smallbiznis/tixgate/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("outbox.delivery",
	fx.Provide(ConfigFromApp),
	fx.Provide(config.NewDeliveryRoutesHolder),
	fx.Provide(newRouter),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

type routerParams struct {
	fx.In

	Routes    *config.DeliveryRoutesHolder
	Log       *zap.Logger
	Email     email.Provider
	Slack     slack.Provider
	Publisher amqpprovider.Publisher
}

func newRouter(p routerParams) *Router {
	return NewRouter(p.Routes,
		NewEmailExecutor(p.Email),
		NewSlackExecutor(p.Slack),
		NewAMQPExecutor(p.Publisher),
		NewLogExecutor(p.Log),
	)
}

func runWorker(lc fx.Lifecycle, worker *Worker, cfg Config, log *zap.Logger) {
	if !cfg.Enabled {
		log.Info("outbox delivery worker disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go worker.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
