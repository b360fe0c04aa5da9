package outbox

import (
	"github.com/smallbiznis/tixgate/internal/outbox/repository"
	"github.com/smallbiznis/tixgate/internal/outbox/service"
	"go.uber.org/fx"
)

var Module = fx.Module("outbox.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.ConfigFromApp),
	fx.Provide(service.NewService),
)
