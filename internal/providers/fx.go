package providers

import (
	"github.com/smallbiznis/tixgate/internal/providers/amqp"
	"github.com/smallbiznis/tixgate/internal/providers/email"
	"github.com/smallbiznis/tixgate/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	slack.Module,
	amqp.Module,
)
