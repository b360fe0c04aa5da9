package payment

import (
	"github.com/smallbiznis/tixgate/internal/payment/adapters"
	"github.com/smallbiznis/tixgate/internal/payment/adapters/adyen"
	"github.com/smallbiznis/tixgate/internal/payment/adapters/braintree"
	"github.com/smallbiznis/tixgate/internal/payment/adapters/generic"
	"github.com/smallbiznis/tixgate/internal/payment/adapters/stripe"
	"github.com/smallbiznis/tixgate/internal/payment/repository"
	paymentservice "github.com/smallbiznis/tixgate/internal/payment/service"
	"github.com/smallbiznis/tixgate/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			generic.NewFactory(),
			stripe.NewFactory(),
			adyen.NewFactory(),
			braintree.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
