package slo

import "go.uber.org/fx"

var Module = fx.Module("slo",
	fx.Provide(NewReporter),
	fx.Provide(NewPusher),
	fx.Provide(NewPublisher),
)
