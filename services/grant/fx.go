package grant

import "go.uber.org/fx"

var Module = fx.Module("grant",
	fx.Provide(
		NewService,
		NewScheduler,
	),
	fx.Invoke(
		registerBirthdayHandler,
		StartScheduler,
	),
)
