package program

import "go.uber.org/fx"

var Module = fx.Module("program",
	fx.Provide(
		NewService,
		NewSweeper,
	),
	fx.Invoke(registerSweeper),
)
