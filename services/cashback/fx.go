package cashback

import "go.uber.org/fx"

var Module = fx.Module("cashback",
	fx.Provide(NewEvaluator),
)
