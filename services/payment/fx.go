package payment

import (
	"go.uber.org/fx"

	"loyaltyplane/services/cashback"
)

var Module = fx.Module("payment",
	fx.Provide(
		NewService,
		func(h *History) cashback.SpendHistory { return h },
		NewHistory,
	),
)
