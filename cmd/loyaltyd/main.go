package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	pkgasynq "loyaltyplane/pkg/asynq"
	"loyaltyplane/pkg/clock"
	"loyaltyplane/pkg/config"
	"loyaltyplane/pkg/db"
	"loyaltyplane/pkg/logger"
	"loyaltyplane/pkg/redis"
	"loyaltyplane/pkg/sequence"

	"loyaltyplane/internal/httpapi"
	"loyaltyplane/internal/server"

	"loyaltyplane/services/cashback"
	"loyaltyplane/services/client"
	"loyaltyplane/services/grant"
	"loyaltyplane/services/ledger"
	"loyaltyplane/services/payment"
	"loyaltyplane/services/program"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		pkgasynq.Client,
		pkgasynq.Server,
		sequence.Module,
		clock.Module,
		fx.Provide(provideSnowflakeNode),
		fx.Invoke(migrate),

		program.Module,
		cashback.Module,
		ledger.Module,
		client.Module,
		grant.Module,
		payment.Module,

		httpapi.Module,
		server.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&program.RewardProgram{},
		&program.CashbackRule{},
		&program.CashbackTier{},
		&program.WeeklyScheduleEntry{},
		&program.WelcomeRule{},
		&client.Client{},
		&ledger.LedgerEntry{},
		&ledger.Balance{},
		&ledger.CreditPool{},
		&grant.Award{},
		&payment.DraftTransaction{},
	)
}
