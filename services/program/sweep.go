package program

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"loyaltyplane/pkg/config"
)

// Sweeper periodically promotes SCHEDULED programs whose start time has
// arrived. Promotion is a single conditional UPDATE, so overlapping runs
// (or a second instance) never double-promote.
type Sweeper struct {
	service  *Service
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(service *Service, cfg *config.Config) *Sweeper {
	return &Sweeper{
		service:  service,
		interval: cfg.Sweep.Interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	promoted, err := s.service.repo.PromoteDue(ctx, s.service.clock.Now())
	if err != nil {
		zap.L().Error("scheduled program sweep failed", zap.Error(err))
		return
	}
	if promoted > 0 {
		zap.L().Info("promoted scheduled programs", zap.Int64("count", promoted))
	}
}

func registerSweeper(lc fx.Lifecycle, sweeper *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}
