package grant

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"loyaltyplane/pkg/config"
)

// Scheduler enqueues the birthday distribution task once a day at the
// configured hour.
type Scheduler struct {
	asynq *asynq.Client
	cfg   *config.Config
}

func NewScheduler(client *asynq.Client, cfg *config.Config) *Scheduler {
	return &Scheduler{asynq: client, cfg: cfg}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("birthday scheduler started")

	for {
		now := time.Now()
		next := nextRunTime(now, s.cfg.Sweep.BirthdayHour, 0)

		select {
		case <-time.After(next.Sub(now)):
			s.enqueue(ctx)
		case <-ctx.Done():
			zap.L().Warn("birthday scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context) {
	task, err := NewBirthdayTask(time.Now())
	if err != nil {
		zap.L().Error("failed to build birthday task", zap.Error(err))
		return
	}

	info, err := s.asynq.EnqueueContext(ctx, task, asynq.Queue(s.cfg.Sweep.BirthdayQueue))
	if err != nil {
		zap.L().Error("failed to enqueue birthday task", zap.Error(err))
		return
	}
	zap.L().Info("enqueued birthday task", zap.String("task_id", info.ID))
}

// nextRunTime computes the next daily occurrence of hour:minute.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
