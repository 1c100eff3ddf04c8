package grant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeBirthdayDistribution = "grant:distribute_birthday"

type BirthdayPayload struct {
	Day string `json:"day"` // YYYY-MM-DD
}

func NewBirthdayTask(day time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(BirthdayPayload{Day: day.Format(time.DateOnly)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBirthdayDistribution, payload), nil
}

// HandleBirthdayDistribution is the asynq handler for the daily birthday
// run. Re-delivery is safe: awards are keyed per year.
func HandleBirthdayDistribution(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload BirthdayPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}

		day, err := time.Parse(time.DateOnly, payload.Day)
		if err != nil {
			return fmt.Errorf("invalid day %q: %w", payload.Day, err)
		}

		zapLog := zap.L().With(
			zap.String("task_type", t.Type()),
			zap.String("day", payload.Day),
		)
		zapLog.Info("start birthday distribution")

		if err := svc.RunBirthdayDistribution(ctx, day); err != nil {
			zapLog.Error("birthday distribution failed", zap.Error(err))
			return err
		}

		zapLog.Info("birthday distribution finished")
		return nil
	}
}

func registerBirthdayHandler(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(TypeBirthdayDistribution, HandleBirthdayDistribution(svc))
}
