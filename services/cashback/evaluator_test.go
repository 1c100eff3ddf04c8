package cashback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"loyaltyplane/services/program"
	"loyaltyplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type historyStub struct {
	sumFn func(ctx context.Context, clientID string, from, to time.Time) (int64, error)
}

func (h *historyStub) SumCompletedAmount(ctx context.Context, clientID string, from, to time.Time) (int64, error) {
	if h.sumFn != nil {
		return h.sumFn(ctx, clientID, from, to)
	}
	return 0, nil
}

func newTestEvaluator(t *testing.T, spend int64) (*Evaluator, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&program.RewardProgram{},
		&program.CashbackRule{},
		&program.CashbackTier{},
		&program.WeeklyScheduleEntry{},
		&program.WelcomeRule{},
	)
	ev := NewEvaluator(EvaluatorParams{
		DB: db,
		History: &historyStub{
			sumFn: func(context.Context, string, time.Time, time.Time) (int64, error) {
				return spend, nil
			},
		},
	})
	return ev, db
}

var evalAt = time.Date(2026, 6, 15, 14, 0, 0, 0, time.UTC)

func seedCashback(t *testing.T, db *gorm.DB, id string, rule program.CashbackRule, tiers []program.CashbackTier, schedule []program.WeeklyScheduleEntry, start time.Time, end *time.Time) {
	t.Helper()

	rule.ID = id + "-rule"
	rule.ProgramID = id
	p := &program.RewardProgram{
		ID:        id,
		Type:      program.TypeCashback,
		Status:    program.StatusActive,
		Name:      id,
		StartDate: &start,
		EndDate:   end,
	}
	require.NoError(t, db.Create(p).Error)
	require.NoError(t, db.Create(&rule).Error)
	for i := range tiers {
		tiers[i].ID = id + "-tier-" + tiers[i].Name
		tiers[i].ProgramID = id
		require.NoError(t, db.Create(&tiers[i]).Error)
	}
	for i := range schedule {
		schedule[i].ID = id + "-sched"
		schedule[i].ProgramID = id
		require.NoError(t, db.Create(&schedule[i]).Error)
	}
}

func TestEvaluatePercentageAccrual(t *testing.T) {
	ev, db := newTestEvaluator(t, 0)
	seedCashback(t, db, "p1", program.CashbackRule{
		Kind: program.CashbackPercentage, Value: 5,
		MinSpendAmount: 1000, RedeemLimitPercent: 50,
	}, nil, nil, evalAt.AddDate(0, -1, 0), nil)

	eval, err := ev.Evaluate(context.Background(), "c1", 2000, evalAt)
	require.NoError(t, err)
	require.True(t, eval.Applies)
	require.Equal(t, int64(5), eval.EffectiveRate)
	require.Equal(t, int64(100), eval.Bonus(2000))
}

func TestEvaluateTierRaisesRate(t *testing.T) {
	ev, db := newTestEvaluator(t, 3000)
	max := int64(5000)
	seedCashback(t, db, "p1", program.CashbackRule{
		Kind: program.CashbackPercentage, Value: 5,
		MinSpendAmount: 1000, RedeemLimitPercent: 50,
	}, []program.CashbackTier{
		{Name: "Silver", MinAmount: 0, MaxAmount: &max, ExtraRate: 2},
	}, nil, evalAt.AddDate(0, -1, 0), nil)

	eval, err := ev.Evaluate(context.Background(), "c1", 2000, evalAt)
	require.NoError(t, err)
	require.True(t, eval.Applies)
	require.NotNil(t, eval.Tier)
	require.Equal(t, "Silver", eval.Tier.Name)
	require.Equal(t, int64(7), eval.EffectiveRate)
	require.Equal(t, int64(140), eval.Bonus(2000))
}

func TestEvaluateMinSpendGate(t *testing.T) {
	ev, db := newTestEvaluator(t, 0)
	seedCashback(t, db, "p1", program.CashbackRule{
		Kind: program.CashbackPercentage, Value: 5,
		MinSpendAmount: 1000, RedeemLimitPercent: 50,
	}, nil, nil, evalAt.AddDate(0, -1, 0), nil)

	eval, err := ev.Evaluate(context.Background(), "c1", 500, evalAt)
	require.NoError(t, err)
	require.False(t, eval.Applies)
	// the program is still selected so redemption honours its redeem limit
	require.Equal(t, "p1", eval.ProgramID)
	require.Equal(t, 50, eval.RedeemLimitPercent)
	require.Zero(t, eval.Bonus(500))
}

func TestEvaluateScheduleGate(t *testing.T) {
	ev, db := newTestEvaluator(t, 0)
	startTime, endTime := "09:00", "12:00"
	seedCashback(t, db, "p1", program.CashbackRule{
		Kind: program.CashbackPercentage, Value: 5, RedeemLimitPercent: 100,
	}, nil, []program.WeeklyScheduleEntry{
		{Weekday: int(evalAt.Weekday()), Enabled: true, StartTime: &startTime, EndTime: &endTime},
	}, evalAt.AddDate(0, -1, 0), nil)

	// 14:00 falls outside 09:00-12:00
	eval, err := ev.Evaluate(context.Background(), "c1", 2000, evalAt)
	require.NoError(t, err)
	require.False(t, eval.Applies)
	require.Equal(t, "p1", eval.ProgramID)

	within := time.Date(evalAt.Year(), evalAt.Month(), evalAt.Day(), 10, 0, 0, 0, time.UTC)
	eval, err = ev.Evaluate(context.Background(), "c1", 2000, within)
	require.NoError(t, err)
	require.True(t, eval.Applies)
}

func TestEvaluateBonusPointsFloors(t *testing.T) {
	ev, db := newTestEvaluator(t, 0)
	threshold := int64(500)
	seedCashback(t, db, "p1", program.CashbackRule{
		Kind: program.CashbackBonusPoints, Value: 10,
		PointsSpendThreshold: &threshold, RedeemLimitPercent: 100,
	}, nil, nil, evalAt.AddDate(0, -1, 0), nil)

	eval, err := ev.Evaluate(context.Background(), "c1", 1799, evalAt)
	require.NoError(t, err)
	require.True(t, eval.Applies)
	// floor(1799/500) = 3 units, 10 points each
	require.Equal(t, int64(30), eval.Bonus(1799))
}

func TestEvaluateDatedBeatsAlwaysOn(t *testing.T) {
	ev, db := newTestEvaluator(t, 0)
	seedCashback(t, db, "evergreen", program.CashbackRule{
		Kind: program.CashbackPercentage, Value: 3, RedeemLimitPercent: 100,
	}, nil, nil, evalAt.AddDate(-1, 0, 0), nil)

	end := evalAt.AddDate(0, 0, 7)
	seedCashback(t, db, "promo", program.CashbackRule{
		Kind: program.CashbackPercentage, Value: 8, RedeemLimitPercent: 100,
	}, nil, nil, evalAt.AddDate(0, 0, -7), &end)

	eval, err := ev.Evaluate(context.Background(), "c1", 1000, evalAt)
	require.NoError(t, err)
	require.Equal(t, "promo", eval.ProgramID)
	require.Equal(t, int64(8), eval.EffectiveRate)

	// outside the promo window the always-on program takes over
	after := end.AddDate(0, 0, 1)
	eval, err = ev.Evaluate(context.Background(), "c1", 1000, after)
	require.NoError(t, err)
	require.Equal(t, "evergreen", eval.ProgramID)
	require.Equal(t, int64(3), eval.EffectiveRate)
}

func TestEvaluateNoProgram(t *testing.T) {
	ev, _ := newTestEvaluator(t, 0)

	eval, err := ev.Evaluate(context.Background(), "c1", 1000, evalAt)
	require.NoError(t, err)
	require.False(t, eval.Applies)
	require.Empty(t, eval.ProgramID)
}
