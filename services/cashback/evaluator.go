package cashback

import (
	"context"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"loyaltyplane/services/program"
)

// SpendHistory supplies a client's cumulative completed spend inside a
// window. Implemented by the payment service; wired through fx so this
// package stays free of a payment import.
type SpendHistory interface {
	SumCompletedAmount(ctx context.Context, clientID string, from, to time.Time) (int64, error)
}

// Evaluation is the outcome of matching one payment moment against the
// cashback program set. When Applies is false but ProgramID is set, a
// program was selected yet a gate (schedule or minimum spend) suppressed
// earning; redemption rules of the selected program still apply.
type Evaluation struct {
	Applies bool

	ProgramID   string
	ProgramName string

	Kind          program.CashbackKind
	BaseRate      int64
	ExtraRate     int64
	EffectiveRate int64
	Tier          *program.CashbackTier

	MinSpendAmount       int64
	RedeemLimitPercent   int
	BonusLifespanDays    *int
	PointsSpendThreshold *int64
}

// Bonus computes the accrual for a spend amount using the effective rate.
// Both formulas floor: partial units never earn.
func (e *Evaluation) Bonus(amount int64) int64 {
	if !e.Applies || amount <= 0 {
		return 0
	}
	switch e.Kind {
	case program.CashbackPercentage:
		return amount * e.EffectiveRate / 100
	case program.CashbackBonusPoints:
		if e.PointsSpendThreshold == nil || *e.PointsSpendThreshold <= 0 {
			return 0
		}
		return amount / *e.PointsSpendThreshold * e.EffectiveRate
	default:
		return 0
	}
}

// Evaluator selects the cashback program in force at a payment moment and
// resolves the client's tier from cumulative spend.
type Evaluator struct {
	repo    program.Repository
	history SpendHistory
}

type EvaluatorParams struct {
	fx.In

	DB      *gorm.DB
	History SpendHistory
}

func NewEvaluator(p EvaluatorParams) *Evaluator {
	return &Evaluator{
		repo:    program.NewRepository(p.DB),
		history: p.History,
	}
}

// Evaluate picks the program governing a payment at `at` for the client.
// A dated program whose window covers the moment beats an always-on one;
// the resolver guarantees at most one dated window covers any instant.
func (e *Evaluator) Evaluate(ctx context.Context, clientID string, amount int64, at time.Time) (Evaluation, error) {
	candidates, err := e.repo.List(ctx, program.ListParams{
		Type:     program.TypeCashback,
		Statuses: []program.ProgramStatus{program.StatusActive},
	})
	if err != nil {
		return Evaluation{}, err
	}

	var selected *program.RewardProgram
	for i := range candidates {
		p := &candidates[i]
		if !p.WindowContains(at) {
			continue
		}
		if selected == nil || (selected.AlwaysOn() && !p.AlwaysOn()) {
			selected = p
		}
	}
	if selected == nil || selected.CashbackRule == nil {
		return Evaluation{}, nil
	}

	rule := selected.CashbackRule
	ev := Evaluation{
		ProgramID:            selected.ID,
		ProgramName:          selected.Name,
		Kind:                 rule.Kind,
		BaseRate:             rule.Value,
		MinSpendAmount:       rule.MinSpendAmount,
		RedeemLimitPercent:   rule.RedeemLimitPercent,
		BonusLifespanDays:    rule.BonusLifespanDays,
		PointsSpendThreshold: rule.PointsSpendThreshold,
	}

	// Gates leave the selected program visible so redemption still honours
	// its redeem limit even when no bonus is earned.
	if !program.ScheduleAllows(selected.Schedule, at) {
		return ev, nil
	}
	if rule.MinSpendAmount > 0 && amount < rule.MinSpendAmount {
		return ev, nil
	}

	ev.Applies = true
	ev.EffectiveRate = rule.Value

	if len(selected.CashbackTiers) > 0 && selected.StartDate != nil {
		spend, err := e.history.SumCompletedAmount(ctx, clientID, *selected.StartDate, at)
		if err != nil {
			return Evaluation{}, err
		}
		for i := range selected.CashbackTiers {
			t := &selected.CashbackTiers[i]
			if t.Contains(spend) {
				ev.Tier = t
				ev.ExtraRate = t.ExtraRate
				ev.EffectiveRate = rule.Value + t.ExtraRate
				break
			}
		}
	}

	return ev, nil
}
