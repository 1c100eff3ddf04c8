package grant

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"loyaltyplane/pkg/clock"
	"loyaltyplane/pkg/db/option"
	"loyaltyplane/pkg/repository"
	"loyaltyplane/services/client"
	"loyaltyplane/services/ledger"
	"loyaltyplane/services/program"
)

// Service issues welcome, first-payment, and birthday grants. A grant is
// an Award row plus one ledger credit inside the same transaction; the
// award's unique key makes every trigger idempotent.
type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   clock.Clock
	ledger  *ledger.Service
	clients *client.Service

	programs program.Repository
	awards   repository.Repository[Award]
}

type ServiceParams struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Clock   clock.Clock
	Ledger  *ledger.Service
	Clients *client.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		clock:   p.Clock,
		ledger:  p.Ledger,
		clients: p.Clients,

		programs: program.NewRepository(p.DB),
		awards:   repository.ProvideStore[Award](p.DB),
	}
}

// OnClientJoined issues the grants of every active ON_JOIN program to a
// freshly registered client. A program whose date window has already
// closed no longer grants even while its status is still ACTIVE.
func (s *Service) OnClientJoined(ctx context.Context, clientID string) error {
	programs, err := s.programs.ListActiveByTrigger(ctx, program.TriggerOnJoin)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for i := range programs {
		if !programs[i].WindowContains(now) {
			continue
		}
		if err := s.issue(ctx, nil, &programs[i], clientID, ""); err != nil {
			return err
		}
	}
	return nil
}

// FirstPayOutcome reports what the first-payment trigger did. When a
// WELCOME_ONLY program granted, the payment that triggered it earns no
// cashback.
type FirstPayOutcome struct {
	Granted          bool
	SuppressCashback bool
}

// OnFirstPaymentTx runs inside the payment completion transaction. The
// conditional first_paid_at update decides exactly one winning payment per
// client.
func (s *Service) OnFirstPaymentTx(ctx context.Context, tx *gorm.DB, clientID string) (FirstPayOutcome, error) {
	var outcome FirstPayOutcome

	first, err := s.clients.MarkFirstPaid(ctx, tx, clientID, s.clock.Now())
	if err != nil {
		return outcome, err
	}
	if !first {
		return outcome, nil
	}

	programs, err := s.programs.WithTrx(tx).ListActiveByTrigger(ctx, program.TriggerOnFirstPay)
	if err != nil {
		return outcome, err
	}

	now := s.clock.Now()
	for i := range programs {
		p := &programs[i]
		if !p.WindowContains(now) {
			continue
		}
		if err := s.issue(ctx, tx, p, clientID, ""); err != nil {
			return outcome, err
		}
		outcome.Granted = true
		if p.WelcomeRule.FirstPayMode != nil && *p.WelcomeRule.FirstPayMode == program.FirstPayWelcomeOnly {
			outcome.SuppressCashback = true
		}
	}

	return outcome, nil
}

// RunBirthdayDistribution grants every active ON_BIRTHDAY program to the
// clients whose birthday falls on the given day. The year period key
// limits each client to one birthday grant per program per year.
func (s *Service) RunBirthdayDistribution(ctx context.Context, day time.Time) error {
	candidates, err := s.programs.ListActiveByTrigger(ctx, program.TriggerOnBirthday)
	if err != nil {
		return err
	}
	programs := make([]program.RewardProgram, 0, len(candidates))
	for _, p := range candidates {
		if p.WindowContains(day) {
			programs = append(programs, p)
		}
	}
	if len(programs) == 0 {
		return nil
	}

	celebrants, err := s.clients.ListWithBirthdayOn(ctx, day)
	if err != nil {
		return err
	}

	periodKey := fmt.Sprintf("%d", day.Year())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range celebrants {
		c := celebrants[i]
		g.Go(func() error {
			for j := range programs {
				if err := s.issue(gctx, nil, &programs[j], c.ID, periodKey); err != nil {
					zap.L().Error("birthday grant failed",
						zap.String("client_id", c.ID),
						zap.String("program_id", programs[j].ID),
						zap.Error(err))
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// issue creates the award and its ledger credit atomically. An existing
// award for the same (program, client, period) makes this a no-op.
func (s *Service) issue(ctx context.Context, tx *gorm.DB, p *program.RewardProgram, clientID, periodKey string) error {
	rule := p.WelcomeRule
	if rule == nil {
		return nil
	}

	run := func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)
		awardsTx := s.awards.WithTrx(tx)

		existing, err := awardsTx.FindOne(ctx, &Award{
			ProgramID: p.ID,
			ClientID:  clientID,
			PeriodKey: periodKey,
		})
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		awardID := s.node.Generate().String()
		var expiresAt *time.Time
		if rule.BonusLifespanDays != nil {
			t := s.clock.Now().AddDate(0, 0, *rule.BonusLifespanDays)
			expiresAt = &t
		}

		entry, err := s.ledger.CreditTx(ctx, tx, ledger.EntryParams{
			ClientID:    clientID,
			Kind:        ledger.KindGrant,
			Amount:      rule.GrantValue,
			ReferenceID: fmt.Sprintf("grant:%s:%s:%s", p.ID, clientID, periodKey),
			Description: fmt.Sprintf("%s grant (%s)", rule.GrantTrigger, p.Name),
			ExpiresAt:   expiresAt,
			Metadata: map[string]any{
				"program_id": p.ID,
				"grant_kind": rule.GrantKind,
			},
		})
		if err != nil {
			return err
		}

		return awardsTx.Create(ctx, &Award{
			ID:            awardID,
			ProgramID:     p.ID,
			ClientID:      clientID,
			PeriodKey:     periodKey,
			LedgerEntryID: entry.ID,
			Amount:        rule.GrantValue,
			CreatedAt:     s.clock.Now(),
		})
	}

	if tx != nil {
		return run(tx)
	}
	return s.db.Transaction(run)
}
