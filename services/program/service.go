package program

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"loyaltyplane/pkg/clock"
	"loyaltyplane/pkg/db/option"
	"loyaltyplane/pkg/errutil"
	"loyaltyplane/pkg/sequence"
)

// Service owns the program lifecycle state machine. Every mutating
// operation re-validates exclusivity inside one locked transaction so a
// losing concurrent writer fails with a conflict instead of corrupting the
// per-type invariants.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	seq      sequence.Generator
	clock    clock.Clock
	repo     Repository
	resolver *Resolver
}

type ServiceParams struct {
	fx.In

	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
	Seq   sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	repo := NewRepository(p.DB)
	return &Service{
		db:       p.DB,
		node:     p.Node,
		seq:      p.Seq,
		clock:    p.Clock,
		repo:     repo,
		resolver: NewResolver(repo),
	}
}

func (s *Service) CreateDraft(ctx context.Context, typ ProgramType, name, description string) (*RewardProgram, error) {
	if !typ.Valid() {
		return nil, errutil.ValidationFailed("unknown program type", nil,
			errutil.WithDetails(errutil.Detail{Field: "type", Message: string(typ)}))
	}

	// Grant-style types carry at most one live program, so a second draft
	// could never launch; refuse early. Cashback allows dated programs side
	// by side with an always-on one, so drafts are always worth editing.
	if typ != TypeCashback {
		existing, err := s.repo.ListByTypeInStatuses(ctx, typ, liveStatuses, "")
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return nil, errutil.Conflict("an active or scheduled program of this type already exists", nil,
				errutil.WithDetails(errutil.Detail{Field: "type", Message: string(typ)}))
		}
	}

	p := &RewardProgram{
		ID:          s.node.Generate().String(),
		Type:        typ,
		Status:      StatusDraft,
		Name:        name,
		Description: description,
	}

	if s.seq != nil {
		code, err := s.seq.NextProgramCode(ctx)
		if err != nil {
			zap.L().Warn("failed to mint program code", zap.Error(err))
		} else {
			p.Code = code
		}
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateCashback replaces the cashback rule, tiers, and weekly schedule of
// a DRAFT cashback program.
func (s *Service) UpdateCashback(ctx context.Context, programID string, rule *CashbackRule, tiers []CashbackTier, schedule []WeeklyScheduleEntry) (*RewardProgram, error) {
	p, err := s.get(ctx, programID)
	if err != nil {
		return nil, err
	}
	if p.Type != TypeCashback {
		return nil, errutil.ValidationFailed("program is not a cashback program", nil)
	}
	if p.Status != StatusDraft {
		return nil, wrongStatus(p.Status, StatusDraft)
	}

	if err := ValidateCashbackSpec(rule, tiers, schedule); err != nil {
		return nil, err
	}

	rule.ID = s.node.Generate().String()
	if rule.EligibilityKind == "" {
		rule.EligibilityKind = EligibilityAll
	}
	for i := range tiers {
		tiers[i].ID = s.node.Generate().String()
	}
	for i := range schedule {
		schedule[i].ID = s.node.Generate().String()
	}

	if err := s.repo.ReplaceCashbackSpec(ctx, programID, rule, tiers, schedule, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.get(ctx, programID)
}

// UpdateWelcome replaces the grant rule of a DRAFT welcome-style program.
func (s *Service) UpdateWelcome(ctx context.Context, programID string, rule *WelcomeRule) (*RewardProgram, error) {
	p, err := s.get(ctx, programID)
	if err != nil {
		return nil, err
	}
	if p.Type == TypeCashback {
		return nil, errutil.ValidationFailed("cashback programs have no welcome rule", nil)
	}
	if p.Status != StatusDraft {
		return nil, wrongStatus(p.Status, StatusDraft)
	}

	if err := ValidateWelcomeRule(p.Type, rule); err != nil {
		return nil, err
	}

	rule.ID = s.node.Generate().String()
	if err := s.repo.ReplaceWelcomeRule(ctx, programID, rule, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.get(ctx, programID)
}

// Launch moves a DRAFT to ACTIVE (immediate) or SCHEDULED (future window),
// subject to resolver approval. Validation and write share one locked
// transaction so concurrent launches of the same type serialise.
func (s *Service) Launch(ctx context.Context, programID string, immediate bool, window Window) (*RewardProgram, error) {
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		p, err := s.repo.WithTrx(tx).GetByID(ctx, programID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("program not found", err)
		}
		if err != nil {
			return err
		}
		if p.Status != StatusDraft {
			return wrongStatus(p.Status, StatusDraft)
		}
		if err := s.launchable(p); err != nil {
			return err
		}

		target := StatusActive
		if immediate {
			window.Start = now
		} else {
			if !window.Start.After(now) {
				return errutil.ValidationFailed("scheduled start must be in the future", nil,
					errutil.WithDetails(errutil.Detail{Field: "start_date", Message: window.Start.Format(time.RFC3339)}))
			}
			target = StatusScheduled
		}
		if window.End != nil && !window.End.After(window.Start) {
			return errutil.ValidationFailed("end date must be after start date", nil)
		}

		result, err := s.resolver.Check(ctx, tx, p.Type, window, p.ID)
		if err != nil {
			return err
		}
		if result.Conflict() {
			return &ConflictError{Result: result}
		}

		fields := map[string]any{
			"status":     target,
			"start_date": window.Start,
			"end_date":   window.End,
			"updated_at": now,
		}
		return s.repo.WithTrx(tx).UpdateFields(ctx, p.ID, fields)
	})
	if err != nil {
		return nil, err
	}

	return s.get(ctx, programID)
}

// launchable checks the program has the configuration its type needs.
func (s *Service) launchable(p *RewardProgram) error {
	if p.Type == TypeCashback {
		if p.CashbackRule == nil {
			return errutil.ValidationFailed("cashback program has no rule configured", nil)
		}
		return nil
	}
	if p.WelcomeRule == nil {
		return errutil.ValidationFailed("program has no grant rule configured", nil)
	}
	return nil
}

func (s *Service) Deactivate(ctx context.Context, programID string) (*RewardProgram, error) {
	if err := s.transition(ctx, programID, []ProgramStatus{StatusActive}, StatusInactive); err != nil {
		return nil, err
	}
	return s.get(ctx, programID)
}

func (s *Service) Archive(ctx context.Context, programID string) (*RewardProgram, error) {
	if err := s.transition(ctx, programID, []ProgramStatus{StatusInactive}, StatusArchived); err != nil {
		return nil, err
	}
	return s.get(ctx, programID)
}

// Delete removes the aggregate. Allowed from DRAFT and from the terminal
// INACTIVE/ARCHIVED states; live programs must be deactivated first.
func (s *Service) Delete(ctx context.Context, programID string) error {
	p, err := s.get(ctx, programID)
	if err != nil {
		return err
	}
	switch p.Status {
	case StatusDraft, StatusInactive, StatusArchived:
	default:
		return wrongStatus(p.Status, StatusDraft)
	}
	return s.repo.Delete(ctx, programID)
}

// CheckOverlap is the read-only preflight used by the operator UI before
// launching.
func (s *Service) CheckOverlap(ctx context.Context, typ ProgramType, window Window, excludeID string) (OverlapResult, error) {
	if !typ.Valid() {
		return OverlapResult{}, errutil.ValidationFailed("unknown program type", nil)
	}
	return s.resolver.Check(ctx, s.db, typ, window, excludeID)
}

func (s *Service) Get(ctx context.Context, programID string) (*RewardProgram, error) {
	return s.get(ctx, programID)
}

func (s *Service) List(ctx context.Context, params ListParams) ([]RewardProgram, error) {
	return s.repo.List(ctx, params)
}

func (s *Service) get(ctx context.Context, programID string) (*RewardProgram, error) {
	p, err := s.repo.GetByID(ctx, programID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("program not found", err)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// transition performs a conditional status flip; zero rows affected is
// disambiguated into not-found vs wrong-status.
func (s *Service) transition(ctx context.Context, programID string, from []ProgramStatus, to ProgramStatus) error {
	res := s.db.WithContext(ctx).
		Model(&RewardProgram{}).
		Where("id = ? AND status IN ?", programID, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": s.clock.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		p, err := s.get(ctx, programID)
		if err != nil {
			return err
		}
		return wrongStatus(p.Status, from[0])
	}
	return nil
}

func wrongStatus(got, want ProgramStatus) error {
	return errutil.Conflict(
		fmt.Sprintf("program is %s, operation requires %s", got, want), nil,
		errutil.WithDetails(errutil.Detail{Field: "status", Message: string(got)}),
	)
}
