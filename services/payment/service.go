package payment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"loyaltyplane/pkg/clock"
	"loyaltyplane/pkg/db/option"
	"loyaltyplane/pkg/errutil"
	"loyaltyplane/pkg/repository"
	"loyaltyplane/pkg/sequence"
	"loyaltyplane/services/cashback"
	"loyaltyplane/services/client"
	"loyaltyplane/services/grant"
	"loyaltyplane/services/ledger"
)

// Service stages and settles draft transactions. Completion is a single
// database transaction: the conditional OPEN to COMPLETED flip is the
// serialization point, so two concurrent completions of one draft cannot
// both produce a ledger effect.
type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	seq       sequence.Generator
	clock     clock.Clock
	evaluator *cashback.Evaluator
	ledger    *ledger.Service
	clients   *client.Service
	grants    *grant.Service

	transactions repository.Repository[DraftTransaction]
}

type ServiceParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Clock     clock.Clock
	Evaluator *cashback.Evaluator
	Ledger    *ledger.Service
	Clients   *client.Service
	Grants    *grant.Service
	Seq       sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		seq:       p.Seq,
		clock:     p.Clock,
		evaluator: p.Evaluator,
		ledger:    p.Ledger,
		clients:   p.Clients,
		grants:    p.Grants,

		transactions: repository.ProvideStore[DraftTransaction](p.DB),
	}
}

// Draft opens a staged transaction for a client.
func (s *Service) Draft(ctx context.Context, clientID string) (*DraftTransaction, error) {
	if _, err := s.clients.Get(ctx, clientID); err != nil {
		return nil, err
	}

	tx := &DraftTransaction{
		ID:       s.node.Generate().String(),
		ClientID: clientID,
		Status:   StatusOpen,
	}

	if s.seq != nil {
		code, err := s.seq.NextPaymentCode(ctx)
		if err != nil {
			zap.L().Warn("failed to mint payment code", zap.Error(err))
		} else {
			tx.Code = code
		}
	}

	if err := s.transactions.Create(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// CompleteParams are the settlement inputs supplied by the operator.
type CompleteParams struct {
	OriginalAmount int64
	BonusUsed      int64
	PaymentMethod  string
}

// Complete settles an OPEN draft. With BonusUsed > 0 it commits one
// redemption debit; otherwise it consults the evaluator and commits one
// accrual credit when a program applies. Never both.
func (s *Service) Complete(ctx context.Context, txID string, p CompleteParams) (*DraftTransaction, error) {
	if p.OriginalAmount <= 0 {
		return nil, errutil.ValidationFailed("original_amount must be positive", nil,
			errutil.WithDetails(errutil.Detail{Field: "original_amount", Message: strconv.FormatInt(p.OriginalAmount, 10)}))
	}
	if p.BonusUsed < 0 {
		return nil, errutil.ValidationFailed("bonus_amount_used must not be negative", nil)
	}
	if p.BonusUsed > p.OriginalAmount {
		return nil, errutil.ValidationFailed("bonus_amount_used exceeds transaction amount", nil)
	}

	now := s.clock.Now()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)
		trxRepo := s.transactions.WithTrx(tx)

		draft, err := trxRepo.FindOne(ctx, &DraftTransaction{ID: txID})
		if err != nil {
			return err
		}
		if draft == nil {
			return errutil.NotFound("transaction not found", nil)
		}
		if draft.Status != StatusOpen {
			return errutil.Conflict(
				fmt.Sprintf("transaction already %s", draft.Status), nil,
				errutil.WithDetails(errutil.Detail{Field: "status", Message: string(draft.Status)}))
		}

		eval, err := s.evaluator.Evaluate(ctx, draft.ClientID, p.OriginalAmount, now)
		if err != nil {
			return err
		}

		// First completed payment of a client may trigger a welcome grant
		// and, in WELCOME_ONLY mode, suppress this payment's accrual.
		outcome, err := s.grants.OnFirstPaymentTx(ctx, tx, draft.ClientID)
		if err != nil {
			return err
		}

		var accrued int64
		if p.BonusUsed > 0 {
			if eval.ProgramID != "" && eval.RedeemLimitPercent < 100 {
				limit := p.OriginalAmount * int64(eval.RedeemLimitPercent) / 100
				if p.BonusUsed > limit {
					return errutil.UnprocessableEntity("bonus_amount_used exceeds redeem limit", nil,
						errutil.WithDetails(
							errutil.Detail{Field: "requested", Message: strconv.FormatInt(p.BonusUsed, 10)},
							errutil.Detail{Field: "available", Message: strconv.FormatInt(limit, 10)},
						))
				}
			}

			if _, err := s.ledger.DebitTx(ctx, tx, ledger.EntryParams{
				ClientID:    draft.ClientID,
				Kind:        ledger.KindRedemption,
				Amount:      p.BonusUsed,
				ReferenceID: "redeem:" + draft.ID,
				Description: "bonus redemption",
				Metadata:    map[string]any{"transaction_id": draft.ID},
			}); err != nil {
				return err
			}
		} else if eval.Applies && !outcome.SuppressCashback {
			accrued = eval.Bonus(p.OriginalAmount)
			if accrued > 0 {
				var expiresAt *time.Time
				if eval.BonusLifespanDays != nil {
					t := now.AddDate(0, 0, *eval.BonusLifespanDays)
					expiresAt = &t
				}
				if _, err := s.ledger.CreditTx(ctx, tx, ledger.EntryParams{
					ClientID:    draft.ClientID,
					Kind:        ledger.KindAccrual,
					Amount:      accrued,
					ReferenceID: "accrue:" + draft.ID,
					Description: fmt.Sprintf("cashback accrual (%s)", eval.ProgramName),
					ExpiresAt:   expiresAt,
					Metadata: map[string]any{
						"transaction_id": draft.ID,
						"program_id":     eval.ProgramID,
						"effective_rate": eval.EffectiveRate,
					},
				}); err != nil {
					return err
				}
			}
		}

		res := tx.WithContext(ctx).
			Model(&DraftTransaction{}).
			Where("id = ? AND status = ?", draft.ID, StatusOpen).
			Updates(map[string]any{
				"status":          StatusCompleted,
				"original_amount": p.OriginalAmount,
				"bonus_used":      p.BonusUsed,
				"accrued_bonus":   accrued,
				"program_id":      eval.ProgramID,
				"payment_method":  p.PaymentMethod,
				"completed_at":    now,
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("transaction already completed", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, txID)
}

// Delete abandons an OPEN draft. No ledger effect.
func (s *Service) Delete(ctx context.Context, txID string) error {
	res := s.db.WithContext(ctx).
		Model(&DraftTransaction{}).
		Where("id = ? AND status = ?", txID, StatusOpen).
		Updates(map[string]any{
			"status":     StatusDeleted,
			"updated_at": s.clock.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		draft, err := s.transactions.FindOne(ctx, &DraftTransaction{ID: txID})
		if err != nil {
			return err
		}
		if draft == nil {
			return errutil.NotFound("transaction not found", nil)
		}
		return errutil.Conflict(fmt.Sprintf("transaction already %s", draft.Status), nil)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, txID string) (*DraftTransaction, error) {
	draft, err := s.transactions.FindOne(ctx, &DraftTransaction{ID: txID})
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, errutil.NotFound("transaction not found", nil)
	}
	return draft, nil
}

// History satisfies the evaluator's spend history dependency. It is a
// separate type so the evaluator does not depend on the full service.
type History struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

// SumCompletedAmount totals a client's completed spend inside [from, to).
func (h *History) SumCompletedAmount(ctx context.Context, clientID string, from, to time.Time) (int64, error) {
	var total int64
	err := h.db.WithContext(ctx).
		Model(&DraftTransaction{}).
		Where("client_id = ? AND status = ?", clientID, StatusCompleted).
		Where("completed_at >= ? AND completed_at < ?", from, to).
		Select("COALESCE(SUM(original_amount), 0)").
		Scan(&total).Error
	return total, err
}
