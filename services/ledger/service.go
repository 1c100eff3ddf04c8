package ledger

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"loyaltyplane/pkg/clock"
	"loyaltyplane/pkg/db/option"
	"loyaltyplane/pkg/db/pagination"
	"loyaltyplane/pkg/errutil"
	"loyaltyplane/pkg/repository"
)

// Service owns the bonus ledger. Every business transaction produces
// exactly one entry; credits open a pool, debits drain unexpired pools
// oldest first.
type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock

	ledger  repository.Repository[LedgerEntry]
	balance repository.Repository[Balance]
	credit  repository.Repository[CreditPool]
}

type ServiceParams struct {
	fx.In

	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		clock: p.Clock,

		ledger:  repository.ProvideStore[LedgerEntry](p.DB),
		balance: repository.ProvideStore[Balance](p.DB),
		credit:  repository.ProvideStore[CreditPool](p.DB),
	}
}

// EntryParams describe one credit or debit. ReferenceID is the idempotency
// key: a second call with the same reference is rejected before any write.
// Kind defaults to ACCRUAL for credits and REDEMPTION for debits.
type EntryParams struct {
	ClientID    string
	Kind        EntryKind
	Amount      int64
	ReferenceID string
	Description string
	ExpiresAt   *time.Time
	Metadata    map[string]any
}

func (s *Service) Credit(ctx context.Context, p EntryParams) (*LedgerEntry, error) {
	var entry *LedgerEntry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)
		var err error
		entry, err = s.CreditTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) Debit(ctx context.Context, p EntryParams) (*LedgerEntry, error) {
	var entry *LedgerEntry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)
		var err error
		entry, err = s.DebitTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx appends a credit entry inside the caller's transaction, opens
// its pool, and bumps the balance row.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, p EntryParams) (*LedgerEntry, error) {
	if p.Amount <= 0 {
		return nil, errutil.BadRequest("credit amount must be positive", nil)
	}
	if p.Kind == "" {
		p.Kind = KindAccrual
	}
	if err := s.checkReference(ctx, tx, p.ReferenceID); err != nil {
		return nil, err
	}

	balanceTx := s.balance.WithTrx(tx)
	creditTx := s.credit.WithTrx(tx)
	ledgerTx := s.ledger.WithTrx(tx)

	lastEntry, err := s.lastEntry(ctx, tx, p.ClientID)
	if err != nil {
		return nil, err
	}

	entry, err := s.buildEntry(EntryCredit, p, lastEntry)
	if err != nil {
		return nil, err
	}
	if err := ledgerTx.Create(ctx, entry); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := creditTx.Create(ctx, &CreditPool{
		ID:            s.node.Generate().String(),
		LedgerEntryID: entry.ID,
		ClientID:      p.ClientID,
		Remaining:     p.Amount,
		ExpiresAt:     p.ExpiresAt,
		CreatedAt:     now,
	}); err != nil {
		return nil, err
	}

	balance, err := balanceTx.FindOne(ctx, &Balance{ClientID: p.ClientID})
	if err != nil {
		return nil, err
	}
	if balance == nil {
		if err := balanceTx.Create(ctx, &Balance{
			ID:        s.node.Generate().String(),
			ClientID:  p.ClientID,
			Balance:   p.Amount,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return nil, err
		}
	} else {
		updates := map[string]any{
			"balance":    gorm.Expr("balance + ?", p.Amount),
			"updated_at": now,
		}
		if err := balanceTx.Update(ctx, balance.ID, &updates); err != nil {
			return nil, err
		}
	}

	return entry, nil
}

// DebitTx appends a debit entry inside the caller's transaction, draining
// unexpired pools oldest first. Fails without writing when the redeemable
// balance cannot cover the amount.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, p EntryParams) (*LedgerEntry, error) {
	if p.Amount <= 0 {
		return nil, errutil.BadRequest("debit amount must be positive", nil)
	}
	if p.Kind == "" {
		p.Kind = KindRedemption
	}
	if err := s.checkReference(ctx, tx, p.ReferenceID); err != nil {
		return nil, err
	}

	now := s.clock.Now()

	var pools []CreditPool
	if err := tx.WithContext(ctx).
		Where("client_id = ? AND remaining > 0", p.ClientID).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at ASC").
		Find(&pools).Error; err != nil {
		return nil, err
	}

	var available int64
	for _, pool := range pools {
		available += pool.Remaining
	}
	if available < p.Amount {
		return nil, errutil.UnprocessableEntity("insufficient bonus balance", nil,
			errutil.WithDetails(
				errutil.Detail{Field: "requested", Message: formatAmount(p.Amount)},
				errutil.Detail{Field: "available", Message: formatAmount(available)},
			))
	}

	remaining := p.Amount
	allocations := make([]RedeemAllocation, 0, len(pools))
	for _, pool := range pools {
		if remaining == 0 {
			break
		}
		allocatable := min(pool.Remaining, remaining)
		allocations = append(allocations, RedeemAllocation{
			CreditPoolID:    pool.ID,
			SourceID:        pool.LedgerEntryID,
			Amount:          allocatable,
			RemainingAmount: pool.Remaining - allocatable,
		})
		remaining -= allocatable
	}

	sources := make([]MetaDebit, 0, len(allocations))
	for _, a := range allocations {
		sources = append(sources, MetaDebit{LedgerEntryID: a.SourceID, Amount: a.Amount})
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	p.Metadata["sources"] = sources

	lastEntry, err := s.lastEntry(ctx, tx, p.ClientID)
	if err != nil {
		return nil, err
	}

	entry, err := s.buildEntry(EntryDebit, p, lastEntry)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.WithTrx(tx).Create(ctx, entry); err != nil {
		return nil, err
	}

	creditTx := s.credit.WithTrx(tx)
	for _, alloc := range allocations {
		updates := map[string]any{
			"remaining":   gorm.Expr("remaining - ?", alloc.Amount),
			"consumed_at": now,
		}
		if err := creditTx.Update(ctx, alloc.CreditPoolID, &updates); err != nil {
			zap.L().Error("failed to drain credit pool", zap.Error(err))
			return nil, err
		}
	}

	balanceTx := s.balance.WithTrx(tx)
	balance, err := balanceTx.FindOne(ctx, &Balance{ClientID: p.ClientID})
	if err != nil {
		return nil, err
	}
	if balance != nil {
		updates := map[string]any{
			"balance":    gorm.Expr("balance - ?", p.Amount),
			"updated_at": now,
		}
		if err := balanceTx.Update(ctx, balance.ID, &updates); err != nil {
			return nil, err
		}
	}

	return entry, nil
}

func (s *Service) buildEntry(typ EntryType, p EntryParams, lastEntry *LedgerEntry) (*LedgerEntry, error) {
	transactionID, err := GenerateTransactionID()
	if err != nil {
		zap.L().Error("failed to generate transaction id", zap.Error(err))
		return nil, err
	}

	metaBytes, _ := json.Marshal(p.Metadata)
	entry := &LedgerEntry{
		ID:            s.node.Generate().String(),
		ClientID:      p.ClientID,
		Type:          typ,
		Kind:          p.Kind,
		Amount:        p.Amount,
		TransactionID: transactionID,
		ReferenceID:   p.ReferenceID,
		Description:   p.Description,
		ExpiresAt:     p.ExpiresAt,
		Metadata:      datatypes.JSON(metaBytes),
		CreatedAt:     s.clock.Now(),
		UpdatedAt:     s.clock.Now(),
	}

	entry.PreviousHash = "GENESIS"
	if lastEntry != nil {
		entry.PreviousHash = lastEntry.Hash
	}
	entry.Hash = entry.GenerateHash()

	return entry, nil
}

func (s *Service) checkReference(ctx context.Context, tx *gorm.DB, referenceID string) error {
	if referenceID == "" {
		return errutil.BadRequest("reference_id is required", nil)
	}
	exist, err := s.ledger.WithTrx(tx).FindOne(ctx, &LedgerEntry{ReferenceID: referenceID})
	if err != nil {
		return err
	}
	if exist != nil {
		return errutil.Conflict("reference_id already exists", nil,
			errutil.WithDetails(errutil.Detail{Field: "reference_id", Message: referenceID}))
	}
	return nil
}

func (s *Service) lastEntry(ctx context.Context, tx *gorm.DB, clientID string) (*LedgerEntry, error) {
	return s.ledger.WithTrx(tx).FindOne(ctx, &LedgerEntry{ClientID: clientID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLockingUpdate(),
	)
}

// RedeemableBalance sums the unexpired pool remainders for a client.
func (s *Service) RedeemableBalance(ctx context.Context, clientID string, at time.Time) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&CreditPool{}).
		Where("client_id = ? AND remaining > 0", clientID).
		Where("expires_at IS NULL OR expires_at > ?", at).
		Select("COALESCE(SUM(remaining), 0)").
		Scan(&total).Error
	return total, err
}

// TotalBalance returns the audit total including expired bonuses.
func (s *Service) TotalBalance(ctx context.Context, clientID string) (int64, error) {
	balance, err := s.balance.FindOne(ctx, &Balance{ClientID: clientID})
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return balance.Balance, nil
}

// Entries lists a client's ledger, oldest first.
func (s *Service) Entries(ctx context.Context, clientID string) ([]*LedgerEntry, error) {
	return s.ledger.Find(ctx, &LedgerEntry{ClientID: clientID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
}

// EntriesPage lists a client's ledger with cursor pagination, oldest
// first.
func (s *Service) EntriesPage(ctx context.Context, clientID, cursor string, limit int) ([]*LedgerEntry, *pagination.PageInfo, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}

	q := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at ASC, id ASC").
		Limit(limit + 1)

	if cursor != "" {
		c, err := pagination.DecodeCursor(cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		after, err := time.Parse(time.RFC3339Nano, c.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", after, after, c.ID)
	}

	var entries []*LedgerEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	info := pagination.BuildCursorPageInfo(entries, int32(limit), func(e *LedgerEntry) string {
		enc, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        e.ID,
		})
		return enc
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, info, nil
}

// VerifyChain recomputes every hash of a client's ledger and checks the
// chain links back to genesis.
func (s *Service) VerifyChain(ctx context.Context, clientID string) (bool, error) {
	entries, err := s.Entries(ctx, clientID)
	if err != nil {
		return false, err
	}

	lastHash := "GENESIS"
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != lastHash {
			return false, nil
		}
		lastHash = entry.Hash
	}
	return true, nil
}

func formatAmount(v int64) string {
	return strconv.FormatInt(v, 10)
}
