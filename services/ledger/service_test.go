package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loyaltyplane/pkg/clock"
	"loyaltyplane/pkg/errutil"
	"loyaltyplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *clock.Fixed) {
	t.Helper()

	db := testutil.NewTestDB(t, &LedgerEntry{}, &Balance{}, &CreditPool{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fixed := &clock.Fixed{At: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(ServiceParams{DB: db, Node: node, Clock: fixed}), fixed
}

func TestCreditOpensPoolAndBalance(t *testing.T) {
	svc, fixed := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Credit(ctx, EntryParams{
		ClientID: "c1", Amount: 100, ReferenceID: "ref-1",
	})
	require.NoError(t, err)
	require.Equal(t, EntryCredit, entry.Type)
	require.Equal(t, "GENESIS", entry.PreviousHash)
	require.NotEmpty(t, entry.Hash)

	redeemable, err := svc.RedeemableBalance(ctx, "c1", fixed.At)
	require.NoError(t, err)
	require.Equal(t, int64(100), redeemable)

	total, err := svc.TotalBalance(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(100), total)
}

func TestDuplicateReferenceRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, EntryParams{ClientID: "c1", Amount: 100, ReferenceID: "ref-1"})
	require.NoError(t, err)

	_, err = svc.Credit(ctx, EntryParams{ClientID: "c1", Amount: 100, ReferenceID: "ref-1"})
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestDebitDrainsPoolsOldestFirst(t *testing.T) {
	svc, fixed := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, EntryParams{ClientID: "c1", Amount: 100, ReferenceID: "ref-1"})
	require.NoError(t, err)
	fixed.Advance(time.Hour)
	_, err = svc.Credit(ctx, EntryParams{ClientID: "c1", Amount: 50, ReferenceID: "ref-2"})
	require.NoError(t, err)

	entry, err := svc.Debit(ctx, EntryParams{ClientID: "c1", Amount: 120, ReferenceID: "ref-3"})
	require.NoError(t, err)
	require.Equal(t, EntryDebit, entry.Type)

	redeemable, err := svc.RedeemableBalance(ctx, "c1", fixed.At)
	require.NoError(t, err)
	require.Equal(t, int64(30), redeemable)

	// the older pool is exhausted, the newer keeps the remainder
	var pools []CreditPool
	require.NoError(t, svc.db.Order("created_at ASC").Find(&pools).Error)
	require.Len(t, pools, 2)
	require.Equal(t, int64(0), pools[0].Remaining)
	require.Equal(t, int64(30), pools[1].Remaining)
}

func TestDebitInsufficientBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, EntryParams{ClientID: "c1", Amount: 300, ReferenceID: "ref-1"})
	require.NoError(t, err)

	_, err = svc.Debit(ctx, EntryParams{ClientID: "c1", Amount: 400, ReferenceID: "ref-2"})
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Status())

	// failed debit writes nothing
	entries, err := svc.Entries(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestExpiredPoolExcludedFromRedeemable(t *testing.T) {
	svc, fixed := newTestService(t)
	ctx := context.Background()

	expires := fixed.At.Add(24 * time.Hour)
	_, err := svc.Credit(ctx, EntryParams{
		ClientID: "c1", Amount: 100, ReferenceID: "ref-1", ExpiresAt: &expires,
	})
	require.NoError(t, err)
	_, err = svc.Credit(ctx, EntryParams{ClientID: "c1", Amount: 40, ReferenceID: "ref-2"})
	require.NoError(t, err)

	redeemable, err := svc.RedeemableBalance(ctx, "c1", fixed.At)
	require.NoError(t, err)
	require.Equal(t, int64(140), redeemable)

	// past the expiry only the evergreen credit remains redeemable
	later := expires.Add(time.Hour)
	redeemable, err = svc.RedeemableBalance(ctx, "c1", later)
	require.NoError(t, err)
	require.Equal(t, int64(40), redeemable)

	// expired bonus cannot be spent
	fixed.At = later
	_, err = svc.Debit(ctx, EntryParams{ClientID: "c1", Amount: 100, ReferenceID: "ref-3"})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Status())
}

func TestEntriesPage(t *testing.T) {
	svc, fixed := newTestService(t)
	ctx := context.Background()

	for _, ref := range []string{"ref-1", "ref-2", "ref-3"} {
		_, err := svc.Credit(ctx, EntryParams{ClientID: "c1", Amount: 10, ReferenceID: ref})
		require.NoError(t, err)
		fixed.Advance(time.Minute)
	}

	first, info, err := svc.EntriesPage(ctx, "c1", "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, info.HasMore)
	require.NotEmpty(t, info.NextCursor)

	rest, info, err := svc.EntriesPage(ctx, "c1", info.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.False(t, info.HasMore)
	require.Equal(t, "ref-3", rest[0].ReferenceID)

	_, _, err = svc.EntriesPage(ctx, "c1", "not-base64!", 2)
	require.Error(t, err)
}

func TestVerifyChain(t *testing.T) {
	svc, fixed := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, EntryParams{ClientID: "c1", Amount: 100, ReferenceID: "ref-1"})
	require.NoError(t, err)
	fixed.Advance(time.Minute)
	_, err = svc.Debit(ctx, EntryParams{ClientID: "c1", Amount: 60, ReferenceID: "ref-2"})
	require.NoError(t, err)

	valid, err := svc.VerifyChain(ctx, "c1")
	require.NoError(t, err)
	require.True(t, valid)

	// tamper with an amount; the recomputed hash no longer matches
	require.NoError(t, svc.db.Model(&LedgerEntry{}).
		Where("reference_id = ?", "ref-1").
		Update("amount", 999).Error)

	valid, err = svc.VerifyChain(ctx, "c1")
	require.NoError(t, err)
	require.False(t, valid)
}
