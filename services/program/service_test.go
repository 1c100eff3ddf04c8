package program

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"loyaltyplane/pkg/clock"
	"loyaltyplane/pkg/errutil"
)

func newTestService(t *testing.T) (*Service, *clock.Fixed, *gorm.DB) {
	t.Helper()

	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fixed := &clock.Fixed{At: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(ServiceParams{DB: db, Node: node, Clock: fixed})
	return svc, fixed, db
}

func percentageRule(value int64) *CashbackRule {
	return &CashbackRule{
		Kind:               CashbackPercentage,
		Value:              value,
		RedeemLimitPercent: 100,
	}
}

func TestCreateDraft(t *testing.T) {
	svc, _, _ := newTestService(t)

	p, err := svc.CreateDraft(context.Background(), TypeCashback, "Summer Cashback", "")
	require.NoError(t, err)
	require.Equal(t, StatusDraft, p.Status)
	require.Equal(t, TypeCashback, p.Type)
	require.NotEmpty(t, p.ID)
}

func TestCreateDraftUnknownType(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateDraft(context.Background(), ProgramType("MYSTERY"), "x", "")
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestCreateDraftSlotOccupied(t *testing.T) {
	svc, _, db := newTestService(t)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedProgram(t, db, &RewardProgram{
		ID: "w1", Type: TypeWelcome, Status: StatusActive,
		Name: "Welcome", StartDate: datePtr(start),
	})

	_, err := svc.CreateDraft(context.Background(), TypeWelcome, "Second Welcome", "")
	requireStatus(t, err, errutil.StatusConflict)
}

func TestUpdateCashbackOnDraft(t *testing.T) {
	svc, fixed, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateDraft(ctx, TypeCashback, "Summer", "")
	require.NoError(t, err)

	max := int64(5000)
	fixed.Advance(time.Hour)
	updated, err := svc.UpdateCashback(ctx, p.ID, percentageRule(5),
		[]CashbackTier{{Name: "Silver", MinAmount: 0, MaxAmount: &max, ExtraRate: 2}},
		nil)
	require.NoError(t, err)
	require.NotNil(t, updated.CashbackRule)
	require.Equal(t, int64(5), updated.CashbackRule.Value)
	require.Len(t, updated.CashbackTiers, 1)

	// the replace stamps updated_at from the service clock
	require.True(t, updated.UpdatedAt.Equal(fixed.At))
}

func TestUpdateCashbackRejectsInvalidRule(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateDraft(ctx, TypeCashback, "Summer", "")
	require.NoError(t, err)

	_, err = svc.UpdateCashback(ctx, p.ID, percentageRule(150), nil, nil)
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestUpdateCashbackRejectsNonDraft(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateDraft(ctx, TypeCashback, "Summer", "")
	require.NoError(t, err)
	_, err = svc.UpdateCashback(ctx, p.ID, percentageRule(5), nil, nil)
	require.NoError(t, err)
	_, err = svc.Launch(ctx, p.ID, true, Window{})
	require.NoError(t, err)

	_, err = svc.UpdateCashback(ctx, p.ID, percentageRule(10), nil, nil)
	requireStatus(t, err, errutil.StatusConflict)
}

func TestLaunchImmediate(t *testing.T) {
	svc, fixed, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateDraft(ctx, TypeCashback, "Summer", "")
	require.NoError(t, err)
	_, err = svc.UpdateCashback(ctx, p.ID, percentageRule(5), nil, nil)
	require.NoError(t, err)

	launched, err := svc.Launch(ctx, p.ID, true, Window{})
	require.NoError(t, err)
	require.Equal(t, StatusActive, launched.Status)
	require.NotNil(t, launched.StartDate)
	require.True(t, launched.StartDate.Equal(fixed.At))
	require.Nil(t, launched.EndDate)
}

func TestLaunchScheduled(t *testing.T) {
	svc, fixed, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateDraft(ctx, TypeCashback, "Autumn", "")
	require.NoError(t, err)
	_, err = svc.UpdateCashback(ctx, p.ID, percentageRule(5), nil, nil)
	require.NoError(t, err)

	start := fixed.At.AddDate(0, 1, 0)
	end := start.AddDate(0, 0, 14)
	launched, err := svc.Launch(ctx, p.ID, false, Window{Start: start, End: &end})
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, launched.Status)
}

func TestLaunchScheduledRejectsPastStart(t *testing.T) {
	svc, fixed, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateDraft(ctx, TypeCashback, "Autumn", "")
	require.NoError(t, err)
	_, err = svc.UpdateCashback(ctx, p.ID, percentageRule(5), nil, nil)
	require.NoError(t, err)

	start := fixed.At.AddDate(0, 0, -1)
	_, err = svc.Launch(ctx, p.ID, false, Window{Start: start})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestLaunchRejectsUnconfiguredCashback(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateDraft(ctx, TypeCashback, "Bare", "")
	require.NoError(t, err)

	_, err = svc.Launch(ctx, p.ID, true, Window{})
	requireStatus(t, err, errutil.StatusValidationFailed)
}

func TestLaunchOverlapReturnsConflictError(t *testing.T) {
	svc, fixed, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateDraft(ctx, TypeCashback, "First", "")
	require.NoError(t, err)
	_, err = svc.UpdateCashback(ctx, first.ID, percentageRule(5), nil, nil)
	require.NoError(t, err)

	start := fixed.At.AddDate(0, 0, 7)
	end := start.AddDate(0, 0, 14)
	_, err = svc.Launch(ctx, first.ID, false, Window{Start: start, End: &end})
	require.NoError(t, err)

	second, err := svc.CreateDraft(ctx, TypeCashback, "Second", "")
	require.NoError(t, err)
	_, err = svc.UpdateCashback(ctx, second.ID, percentageRule(3), nil, nil)
	require.NoError(t, err)

	overlapStart := start.AddDate(0, 0, 7)
	overlapEnd := overlapStart.AddDate(0, 0, 14)
	_, err = svc.Launch(ctx, second.ID, false, Window{Start: overlapStart, End: &overlapEnd})
	require.Error(t, err)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.True(t, conflict.Result.Overlaps)
	require.Equal(t, "First", conflict.Result.ConflictingProgramName)
}

func TestDeactivateArchiveFlow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateDraft(ctx, TypeCashback, "Summer", "")
	require.NoError(t, err)
	_, err = svc.UpdateCashback(ctx, p.ID, percentageRule(5), nil, nil)
	require.NoError(t, err)
	_, err = svc.Launch(ctx, p.ID, true, Window{})
	require.NoError(t, err)

	// archiving an ACTIVE program is out of order
	_, err = svc.Archive(ctx, p.ID)
	requireStatus(t, err, errutil.StatusConflict)

	deactivated, err := svc.Deactivate(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInactive, deactivated.Status)

	archived, err := svc.Archive(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusArchived, archived.Status)
}

func TestDeleteRejectsActive(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateDraft(ctx, TypeCashback, "Summer", "")
	require.NoError(t, err)
	_, err = svc.UpdateCashback(ctx, p.ID, percentageRule(5), nil, nil)
	require.NoError(t, err)
	_, err = svc.Launch(ctx, p.ID, true, Window{})
	require.NoError(t, err)

	err = svc.Delete(ctx, p.ID)
	requireStatus(t, err, errutil.StatusConflict)
}

func TestDeleteDraftRemovesAggregate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateDraft(ctx, TypeCashback, "Summer", "")
	require.NoError(t, err)
	_, err = svc.UpdateCashback(ctx, p.ID, percentageRule(5), nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, p.ID))

	_, err = svc.Get(ctx, p.ID)
	requireStatus(t, err, errutil.StatusNotFound)
}

func TestPromoteDue(t *testing.T) {
	svc, fixed, db := newTestService(t)
	ctx := context.Background()

	due := fixed.At.AddDate(0, 0, -1)
	future := fixed.At.AddDate(0, 0, 10)
	seedProgram(t, db, &RewardProgram{
		ID: "due", Type: TypeCashback, Status: StatusScheduled,
		Name: "Due", StartDate: datePtr(due),
	})
	seedProgram(t, db, &RewardProgram{
		ID: "future", Type: TypeWelcome, Status: StatusScheduled,
		Name: "Future", StartDate: datePtr(future),
	})

	promoted, err := svc.repo.PromoteDue(ctx, fixed.At)
	require.NoError(t, err)
	require.Equal(t, int64(1), promoted)

	p, err := svc.Get(ctx, "due")
	require.NoError(t, err)
	require.Equal(t, StatusActive, p.Status)

	p, err = svc.Get(ctx, "future")
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, p.Status)
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be), "expected BaseError, got %v", err)
	require.Equal(t, want, be.Status())
}
