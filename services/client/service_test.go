package client

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

	db := testutil.NewTestDB(t, &Client{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fixed := &clock.Fixed{At: time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)}
	return NewService(ServiceParams{DB: db, Node: node, Clock: fixed}), fixed
}

func TestRegister(t *testing.T) {
	svc, fixed := newTestService(t)

	c, err := svc.Register(context.Background(), RegisterParams{Name: "Dana", Phone: "555-0100"})
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)
	require.True(t, c.JoinedAt.Equal(fixed.At))
	require.Nil(t, c.FirstPaidAt)
}

func TestRegisterRequiresName(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register(context.Background(), RegisterParams{})
	require.Error(t, err)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())
}

func TestGetNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "missing")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestMarkFirstPaidWinsOnce(t *testing.T) {
	svc, fixed := newTestService(t)
	ctx := context.Background()

	c, err := svc.Register(ctx, RegisterParams{Name: "Dana"})
	require.NoError(t, err)

	first, err := svc.MarkFirstPaid(ctx, svc.db, c.ID, fixed.At)
	require.NoError(t, err)
	require.True(t, first)

	again, err := svc.MarkFirstPaid(ctx, svc.db, c.ID, fixed.At.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, again)

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FirstPaidAt)
	require.True(t, got.FirstPaidAt.Equal(fixed.At))
}

func TestListWithBirthdayOn(t *testing.T) {
	svc, fixed := newTestService(t)
	ctx := context.Background()

	birthday := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	other := time.Date(1985, 1, 2, 0, 0, 0, 0, time.UTC)

	match, err := svc.Register(ctx, RegisterParams{Name: "Dana", BirthDate: &birthday})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterParams{Name: "Riley", BirthDate: &other})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterParams{Name: "NoBirthday"})
	require.NoError(t, err)

	celebrants, err := svc.ListWithBirthdayOn(ctx, fixed.At)
	require.NoError(t, err)
	require.Len(t, celebrants, 1)
	require.Equal(t, match.ID, celebrants[0].ID)
}
