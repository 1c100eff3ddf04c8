package program

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"loyaltyplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.NewTestDB(t,
		&RewardProgram{},
		&CashbackRule{},
		&CashbackTier{},
		&WeeklyScheduleEntry{},
		&WelcomeRule{},
	)
}

func seedProgram(t *testing.T, db *gorm.DB, p *RewardProgram) {
	t.Helper()
	require.NoError(t, db.Create(p).Error)
}

func datePtr(t time.Time) *time.Time { return &t }

func TestCheckAlwaysOnCandidateConflictsWithAlwaysOn(t *testing.T) {
	db := newTestDB(t)
	resolver := NewResolver(NewRepository(db))

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedProgram(t, db, &RewardProgram{
		ID: "p1", Type: TypeCashback, Status: StatusActive,
		Name: "Evergreen", StartDate: datePtr(start),
	})

	result, err := resolver.Check(context.Background(), db, TypeCashback, Window{Start: start}, "")
	require.NoError(t, err)
	require.True(t, result.AlwaysOnConflict)
	require.False(t, result.Overlaps)
	require.Equal(t, "Evergreen", result.ConflictingProgramName)
}

func TestCheckDatedCandidateIgnoresAlwaysOn(t *testing.T) {
	db := newTestDB(t)
	resolver := NewResolver(NewRepository(db))

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedProgram(t, db, &RewardProgram{
		ID: "p1", Type: TypeCashback, Status: StatusActive,
		Name: "Evergreen", StartDate: datePtr(start),
	})

	end := start.AddDate(0, 1, 0)
	result, err := resolver.Check(context.Background(), db, TypeCashback,
		Window{Start: start, End: &end}, "")
	require.NoError(t, err)
	require.False(t, result.Conflict())
}

func TestCheckDatedWindowsOverlap(t *testing.T) {
	db := newTestDB(t)
	resolver := NewResolver(NewRepository(db))

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedProgram(t, db, &RewardProgram{
		ID: "p1", Type: TypeCashback, Status: StatusScheduled,
		Name:      "March Promo",
		StartDate: datePtr(start),
		EndDate:   datePtr(start.AddDate(0, 0, 10)),
	})

	candidateStart := start.AddDate(0, 0, 5)
	candidateEnd := start.AddDate(0, 0, 15)
	result, err := resolver.Check(context.Background(), db, TypeCashback,
		Window{Start: candidateStart, End: &candidateEnd}, "")
	require.NoError(t, err)
	require.True(t, result.Overlaps)
	require.Equal(t, "March Promo", result.ConflictingProgramName)
}

func TestCheckDisjointWindowsAllowed(t *testing.T) {
	db := newTestDB(t)
	resolver := NewResolver(NewRepository(db))

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedProgram(t, db, &RewardProgram{
		ID: "p1", Type: TypeCashback, Status: StatusActive,
		Name:      "March Promo",
		StartDate: datePtr(start),
		EndDate:   datePtr(start.AddDate(0, 0, 10)),
	})

	candidateStart := start.AddDate(0, 0, 11)
	candidateEnd := start.AddDate(0, 0, 20)
	result, err := resolver.Check(context.Background(), db, TypeCashback,
		Window{Start: candidateStart, End: &candidateEnd}, "")
	require.NoError(t, err)
	require.False(t, result.Conflict())
}

func TestCheckDifferentTypesNeverConflict(t *testing.T) {
	db := newTestDB(t)
	resolver := NewResolver(NewRepository(db))

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedProgram(t, db, &RewardProgram{
		ID: "p1", Type: TypeWelcome, Status: StatusActive,
		Name: "Welcome", StartDate: datePtr(start),
	})

	result, err := resolver.Check(context.Background(), db, TypeCashback, Window{Start: start}, "")
	require.NoError(t, err)
	require.False(t, result.Conflict())
}

func TestCheckExcludesSelf(t *testing.T) {
	db := newTestDB(t)
	resolver := NewResolver(NewRepository(db))

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedProgram(t, db, &RewardProgram{
		ID: "p1", Type: TypeCashback, Status: StatusActive,
		Name: "Evergreen", StartDate: datePtr(start),
	})

	result, err := resolver.Check(context.Background(), db, TypeCashback, Window{Start: start}, "p1")
	require.NoError(t, err)
	require.False(t, result.Conflict())
}

// TestCheckRandomDatedWindows drives the resolver with random dated
// windows and cross-checks every verdict against a brute-force interval
// comparison over the windows accepted so far. Accepted windows are
// seeded as ACTIVE programs, so the set stays non-overlapping throughout.
func TestCheckRandomDatedWindows(t *testing.T) {
	db := newTestDB(t)
	resolver := NewResolver(NewRepository(db))
	ctx := context.Background()

	rng := rand.New(rand.NewSource(1))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	type interval struct{ start, end time.Time }
	var accepted []interval

	for i := 0; i < 200; i++ {
		start := base.AddDate(0, 0, rng.Intn(365))
		end := start.AddDate(0, 0, 1+rng.Intn(30))

		// closed intervals: windows sharing an endpoint overlap
		expect := false
		for _, w := range accepted {
			if !start.After(w.end) && !w.start.After(end) {
				expect = true
				break
			}
		}

		result, err := resolver.Check(ctx, db, TypeCashback,
			Window{Start: start, End: &end}, "")
		require.NoError(t, err)
		require.Equal(t, expect, result.Overlaps,
			"window %d [%s, %s]", i, start.Format("2006-01-02"), end.Format("2006-01-02"))

		if !result.Overlaps {
			seedProgram(t, db, &RewardProgram{
				ID: fmt.Sprintf("p%d", i), Type: TypeCashback, Status: StatusActive,
				Name:      fmt.Sprintf("Promo %d", i),
				StartDate: datePtr(start),
				EndDate:   datePtr(end),
			})
			accepted = append(accepted, interval{start: start, end: end})
		}
	}

	require.NotEmpty(t, accepted)
}

func TestScheduleAllows(t *testing.T) {
	startTime := "09:00"
	endTime := "17:00"
	entries := []WeeklyScheduleEntry{
		{Weekday: 1, Enabled: true, StartTime: &startTime, EndTime: &endTime},
	}

	monday10 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC) // Monday
	require.True(t, ScheduleAllows(entries, monday10))

	monday18 := time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC)
	require.False(t, ScheduleAllows(entries, monday18))

	tuesday10 := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	require.False(t, ScheduleAllows(entries, tuesday10))

	require.True(t, ScheduleAllows(nil, monday18))
	require.True(t, ScheduleAllows([]WeeklyScheduleEntry{{Weekday: 1, Enabled: false}}, monday18))
}
