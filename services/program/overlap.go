package program

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Window is a candidate activity window. A nil End means always-on.
type Window struct {
	Start time.Time
	End   *time.Time
}

// OverlapResult is the structured outcome of an exclusivity check, returned
// verbatim to callers so they can explain the conflict.
type OverlapResult struct {
	Overlaps               bool   `json:"overlaps"`
	AlwaysOnConflict       bool   `json:"always_on_conflict"`
	ConflictingProgramName string `json:"conflicting_program_name,omitempty"`
}

// Conflict reports whether the result blocks the candidate.
func (r OverlapResult) Conflict() bool {
	return r.Overlaps || r.AlwaysOnConflict
}

// ConflictError carries an OverlapResult through the error chain so the
// transport layer can serialise the full payload on 409 responses.
type ConflictError struct {
	Result OverlapResult
}

func (e *ConflictError) Error() string {
	if e.Result.AlwaysOnConflict {
		return fmt.Sprintf("an always-on program of this type already exists (%s)", e.Result.ConflictingProgramName)
	}
	return fmt.Sprintf("window overlaps program %q", e.Result.ConflictingProgramName)
}

// Resolver decides whether a candidate window may coexist with the
// ACTIVE/SCHEDULED programs of the same type.
//
// Precedence is not the resolver's concern: an existing always-on program
// never blocks a dated candidate and dated programs never block an
// always-on candidate; the dated program simply wins at evaluation time for
// its own window.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// liveStatuses are the statuses that participate in exclusivity.
var liveStatuses = []ProgramStatus{StatusActive, StatusScheduled}

// Check runs the overlap algorithm against the given db handle; pass a
// locked transaction to make a validate-then-write sequence atomic.
func (r *Resolver) Check(ctx context.Context, tx *gorm.DB, typ ProgramType, window Window, excludeID string) (OverlapResult, error) {
	existing, err := r.repo.WithTrx(tx).ListByTypeInStatuses(ctx, typ, liveStatuses, excludeID)
	if err != nil {
		return OverlapResult{}, err
	}

	if window.End == nil {
		for _, p := range existing {
			if p.AlwaysOn() {
				return OverlapResult{AlwaysOnConflict: true, ConflictingProgramName: p.Name}, nil
			}
		}
		return OverlapResult{}, nil
	}

	for _, p := range existing {
		if p.AlwaysOn() || p.StartDate == nil {
			continue
		}
		if intervalsOverlap(window.Start, *window.End, *p.StartDate, *p.EndDate) {
			return OverlapResult{Overlaps: true, ConflictingProgramName: p.Name}, nil
		}
	}
	return OverlapResult{}, nil
}

// intervalsOverlap is the standard closed-interval intersection test.
func intervalsOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}
