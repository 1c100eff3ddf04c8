package clock

import (
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)

// Clock is the time source injected into every component that makes
// scheduling or window decisions, so tests can evaluate at fixed instants.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time { return time.Now() }

// Fixed is a frozen clock for tests.
type Fixed struct {
	At time.Time
}

func (f *Fixed) Now() time.Time { return f.At }

// Advance moves the frozen clock forward.
func (f *Fixed) Advance(d time.Duration) { f.At = f.At.Add(d) }
