package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so ordering-sensitive services can be tested
// with a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func NewSystemClock() Clock {
	return systemClock{}
}

// FakeClock is a manually advanced Clock. Not safe for concurrent use;
// advance it from the test goroutine only.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC()}
}

func (c *FakeClock) Now() time.Time { return c.now }

func (c *FakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
