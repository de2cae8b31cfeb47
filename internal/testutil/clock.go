package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/juju/clock/testclock"
)

// Epoch is where FixedClock starts: 2024-01-15 10:30:00 UTC.
var Epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// Clock is a manually advanced clock. It satisfies agent.Clock, and the
// embedded testclock also drives code that waits on timers.
type Clock struct {
	*testclock.Clock
}

func NewClock(t time.Time) *Clock {
	return &Clock{Clock: testclock.NewClock(t)}
}

// FixedClock returns a Clock set to Epoch.
func FixedClock() *Clock {
	return NewClock(Epoch)
}

// IDs hands out "<prefix>-1", "<prefix>-2", and so on.
type IDs struct {
	prefix string
	n      atomic.Int64
}

func NewIDs(prefix string) *IDs {
	return &IDs{prefix: prefix}
}

func (g *IDs) New() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}
