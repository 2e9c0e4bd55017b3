package laps

import (
	"time"

	"github.com/lapline-data/lapline/internal/timeutil"
)

// Timer exposes current-lap elapsed time and the last completed lap
// duration. It holds no state of its own; everything is derived from the
// machine's transition timestamps.
type Timer struct {
	clock   timeutil.Clock
	machine *Machine
}

// NewTimer returns a timer over m using clock for "now".
func NewTimer(clock timeutil.Clock, m *Machine) *Timer {
	return &Timer{clock: clock, machine: m}
}

// Elapsed returns the time spent in the current lap, or zero when no lap
// is in progress.
func (t *Timer) Elapsed() time.Duration {
	start, ok := t.machine.CurrentLapStart()
	if !ok {
		return 0
	}
	return t.clock.Since(start)
}

// LastLapSeconds returns the duration of the most recently completed
// lap. The second return is false before the first lap closes.
func (t *Timer) LastLapSeconds() (float64, bool) {
	rec, ok := t.machine.LastLap()
	if !ok {
		return 0, false
	}
	return rec.Seconds, true
}
