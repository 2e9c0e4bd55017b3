package laps

import (
	"testing"
	"time"

	"github.com/lapline-data/lapline/internal/timeutil"
	"github.com/lapline-data/lapline/internal/track"
)

func TestTimerIdle(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	timer := NewTimer(clock, NewMachine(track.NewStore()))

	if got := timer.Elapsed(); got != 0 {
		t.Errorf("Elapsed() while idle = %v, want 0", got)
	}
	if _, ok := timer.LastLapSeconds(); ok {
		t.Error("LastLapSeconds() should report nothing before the first lap")
	}
}

func TestTimerRunning(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	m := NewMachine(track.NewStore())
	timer := NewTimer(clock, m)

	m.Apply([]Crossing{crossing(track.GateStart, t0)})
	clock.Advance(42 * time.Second)

	if got := timer.Elapsed(); got != 42*time.Second {
		t.Errorf("Elapsed() = %v, want 42s", got)
	}

	m.Apply([]Crossing{crossing(track.GateLap, t0.Add(50*time.Second))})
	clock.Set(t0.Add(55 * time.Second))

	// Lap 2 started at t0+50; five seconds of it have elapsed.
	if got := timer.Elapsed(); got != 5*time.Second {
		t.Errorf("Elapsed() = %v, want 5s", got)
	}
	last, ok := timer.LastLapSeconds()
	if !ok || last != 50.0 {
		t.Errorf("LastLapSeconds() = %v,%v, want 50,true", last, ok)
	}
}

func TestTimerStopsAfterFinish(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	m := NewMachine(track.NewStore())
	timer := NewTimer(clock, m)

	m.Apply([]Crossing{crossing(track.GateStart, t0)})
	m.Apply([]Crossing{crossing(track.GateFinish, t0.Add(time.Minute))})
	clock.Advance(10 * time.Minute)

	if got := timer.Elapsed(); got != 0 {
		t.Errorf("Elapsed() after finish = %v, want 0", got)
	}
	if last, ok := timer.LastLapSeconds(); !ok || last != 60.0 {
		t.Errorf("LastLapSeconds() = %v,%v, want 60,true", last, ok)
	}
}
