package laps

import (
	"sort"
	"sync"
	"time"

	"github.com/lapline-data/lapline/internal/monitoring"
	"github.com/lapline-data/lapline/internal/track"
)

// State is the race state. Transitions happen only on crossings or an
// explicit reset.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Machine advances race state from crossing events and owns the lap
// history. It is safe for concurrent use: the fix pipeline applies
// crossings while the HTTP API reads state and issues resets.
type Machine struct {
	store *track.Store

	mu             sync.Mutex
	state          State
	currentLap     int
	lapStart       time.Time
	lastTransition time.Time
	history        []LapRecord
}

// NewMachine returns a machine in the Idle state reading race
// parameters from store.
func NewMachine(store *track.Store) *Machine {
	return &Machine{store: store}
}

// precedence orders crossings reported from the same fix pair: arming
// the race beats a lap increment, and finishing beats continuing.
func precedence(g track.Gate) int {
	switch g {
	case track.GateStart:
		return 0
	case track.GateFinish:
		return 1
	default:
		return 2
	}
}

// Apply feeds the crossings detected from one fix pair, in precedence
// order, and returns the race events they produced.
func (m *Machine) Apply(crossings []Crossing) []Event {
	if len(crossings) == 0 {
		return nil
	}
	ordered := make([]Crossing, len(crossings))
	copy(ordered, crossings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return precedence(ordered[i].Gate) < precedence(ordered[j].Gate)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	for _, c := range ordered {
		wasIdle := m.state == StateIdle
		events = append(events, m.applyLocked(c)...)
		if wasIdle && m.state == StateRunning {
			// The start crossing armed the race. Coincident crossings
			// from the same fix pair (a finish line sharing the start
			// line's geometry, or a lap line metres past it) would
			// instantly close a zero-length lap; swallow them.
			break
		}
	}
	return events
}

func (m *Machine) applyLocked(c Crossing) []Event {
	if c.Time.Before(m.lastTransition) {
		monitoring.Logf("race: discarding %s crossing at %v, earlier than last transition %v",
			c.Gate, c.Time, m.lastTransition)
		return nil
	}

	totalLaps := m.store.Snapshot().Race.TotalLaps

	switch m.state {
	case StateIdle:
		if c.Gate != track.GateStart {
			return nil
		}
		m.state = StateRunning
		m.currentLap = 1
		m.lapStart = c.Time
		m.lastTransition = c.Time
		monitoring.Logf("race: started at %v, lap 1 of %d begins", c.Time, totalLaps)
		return []Event{{
			Event:             EventRaceStarted,
			Timestamp:         eventStamp(c.Time),
			TotalLaps:         totalLaps,
			LapNumberStarting: 1,
		}}

	case StateRunning:
		switch c.Gate {
		case track.GateLap:
			return m.completeLapLocked(c.Time, totalLaps)
		case track.GateFinish:
			return m.finishLocked(c.Time, totalLaps)
		default:
			// Crossing the start line again mid-race is an out-lap
			// artifact, not a transition.
			return nil
		}

	case StateFinished:
		// Terminal until an explicit reset.
		return nil
	}
	return nil
}

// completeLapLocked closes the current lap on a lap-line crossing. When
// the lap that would start next exceeds a non-zero lap target, the race
// finishes here instead.
func (m *Machine) completeLapLocked(at time.Time, totalLaps int) []Event {
	rec := m.closeLapLocked(at)
	events := []Event{{
		Event:          EventLapCompleted,
		Timestamp:      eventStamp(at),
		TotalLaps:      totalLaps,
		LapNumber:      rec.Number,
		LapTimeSeconds: rec.Seconds,
	}}

	next := m.currentLap + 1
	if totalLaps > 0 && next > totalLaps {
		m.state = StateFinished
		monitoring.Logf("race: finished after lap %d of %d (lap line)", rec.Number, totalLaps)
		events = append(events, m.finishedEventLocked(at, totalLaps))
		return events
	}

	m.currentLap = next
	m.lapStart = at
	monitoring.Logf("race: lap %d complete in %.3fs, lap %d begins", rec.Number, rec.Seconds, next)
	return events
}

// finishLocked closes the final lap on a finish-line crossing.
func (m *Machine) finishLocked(at time.Time, totalLaps int) []Event {
	rec := m.closeLapLocked(at)
	m.state = StateFinished
	monitoring.Logf("race: finished at %v, final lap %d in %.3fs", at, rec.Number, rec.Seconds)
	return []Event{m.finishedEventLocked(at, totalLaps)}
}

func (m *Machine) closeLapLocked(at time.Time) LapRecord {
	rec := LapRecord{
		Number:  m.currentLap,
		Start:   m.lapStart,
		End:     at,
		Seconds: at.Sub(m.lapStart).Seconds(),
	}
	m.history = append(m.history, rec)
	m.lastTransition = at
	return rec
}

func (m *Machine) finishedEventLocked(at time.Time, totalLaps int) Event {
	history := make([]LapRecord, len(m.history))
	copy(history, m.history)
	final := history[len(history)-1]
	return Event{
		Event:          EventRaceFinished,
		Timestamp:      eventStamp(at),
		TotalLaps:      totalLaps,
		LapNumber:      final.Number,
		LapTimeSeconds: final.Seconds,
		Laps:           history,
		Summary:        summarize(history),
	}
}

// Reset returns the machine to Idle and clears the lap history. This is
// the only destruction path for lap records.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.currentLap = 0
	m.lapStart = time.Time{}
	m.lastTransition = time.Time{}
	m.history = nil
	monitoring.Logf("race: reset to idle")
}

// State returns the current race state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentLap returns the in-progress lap number, 0 while Idle.
func (m *Machine) CurrentLap() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return 0
	}
	return m.currentLap
}

// CurrentLapStart returns the start time of the in-progress lap. The
// second return is false unless the race is running.
func (m *Machine) CurrentLapStart() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return time.Time{}, false
	}
	return m.lapStart, true
}

// LastLap returns the most recently completed lap record.
func (m *Machine) LastLap() (LapRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return LapRecord{}, false
	}
	return m.history[len(m.history)-1], true
}

// History returns a copy of the lap history.
func (m *Machine) History() []LapRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make([]LapRecord, len(m.history))
	copy(history, m.history)
	return history
}
