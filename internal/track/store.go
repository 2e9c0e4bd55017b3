// Package track holds the configured gate geometry and race parameters.
// The store is the single authoritative in-process copy of what the
// retained configuration topics describe; the crossing detector and the
// race state machine read it through snapshots so one fix evaluation
// never observes a half-applied update.
package track

import (
	"fmt"
	"sync"

	"github.com/lapline-data/lapline/internal/geo"
)

// Gate identifies one of the three configured timing lines.
type Gate int

const (
	GateStart Gate = iota
	GateLap
	GateFinish
)

// Gates lists all gates in their fixed evaluation order.
var Gates = []Gate{GateStart, GateLap, GateFinish}

func (g Gate) String() string {
	switch g {
	case GateStart:
		return "start"
	case GateLap:
		return "lap"
	case GateFinish:
		return "finish"
	default:
		return fmt.Sprintf("gate(%d)", int(g))
	}
}

// RaceConfig holds the race parameters. TotalLaps of 0 means an
// unbounded (endurance) race.
type RaceConfig struct {
	TotalLaps       int     `json:"total_laps"`
	IdealLapSeconds float64 `json:"ideal_lap_seconds"`
}

// DefaultIdealLapSeconds is used when the retained topic is absent or
// unparseable.
const DefaultIdealLapSeconds = 60

// Snapshot is a complete, immutable copy of the configuration at one
// version. Gate entries are nil until that gate has been configured.
type Snapshot struct {
	Version uint64
	Start   *geo.Segment
	Lap     *geo.Segment
	Finish  *geo.Segment
	Race    RaceConfig
}

// GateSegment returns the segment configured for g, or nil.
func (s Snapshot) GateSegment(g Gate) *geo.Segment {
	switch g {
	case GateStart:
		return s.Start
	case GateLap:
		return s.Lap
	case GateFinish:
		return s.Finish
	}
	return nil
}

// Complete reports whether all three gates are configured. The detector
// stays inert for any missing gate, so an incomplete snapshot is a
// normal startup condition, not an error.
func (s Snapshot) Complete() bool {
	return s.Start != nil && s.Lap != nil && s.Finish != nil
}

// Store is the mutable holder behind Snapshot. Writes come from the
// configuration synchronizer; reads come from the fix pipeline.
type Store struct {
	mu      sync.RWMutex
	version uint64
	gates   map[Gate]geo.Segment
	race    RaceConfig
}

// NewStore returns an empty store with default race parameters.
func NewStore() *Store {
	return &Store{
		gates: make(map[Gate]geo.Segment),
		race:  RaceConfig{IdealLapSeconds: DefaultIdealLapSeconds},
	}
}

// SetGate replaces the segment for one gate wholesale. Degenerate
// segments are rejected.
func (s *Store) SetGate(g Gate, seg geo.Segment) error {
	if !seg.Valid() {
		return fmt.Errorf("%s line is degenerate: both endpoints are %+v", g, seg.P1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates[g] = seg
	s.version++
	return nil
}

// SetTotalLaps replaces the lap-count target. Negative values are rejected.
func (s *Store) SetTotalLaps(n int) error {
	if n < 0 {
		return fmt.Errorf("total_laps must be non-negative, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.race.TotalLaps = n
	s.version++
	return nil
}

// SetIdealLapSeconds replaces the ideal lap time. Negative values are rejected.
func (s *Store) SetIdealLapSeconds(v float64) error {
	if v < 0 {
		return fmt.Errorf("ideal_time must be non-negative, got %v", v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.race.IdealLapSeconds = v
	s.version++
	return nil
}

// Snapshot returns a complete copy of the current configuration.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Version: s.version, Race: s.race}
	if seg, ok := s.gates[GateStart]; ok {
		seg := seg
		snap.Start = &seg
	}
	if seg, ok := s.gates[GateLap]; ok {
		seg := seg
		snap.Lap = &seg
	}
	if seg, ok := s.gates[GateFinish]; ok {
		seg := seg
		snap.Finish = &seg
	}
	return snap
}
