// Package laps implements race timing from a stream of GPS fixes:
// gate-crossing detection with interpolated timestamps, the race state
// machine, lap records, and the derived lap timer.
package laps

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lapline-data/lapline/internal/gps"
	"github.com/lapline-data/lapline/internal/track"
)

// Crossing is one detected intersection of the vehicle's movement with a
// gate. Time is interpolated between the two bracketing fixes.
type Crossing struct {
	Gate   track.Gate
	Time   time.Time
	Before gps.Fix
	After  gps.Fix
}

// LapRecord is one completed lap.
type LapRecord struct {
	Number  int       `json:"lap_number"`
	Start   time.Time `json:"start_timestamp"`
	End     time.Time `json:"end_timestamp"`
	Seconds float64   `json:"duration_seconds"`
}

// EventKind discriminates race event payloads on the laps topic.
type EventKind string

const (
	EventRaceStarted  EventKind = "race_started"
	EventLapCompleted EventKind = "lap_completed"
	EventRaceFinished EventKind = "race_finished"
)

// Event is a race event as published on the laps topic.
type Event struct {
	Event             EventKind   `json:"event"`
	Timestamp         string      `json:"timestamp"`
	TotalLaps         int         `json:"total_laps"`
	LapNumberStarting int         `json:"lap_number_starting,omitempty"`
	LapNumber         int         `json:"lap_number,omitempty"`
	LapTimeSeconds    float64     `json:"lap_time_seconds,omitempty"`
	Laps              []LapRecord `json:"laps,omitempty"`
	Summary           *LapSummary `json:"summary,omitempty"`
}

// LapSummary aggregates a finished race's lap durations.
type LapSummary struct {
	Laps          int     `json:"laps"`
	BestSeconds   float64 `json:"best_seconds"`
	MeanSeconds   float64 `json:"mean_seconds"`
	StddevSeconds float64 `json:"stddev_seconds"`
}

// eventStamp formats transition timestamps for the wire.
func eventStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// summarize computes the lap summary for a finished race. Returns nil
// for an empty history.
func summarize(records []LapRecord) *LapSummary {
	if len(records) == 0 {
		return nil
	}
	durations := make([]float64, len(records))
	for i, r := range records {
		durations[i] = r.Seconds
	}
	s := &LapSummary{
		Laps:        len(records),
		BestSeconds: floats.Min(durations),
		MeanSeconds: stat.Mean(durations, nil),
	}
	if len(durations) > 1 {
		if sd := stat.StdDev(durations, nil); !math.IsNaN(sd) {
			s.StddevSeconds = sd
		}
	}
	return s
}
