// Package gps holds the position fix model and the NMEA sentence
// accumulator that produces fixes from a raw receiver stream.
package gps

import (
	"time"

	"github.com/lapline-data/lapline/internal/geo"
)

// Fix is one timestamped position/velocity sample from the receiver.
// Fixes are immutable values, ordered by Time.
type Fix struct {
	Lat        float64
	Lon        float64
	SpeedKnots float64
	Heading    float64
	Time       time.Time
	Quality    int // GGA fix quality, 0 = no fix
	Satellites int
}

// Valid reports whether the receiver had a positional fix for this sample.
func (f Fix) Valid() bool {
	return f.Quality > 0
}

// Point returns the fix position as a geodetic point.
func (f Fix) Point() geo.Point {
	return geo.Point{Lat: f.Lat, Lon: f.Lon}
}

// Status is the receiver health snapshot published on the status topic.
type Status struct {
	HasFix        bool    `json:"has_fix"`
	FixQuality    int     `json:"fix_quality"`
	NumSatellites int     `json:"num_satellites"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	SpeedKnots    float64 `json:"speed_knots"`
	Timestamp     string  `json:"timestamp"`
}
