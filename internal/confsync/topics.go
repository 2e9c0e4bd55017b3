// Package confsync keeps gate geometry and race parameters consistent
// between the map editor and the timing unit through retained broker
// topics. Geometry travels as JSON, the two scalar parameters as plain
// text, so each topic is independently retained and independently
// overridable with last-writer-wins semantics.
package confsync

import (
	"github.com/lapline-data/lapline/internal/geo"
	"github.com/lapline-data/lapline/internal/track"
)

// Retained configuration topics.
const (
	TopicStartLine  = "config/start_line"
	TopicLapLine    = "config/lap_line"
	TopicFinishLine = "config/finish_line"
	TopicTotalLaps  = "config/total_laps"
	TopicIdealTime  = "config/ideal_time"
)

// ConfigQoS is used for all configuration traffic. Retained QoS 2
// messages give each subscriber exactly one copy of the latest value.
const ConfigQoS = 2

// Topics lists all configuration topics in publish order.
var Topics = []string{TopicStartLine, TopicLapLine, TopicFinishLine, TopicTotalLaps, TopicIdealTime}

// gateTopics maps each gate to its retained topic.
var gateTopics = map[track.Gate]string{
	track.GateStart:  TopicStartLine,
	track.GateLap:    TopicLapLine,
	track.GateFinish: TopicFinishLine,
}

// LinePayload is the wire form of one gate line. Coordinates are
// [longitude, latitude] pairs, matching the map editor's GeoJSON
// ordering.
type LinePayload struct {
	P1 [2]float64 `json:"p1"`
	P2 [2]float64 `json:"p2"`
}

// Segment converts the wire form to a geodetic segment.
func (l LinePayload) Segment() geo.Segment {
	return geo.Segment{
		P1: geo.Point{Lat: l.P1[1], Lon: l.P1[0]},
		P2: geo.Point{Lat: l.P2[1], Lon: l.P2[0]},
	}
}

// PayloadFromSegment converts a segment to the wire form.
func PayloadFromSegment(s geo.Segment) LinePayload {
	return LinePayload{
		P1: [2]float64{s.P1.Lon, s.P1.Lat},
		P2: [2]float64{s.P2.Lon, s.P2.Lat},
	}
}
