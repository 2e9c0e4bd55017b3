package gps

import (
	"strconv"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/lapline-data/lapline/internal/monitoring"
	"github.com/lapline-data/lapline/internal/timeutil"
)

// Accumulator merges the per-sentence fragments of an NMEA stream into
// complete fixes. GGA carries quality, satellite count and position; RMC
// carries speed, heading and the full date+time. A fix is emitted for
// each position-bearing sentence once the receiver reports a fix.
//
// The serial reader feeds Sentence; the status API reads Status from
// HTTP handler goroutines, so both take the mutex.
type Accumulator struct {
	clock timeutil.Clock

	mu         sync.Mutex
	lat, lon   float64
	speedKnots float64
	heading    float64
	quality    int
	satellites int
	lastStamp  time.Time
	lastDate   nmea.Date
}

// NewAccumulator returns an Accumulator using the given clock for
// fallback timestamps when the stream has not yet carried a date.
func NewAccumulator(clock timeutil.Clock) *Accumulator {
	return &Accumulator{clock: clock}
}

// Sentence feeds one raw line from the receiver. It returns the merged
// fix and true when the line updated the position. Unparseable or
// irrelevant lines are skipped.
func (a *Accumulator) Sentence(line string) (Fix, bool) {
	line = strings.TrimSpace(line)
	a.mu.Lock()
	defer a.mu.Unlock()
	if line == "" || !strings.HasPrefix(line, "$") {
		return Fix{}, false
	}

	s, err := nmea.Parse(line)
	if err != nil {
		monitoring.Logf("nmea parse error: %v", err)
		return Fix{}, false
	}

	switch m := s.(type) {
	case nmea.GGA:
		q, err := strconv.Atoi(m.FixQuality)
		if err != nil {
			q = 0
		}
		a.quality = q
		a.satellites = int(m.NumSatellites)
		if q == 0 {
			return Fix{}, false
		}
		a.lat = m.Latitude
		a.lon = m.Longitude
		a.lastStamp = a.stamp(a.lastDate, m.Time)
		return a.fix(), true

	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			// Receiver lost its fix; position stays at the last
			// known value but no fixes are emitted.
			a.quality = 0
			a.speedKnots = 0
			return Fix{}, false
		}
		a.lat = m.Latitude
		a.lon = m.Longitude
		a.speedKnots = m.Speed
		a.heading = m.Course
		a.lastDate = m.Date
		a.lastStamp = a.stamp(m.Date, m.Time)
		if a.quality == 0 {
			// RMC "A" implies at least a basic fix even before the
			// next GGA arrives.
			a.quality = 1
		}
		return a.fix(), true
	}

	return Fix{}, false
}

func (a *Accumulator) fix() Fix {
	return Fix{
		Lat:        a.lat,
		Lon:        a.lon,
		SpeedKnots: a.speedKnots,
		Heading:    a.heading,
		Time:       a.lastStamp,
		Quality:    a.quality,
		Satellites: a.satellites,
	}
}

// stamp combines an NMEA date and time-of-day into a UTC timestamp,
// falling back to the wall clock's date (or the wall clock entirely)
// when the stream has not provided them.
func (a *Accumulator) stamp(d nmea.Date, t nmea.Time) time.Time {
	if !t.Valid {
		return a.clock.Now().UTC()
	}
	var year int
	var month time.Month
	var day int
	if d.Valid {
		year, month, day = 2000+d.YY, time.Month(d.MM), d.DD
	} else {
		year, month, day = a.clock.Now().UTC().Date()
	}
	return time.Date(year, month, day, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}

// Status returns the current receiver health snapshot.
func (a *Accumulator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		HasFix:        a.quality > 0,
		FixQuality:    a.quality,
		NumSatellites: a.satellites,
		Latitude:      a.lat,
		Longitude:     a.lon,
		SpeedKnots:    a.speedKnots,
		Timestamp:     a.clock.Now().UTC().Format(time.RFC3339Nano),
	}
}
