package gps

import (
	"fmt"
	"testing"
	"time"

	"github.com/lapline-data/lapline/internal/timeutil"
)

// sentence wraps an NMEA body in $...*checksum framing.
func sentence(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}

func newTestAccumulator() (*Accumulator, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2026, 4, 12, 10, 0, 0, 0, time.UTC))
	return NewAccumulator(clock), clock
}

func TestAccumulatorGGA(t *testing.T) {
	a, _ := newTestAccumulator()

	fix, ok := a.Sentence(sentence("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"))
	if !ok {
		t.Fatal("expected a fix from a quality-1 GGA sentence")
	}
	if fix.Quality != 1 {
		t.Errorf("Quality = %d, want 1", fix.Quality)
	}
	if fix.Satellites != 8 {
		t.Errorf("Satellites = %d, want 8", fix.Satellites)
	}
	if got := fix.Lat; got < 48.117 || got > 48.118 {
		t.Errorf("Lat = %v, want ~48.1173", got)
	}
	if got := fix.Lon; got < 11.516 || got > 11.517 {
		t.Errorf("Lon = %v, want ~11.5167", got)
	}
	// Stream has not carried a date yet; the clock's date fills in.
	if fix.Time.Year() != 2026 || fix.Time.Hour() != 12 || fix.Time.Minute() != 35 {
		t.Errorf("Time = %v, want clock date at 12:35:19", fix.Time)
	}
}

func TestAccumulatorGGANoFix(t *testing.T) {
	a, _ := newTestAccumulator()

	if _, ok := a.Sentence(sentence("GPGGA,123519,,,,,0,00,,,M,,M,,")); ok {
		t.Error("quality-0 GGA must not produce a fix")
	}
	if a.Status().HasFix {
		t.Error("status should report no fix")
	}
}

func TestAccumulatorRMC(t *testing.T) {
	a, _ := newTestAccumulator()

	fix, ok := a.Sentence(sentence("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	if !ok {
		t.Fatal("expected a fix from a valid RMC sentence")
	}
	if fix.SpeedKnots != 22.4 {
		t.Errorf("SpeedKnots = %v, want 22.4", fix.SpeedKnots)
	}
	if fix.Heading != 84.4 {
		t.Errorf("Heading = %v, want 84.4", fix.Heading)
	}
	// RMC carries the full date.
	want := time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC)
	if !fix.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", fix.Time, want)
	}
	// RMC "A" implies a basic fix even before the next GGA.
	if fix.Quality != 1 {
		t.Errorf("Quality = %d, want 1", fix.Quality)
	}
}

func TestAccumulatorRMCVoidDropsFix(t *testing.T) {
	a, _ := newTestAccumulator()

	if _, ok := a.Sentence(sentence("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")); !ok {
		t.Fatal("expected a fix first")
	}
	if _, ok := a.Sentence(sentence("GPRMC,123520,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")); ok {
		t.Error("void RMC must not produce a fix")
	}

	st := a.Status()
	if st.HasFix {
		t.Error("status should report fix lost")
	}
	// Last known position is retained for the status display.
	if st.Latitude == 0 {
		t.Error("last known latitude should be retained")
	}
}

func TestAccumulatorMergesGGAAndRMC(t *testing.T) {
	a, _ := newTestAccumulator()

	a.Sentence(sentence("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	fix, ok := a.Sentence(sentence("GPGGA,123520,4807.040,N,01131.002,E,2,10,0.9,545.4,M,46.9,M,,"))
	if !ok {
		t.Fatal("expected a fix")
	}
	// Quality and satellites from GGA, speed retained from RMC.
	if fix.Quality != 2 || fix.Satellites != 10 {
		t.Errorf("Quality/Satellites = %d/%d, want 2/10", fix.Quality, fix.Satellites)
	}
	if fix.SpeedKnots != 22.4 {
		t.Errorf("SpeedKnots = %v, want 22.4 carried over from RMC", fix.SpeedKnots)
	}
	// GGA time-of-day combined with the date learned from RMC.
	want := time.Date(1994, 3, 23, 12, 35, 20, 0, time.UTC)
	if !fix.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", fix.Time, want)
	}
}

func TestAccumulatorIgnoresJunk(t *testing.T) {
	a, _ := newTestAccumulator()

	for _, line := range []string{
		"",
		"not nmea at all",
		"$GPGGA,garbage",                       // bad checksum
		sentence("GPGSV,3,1,11,03,03,111,00"), // irrelevant sentence type
	} {
		if _, ok := a.Sentence(line); ok {
			t.Errorf("line %q should not produce a fix", line)
		}
	}
}

func TestAccumulatorConcurrentStatusReads(t *testing.T) {
	a, _ := newTestAccumulator()
	gga := sentence("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	rmc := sentence("GPRMC,123520,A,4807.040,N,01131.002,E,022.4,084.4,230394,003.1,W")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			a.Sentence(gga)
			a.Sentence(rmc)
		}
	}()

	for i := 0; i < 500; i++ {
		status := a.Status()
		if status.FixQuality > 0 && status.NumSatellites == 0 {
			t.Fatal("status snapshot mixed fields from different sentences")
		}
	}
	<-done
}
