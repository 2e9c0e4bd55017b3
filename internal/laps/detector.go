package laps

import (
	"sync"
	"time"

	"github.com/lapline-data/lapline/internal/geo"
	"github.com/lapline-data/lapline/internal/gps"
	"github.com/lapline-data/lapline/internal/monitoring"
	"github.com/lapline-data/lapline/internal/track"
)

// DefaultDwell is the minimum time between two crossings of the same
// gate. It stops a slow pass along a line from re-triggering at low
// sample rates.
const DefaultDwell = 3 * time.Second

// Detector tests consecutive fix pairs against the configured gates and
// reports crossings with interpolated timestamps. It owns the last-seen
// fix and the per-gate debounce record. Advance is driven from the
// single fix-delivery goroutine; the mutex exists only so a reset from
// the API can re-arm the debounce state safely.
type Detector struct {
	store *track.Store
	dwell time.Duration

	mu        sync.Mutex
	prev      *gps.Fix
	lastCross map[track.Gate]time.Time
}

// NewDetector returns a detector reading gate geometry from store. A
// dwell of zero selects DefaultDwell.
func NewDetector(store *track.Store, dwell time.Duration) *Detector {
	if dwell <= 0 {
		dwell = DefaultDwell
	}
	return &Detector{
		store:     store,
		dwell:     dwell,
		lastCross: make(map[track.Gate]time.Time),
	}
}

// Advance feeds the next fix and returns the crossings detected between
// the previous fix and this one, in gate evaluation order. Gates that
// are not yet configured are skipped; with no previous fix there is
// nothing to evaluate.
func (d *Detector) Advance(fix gps.Fix) []Crossing {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !fix.Valid() {
		// A fix dropout skips evaluation but does not erase the
		// detector's history; the next valid fix pairs with the last
		// valid one.
		return nil
	}
	if d.prev == nil {
		prev := fix
		d.prev = &prev
		return nil
	}
	if !fix.Time.After(d.prev.Time) {
		monitoring.Logf("detector: rejecting out-of-order fix at %v (last seen %v)", fix.Time, d.prev.Time)
		return nil
	}

	before := *d.prev
	prev := fix
	d.prev = &prev

	if before.Point() == fix.Point() {
		// Stationary vehicle: no movement segment to test.
		return nil
	}

	// One snapshot per fix pair: a configuration update can never
	// change gate geometry mid-evaluation.
	snap := d.store.Snapshot()

	var crossings []Crossing
	for _, gate := range track.Gates {
		seg := snap.GateSegment(gate)
		if seg == nil {
			continue
		}
		c, ok := d.evaluate(gate, *seg, before, fix)
		if ok {
			crossings = append(crossings, c)
		}
	}
	return crossings
}

// evaluate tests a single gate against one movement segment, applying
// the per-gate dwell window.
func (d *Detector) evaluate(gate track.Gate, seg geo.Segment, before, after gps.Fix) (Crossing, bool) {
	crossed, frac := geo.SegmentsIntersect(before.Point(), after.Point(), seg)
	if !crossed {
		return Crossing{}, false
	}

	at := interpolate(before.Time, after.Time, frac)
	if last, ok := d.lastCross[gate]; ok && at.Sub(last) < d.dwell {
		monitoring.Logf("detector: %s line re-trigger %.2fs after previous crossing suppressed",
			gate, at.Sub(last).Seconds())
		return Crossing{}, false
	}
	d.lastCross[gate] = at

	return Crossing{Gate: gate, Time: at, Before: before, After: after}, true
}

// Rearm clears the per-gate debounce record. Called on race reset so the
// next crossing of any gate registers immediately.
func (d *Detector) Rearm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastCross = make(map[track.Gate]time.Time)
}

// interpolate returns the time a fraction of the way from t0 to t1.
func interpolate(t0, t1 time.Time, frac float64) time.Time {
	return t0.Add(time.Duration(frac * float64(t1.Sub(t0))))
}
