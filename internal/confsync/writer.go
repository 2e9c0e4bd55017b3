package confsync

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lapline-data/lapline/internal/bus"
	"github.com/lapline-data/lapline/internal/geo"
	"github.com/lapline-data/lapline/internal/monitoring"
)

// Update is one full configuration write: all three gate lines plus
// the two race parameters. The editor always sends the complete set,
// so a save replaces every retained topic.
type Update struct {
	StartLine       LinePayload `json:"start_line" validate:"required"`
	LapLine         LinePayload `json:"lap_line" validate:"required"`
	FinishLine      LinePayload `json:"finish_line" validate:"required"`
	TotalLaps       int         `json:"total_laps" validate:"min=0"`
	IdealLapSeconds float64     `json:"ideal_lap_seconds" validate:"min=0"`
}

// Outcome reports the fate of one topic within a configuration write.
// Exactly one of OK, TimedOut, or a non-empty Error applies.
type Outcome struct {
	Topic    string `json:"topic"`
	OK       bool   `json:"ok"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Result aggregates the per-topic outcomes of one configuration write.
type Result struct {
	RequestID string    `json:"request_id"`
	Outcomes  []Outcome `json:"outcomes"`
}

// AllOK reports whether every topic was acknowledged.
func (r Result) AllOK() bool {
	for _, o := range r.Outcomes {
		if !o.OK {
			return false
		}
	}
	return true
}

// AnyTimedOut reports whether any topic's outcome is unknown because
// the broker never acknowledged within the deadline.
func (r Result) AnyTimedOut() bool {
	for _, o := range r.Outcomes {
		if o.TimedOut {
			return true
		}
	}
	return false
}

var validate = newValidator()

// MaxGateLineMeters caps the great-circle length of a gate line. A
// virtual gate spans a track, not a continent; a longer line is almost
// certainly a swapped or mistyped coordinate.
const MaxGateLineMeters = 10000

func newValidator() *validator.Validate {
	v := validator.New()
	// A gate line must span two distinct coordinates inside the
	// geodetic range; a zero-length line can never be crossed.
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		l := sl.Current().Interface().(LinePayload)
		if !l.Segment().Valid() {
			sl.ReportError(l.P2, "p2", "P2", "distinct", "")
		}
		if !inRange(l.P1) {
			sl.ReportError(l.P1, "p1", "P1", "geodetic", "")
			return
		}
		if !inRange(l.P2) {
			sl.ReportError(l.P2, "p2", "P2", "geodetic", "")
			return
		}
		seg := l.Segment()
		if geo.HaversineMeters(seg.P1, seg.P2) > MaxGateLineMeters {
			sl.ReportError(l.P2, "p2", "P2", "maxlength", "")
		}
	}, LinePayload{})
	return v
}

func inRange(p [2]float64) bool {
	return p[0] >= -180 && p[0] <= 180 && p[1] >= -90 && p[1] <= 90
}

// Validate checks the update without publishing it.
func (u Update) Validate() error {
	return validate.Struct(u)
}

// payloads returns the wire payload for each topic.
func (u Update) payloads() map[string][]byte {
	enc := func(l LinePayload) []byte {
		b, _ := json.Marshal(l)
		return b
	}
	return map[string][]byte{
		TopicStartLine:  enc(u.StartLine),
		TopicLapLine:    enc(u.LapLine),
		TopicFinishLine: enc(u.FinishLine),
		TopicTotalLaps:  []byte(strconv.Itoa(u.TotalLaps)),
		TopicIdealTime:  []byte(strconv.FormatFloat(u.IdealLapSeconds, 'f', -1, 64)),
	}
}

// DefaultPublishTimeout bounds how long a configuration write waits
// for broker acknowledgements.
const DefaultPublishTimeout = 5 * time.Second

// Writer is the producer role of the configuration synchronizer. It
// publishes complete configuration updates as retained messages and
// reports the fate of each topic individually, so a save that lands
// partially is visible as exactly that.
type Writer struct {
	bus     bus.Bus
	timeout time.Duration
}

// NewWriter returns a writer publishing on b. A non-positive timeout
// falls back to DefaultPublishTimeout.
func NewWriter(b bus.Bus, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Writer{bus: b, timeout: timeout}
}

// Publish validates u and writes all five retained topics. Topics are
// published in a fixed order and each is awaited under one shared
// deadline; the returned Result carries one Outcome per topic. An
// error is returned only for validation failures, never for publish
// failures, which are reported per topic instead.
func (w *Writer) Publish(u Update) (Result, error) {
	if err := u.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid configuration: %w", err)
	}

	res := Result{RequestID: uuid.NewString()}
	payloads := u.payloads()
	deadline := time.Now().Add(w.timeout)

	for _, topic := range Topics {
		tok := w.bus.Publish(topic, ConfigQoS, true, payloads[topic])
		out := Outcome{Topic: topic}
		switch {
		case !tok.WaitTimeout(time.Until(deadline)):
			out.TimedOut = true
			monitoring.Logf("confsync: publish %s timed out (request %s)", topic, res.RequestID)
		case tok.Error() != nil:
			out.Error = tok.Error().Error()
			monitoring.Logf("confsync: publish %s failed: %v (request %s)", topic, tok.Error(), res.RequestID)
		default:
			out.OK = true
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	if res.AllOK() {
		monitoring.Logf("confsync: configuration published (request %s)", res.RequestID)
	}
	return res, nil
}

// UpdateFromSegments builds an Update from geodetic segments.
func UpdateFromSegments(start, lap, finish geo.Segment, totalLaps int, idealLapSeconds float64) Update {
	return Update{
		StartLine:       PayloadFromSegment(start),
		LapLine:         PayloadFromSegment(lap),
		FinishLine:      PayloadFromSegment(finish),
		TotalLaps:       totalLaps,
		IdealLapSeconds: idealLapSeconds,
	}
}
