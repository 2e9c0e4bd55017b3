package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lapline-data/lapline/internal/bus"
	"github.com/lapline-data/lapline/internal/confsync"
	"github.com/lapline-data/lapline/internal/geo"
	"github.com/lapline-data/lapline/internal/gps"
	"github.com/lapline-data/lapline/internal/laps"
	"github.com/lapline-data/lapline/internal/timeutil"
	"github.com/lapline-data/lapline/internal/track"
)

type stubStatus gps.Status

func (s stubStatus) Status() gps.Status { return gps.Status(s) }

type stubControl struct{ resets int }

func (c *stubControl) Reset() { c.resets++ }

type fixture struct {
	bus     *bus.MockBus
	store   *track.Store
	machine *laps.Machine
	clock   *timeutil.MockClock
	control *stubControl
	server  *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mb := bus.NewMockBus()
	store := track.NewStore()
	require.NoError(t, store.SetGate(track.GateStart, geo.Segment{
		P1: geo.Point{Lat: 46.200, Lon: 6.100},
		P2: geo.Point{Lat: 46.210, Lon: 6.100},
	}))
	require.NoError(t, store.SetGate(track.GateLap, geo.Segment{
		P1: geo.Point{Lat: 46.200, Lon: 6.200},
		P2: geo.Point{Lat: 46.210, Lon: 6.200},
	}))
	require.NoError(t, store.SetGate(track.GateFinish, geo.Segment{
		P1: geo.Point{Lat: 46.200, Lon: 6.300},
		P2: geo.Point{Lat: 46.210, Lon: 6.300},
	}))
	require.NoError(t, store.SetTotalLaps(5))
	require.NoError(t, store.SetIdealLapSeconds(60))

	// Mirror the daemon wiring: the listener keeps the store in sync
	// with the retained topics on the same bus client the API uses.
	require.NoError(t, confsync.NewListener(store).Attach(mb))

	machine := laps.NewMachine(store)
	clock := timeutil.NewMockClock(time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC))
	timer := laps.NewTimer(clock, machine)
	control := &stubControl{}
	status := stubStatus{HasFix: true, FixQuality: 1, NumSatellites: 9, SpeedKnots: 20}

	server := NewServer(mb, confsync.NewWriter(mb, time.Second), store, machine, timer, control, status, "knots", 0)
	return &fixture{bus: mb, store: store, machine: machine, clock: clock, control: control, server: server}
}

func (f *fixture) startRace(t *testing.T, at time.Time) {
	t.Helper()
	events := f.machine.Apply([]laps.Crossing{{Gate: track.GateStart, Time: at}})
	require.Len(t, events, 1)
	require.Equal(t, laps.EventRaceStarted, events[0].Event)
}

func doRequest(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestShowRaceIdle(t *testing.T) {
	f := newFixture(t)
	w := doRequest(f.server.ServeMux(), http.MethodGet, "/api/race", "")
	require.Equal(t, http.StatusOK, w.Code)

	var view raceView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "idle", view.State)
	assert.Zero(t, view.CurrentLap)
	assert.Equal(t, 5, view.TotalLaps)
	assert.True(t, view.ConfigComplete)
}

func TestShowRaceRunning(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now()
	f.startRace(t, start)
	f.clock.Advance(42 * time.Second)

	w := doRequest(f.server.ServeMux(), http.MethodGet, "/api/race", "")
	require.Equal(t, http.StatusOK, w.Code)

	var view raceView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "running", view.State)
	assert.Equal(t, 1, view.CurrentLap)
	assert.InDelta(t, 42.0, view.ElapsedSeconds, 1e-9)
	assert.InDelta(t, -18.0, view.DeltaSeconds, 1e-9)
}

func TestListLaps(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now()
	f.startRace(t, start)
	f.machine.Apply([]laps.Crossing{{Gate: track.GateLap, Time: start.Add(61 * time.Second)}})
	f.machine.Apply([]laps.Crossing{{Gate: track.GateLap, Time: start.Add(119 * time.Second)}})

	w := doRequest(f.server.ServeMux(), http.MethodGet, "/api/laps", "")
	require.Equal(t, http.StatusOK, w.Code)

	var history []laps.LapRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Number)
	assert.InDelta(t, 61.0, history[0].Seconds, 1e-9)
	assert.InDelta(t, 58.0, history[1].Seconds, 1e-9)
}

func TestListLapsEmptyIsArray(t *testing.T) {
	f := newFixture(t)
	w := doRequest(f.server.ServeMux(), http.MethodGet, "/api/laps", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestResetRace(t *testing.T) {
	f := newFixture(t)
	f.startRace(t, f.clock.Now())

	w := doRequest(f.server.ServeMux(), http.MethodPost, "/api/race/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.control.resets)

	w = doRequest(f.server.ServeMux(), http.MethodGet, "/api/race/reset", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestShowStatusConvertsUnits(t *testing.T) {
	f := newFixture(t)

	w := doRequest(f.server.ServeMux(), http.MethodGet, "/api/status?units=kmh", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.InDelta(t, 37.04, resp["speed"].(float64), 0.01)
	assert.Equal(t, "kmh", resp["speed_units"])
	assert.Equal(t, true, resp["has_fix"])

	w = doRequest(f.server.ServeMux(), http.MethodGet, "/api/status?units=furlongs", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func validConfigBody() string {
	return `{
		"start_line":  {"p1": [6.100, 46.200], "p2": [6.100, 46.210]},
		"lap_line":    {"p1": [6.200, 46.200], "p2": [6.200, 46.210]},
		"finish_line": {"p1": [6.300, 46.200], "p2": [6.300, 46.210]},
		"total_laps": 5,
		"ideal_lap_seconds": 58.5
	}`
}

func TestSaveConfigAllAcknowledged(t *testing.T) {
	f := newFixture(t)
	w := doRequest(f.server.ServeMux(), http.MethodPost, "/api/config", validConfigBody())
	require.Equal(t, http.StatusOK, w.Code)

	var result confsync.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.AllOK())
	assert.Len(t, result.Outcomes, 5)

	_, ok := f.bus.Retained(confsync.TopicStartLine)
	assert.True(t, ok)
}

func TestSaveConfigPartialFailureIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.bus.FailTopics[confsync.TopicFinishLine] = assert.AnError

	w := doRequest(f.server.ServeMux(), http.MethodPost, "/api/config", validConfigBody())
	require.Equal(t, http.StatusBadGateway, w.Code)

	var result confsync.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	failed := 0
	for _, o := range result.Outcomes {
		if !o.OK {
			failed++
			assert.Equal(t, confsync.TopicFinishLine, o.Topic)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestSaveConfigTimeoutIsGatewayTimeout(t *testing.T) {
	f := newFixture(t)
	f.bus.HangTopics[confsync.TopicTotalLaps] = true
	f.server.writer = confsync.NewWriter(f.bus, 20*time.Millisecond)

	w := doRequest(f.server.ServeMux(), http.MethodPost, "/api/config", validConfigBody())
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestSaveConfigRejectsInvalid(t *testing.T) {
	f := newFixture(t)

	w := doRequest(f.server.ServeMux(), http.MethodPost, "/api/config", `{"total_laps": 3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(f.server.ServeMux(), http.MethodPost, "/api/config", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestShowConfigRoundTrip(t *testing.T) {
	f := newFixture(t)
	doRequest(f.server.ServeMux(), http.MethodPost, "/api/config", validConfigBody())

	w := doRequest(f.server.ServeMux(), http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	var cur confsync.Current
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cur))
	require.NotNil(t, cur.StartLine)
	assert.Equal(t, [2]float64{6.100, 46.200}, cur.StartLine.P1)
	assert.Equal(t, 5, cur.TotalLaps)
}

func TestShowConfigLeavesListenerAttached(t *testing.T) {
	f := newFixture(t)
	mb := f.bus
	mb.Publish(confsync.TopicTotalLaps, confsync.ConfigQoS, true, []byte("3"))
	require.Equal(t, 3, f.store.Snapshot().Race.TotalLaps)

	// Reading the configuration must not displace the listener's
	// subscriptions on the shared bus client.
	w := doRequest(f.server.ServeMux(), http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	mb.Publish(confsync.TopicTotalLaps, confsync.ConfigQoS, true, []byte("12"))
	assert.Equal(t, 12, f.store.Snapshot().Race.TotalLaps)
}

func TestShowConfigServesStoreState(t *testing.T) {
	f := newFixture(t)

	w := doRequest(f.server.ServeMux(), http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	var cur confsync.Current
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cur))
	require.NotNil(t, cur.StartLine)
	assert.Equal(t, [2]float64{6.100, 46.200}, cur.StartLine.P1)
	assert.Equal(t, 5, cur.TotalLaps)
	assert.InDelta(t, 60.0, cur.IdealLapSeconds, 1e-9)
}

func TestConfigServerHasNoRaceRoutes(t *testing.T) {
	mb := bus.NewMockBus()
	s := NewConfigServer(mb, confsync.NewWriter(mb, time.Second), 50*time.Millisecond)
	mux := s.ServeMux()

	w := doRequest(mux, http.MethodGet, "/api/race", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(mux, http.MethodGet, "/api/config", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServerFetchTimeoutIsConfigurable(t *testing.T) {
	mb := bus.NewMockBus()
	w := confsync.NewWriter(mb, time.Second)

	s := NewConfigServer(mb, w, 50*time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, s.fetchTimeout)

	// Non-positive values fall back to the default.
	s = NewConfigServer(mb, w, 0)
	assert.Equal(t, DefaultFetchTimeout, s.fetchTimeout)

	full := NewServer(mb, w, nil, nil, nil, nil, nil, "knots", 75*time.Millisecond)
	assert.Equal(t, 75*time.Millisecond, full.fetchTimeout)

	// The editor backend's config read is bounded by the configured
	// timeout even when no retained topics exist yet.
	short := NewConfigServer(mb, w, 25*time.Millisecond)
	start := time.Now()
	rec := doRequest(short.ServeMux(), http.MethodGet, "/api/config", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLoggingMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	wrapped := LoggingMiddleware(handler)

	w := doRequest(wrapped, http.MethodGet, "/anything", "")
	assert.Equal(t, http.StatusTeapot, w.Code)
}
