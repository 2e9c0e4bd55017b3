package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lapline-data/lapline/internal/confsync"
	"github.com/lapline-data/lapline/internal/httputil"
	"github.com/lapline-data/lapline/internal/laps"
	"github.com/lapline-data/lapline/internal/units"
)

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.showConfig(w, r)
	case http.MethodPost:
		s.saveConfig(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	// The daemon's listener mirrors the retained topics into the store;
	// reading from it avoids touching the shared bus client's
	// subscriptions. Only the editor backend, which has no listener,
	// reads the broker directly.
	if s.store != nil {
		httputil.WriteJSONOK(w, confsync.CurrentFromSnapshot(s.store.Snapshot()))
		return
	}

	cur, err := confsync.Fetch(s.bus, s.fetchTimeout)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to read configuration: %v", err))
		return
	}
	httputil.WriteJSONOK(w, cur)
}

// saveConfig publishes a full configuration update and maps the per-topic
// outcomes onto a status code: 200 when every topic was acknowledged, 502
// when the broker rejected at least one, and 504 when at least one outcome
// is unknown because no acknowledgement arrived in time. The response body
// always carries the per-topic detail so a client can show exactly which
// lines landed.
func (s *Server) saveConfig(w http.ResponseWriter, r *http.Request) {
	var update confsync.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid configuration payload: %v", err))
		return
	}

	result, err := s.writer.Publish(update)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	status := http.StatusOK
	switch {
	case result.AnyTimedOut():
		status = http.StatusGatewayTimeout
	case !result.AllOK():
		status = http.StatusBadGateway
	}
	httputil.WriteJSON(w, status, result)
}

// raceView is the wire form of the live race state.
type raceView struct {
	State           string          `json:"state"`
	CurrentLap      int             `json:"current_lap,omitempty"`
	ElapsedSeconds  float64         `json:"elapsed_seconds"`
	TotalLaps       int             `json:"total_laps"`
	IdealLapSeconds float64         `json:"ideal_lap_seconds"`
	DeltaSeconds    float64         `json:"delta_seconds"`
	LastLap         *laps.LapRecord `json:"last_lap,omitempty"`
	ConfigComplete  bool            `json:"config_complete"`
}

func (s *Server) showRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snap := s.store.Snapshot()
	view := raceView{
		State:           s.machine.State().String(),
		TotalLaps:       snap.Race.TotalLaps,
		IdealLapSeconds: snap.Race.IdealLapSeconds,
		ConfigComplete:  snap.Complete(),
	}
	if s.machine.State() == laps.StateRunning {
		view.CurrentLap = s.machine.CurrentLap()
		view.ElapsedSeconds = s.timer.Elapsed().Seconds()
		view.DeltaSeconds = view.ElapsedSeconds - snap.Race.IdealLapSeconds
	}
	if last, ok := s.machine.LastLap(); ok {
		view.LastLap = &last
	}
	httputil.WriteJSONOK(w, view)
}

func (s *Server) resetRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.control == nil {
		httputil.NotFound(w, "No race pipeline attached")
		return
	}
	s.control.Reset()
	httputil.WriteJSONOK(w, map[string]string{"state": s.machine.State().String()})
}

func (s *Server) listLaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	history := s.machine.History()
	if history == nil {
		history = []laps.LapRecord{}
	}
	httputil.WriteJSONOK(w, history)
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	target := s.units
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValid(u) {
			httputil.BadRequest(w, fmt.Sprintf("Unknown units %q", u))
			return
		}
		target = u
	}

	status := s.status.Status()
	resp := map[string]interface{}{
		"has_fix":        status.HasFix,
		"fix_quality":    status.FixQuality,
		"num_satellites": status.NumSatellites,
		"latitude":       status.Latitude,
		"longitude":      status.Longitude,
		"speed":          units.ConvertSpeed(status.SpeedKnots, target),
		"speed_units":    target,
		"timestamp":      status.Timestamp,
	}
	httputil.WriteJSONOK(w, resp)
}
