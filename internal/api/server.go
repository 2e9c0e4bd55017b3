package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/lapline-data/lapline/internal/bus"
	"github.com/lapline-data/lapline/internal/confsync"
	"github.com/lapline-data/lapline/internal/gps"
	"github.com/lapline-data/lapline/internal/laps"
	"github.com/lapline-data/lapline/internal/track"
	"github.com/lapline-data/lapline/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// StatusSource yields the current GPS receiver status.
type StatusSource interface {
	Status() gps.Status
}

// RaceControl is the slice of the timing pipeline the API needs.
type RaceControl interface {
	Reset()
}

// Server exposes the race state, lap history, and configuration over HTTP.
type Server struct {
	bus     bus.Bus
	writer  *confsync.Writer
	store   *track.Store
	machine *laps.Machine
	timer   *laps.Timer
	control RaceControl
	status  StatusSource
	units   string

	fetchTimeout time.Duration
}

// DefaultFetchTimeout bounds how long a configuration read waits for
// the retained topics when no store is available.
const DefaultFetchTimeout = 2 * time.Second

// NewServer wires the full daemon API. status and control may be nil in
// reduced deployments; the corresponding routes then report 404. A
// non-positive fetchTimeout falls back to DefaultFetchTimeout.
func NewServer(b bus.Bus, writer *confsync.Writer, store *track.Store, machine *laps.Machine, timer *laps.Timer, control RaceControl, status StatusSource, speedUnits string, fetchTimeout time.Duration) *Server {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Server{
		bus:          b,
		writer:       writer,
		store:        store,
		machine:      machine,
		timer:        timer,
		control:      control,
		status:       status,
		units:        speedUnits,
		fetchTimeout: fetchTimeout,
	}
}

// NewConfigServer wires a configuration-only API for the line editor
// backend, which has no pipeline or receiver to report on. A
// non-positive fetchTimeout falls back to DefaultFetchTimeout.
func NewConfigServer(b bus.Bus, writer *confsync.Writer, fetchTimeout time.Duration) *Server {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Server{
		bus:          b,
		writer:       writer,
		units:        units.Knots,
		fetchTimeout: fetchTimeout,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", s.handleConfig)
	if s.machine != nil {
		mux.HandleFunc("/api/race", s.showRace)
		mux.HandleFunc("/api/race/reset", s.resetRace)
		mux.HandleFunc("/api/laps", s.listLaps)
	}
	if s.status != nil {
		mux.HandleFunc("/api/status", s.showStatus)
	}
	return mux
}
