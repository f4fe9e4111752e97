// Package web provides an HTTP status server for the trip computer daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/sweeney/trip-computer/internal/state"
	"github.com/sweeney/trip-computer/internal/status"
)

// Controls are the store setters the config endpoints call. They are the
// same setters the buttons use.
type Controls interface {
	SetDistanceMode(m state.DistanceMode)
	AddToWheelSize(delta int16)
	AddToTimezone(delta int8)
	SetBrightness(b uint8)
	ResetStageDistance()
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	controls   Controls
}

// New creates a Server that reads state from the given tracker. If controls
// is nil the config endpoints are not registered.
func New(addr string, tracker *status.Tracker, controls Controls) *Server {
	s := &Server{tracker: tracker, controls: controls}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	if controls != nil {
		mux.HandleFunc("POST /config/mode", s.handleMode)
		mux.HandleFunc("POST /config/wheel", s.handleWheel)
		mux.HandleFunc("POST /config/timezone", s.handleTimezone)
		mux.HandleFunc("POST /config/brightness", s.handleBrightness)
		mux.HandleFunc("POST /stage/reset", s.handleStageReset)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// done sends the browser back to the status page after a config change.
func done(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	m, err := state.ParseDistanceMode(r.FormValue("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.controls.SetDistanceMode(m)
	done(w, r)
}

func (s *Server) handleWheel(w http.ResponseWriter, r *http.Request) {
	delta, err := strconv.ParseInt(r.FormValue("delta"), 10, 16)
	if err != nil {
		http.Error(w, "delta: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.controls.AddToWheelSize(int16(delta))
	done(w, r)
}

func (s *Server) handleTimezone(w http.ResponseWriter, r *http.Request) {
	delta, err := strconv.ParseInt(r.FormValue("delta"), 10, 8)
	if err != nil {
		http.Error(w, "delta: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.controls.AddToTimezone(int8(delta))
	done(w, r)
}

func (s *Server) handleBrightness(w http.ResponseWriter, r *http.Request) {
	v, err := strconv.ParseUint(r.FormValue("value"), 10, 8)
	if err != nil || v > 100 {
		http.Error(w, "value must be 0-100", http.StatusBadRequest)
		return
	}
	s.controls.SetBrightness(uint8(v))
	done(w, r)
}

func (s *Server) handleStageReset(w http.ResponseWriter, r *http.Request) {
	s.controls.ResetStageDistance()
	done(w, r)
}
