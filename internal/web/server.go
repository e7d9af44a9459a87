// Package web provides the HTTP+JSON binding of the coordinator and a
// status page for the smartfan daemon.
package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/sweeney/smartfan/internal/coordinator"
	"github.com/sweeney/smartfan/internal/status"
	"github.com/sweeney/smartfan/internal/store"
)

// maxBodyBytes bounds submission bodies.
const maxBodyBytes = 4096

// dashboardEvents is how many events the HTML page lists.
const dashboardEvents = 10

// Server serves the coordinator API and the status page over HTTP.
type Server struct {
	httpServer *http.Server
	svc        *coordinator.Service
	tracker    *status.Tracker
	log        *slog.Logger

	eventsLimit int
}

// New creates a Server backed by svc. The tracker feeds the status page.
func New(addr string, svc *coordinator.Service, tracker *status.Tracker, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{svc: svc, tracker: tracker, log: log, eventsLimit: store.DefaultLimit}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/desired_state", s.handleDesired)
	mux.HandleFunc("POST /api/set_state", s.handleSetState)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// SetEventsLimit sets the number of events returned when the request has
// no limit parameter. The store still clamps it.
func (s *Server) SetEventsLimit(n int) {
	if n > 0 {
		s.eventsLimit = n
	}
}

// Handler returns the server's HTTP handler.
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

func (s *Server) handleDesired(w http.ResponseWriter, r *http.Request) {
	desired := s.svc.ReadDesired()
	etag := `"` + string(desired) + `"`

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, DesiredJSON{Desired: string(desired)})
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubmit(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.log.Warn("rejected malformed submission", "error", err, "request_id", r.Header.Get(RequestIDHeader))
		writeJSON(w, http.StatusBadRequest, ErrorJSON{OK: false, Error: "body must be a JSON object"})
		return
	}

	res, err := s.svc.Submit(r.Context(), req.Desired, req.Detected)
	if err != nil {
		s.log.Error("submission failed", "error", err, "request_id", r.Header.Get(RequestIDHeader))
		writeJSON(w, http.StatusInternalServerError, ErrorJSON{OK: false, Error: "storage unavailable"})
		return
	}

	s.log.Debug("submission accepted", "desired", res.Accepted, "detected", req.Detected,
		"id", res.Event.ID, "request_id", r.Header.Get(RequestIDHeader))
	writeJSON(w, http.StatusOK, SubmitResponseJSON{OK: true, Desired: string(res.Accepted)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := s.eventsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	events, err := s.svc.RecentEvents(r.Context(), limit)
	if err != nil {
		s.log.Error("list events failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorJSON{OK: false, Error: "storage unavailable"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(FormatEvents(events))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorJSON{OK: false, Error: "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// snapshot merges the coordinator's failure counter into the tracker view.
func (s *Server) snapshot() status.Snapshot {
	snap := s.tracker.Snapshot()
	snap.Counts.Failed = int(s.svc.Stats().Failed)
	return snap
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	events, err := s.svc.RecentEvents(r.Context(), dashboardEvents)
	if err != nil {
		s.log.Warn("status page without events", "error", err)
		events = nil
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, events)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
