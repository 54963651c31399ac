// Package api exposes the tracker's read-only status endpoints: aircraft
// state, the event ledger, health, and Prometheus metrics.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"

	"github.com/upmcplanetracker/generic-plane-tracker/internal/monitoring"
	"github.com/upmcplanetracker/generic-plane-tracker/internal/store"
)

const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	store   *store.Store
	metrics *monitoring.Collector
}

func NewServer(st *store.Store, metrics *monitoring.Collector) *Server {
	return &Server{store: st, metrics: metrics}
}

// Router builds the route table.
func (s *Server) Router() *httprouter.Router {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/healthz", s.healthz)
	router.HandlerFunc(http.MethodGet, "/api/state", s.listState)
	router.Handle(http.MethodGet, "/api/state/:icao", s.showState)
	router.HandlerFunc(http.MethodGet, "/api/events", s.listEvents)
	if s.metrics != nil {
		router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return router
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.Router())
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.PingContext(r.Context()); err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) listState(w http.ResponseWriter, r *http.Request) {
	entities, err := s.store.List(r.Context())
	if err != nil {
		monitoring.Logf("api: failed to list state: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to list state")
		return
	}
	if entities == nil {
		entities = []store.EntityState{}
	}
	s.writeJSON(w, entities)
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	icao := ps.ByName("icao")
	st, found, err := s.store.Load(r.Context(), icao)
	if err != nil {
		monitoring.Logf("api: failed to load state for %s: %v", icao, err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load state")
		return
	}
	if !found {
		s.writeJSONError(w, http.StatusNotFound, "unknown aircraft")
		return
	}
	s.writeJSON(w, store.EntityState{ICAO: icao, State: st})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	events, err := s.store.RecentEvents(r.Context(), limit)
	if err != nil {
		monitoring.Logf("api: failed to list events: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []store.LedgerEntry{}
	}
	s.writeJSON(w, events)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: failed to encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
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
	case statusCode >= 400:
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
