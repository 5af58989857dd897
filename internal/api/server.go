// Package api implements the HTTP surface of the exporter.
//
// Every handler is a pure read of the snapshot published last; no request
// ever waits on the data store, and store health never changes a status
// code. Endpoints:
//   - /metrics, /metrics_json, /histogram_data, /piechart_data/{type}, /health
//   - /snapshot_info: identity and source of the current snapshot
//   - /stream: websocket push of every published snapshot
//   - /exporter_metrics: Prometheus metrics of the exporter itself
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/golang/glog"

	"github.com/smart-developer1791/twitter-exporter/internal/presentation"
	"github.com/smart-developer1791/twitter-exporter/internal/snapshot"
	"github.com/smart-developer1791/twitter-exporter/pkg/metrics"
)

// Server encapsulates the HTTP server and its dependencies.
type Server struct {
	server *http.Server

	snapshots  *snapshot.Store
	histograms *presentation.Histogrammer
	pies       *presentation.PieCharts
	metrics    *metrics.Collector

	// done is closed on Shutdown so hijacked stream connections exit.
	// mu orders streams.Add against closing done and streams.Wait.
	mu      sync.Mutex
	closing bool
	done    chan struct{}
	streams sync.WaitGroup
}

// NewServer creates a server listening on addr. It is not started until
// Start is called.
func NewServer(
	addr string,
	snapshots *snapshot.Store,
	histograms *presentation.Histogrammer,
	pies *presentation.PieCharts,
	metrics *metrics.Collector,
) *Server {
	s := &Server{
		snapshots:  snapshots,
		histograms: histograms,
		pies:       pies,
		metrics:    metrics,
		done:       make(chan struct{}),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.withMiddleware(mux),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware, for tests and
// embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics_json", s.handleMetricsJSON)
	mux.HandleFunc("/histogram_data", s.handleHistogram)
	mux.HandleFunc("/piechart_data/", s.handlePieChart)
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/snapshot_info", s.handleSnapshotInfo)
	mux.HandleFunc("/stream", s.handleStream)
	mux.Handle("/exporter_metrics", getOnly(s.metrics.Handler()))
}

// withMiddleware wraps handler; the last wrapper runs first.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	handler = s.recoveryMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.metricsMiddleware(handler)
	handler = s.corsMiddleware(handler)
	return handler
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.V(1).Infof("%s %s %d %v", r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), wrapped.status, time.Since(start))
	})
}

// routeLabel collapses the pie-chart path parameter so label cardinality
// stays bounded.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/piechart_data/") {
		return "/piechart_data/"
	}
	return path
}

// recoveryMiddleware turns a handler panic into a 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("panic serving %s: %v", r.URL.Path, err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware lets browser dashboards on other origins read the data.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errNotHijacker = errors.New("response writer does not support hijacking")

// responseWrapper captures the status code written by a handler.
type responseWrapper struct {
	http.ResponseWriter
	status int
}

// WriteHeader records the status before writing it.
func (w *responseWrapper) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack exposes the underlying hijacker for the websocket upgrade.
func (w *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errNotHijacker
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// allowGET writes a 405 unless r is a GET or HEAD request.
func allowGET(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET")
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func getOnly(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowGET(w, r) {
			h.ServeHTTP(w, r)
		}
	})
}

// handleMetrics handles GET /metrics: one "name value" line per metric.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !allowGET(w, r) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := presentation.WriteFlat(w, s.snapshots.Read()); err != nil {
		log.Warningf("writing /metrics: %v", err)
	}
}

// handleMetricsJSON handles GET /metrics_json.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if !allowGET(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, presentation.JSON(s.snapshots.Read()))
}

// handleHistogram handles GET /histogram_data.
func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	if !allowGET(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.histograms.Group(s.snapshots.Read()))
}

// handlePieChart handles GET /piechart_data/{chart_type}. Unknown types
// get the empty shape, not an error.
func (s *Server) handlePieChart(w http.ResponseWriter, r *http.Request) {
	if !allowGET(w, r) {
		return
	}
	chartType := strings.TrimPrefix(r.URL.Path, "/piechart_data/")
	s.writeJSON(w, http.StatusOK, s.pies.Chart(s.snapshots.Read(), chartType))
}

// handleHealth handles GET /health. It reports the process, not the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGET(w, r) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// SnapshotInfo describes the current snapshot without its values.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Cycle     uint64    `json:"cycle"`
	Source    string    `json:"source"`
	Taken     time.Time `json:"taken"`
	Metrics   int       `json:"metrics"`
	Error     string    `json:"error,omitempty"`
	Published uint64    `json:"published"`

	CyclesSucceeded int64            `json:"cycles_succeeded"`
	CyclesFailed    int64            `json:"cycles_failed"`
	LastCycleMillis int64            `json:"last_cycle_ms"`
	Failures        map[string]int64 `json:"failures"`
}

// handleSnapshotInfo handles GET /snapshot_info.
func (s *Server) handleSnapshotInfo(w http.ResponseWriter, r *http.Request) {
	if !allowGET(w, r) {
		return
	}
	snap := s.snapshots.Read()
	stats := s.metrics.GetStats()
	s.writeJSON(w, http.StatusOK, SnapshotInfo{
		ID:              snap.ID,
		Cycle:           snap.Cycle,
		Source:          string(snap.Source),
		Taken:           snap.Taken,
		Metrics:         snap.Len(),
		Error:           snap.Err(),
		Published:       s.snapshots.Published(),
		CyclesSucceeded: stats.CyclesSucceeded,
		CyclesFailed:    stats.CyclesFailed,
		LastCycleMillis: stats.LastCycleDuration.Milliseconds(),
		Failures:        stats.Failures,
	})
}

// writeJSON writes data as indented JSON with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		log.Warningf("encoding JSON response: %v", err)
	}
}

// trackStream counts a new stream connection unless Shutdown has begun.
func (s *Server) trackStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.streams.Add(1)
	return true
}

// Start listens for HTTP requests. It blocks until the server is shut down
// and then returns http.ErrServerClosed.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections, closes live streams and waits for
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closing {
		s.closing = true
		close(s.done)
	}
	s.mu.Unlock()
	err := s.server.Shutdown(ctx)

	finished := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
