// Package ops serves each node's admin HTTP endpoint: health, status and
// Prometheus metrics.
package ops

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusSource exposes the node state reported under /status.
type StatusSource interface {
	ID() string
	LiveNodes() []string
	QueuedHints() int
}

type Server struct {
	source   StatusSource
	gatherer prometheus.Gatherer
	started  time.Time
}

func NewServer(source StatusSource, gatherer prometheus.Gatherer) *Server {
	return &Server{source: source, gatherer: gatherer, started: time.Now()}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := map[string]interface{}{
		"node":       s.source.ID(),
		"uptime":     time.Since(s.started).String(),
		"live_nodes": s.source.LiveNodes(),
		"hints":      s.source.QueuedHints(),
		"memory": map[string]interface{}{
			"alloc":  m.Alloc,
			"sys":    m.Sys,
			"num_gc": m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}
