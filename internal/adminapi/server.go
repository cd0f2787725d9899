// Package adminapi exposes a small HTTP introspection surface over one
// pool: occupancy stats, a health check, and Prometheus scraping.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mongopool/pool/internal/mongopool"
	"github.com/mongopool/pool/internal/poolmetrics"
)

// Server wraps an http.Server exposing introspection endpoints over one
// pool.
type Server struct {
	pool       *mongopool.Pool
	metrics    *poolmetrics.Collector
	endpoint   string
	httpServer *http.Server
	startTime  time.Time
}

// New builds a Server bound to addr. Call Start to begin serving.
func New(pool *mongopool.Pool, metrics *poolmetrics.Collector, endpoint, addr string) *Server {
	s := &Server{pool: pool, metrics: metrics, endpoint: endpoint, startTime: time.Now()}

	r := mux.NewRouter()
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start begins serving in the background. Listen errors other than a
// graceful shutdown are sent to errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.pool.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoint": s.endpoint,
		"active":   stats.Active,
		"idle":     stats.Idle,
		"total":    stats.Total,
		"waiting":  stats.Waiting,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime_sec": time.Since(s.startTime).Seconds(),
		"goroutines": runtime.NumGoroutine(),
		"heap_bytes": mem.HeapAlloc,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
