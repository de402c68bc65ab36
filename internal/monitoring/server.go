// Package monitoring exposes the engine over HTTP: JSON stats and
// health endpoints, Prometheus metrics and a websocket stream of
// periodic stats snapshots.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/queryscope/queryscope/internal/cache"
	"github.com/queryscope/queryscope/internal/config"
	"github.com/queryscope/queryscope/internal/engine"
)

// Server serves the stats/debug HTTP API for one engine instance.
type Server struct {
	logger   *zap.Logger
	cfg      config.MonitoringConfig
	eng      *engine.Engine
	cache    *cache.Cache
	registry *prometheus.Registry
	server   *http.Server
	upgrader websocket.Upgrader
}

// New creates the monitoring server. The registry should be the same
// one the engine's instruments were registered on so /metrics shows
// both the hot-path counters and the state gauges.
func New(logger *zap.Logger, cfg config.MonitoringConfig, eng *engine.Engine, c *cache.Cache, registry *prometheus.Registry) *Server {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	registry.MustRegister(newStateCollector(cfg.Namespace, eng, c))

	s := &Server{
		logger:   logger,
		cfg:      cfg,
		eng:      eng,
		cache:    c,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/suggestions", s.handleSuggestions).Methods(http.MethodGet)
	r.HandleFunc("/patterns", s.handlePatterns).Methods(http.MethodGet)
	r.HandleFunc("/slow", s.handleSlowQueries).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebsocket)
	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Monitoring server listening", zap.String("addr", s.cfg.ListenAddr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Monitoring server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.eng.HealthCheck()
	status := http.StatusOK
	if report.Status == engine.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("invalid window %q", raw),
			})
			return
		}
		window = d
	}
	s.writeJSON(w, http.StatusOK, s.eng.QueryStats(window))
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	severity := engine.Severity(r.URL.Query().Get("severity"))
	s.writeJSON(w, http.StatusOK, s.eng.Suggestions(severity))
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			limit = 20
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"frequent":   s.eng.FrequentQueries(limit),
		"n_plus_one": s.eng.NPlusOneQueries(),
	})
}

func (s *Server) handleSlowQueries(w http.ResponseWriter, r *http.Request) {
	threshold := 1000.0
	if raw := r.URL.Query().Get("threshold_ms"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%f", &threshold); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("invalid threshold_ms %q", raw),
			})
			return
		}
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			limit = 50
		}
	}
	s.writeJSON(w, http.StatusOK, s.eng.SlowQueries(threshold, limit))
}

// handleWebsocket streams a stats snapshot every StatsInterval until
// the client goes away.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	interval := s.cfg.StatsInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Send one snapshot immediately so clients render without delay.
	if err := conn.WriteJSON(s.eng.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteJSON(s.eng.Snapshot()); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
