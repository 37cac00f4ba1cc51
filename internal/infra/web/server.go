package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voicebridge/internal/application"
	"voicebridge/internal/metrics"
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr      string
	StaticDir string
}

// Server exposes the websocket relay endpoint plus a small REST surface:
// the device catalog, a health probe, Prometheus metrics, and optionally the
// static browser client.
type Server struct {
	cfg       ServerConfig
	connector application.LiveConnector
	tools     *application.Dispatcher
	devices   application.DeviceService
	relayOpts application.RelayOptions
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mux         *http.ServeMux
	server      *http.Server
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	running bool
}

func NewServer(cfg ServerConfig, connector application.LiveConnector, tools *application.Dispatcher, devices application.DeviceService, relayOpts application.RelayOptions, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		connector:   connector,
		tools:       tools,
		devices:     devices,
		relayOpts:   relayOpts,
		metrics:     m,
		logger:      logger,
		mux:         http.NewServeMux(),
		rateLimiter: NewRateLimiter(30, time.Minute), // 30 requests per minute per IP
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("GET /api/devices", s.rateLimiter.Middleware(s.handleDevices))
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.mux,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP server starting", "addr", s.cfg.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}

	s.running = false
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	sessionID := uuid.NewString()
	logger := s.logger.With("session_id", sessionID)
	logger.Info("client connected", "remote_addr", r.RemoteAddr)

	relay := application.NewRelay(newWSConn(conn), s.connector, s.tools, s.relayOpts, s.metrics, logger)
	if err := relay.Run(r.Context()); err != nil {
		logger.Warn("relay session ended with error", "error", err)
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	snap, err := s.devices.FetchDevices(r.Context())
	if err != nil {
		s.logger.Error("fetching devices", "error", err)
		http.Error(w, "failed to fetch devices", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ts":      snap.FetchedAt.UnixMilli(),
		"devices": snap.Devices,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	status := "ok"
	statusCode := http.StatusOK
	if !running {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	fmt.Fprintf(w, `{"status":"%s"}`, status)
}
