// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api exposes the REST and WebSocket surface of the capture
// daemon.
package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/nautscan/internal/broadcast"
	"grimm.is/nautscan/internal/capture"
	"grimm.is/nautscan/internal/config"
	"grimm.is/nautscan/internal/logging"
	"grimm.is/nautscan/internal/metrics"
	"grimm.is/nautscan/internal/storage"
)

// ServerConfig holds HTTP server security configuration.
// Mitigation: OWASP A05:2021-Security Misconfiguration
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration // Body read limit
	WriteTimeout      time.Duration // Response timeout
	IdleTimeout       time.Duration // Keep-alive timeout
	MaxHeaderBytes    int           // Header size limit
	MaxBodyBytes      int64         // Request body size limit
}

// DefaultServerConfig returns secure default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16, // 64KB header limit
		MaxBodyBytes:      1 << 20, // 1MB body limit
	}
}

// Server handles API requests.
type Server struct {
	cfg       *config.Config
	logger    *logging.Logger
	engine    *capture.Engine
	store     *storage.Store
	hub       *broadcast.Hub
	reg       *metrics.Registry
	wsManager *WSManager
	startTime time.Time

	mux  *http.ServeMux
	http *http.Server
}

// ServerOptions holds dependencies for the API server.
type ServerOptions struct {
	Config *config.Config
	Logger *logging.Logger
	Engine *capture.Engine
	Store  *storage.Store
	Hub    *broadcast.Hub
	Reg    *metrics.Registry
}

// NewServer creates a new API server with the provided options.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger.WithComponent("api"),
		engine:    opts.Engine,
		store:     opts.Store,
		hub:       opts.Hub,
		reg:       opts.Reg,
		startTime: time.Now(),
	}
	s.wsManager = NewWSManager(s.logger, s.hub)
	s.initRoutes()
	return s
}

// initRoutes initializes the HTTP router.
func (s *Server) initRoutes() {
	mux := http.NewServeMux()
	s.mux = mux

	// Capture lifecycle
	mux.HandleFunc("POST /api/capture/start", s.handleStartCapture)
	mux.HandleFunc("POST /api/capture/stop", s.handleStopCapture)
	mux.HandleFunc("GET /api/capture/status", s.handleCaptureStatus)
	mux.HandleFunc("GET /api/capture/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/capture/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /api/capture/stats", s.handleCaptureStats)

	// Packets
	mux.HandleFunc("GET /api/packets/recent", s.handleRecentPackets)
	mux.HandleFunc("GET /api/packets/history", s.handlePacketHistory)
	mux.HandleFunc("GET /api/packets/malicious-ips", s.handleMaliciousIPs)
	mux.HandleFunc("GET /api/packets/{id}", s.handleGetPacket)
	mux.HandleFunc("POST /api/packets/{id}/mark-malicious", s.handleMarkMalicious)

	// System
	mux.HandleFunc("GET /api/interfaces", s.handleInterfaces)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Websockets
	mux.HandleFunc("GET /api/ws/{channel}", s.wsManager.HandleSubscribe)

	if s.cfg.API.EnableMetrics == nil || *s.cfg.API.EnableMetrics {
		if s.reg != nil {
			mux.Handle("GET /metrics", promhttp.HandlerFor(s.reg.Prometheus(), promhttp.HandlerOpts{}))
		} else {
			mux.Handle("GET /metrics", promhttp.Handler())
		}
	}
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	cfg := DefaultServerConfig()
	return s.loggingMiddleware(s.maxBodyMiddleware(cfg.MaxBodyBytes)(s.mux))
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start(addr string) error {
	cfg := DefaultServerConfig()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	s.logger.Info("API server starting", "addr", addr)
	return s.http.ListenAndServe()
}

// ServeListener starts the API server on an existing listener.
func (s *Server) ServeListener(listener net.Listener) error {
	cfg := DefaultServerConfig()
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	s.logger.Info("API server starting on handed-off listener", "addr", listener.Addr())
	return s.http.Serve(listener)
}

// Shutdown gracefully stops the HTTP server and closes all websocket
// subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsManager.CloseAll()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// loggingMiddleware logs all API requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/api/ws/") {
			return
		}
		duration := time.Since(start).Round(time.Millisecond)
		switch {
		case wrapped.statusCode >= 500:
			s.logger.Error("request", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", duration)
		case wrapped.statusCode >= 400:
			s.logger.Warn("request", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", duration)
		default:
			s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", duration)
		}
	})
}

// maxBodyMiddleware limits request body size to prevent memory exhaustion.
func (s *Server) maxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Implement http.Flusher for streaming responses
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Implement http.Hijacker for websocket support
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijack not supported")
}
