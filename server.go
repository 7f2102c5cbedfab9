package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/oszuidwest/zwfm-voicedetect/internal/audio"
	"github.com/oszuidwest/zwfm-voicedetect/internal/config"
	"github.com/oszuidwest/zwfm-voicedetect/internal/server"
	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
)

// Server is the HTTP surface of the voice detector: the WebSocket feed, the
// JSON API and the metrics endpoint.
type Server struct {
	config          *config.Config
	engine          server.Engine
	sessions        *server.SessionManager
	commands        *server.CommandHandler
	version         *VersionChecker
	metrics         http.Handler
	devices         func() []types.AudioDevice
	ffmpegAvailable bool
}

// NewServer returns a new Server. A nil metrics handler disables /metrics.
func NewServer(cfg *config.Config, eng server.Engine, metrics http.Handler, ffmpegAvailable bool) *Server {
	credentials := func() (string, string) {
		snap := cfg.Snapshot()
		return snap.WebUser, snap.WebPassword
	}

	return &Server{
		config:          cfg,
		engine:          eng,
		sessions:        server.NewSessionManager(credentials),
		commands:        server.NewCommandHandler(cfg, eng, ffmpegAvailable),
		version:         NewVersionChecker(),
		metrics:         metrics,
		devices:         audio.Devices,
		ffmpegAvailable: ffmpegAvailable,
	}
}

// handleWebSocket streams levels and status and accepts commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	server.NewClient(conn, s.commands, s.buildWSStatus, s.engine.VoiceLevels).Run()
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()

	return types.WSStatusResponse{
		Type:            "status",
		FFmpegAvailable: s.ffmpegAvailable,
		Engine:          s.engine.Status(),
		Detection:       s.engine.DetectionStatus(),
		Devices:         s.devices(),
		WebhookURL:      cfg.WebhookURL,
		EventLogPath:    cfg.LogPath,
		Settings: types.WSSettings{
			AudioInput: cfg.AudioInput,
			Platform:   runtime.GOOS,
		},
		Version: s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.sessions.AuthMiddleware()

	// Public routes (no auth required)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	// Protected routes
	mux.HandleFunc("/ws", auth(s.handleWebSocket))
	mux.HandleFunc("GET /api/status", auth(s.handleAPIStatus))
	mux.HandleFunc("GET /api/config", auth(s.handleAPIConfig))
	mux.HandleFunc("GET /api/detection", auth(s.handleAPIDetection))
	mux.HandleFunc("POST /api/detection", auth(s.handleAPIDetectionUpdate))
	mux.HandleFunc("POST /api/recalibrate", auth(s.handleAPIRecalibrate))
	mux.HandleFunc("GET /api/devices", auth(s.handleAPIDevices))
	mux.HandleFunc("GET /api/events", auth(s.handleAPIEvents))
	mux.HandleFunc("POST /api/notifications/test/{type}", auth(s.handleAPITestNotification))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// HTTPServer returns the http.Server for the configured port. The caller
// runs and shuts it down.
func (s *Server) HTTPServer() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	return &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
