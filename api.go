package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-voicedetect/internal/engine"
	"github.com/oszuidwest/zwfm-voicedetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedetect/internal/server"
	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
	"github.com/oszuidwest/zwfm-voicedetect/internal/util"
)

const (
	readHeaderTimeout = 10 * time.Second
	maxRequestBody    = 64 << 10
)

// LoginRequest is the request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps err to a response: validation errors list their fields
// with 400, anything else is a 500.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr})
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

// readBody reads a size-limited request body.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return nil, false
	}
	return body, true
}

// parseJSON reads, parses and validates JSON from the request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	body, ok := s.readBody(w, r)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(body, &v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	if verr := util.ValidateStruct(v, ""); verr.HasErrors() {
		s.writeFailure(w, verr)
		return v, false
	}
	return v, true
}

// handleHealth reports liveness and the engine state.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"engine": s.engine.State(),
	})
}

// handleLogin creates a session cookie for valid credentials.
// POST /api/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[LoginRequest](s, w, r)
	if !ok {
		return
	}
	if !s.sessions.Login(w, r, req.Username, req.Password) {
		slog.Warn("login failed", "username", req.Username, "remote", r.RemoteAddr)
		s.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleLogout ends the session.
// POST /api/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(w, r)
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAPIStatus returns the same status document the WebSocket pushes.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildWSStatus())
}

// handleAPIConfig returns the configuration without credentials.
// GET /api/config
func (s *Server) handleAPIConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, server.NewConfigView(s.config.Snapshot()))
}

// handleAPIDetection returns the detection session status.
// GET /api/detection
func (s *Server) handleAPIDetection(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.DetectionStatus())
}

// handleAPIDetectionUpdate overlays the body on the detection settings.
// POST /api/detection
func (s *Server) handleAPIDetectionUpdate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	updated, err := server.ApplyDetectionUpdate(s.config, s.engine, body)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			s.writeFailure(w, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"detection": updated})
}

// handleAPIRecalibrate discards the current session and measures the noise
// floor again.
// POST /api/recalibrate
func (s *Server) handleAPIRecalibrate(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Recalibrate(); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.DetectionStatus())
}

// handleAPIDevices returns available audio devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.devices(),
	})
}

// handleAPIEvents returns a page of the event log, newest first.
// GET /api/events?limit=&offset=&filter=
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := server.EventsListRequest{Filter: q.Get("filter")}
	var err error
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if req.Offset, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "offset must be a number")
			return
		}
	}
	if verr := util.ValidateStruct(req, ""); verr.HasErrors() {
		s.writeFailure(w, verr)
		return
	}
	if req.Limit == 0 {
		req.Limit = server.DefaultEventLimit
	}

	logPath := s.config.LogPath()
	if logPath == "" {
		s.writeError(w, http.StatusNotFound, server.ErrLogNotConfigured.Error())
		return
	}

	entries, hasMore, err := eventlog.ReadLast(logPath, req.Limit, req.Offset, eventlog.TypeFilter(req.Filter))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"has_more": hasMore,
		"path":     logPath,
	})
}

// handleAPITestNotification runs a notification test.
// POST /api/notifications/test/{type}
func (s *Server) handleAPITestNotification(w http.ResponseWriter, r *http.Request) {
	testType := r.PathValue("type")
	if testType != "webhook" && testType != "log" {
		s.writeError(w, http.StatusNotFound, "unknown test type: "+testType)
		return
	}

	cfg := s.config.Snapshot()
	result := types.WSTestResult{Type: "test_result", TestType: testType, Success: true}
	if err := server.RunNotificationTest(cfg.LogPath, cfg.WebhookURL, testType); err != nil {
		result.Success = false
		result.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, result)
}
