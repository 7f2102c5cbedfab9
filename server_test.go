package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voicedetect/internal/config"
	"github.com/oszuidwest/zwfm-voicedetect/internal/engine"
	"github.com/oszuidwest/zwfm-voicedetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
)

type stubEngine struct {
	mu             sync.Mutex
	state          types.EngineState
	recalibrateErr error
	reconfigured   int
}

func (e *stubEngine) State() types.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *stubEngine) Start() error   { return nil }
func (e *stubEngine) Restart() error { return nil }

func (e *stubEngine) Recalibrate() error { return e.recalibrateErr }

func (e *stubEngine) Reconfigure(_, _ *config.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconfigured++
	return nil
}

func (e *stubEngine) reconfigureCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconfigured
}

func (e *stubEngine) Status() types.EngineStatus {
	return types.EngineStatus{State: e.State(), SourceMaxRetries: types.MaxRetries}
}

func (e *stubEngine) DetectionStatus() types.DetectionStatus {
	return types.DetectionStatus{SessionID: "s-1", Phase: types.PhaseDetecting, BaseLevel: 0.3, VoiceScale: 0.7}
}

func (e *stubEngine) VoiceLevels() types.VoiceLevels {
	return types.VoiceLevels{Energy: 0.5}
}

func newTestServer(t *testing.T) (*Server, *config.Config, *stubEngine) {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	eng := &stubEngine{state: types.StateRunning}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "voicedetect_samples_total 1\n")
	})
	srv := NewServer(cfg, eng, metrics, true)
	srv.devices = func() []types.AudioDevice {
		return []types.AudioDevice{{ID: "hw:0", Name: "Studio mic"}}
	}
	return srv, cfg, eng
}

func do(t *testing.T, h http.Handler, method, target, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if auth {
		req.SetBasicAuth(config.DefaultWebUsername, config.DefaultWebPassword)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv.SetupRoutes(), http.MethodGet, "/healthz", "", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","engine":"running"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.SetupRoutes()

	for _, target := range []string{"/api/status", "/api/config", "/api/detection", "/api/devices", "/api/events"} {
		rec := do(t, h, http.MethodGet, target, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	}
}

func TestLoginCreatesSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.SetupRoutes()

	rec := do(t, h, http.MethodPost, "/api/login", `{"username":"admin","password":"voicedetect"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/config", http.NoBody)
	req.AddCookie(cookies[0])
	got := httptest.NewRecorder()
	h.ServeHTTP(got, req)

	assert.Equal(t, http.StatusOK, got.Code)
	assert.NotContains(t, got.Body.String(), config.DefaultWebPassword)
	assert.Contains(t, got.Body.String(), `"activity_counter_max"`)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.SetupRoutes()

	rec := do(t, h, http.MethodPost, "/api/login", `{"username":"admin","password":"wrong"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = do(t, h, http.MethodPost, "/api/login", `{"username":""}`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusCombinesEngineAndConfig(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv.SetupRoutes(), http.MethodGet, "/api/status", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var status types.WSStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "status", status.Type)
	assert.Equal(t, types.StateRunning, status.Engine.State)
	assert.Equal(t, "s-1", status.Detection.SessionID)
	assert.Equal(t, "dev", status.Version.Current)
	require.Len(t, status.Devices, 1)
	assert.Equal(t, "hw:0", status.Devices[0].ID)
}

func TestDetectionUpdate(t *testing.T) {
	srv, cfg, eng := newTestServer(t)
	h := srv.SetupRoutes()

	rec := do(t, h, http.MethodPost, "/api/detection", `{"activity_counter_max":30,"counting":"snap"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	detection := cfg.DetectionConfig()
	assert.Equal(t, 30, detection.ActivityCounterMax)
	assert.EqualValues(t, "snap", detection.Counting)
	assert.Eventually(t, func() bool { return eng.reconfigureCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestDetectionUpdateRejectsInvalidSettings(t *testing.T) {
	srv, cfg, _ := newTestServer(t)
	h := srv.SetupRoutes()
	before := cfg.DetectionConfig()

	rec := do(t, h, http.MethodPost, "/api/detection", `{"activity_counter_thresh":500}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "detection.activity_counter_thresh")

	rec = do(t, h, http.MethodPost, "/api/detection", `{not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, before, cfg.DetectionConfig())
}

func TestRecalibrate(t *testing.T) {
	srv, _, eng := newTestServer(t)
	h := srv.SetupRoutes()

	rec := do(t, h, http.MethodPost, "/api/recalibrate", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"phase":"detecting"`)

	eng.recalibrateErr = engine.ErrNotRunning
	rec = do(t, h, http.MethodPost, "/api/recalibrate", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/recalibrate", "", true)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEvents(t *testing.T) {
	srv, cfg, _ := newTestServer(t)
	h := srv.SetupRoutes()

	rec := do(t, h, http.MethodGet, "/api/events", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, cfg.SetLogPath(logPath))
	l, err := eventlog.NewLogger(logPath)
	require.NoError(t, err)
	require.NoError(t, l.LogCapture(eventlog.CaptureStarted, "capture started", eventlog.CaptureDetails{Device: "hw:0"}))
	require.NoError(t, l.LogVoice(eventlog.VoiceStart, "s-1", eventlog.VoiceDetails{BaseLevel: 0.3, Counter: 6}))
	require.NoError(t, l.LogVoice(eventlog.VoiceStop, "s-1", eventlog.VoiceDetails{BaseLevel: 0.3, DurationMs: 1200}))
	require.NoError(t, l.Close())

	rec = do(t, h, http.MethodGet, "/api/events?filter=voice&limit=1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Entries []eventlog.Event `json:"entries"`
		HasMore bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, eventlog.VoiceStop, page.Entries[0].Type)
	assert.True(t, page.HasMore)

	rec = do(t, h, http.MethodGet, "/api/events?limit=9999", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/events?offset=x", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationTestRoute(t *testing.T) {
	srv, cfg, _ := newTestServer(t)
	h := srv.SetupRoutes()

	rec := do(t, h, http.MethodPost, "/api/notifications/test/webhook", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var result types.WSTestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)

	require.NoError(t, cfg.SetLogPath(filepath.Join(t.TempDir(), "events.jsonl")))
	rec = do(t, h, http.MethodPost, "/api/notifications/test/log", "", true)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)

	rec = do(t, h, http.MethodPost, "/api/notifications/test/email", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv.SetupRoutes(), http.MethodGet, "/metrics", "", true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voicedetect_samples_total")
}

func TestDevices(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := do(t, srv.SetupRoutes(), http.MethodGet, "/api/devices", "", true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"devices":[{"id":"hw:0","name":"Studio mic"}]}`, rec.Body.String())
}
