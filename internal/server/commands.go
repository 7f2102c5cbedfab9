package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-voicedetect/internal/config"
	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
	"github.com/oszuidwest/zwfm-voicedetect/internal/vad"
)

// DefaultEventLimit is the page size of events/list when none is given.
const DefaultEventLimit = 100

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Engine is the part of the capture engine the commands control.
type Engine interface {
	State() types.EngineState
	Start() error
	Restart() error
	Recalibrate() error
	Reconfigure(old, updated *config.Snapshot) error
	Status() types.EngineStatus
	DetectionStatus() types.DetectionStatus
	VoiceLevels() types.VoiceLevels
}

// ConfigView is the configuration as exposed to clients. Credentials are
// left out.
type ConfigView struct {
	System        SystemView                 `json:"system"`
	Audio         config.AudioConfig         `json:"audio"`
	Detection     vad.Config                 `json:"detection"`
	Notifications config.NotificationsConfig `json:"notifications"`
}

// SystemView holds the system settings that are safe to expose.
type SystemView struct {
	FFmpegPath string `json:"ffmpeg_path"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
}

// NewConfigView builds a ConfigView from a snapshot.
//
//nolint:gocritic // hugeParam: snapshot is copied once per request
func NewConfigView(snap config.Snapshot) ConfigView {
	return ConfigView{
		System: SystemView{
			FFmpegPath: snap.FFmpegPath,
			Port:       snap.WebPort,
			Username:   snap.WebUser,
		},
		Audio:     config.AudioConfig{Input: snap.AudioInput},
		Detection: snap.Detection,
		Notifications: config.NotificationsConfig{
			Webhook: config.WebhookConfig{URL: snap.WebhookURL},
			Log:     config.LogConfig{Path: snap.LogPath},
		},
	}
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg             *config.Config
	engine          Engine
	ffmpegAvailable bool
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, eng Engine, ffmpegAvailable bool) *CommandHandler {
	return &CommandHandler{
		cfg:             cfg,
		engine:          eng,
		ffmpegAvailable: ffmpegAvailable,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "detection/update", "audio/update")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "detection":
		h.handleDetection(action, cmd, send)
	case "detector":
		h.handleDetector(action, cmd, send)
	case "audio":
		h.handleAudio(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "config":
		h.handleConfig(action, send)
	case "status":
		h.handleStatus(action, send)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleDetection routes detection/* commands
func (h *CommandHandler) handleDetection(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleDetectionUpdate(cmd, send)
	case "get":
		SendSuccess(send, cmd.Type, h.cfg.DetectionConfig())
	default:
		slog.Warn("unknown detection action", "action", action)
	}
}

// handleDetector routes detector/* commands
func (h *CommandHandler) handleDetector(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "recalibrate":
		HandleActionAsync(cmd, send, func() (any, error) {
			if err := h.engine.Recalibrate(); err != nil {
				return nil, err
			}
			return h.engine.DetectionStatus(), nil
		})
	default:
		slog.Warn("unknown detector action", "action", action)
	}
}

// handleAudio routes audio/* commands
func (h *CommandHandler) handleAudio(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleAudioUpdate(cmd, send)
	default:
		slog.Warn("unknown audio action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "webhook":
		switch subaction {
		case "update":
			h.handleWebhookUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_webhook")
		default:
			slog.Warn("unknown webhook action", "subaction", subaction)
		}
	case "log":
		switch subaction {
		case "update":
			h.handleLogUpdate(cmd, send)
		case "test":
			h.handleTest(send, "test_log")
		default:
			slog.Warn("unknown log action", "subaction", subaction)
		}
	default:
		slog.Warn("unknown notifications action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "list":
		h.handleEventsList(cmd, send)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleConfig routes config/* commands
func (h *CommandHandler) handleConfig(action string, send chan<- any) {
	switch action {
	case "get":
		trySend(send, "config/get", types.WSConfigResponse{
			Type:   "config",
			Config: NewConfigView(h.cfg.Snapshot()),
		})
	default:
		slog.Warn("unknown config action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string, _ chan<- any) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
