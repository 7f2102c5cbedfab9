package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/oszuidwest/zwfm-voicedetect/internal/config"
	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
	"github.com/oszuidwest/zwfm-voicedetect/internal/util"
	"github.com/oszuidwest/zwfm-voicedetect/internal/vad"
)

// --- Detection handlers ---

// handleDetectionUpdate processes a detection/update command.
func (h *CommandHandler) handleDetectionUpdate(cmd WSCommand, send chan<- any) {
	updated, err := ApplyDetectionUpdate(h.cfg, h.engine, cmd.Data)
	if err != nil {
		SendError(send, cmd.Type, err)
		return
	}
	SendSuccess(send, cmd.Type, updated)
}

// ApplyDetectionUpdate overlays data on the current detection settings,
// stores them and reconfigures the engine in the background. Fields present
// in data replace the current values; an explicit null clears an optional
// noise bound. Rejected settings return a *types.ValidationError.
func ApplyDetectionUpdate(cfg *config.Config, eng Engine, data json.RawMessage) (vad.Config, error) {
	old := cfg.Snapshot()
	next := old.Detection.Clone()
	if len(data) > 0 {
		if err := json.Unmarshal(data, &next); err != nil {
			return vad.Config{}, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if err := cfg.SetDetection(next); err != nil {
		return vad.Config{}, err
	}
	slog.Info("detection settings changed")

	updated := cfg.Snapshot()
	go func() {
		if err := eng.Reconfigure(&old, &updated); err != nil {
			slog.Error("applying detection settings failed", "error", err)
		}
	}()

	return updated.Detection, nil
}

// --- Audio handlers ---

// handleAudioUpdate processes an audio/update command.
func (h *CommandHandler) handleAudioUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *AudioUpdateRequest) error {
		old := h.cfg.Snapshot()
		if req.Input == old.AudioInput {
			return nil // No change requested
		}

		slog.Info("audio/update: changing audio input", "input", req.Input)
		if err := h.cfg.SetAudioInput(req.Input); err != nil {
			return err
		}

		// Start/restart engine if FFmpeg is available
		if h.ffmpegAvailable {
			updated := h.cfg.Snapshot()
			go func() {
				var err error
				switch h.engine.State() {
				case types.StateRunning:
					err = h.engine.Reconfigure(&old, &updated)
				case types.StateStopped:
					err = h.engine.Start()
				}
				if err != nil {
					slog.Error("audio/update: engine state change failed", "error", err)
				}
			}()
		}

		return nil
	})
}

// --- Notification handlers ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleLogUpdate processes a notifications/log/update command.
func (h *CommandHandler) handleLogUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *LogUpdateRequest) error {
		if req.Path != "" {
			if err := util.ValidatePath("path", req.Path); err != nil {
				return err
			}
			if err := util.CheckPathWritable(filepath.Dir(req.Path)); err != nil {
				return err
			}
		}
		return h.cfg.SetLogPath(req.Path)
	})
}
