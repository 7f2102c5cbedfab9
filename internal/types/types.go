// Package types provides shared type definitions used across the voice detector.
package types

import (
	"time"
)

// EngineState represents the current state of the capture engine.
type EngineState string

const (
	// StateStopped indicates the engine is not running.
	StateStopped EngineState = "stopped"
	// StateStarting indicates the engine is initializing.
	StateStarting EngineState = "starting"
	// StateRunning indicates the engine is actively processing audio.
	StateRunning EngineState = "running"
	// StateStopping indicates the engine is shutting down.
	StateStopping EngineState = "stopping"
)

// DetectorPhase represents where the detection session is in its lifetime.
type DetectorPhase string

const (
	// PhaseIdle indicates no session exists.
	PhaseIdle DetectorPhase = "idle"
	// PhaseCalibrating indicates the noise floor is being measured.
	PhaseCalibrating DetectorPhase = "calibrating"
	// PhaseDetecting indicates the hysteresis detector owns the samples.
	PhaseDetecting DetectorPhase = "detecting"
)

const (
	// InitialRetryDelay is the starting delay between retry attempts.
	InitialRetryDelay = 3000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between retry attempts.
	MaxRetryDelay = 60000 * time.Millisecond
	// MaxRetries is the maximum number of retry attempts for the audio source.
	MaxRetries = 10
	// SuccessThreshold is the duration after which retry count resets.
	SuccessThreshold = 30000 * time.Millisecond
)

const (
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
	// PollInterval is the interval for polling process state.
	PollInterval = 50 * time.Millisecond
)

// Audio format constants for PCM capture.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 16000
	// Channels is the number of capture channels (mono).
	Channels = 1
)

// EngineStatus contains a summary of the engine's current operational state.
type EngineStatus struct {
	State            EngineState `json:"state"`                       // Current engine state
	Uptime           string      `json:"uptime,omitzero"`             // Time since start
	LastError        string      `json:"last_error,omitzero"`         // Most recent error
	SourceRetryCount int         `json:"source_retry_count,omitzero"` // Source retry attempts
	SourceMaxRetries int         `json:"source_max_retries"`          // Max source retries
}

// DetectionStatus describes the current detection session.
type DetectionStatus struct {
	SessionID       string        `json:"session_id,omitzero"`       // Current session identifier
	Phase           DetectorPhase `json:"phase"`                     // Calibrating or detecting
	BaseLevel       float64       `json:"base_level"`                // Noise floor threshold
	VoiceScale      float64       `json:"voice_scale"`               // Level normalization divisor
	ActivityCounter int           `json:"activity_counter"`          // Current hysteresis counter
	Voice           bool          `json:"voice"`                     // Voice currently active
	VoiceSince      string        `json:"voice_since,omitzero"`      // RFC3339 start of current voice
	CalibratedAt    string        `json:"calibrated_at,omitzero"`    // RFC3339 calibration time
	CalibrationSize int           `json:"calibration_size,omitzero"` // Samples used for calibration
}

// VoiceLevels contains the latest per-sample readings for meters.
type VoiceLevels struct {
	Energy      float64 `json:"energy"`               // Last energy sample in [0,1]
	Level       float64 `json:"level"`                // Normalized voice level
	PeakLevel   float64 `json:"peak_level"`           // Held peak of the voice level
	Voice       bool    `json:"voice,omitzero"`       // Voice currently active
	Counter     int     `json:"counter"`              // Activity counter
	Calibrating bool    `json:"calibrating,omitzero"` // Still measuring the noise floor
}

// WSStatusResponse is sent to clients with full engine and detection status.
type WSStatusResponse struct {
	Type            string          `json:"type"`             // Message type identifier
	FFmpegAvailable bool            `json:"ffmpeg_available"` // FFmpeg binary is available
	Engine          EngineStatus    `json:"engine"`           // Engine status
	Detection       DetectionStatus `json:"detection"`        // Detection session status
	Devices         []AudioDevice   `json:"devices"`          // Available audio devices
	WebhookURL      string          `json:"webhook_url"`      // Webhook URL for voice events
	EventLogPath    string          `json:"event_log_path"`   // Event log file path
	Settings        WSSettings      `json:"settings"`         // Current settings
	Version         VersionInfo     `json:"version"`          // Version information
}

// WSSettings contains the settings sub-object in status responses.
type WSSettings struct {
	AudioInput string `json:"audio_input"` // Selected audio input device
	Platform   string `json:"platform"`    // Operating system platform
}

// WSLevelsResponse is sent to clients with voice level updates.
type WSLevelsResponse struct {
	Type   string      `json:"type"`   // Message type identifier
	Levels VoiceLevels `json:"levels"` // Current voice levels
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
	CheckedAt   string `json:"checked_at,omitempty"` // RFC3339 time of the last successful check
}
