// Package eventlog records voice and capture events in a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Voice event types.
const (
	VoiceStart EventType = "voice_start"
	VoiceStop  EventType = "voice_stop"
	Calibrated EventType = "calibrated"
)

// Capture event types.
const (
	CaptureStarted EventType = "capture_started"
	CaptureError   EventType = "capture_error"
	CaptureRetry   EventType = "capture_retry"
	CaptureStopped EventType = "capture_stopped"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// VoiceDetails contains voice transition details.
type VoiceDetails struct {
	BaseLevel  float64 `json:"base_level"`
	Level      float64 `json:"level,omitempty"`
	Counter    int     `json:"activity_counter"`
	DurationMs int64   `json:"duration_ms,omitempty"`
}

// CalibrationDetails contains the derived levels of a session.
type CalibrationDetails struct {
	BaseLevel  float64 `json:"base_level"`
	VoiceScale float64 `json:"voice_scale"`
	Samples    int     `json:"samples"`
	Disabled   bool    `json:"noise_capture_disabled,omitempty"`
}

// CaptureDetails contains audio source details.
type CaptureDetails struct {
	Device     string `json:"device,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
	now      func() time.Time
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
		now:      time.Now,
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	return l.encoder.Encode(event)
}

// LogVoice logs a voice_start or voice_stop event.
func (l *Logger) LogVoice(eventType EventType, sessionID string, details VoiceDetails) error {
	return l.Log(&Event{
		Type:      eventType,
		SessionID: sessionID,
		Details:   &details,
	})
}

// LogCalibrated logs the levels derived for a session.
func (l *Logger) LogCalibrated(sessionID string, details CalibrationDetails) error {
	return l.Log(&Event{
		Type:      Calibrated,
		SessionID: sessionID,
		Details:   &details,
	})
}

// LogCapture logs an audio source event.
func (l *Logger) LogCapture(eventType EventType, message string, details CaptureDetails) error {
	return l.Log(&Event{
		Type:    eventType,
		Message: message,
		Details: &details,
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterVoice   TypeFilter = "voice"
	FilterCapture TypeFilter = "capture"
)

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterVoice:
		return IsVoiceEvent(t)
	case FilterCapture:
		return IsCaptureEvent(t)
	default:
		return true
	}
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type.
// Events are returned in reverse chronological order (newest first).
// The n parameter is capped at MaxReadLimit.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	if n > MaxReadLimit {
		n = MaxReadLimit
	}
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			// One more match exists past this page.
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// IsVoiceEvent returns true if the event type is a voice event.
func IsVoiceEvent(t EventType) bool {
	return t == VoiceStart || t == VoiceStop || t == Calibrated
}

// IsCaptureEvent returns true if the event type is a capture event.
func IsCaptureEvent(t EventType) bool {
	return t == CaptureStarted || t == CaptureError || t == CaptureRetry || t == CaptureStopped
}
