package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicedetect/internal/config"
	"github.com/oszuidwest/zwfm-voicedetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedetect/internal/vad"
)

// VoiceNotifier turns detection callbacks into webhook deliveries and event
// log entries. Deliveries run in the background; Wait blocks until they finish.
type VoiceNotifier struct {
	cfg *config.Config
	now func() time.Time

	// mu protects the fields below
	mu         sync.Mutex
	voiceSince time.Time
	events     *eventlog.Logger

	wg sync.WaitGroup
}

// NewVoiceNotifier returns a VoiceNotifier configured with the given config.
func NewVoiceNotifier(cfg *config.Config) *VoiceNotifier {
	return &VoiceNotifier{cfg: cfg, now: time.Now}
}

// HandleCalibrated records the levels a session derived.
func (n *VoiceNotifier) HandleCalibrated(sessionID string, levels vad.Levels, samples int, disabled bool) {
	cfg := n.cfg.Snapshot()

	n.mu.Lock()
	n.voiceSince = time.Time{}
	n.mu.Unlock()

	if cfg.HasWebhook() {
		n.async(func() {
			logNotifyResult(func() error {
				return SendCalibratedWebhook(cfg.WebhookURL, sessionID, levels.BaseLevel, levels.VoiceScale)
			}, "Calibrated webhook")
		})
	}
	n.logEvent(cfg, func(l *eventlog.Logger) error {
		return l.LogCalibrated(sessionID, eventlog.CalibrationDetails{
			BaseLevel:  levels.BaseLevel,
			VoiceScale: levels.VoiceScale,
			Samples:    samples,
			Disabled:   disabled,
		})
	})
}

// HandleVoiceStart reports a silence to voice transition.
func (n *VoiceNotifier) HandleVoiceStart(sessionID string, baseLevel float64, counter int) {
	cfg := n.cfg.Snapshot()

	n.mu.Lock()
	n.voiceSince = n.now()
	n.mu.Unlock()

	if cfg.HasWebhook() {
		n.async(func() {
			logNotifyResult(func() error {
				return SendVoiceStartWebhook(cfg.WebhookURL, sessionID, baseLevel)
			}, "Voice start webhook")
		})
	}
	n.logEvent(cfg, func(l *eventlog.Logger) error {
		return l.LogVoice(eventlog.VoiceStart, sessionID, eventlog.VoiceDetails{BaseLevel: baseLevel, Counter: counter})
	})
}

// HandleVoiceStop reports a voice to silence transition with the voice duration.
func (n *VoiceNotifier) HandleVoiceStop(sessionID string, baseLevel float64, counter int) {
	cfg := n.cfg.Snapshot()

	n.mu.Lock()
	var durationMs int64
	if !n.voiceSince.IsZero() {
		durationMs = n.now().Sub(n.voiceSince).Milliseconds()
	}
	n.voiceSince = time.Time{}
	n.mu.Unlock()

	if cfg.HasWebhook() {
		n.async(func() {
			logNotifyResult(func() error {
				return SendVoiceStopWebhook(cfg.WebhookURL, sessionID, baseLevel, durationMs)
			}, "Voice stop webhook")
		})
	}
	n.logEvent(cfg, func(l *eventlog.Logger) error {
		return l.LogVoice(eventlog.VoiceStop, sessionID, eventlog.VoiceDetails{
			BaseLevel:  baseLevel,
			Counter:    counter,
			DurationMs: durationMs,
		})
	})
}

// HandleCapture records an audio source event in the event log.
func (n *VoiceNotifier) HandleCapture(eventType eventlog.EventType, message string, details eventlog.CaptureDetails) {
	n.logEvent(n.cfg.Snapshot(), func(l *eventlog.Logger) error {
		return l.LogCapture(eventType, message, details)
	})
}

// Wait blocks until all pending deliveries have finished.
func (n *VoiceNotifier) Wait() {
	n.wg.Wait()
}

// Close waits for pending deliveries and closes the event log.
func (n *VoiceNotifier) Close() error {
	n.Wait()
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.events == nil {
		return nil
	}
	err := n.events.Close()
	n.events = nil
	return err
}

func (n *VoiceNotifier) async(fn func()) {
	n.wg.Go(fn)
}

// logEvent writes through the event log for the configured path, reopening
// it when the path changed.
//
//nolint:gocritic // hugeParam: copy is acceptable for infrequent notification events
func (n *VoiceNotifier) logEvent(cfg config.Snapshot, write func(*eventlog.Logger) error) {
	if !cfg.HasLogPath() {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.events == nil || n.events.Path() != cfg.LogPath {
		if n.events != nil {
			if err := n.events.Close(); err != nil {
				slog.Warn("failed to close event log", "path", n.events.Path(), "error", err)
			}
			n.events = nil
		}
		l, err := eventlog.NewLogger(cfg.LogPath)
		if err != nil {
			slog.Error("failed to open event log", "path", cfg.LogPath, "error", err)
			return
		}
		n.events = l
	}

	if err := write(n.events); err != nil {
		slog.Error("failed to write event log", "path", cfg.LogPath, "error", err)
	}
}
