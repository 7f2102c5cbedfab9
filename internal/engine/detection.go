package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-voicedetect/internal/observe"
	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
	"github.com/oszuidwest/zwfm-voicedetect/internal/util"
	"github.com/oszuidwest/zwfm-voicedetect/internal/vad"
)

// detection binds one vad.Session to the engine's notifier and metrics.
type detection struct {
	id       string
	session  *vad.Session
	notifier Notifier
	metrics  *observe.Metrics
	disabled bool

	// started is set once vad.Start returns; OnInit may run before that.
	started atomic.Pointer[vad.Session]
}

// beginDetection starts a session with the current detection settings and
// replaces the previous one, which is stopped.
func (e *Engine) beginDetection() error {
	cfg := e.config.DetectionConfig()

	d := &detection{
		id:       uuid.NewString(),
		notifier: e.notifier,
		metrics:  e.metrics,
		disabled: !cfg.UseNoiseCapture,
	}
	session, err := vad.Start(cfg, d.hooks(),
		vad.WithID(d.id),
		vad.WithLogger(slog.Default().With("component", "vad")),
	)
	if err != nil {
		return util.WrapError("start detection session", err)
	}
	d.session = session
	d.started.Store(session)

	e.detectMu.Lock()
	prev := e.det
	e.det = d
	e.detectMu.Unlock()

	if prev != nil {
		prev.session.Stop()
	}
	e.peakHolder.Reset()

	slog.Info("detection session started",
		"session_id", d.id,
		"noise_capture", cfg.UseNoiseCapture,
		"duration", cfg.CaptureDuration())
	return nil
}

// endDetection stops the current session, if any.
func (e *Engine) endDetection() {
	e.detectMu.Lock()
	prev := e.det
	e.det = nil
	e.detectMu.Unlock()

	if prev != nil {
		prev.session.Stop()
		slog.Info("detection session stopped", "session_id", prev.id)
	}
}

// DetectionStatus returns the state of the current detection session.
func (e *Engine) DetectionStatus() types.DetectionStatus {
	e.detectMu.Lock()
	det := e.det
	e.detectMu.Unlock()

	if det == nil {
		return types.DetectionStatus{Phase: types.PhaseIdle}
	}

	state := det.session.State()
	status := types.DetectionStatus{
		SessionID:       state.ID,
		Phase:           types.PhaseDetecting,
		BaseLevel:       state.Levels.BaseLevel,
		VoiceScale:      state.Levels.VoiceScale,
		ActivityCounter: state.Counter,
		Voice:           state.Voice,
		CalibrationSize: state.CalibrationSamples,
	}
	if state.Calibrating {
		status.Phase = types.PhaseCalibrating
	}
	if !state.CalibratedAt.IsZero() {
		status.CalibratedAt = util.TimestampUTC(state.CalibratedAt)
	}
	if !state.VoiceSince.IsZero() {
		status.VoiceSince = util.TimestampUTC(state.VoiceSince)
	}
	return status
}

// hooks returns the session callbacks. They run while the session holds its
// dispatch lock, so they only read session state.
func (d *detection) hooks() vad.Hooks {
	ctx := context.Background()
	return vad.Hooks{
		OnInit: func(baseLevel float64) {
			levels := vad.Levels{BaseLevel: baseLevel, VoiceScale: 1 - baseLevel}
			samples := 0
			if s := d.started.Load(); s != nil {
				state := s.State()
				levels = state.Levels
				samples = state.CalibrationSamples
			}
			slog.Info("calibration complete",
				"session_id", d.id,
				"base_level", levels.BaseLevel,
				"voice_scale", levels.VoiceScale,
				"samples", samples)
			d.metrics.RecordCalibration(ctx, levels.BaseLevel, d.disabled)
			if d.notifier != nil {
				d.notifier.HandleCalibrated(d.id, levels, samples, d.disabled)
			}
		},
		OnVoiceStart: func() {
			base, counter := d.current()
			slog.Info("voice started", "session_id", d.id, "activity_counter", counter)
			d.metrics.RecordTransition(ctx, observe.DirectionStart)
			if d.notifier != nil {
				d.notifier.HandleVoiceStart(d.id, base, counter)
			}
		},
		OnVoiceStop: func() {
			base, counter := d.current()
			slog.Info("voice stopped", "session_id", d.id, "activity_counter", counter)
			d.metrics.RecordTransition(ctx, observe.DirectionStop)
			if d.notifier != nil {
				d.notifier.HandleVoiceStop(d.id, base, counter)
			}
		},
		OnUpdate: func(level float64) {
			d.metrics.RecordSample(ctx, level)
		},
	}
}

// current returns the base level and activity counter of the session.
func (d *detection) current() (baseLevel float64, counter int) {
	s := d.started.Load()
	if s == nil {
		return 0, 0
	}
	state := s.State()
	return state.Levels.BaseLevel, state.Counter
}
