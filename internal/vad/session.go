package vad

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hooks are the callbacks a Session invokes. Nil hooks are skipped. Hooks run
// synchronously on the goroutine that delivered the sample (or on the
// calibration timer goroutine for OnInit) and must not call Feed or Stop on
// the same session. A panicking hook is recovered and logged.
type Hooks struct {
	// OnInit receives the base level once calibration finalizes.
	OnInit func(baseLevel float64)
	// OnVoiceStart fires on every silence to voice edge.
	OnVoiceStart func()
	// OnVoiceStop fires on every voice to silence edge.
	OnVoiceStop func()
	// OnUpdate receives the voice level for every sample after calibration.
	OnUpdate func(level float64)
}

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// Clock schedules the calibration timer and stamps samples.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
func (systemClock) Now() time.Time                            { return time.Now() }

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) SessionOption {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithID sets the session identifier instead of a generated UUID, so callers
// can correlate hooks that fire before Start returns.
func WithID(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithLogger sets the logger used for calibration and per-sample debug records.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// SessionState is a point-in-time snapshot of a Session.
type SessionState struct {
	ID                 string    `json:"session_id"`
	Calibrating        bool      `json:"calibrating"`
	Stopped            bool      `json:"stopped"`
	Levels             Levels    `json:"levels"`
	Counter            int       `json:"activity_counter"`
	Voice              bool      `json:"voice"`
	Samples            int       `json:"samples"`
	CalibrationSamples int       `json:"calibration_samples"`
	StartedAt          time.Time `json:"started_at"`
	CalibratedAt       time.Time `json:"calibrated_at,omitzero"`
	VoiceSince         time.Time `json:"voice_since,omitzero"`
}

// Session routes energy samples through calibration and detection and
// dispatches the hooks. Sessions are independent of each other.
type Session struct {
	id     string
	cfg    Config
	hooks  Hooks
	clock  Clock
	logger *slog.Logger

	// dispatchMu serializes Feed, the calibration timer and Stop, including
	// hook dispatch, so no hook runs once Stop has returned.
	dispatchMu sync.Mutex
	calibrator *Calibrator
	detector   *Detector
	timer      Timer
	stopped    bool
	lastStamp  time.Time

	// stateMu guards snapshot, so hooks may read State while dispatching.
	stateMu  sync.RWMutex
	snapshot SessionState
}

// Start validates cfg and begins a session. With noise capture disabled the
// levels are derived immediately and OnInit fires before Start returns;
// otherwise calibration ends after cfg.CaptureDuration.
func Start(cfg Config, hooks Hooks, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		hooks:  hooks,
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.id)

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.snapshot = SessionState{
		ID:          s.id,
		Calibrating: cfg.UseNoiseCapture,
		StartedAt:   s.clock.Now(),
	}

	if !cfg.UseNoiseCapture {
		s.install(DisabledLevels(cfg), 0)
		return s, nil
	}

	s.calibrator = NewCalibrator(cfg)
	s.timer = s.clock.AfterFunc(cfg.CaptureDuration(), s.finishCalibration)
	s.logger.Debug("noise capture started", "duration", cfg.CaptureDuration())
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Config returns the configuration the session was started with.
func (s *Session) Config() Config {
	return s.cfg
}

// Feed delivers one energy sample. While calibrating the sample is recorded
// and ok is false; afterwards the detector result is returned. Feed is a
// no-op after Stop.
func (s *Session) Feed(sample float64) (res Result, ok bool) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if s.stopped {
		return Result{}, false
	}
	if s.detector == nil {
		s.calibrator.Observe(sample)
		return Result{}, false
	}

	res = s.detector.Process(sample)
	now := s.clock.Now()
	s.logSample(now, sample, res.Counter)

	s.stateMu.Lock()
	s.snapshot.Counter = res.Counter
	s.snapshot.Voice = res.Voice
	s.snapshot.Samples++
	switch res.Transition {
	case TransitionStart:
		s.snapshot.VoiceSince = now
	case TransitionStop:
		s.snapshot.VoiceSince = time.Time{}
	}
	s.stateMu.Unlock()

	switch res.Transition {
	case TransitionStart:
		if s.hooks.OnVoiceStart != nil {
			s.invoke("on_voice_start", s.hooks.OnVoiceStart)
		}
	case TransitionStop:
		if s.hooks.OnVoiceStop != nil {
			s.invoke("on_voice_stop", s.hooks.OnVoiceStop)
		}
	}
	if s.hooks.OnUpdate != nil {
		s.invoke("on_update", func() { s.hooks.OnUpdate(res.Level) })
	}
	return res, true
}

// Stop ends the session and cancels a pending calibration. It is safe to call
// more than once; no hook fires after the first call returns.
func (s *Session) Stop() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.calibrator = nil

	s.stateMu.Lock()
	s.snapshot.Stopped = true
	s.snapshot.Calibrating = false
	s.stateMu.Unlock()

	s.logger.Debug("session stopped")
}

// Destroy is an alias for Stop.
func (s *Session) Destroy() {
	s.Stop()
}

// Calibrating reports whether the noise floor is still being measured.
func (s *Session) Calibrating() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.snapshot.Calibrating
}

// Levels returns the derived levels, or false while calibrating.
func (s *Session) Levels() (Levels, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.snapshot.CalibratedAt.IsZero() {
		return Levels{}, false
	}
	return s.snapshot.Levels, true
}

// State returns a snapshot of the session.
func (s *Session) State() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.snapshot
}

// finishCalibration runs on the timer goroutine.
func (s *Session) finishCalibration() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if s.stopped || s.detector != nil {
		return
	}
	s.timer = nil
	levels := s.calibrator.Finalize()
	s.install(levels, s.calibrator.Len())
	s.calibrator = nil
}

// install switches the session to detection. Callers hold dispatchMu.
func (s *Session) install(levels Levels, samples int) {
	s.detector = NewDetector(s.cfg, levels)
	state := s.detector.State()

	s.stateMu.Lock()
	s.snapshot.Calibrating = false
	s.snapshot.Levels = levels
	s.snapshot.Counter = state.Counter
	s.snapshot.CalibrationSamples = samples
	s.snapshot.CalibratedAt = s.clock.Now()
	s.stateMu.Unlock()

	s.logger.Debug("calibration finalized",
		"base_level", levels.BaseLevel,
		"voice_scale", levels.VoiceScale,
		"samples", samples)

	if s.hooks.OnInit != nil {
		s.invoke("on_init", func() { s.hooks.OnInit(levels.BaseLevel) })
	}
}

func (s *Session) logSample(now time.Time, sample float64, counter int) {
	prev := s.lastStamp
	s.lastStamp = now
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	var hz float64
	if elapsed := now.Sub(prev); !prev.IsZero() && elapsed > 0 {
		hz = float64(time.Second) / float64(elapsed)
	}
	s.logger.Debug("sample", "hz", hz, "average", sample, "activity_counter", counter)
}

// invoke runs a hook and recovers a panic so the detector keeps running.
func (s *Session) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("hook panicked", "hook", name, "panic", r)
		}
	}()
	fn()
}
