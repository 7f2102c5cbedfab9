// Package engine provides the audio capture and detection engine.
// It runs the FFmpeg capture process with automatic retry, reduces the PCM
// stream to energy samples and feeds them to a voice detection session.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"reflect"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-voicedetect/internal/audio"
	"github.com/oszuidwest/zwfm-voicedetect/internal/config"
	"github.com/oszuidwest/zwfm-voicedetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedetect/internal/observe"
	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
	"github.com/oszuidwest/zwfm-voicedetect/internal/util"
	"github.com/oszuidwest/zwfm-voicedetect/internal/vad"
)

// readBufferSize is ~100ms of audio at 16 kHz mono.
const readBufferSize = 3200

// Sentinel errors for engine operations.
var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrNotRunning     = errors.New("engine not running")
)

// Notifier receives detection and capture events.
type Notifier interface {
	HandleCalibrated(sessionID string, levels vad.Levels, samples int, disabled bool)
	HandleVoiceStart(sessionID string, baseLevel float64, counter int)
	HandleVoiceStop(sessionID string, baseLevel float64, counter int)
	HandleCapture(eventType eventlog.EventType, message string, details eventlog.CaptureDetails)
}

// Engine manages audio capture and voice detection.
type Engine struct {
	config          *config.Config
	ffmpegPath      string
	notifier        Notifier
	metrics         *observe.Metrics
	sourceCmd       *exec.Cmd
	sourceCancel    context.CancelFunc
	state           types.EngineState
	stopChan        chan struct{}
	mu              sync.RWMutex
	lastError       string
	startTime       time.Time
	retryCount      int
	backoff         *util.Backoff
	voiceLevels     types.VoiceLevels
	lastKnownLevels types.VoiceLevels // Cache for TryRLock fallback
	peakHolder      *audio.PeakHolder

	// detectMu guards det; it is never held while a session dispatches hooks.
	detectMu sync.Mutex
	det      *detection
}

// New creates a new Engine. notifier and metrics may be nil.
func New(cfg *config.Config, ffmpegPath string, notifier Notifier, metrics *observe.Metrics) *Engine {
	return &Engine{
		config:     cfg,
		ffmpegPath: ffmpegPath,
		notifier:   notifier,
		metrics:    metrics,
		state:      types.StateStopped,
		backoff:    util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay),
		peakHolder: audio.NewPeakHolder(),
	}
}

// State returns the current engine state.
func (e *Engine) State() types.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsRunning reports whether the engine is in running state.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == types.StateRunning
}

// VoiceLevels returns the latest voice levels.
func (e *Engine) VoiceLevels() types.VoiceLevels {
	if !e.mu.TryRLock() {
		return e.lastKnownLevels
	}
	defer e.mu.RUnlock()

	if e.state != types.StateRunning {
		return types.VoiceLevels{}
	}
	return e.voiceLevels
}

// Status returns the current engine status.
func (e *Engine) Status() types.EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	uptime := ""
	if e.state == types.StateRunning {
		uptime = util.FormatDuration(time.Since(e.startTime).Milliseconds())
	}

	return types.EngineStatus{
		State:            e.state,
		Uptime:           uptime,
		LastError:        e.lastError,
		SourceRetryCount: e.retryCount,
		SourceMaxRetries: types.MaxRetries,
	}
}

// Start begins audio capture. Detection starts once the source runs.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == types.StateRunning || e.state == types.StateStarting {
		return ErrAlreadyRunning
	}

	e.state = types.StateStarting
	e.stopChan = make(chan struct{})
	e.retryCount = 0
	e.backoff.Reset()
	e.peakHolder.Reset()

	go e.runSourceLoop()

	return nil
}

// Stop ends detection and stops the capture process with graceful shutdown.
func (e *Engine) Stop() error {
	e.mu.Lock()

	if e.state == types.StateStopped || e.state == types.StateStopping {
		e.mu.Unlock()
		return nil
	}

	e.state = types.StateStopping

	if e.stopChan != nil {
		close(e.stopChan)
	}

	sourceProcess := e.sourceCmd
	sourceCancel := e.sourceCancel
	e.mu.Unlock()

	var errs []error

	e.endDetection()

	if sourceProcess != nil && sourceProcess.Process != nil {
		if err := util.GracefulSignal(sourceProcess.Process); err != nil {
			slog.Warn("failed to send signal to source", "error", err)
			errs = append(errs, fmt.Errorf("signal source: %w", err))
		}
	}

	stopped := e.pollUntil(func() bool {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.sourceCmd == nil
	})

	select {
	case <-stopped:
		slog.Info("source capture stopped gracefully")
	case <-time.After(types.ShutdownTimeout):
		slog.Warn("source capture did not stop in time, forcing kill")
		if sourceCancel != nil {
			sourceCancel()
		}
		errs = append(errs, fmt.Errorf("source shutdown timeout"))
	}

	e.mu.Lock()
	e.state = types.StateStopped
	e.sourceCmd = nil
	e.sourceCancel = nil
	e.voiceLevels = types.VoiceLevels{}
	e.lastKnownLevels = types.VoiceLevels{}
	e.mu.Unlock()

	e.notifyCapture(eventlog.CaptureStopped, "audio capture stopped", eventlog.CaptureDetails{})

	return errors.Join(errs...)
}

// Restart stops and starts the engine.
func (e *Engine) Restart() error {
	if err := e.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	time.Sleep(1000 * time.Millisecond)
	return e.Start()
}

// Recalibrate replaces the running detection session with a fresh one using
// the current detection settings, which measures the noise floor again.
func (e *Engine) Recalibrate() error {
	if !e.IsRunning() {
		return ErrNotRunning
	}
	return e.beginDetection()
}

// Reconfigure applies a configuration change to a running engine. A new audio
// input or changed capture parameters restart the source; other detection
// changes start a fresh session.
func (e *Engine) Reconfigure(old, updated *config.Snapshot) error {
	if !e.IsRunning() {
		return nil
	}
	if old.AudioInput != updated.AudioInput || captureChanged(&old.Detection, &updated.Detection) {
		slog.Info("capture settings changed, restarting source")
		return e.Restart()
	}
	if !reflect.DeepEqual(old.Detection, updated.Detection) {
		slog.Info("detection settings changed, recalibrating")
		return e.Recalibrate()
	}
	return nil
}

// captureChanged reports whether settings used by the capture process or the
// energy meter differ.
func captureChanged(a, b *vad.Config) bool {
	return a.MinCaptureFreq != b.MinCaptureFreq ||
		a.MaxCaptureFreq != b.MaxCaptureFreq ||
		a.BufferLen != b.BufferLen ||
		a.SmoothingTimeConstant != b.SmoothingTimeConstant
}

// runSourceLoop runs the audio capture process.
func (e *Engine) runSourceLoop() {
	for {
		e.mu.Lock()
		if e.state == types.StateStopping || e.state == types.StateStopped {
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		startTime := time.Now()
		stderrOutput, err := e.runSource()
		runDuration := time.Since(startTime)

		e.endDetection()

		e.mu.Lock()
		if e.state == types.StateStopping || e.state == types.StateStopped {
			e.mu.Unlock()
			return
		}

		errMsg := "audio source exited"
		if err != nil {
			errMsg = err.Error()
			if stderrOutput != "" {
				errMsg = stderrOutput
			}
		}
		e.lastError = errMsg
		slog.Error("source capture error", "error", errMsg)

		if runDuration >= types.SuccessThreshold {
			e.retryCount = 0
			e.backoff.Reset()
		} else {
			e.retryCount++
		}

		if e.retryCount >= types.MaxRetries {
			slog.Error("source capture failed, giving up", "attempts", types.MaxRetries)
			e.state = types.StateStopped
			e.lastError = fmt.Sprintf("Stopped after %d failed attempts: %s", types.MaxRetries, errMsg)
			lastError := e.lastError
			e.mu.Unlock()
			e.notifyCapture(eventlog.CaptureStopped, lastError, eventlog.CaptureDetails{
				Error:      errMsg,
				RetryCount: types.MaxRetries,
				MaxRetries: types.MaxRetries,
			})
			return
		}

		e.state = types.StateStarting
		retryDelay := e.backoff.Next()
		retryCount := e.retryCount
		e.mu.Unlock()

		e.notifyCapture(eventlog.CaptureError, errMsg, eventlog.CaptureDetails{Error: errMsg})
		e.notifyCapture(eventlog.CaptureRetry, "audio source restarting", eventlog.CaptureDetails{
			RetryCount: retryCount,
			MaxRetries: types.MaxRetries,
		})
		e.metrics.RecordCaptureRestart(context.Background())

		slog.Info("source stopped, waiting before restart",
			"delay", retryDelay, "attempt", retryCount+1, "max_retries", types.MaxRetries)
		select {
		case <-e.stopChan:
			return
		case <-time.After(retryDelay):
		}
	}
}

// runSource executes the audio capture process and processes its output
// until the process exits.
func (e *Engine) runSource() (string, error) {
	snap := e.config.Snapshot()
	band := audio.Band{MinHz: snap.Detection.MinCaptureFreq, MaxHz: snap.Detection.MaxCaptureFreq}
	cmdName, args, err := audio.BuildCaptureCommand(snap.AudioInput, e.ffmpegPath, band)
	if err != nil {
		return "", err
	}

	slog.Info("starting audio capture", "command", cmdName, "input", snap.AudioInput)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := exec.CommandContext(ctx, cmdName, args...)

	// Declarative graceful shutdown: signal first, wait, then kill.
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return "", err
	}

	func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.sourceCmd = cmd
		e.sourceCancel = cancel
		e.state = types.StateRunning
		e.startTime = time.Now()
		e.lastError = ""
		e.voiceLevels = types.VoiceLevels{}
	}()

	e.notifyCapture(eventlog.CaptureStarted, "audio capture started", eventlog.CaptureDetails{Device: snap.AudioInput})

	if err := e.beginDetection(); err != nil {
		slog.Error("failed to start detection", "error", err)
	}

	// Reading must finish before Wait closes the pipe.
	e.processAudio(stdoutPipe, snap.Detection)
	err = cmd.Wait()

	func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.sourceCmd = nil
		e.sourceCancel = nil
	}()

	return util.ExtractLastError(stderrBuf.String()), err
}

// processAudio reads PCM from r until it fails and feeds each energy sample
// to the current detection session.
func (e *Engine) processAudio(r io.Reader, cfg vad.Config) {
	buf := make([]byte, readBufferSize)
	meter := audio.NewEnergyMeter(cfg.BufferLen, cfg.SmoothingTimeConstant)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			meter.Process(buf[:n], e.handleReading)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("audio read ended", "error", err)
			}
			return
		}
	}
}

// handleReading feeds one meter reading to detection and updates the levels.
func (e *Engine) handleReading(r audio.Reading) {
	e.detectMu.Lock()
	det := e.det
	e.detectMu.Unlock()

	levels := types.VoiceLevels{Energy: r.Energy}
	if det == nil {
		e.updateVoiceLevels(levels)
		return
	}

	res, ok := det.session.Feed(r.Energy)
	if !ok {
		levels.Calibrating = det.session.Calibrating()
		e.updateVoiceLevels(levels)
		return
	}

	levels.Level = res.Level
	levels.PeakLevel = e.peakHolder.Update(res.Level, time.Now())
	levels.Voice = res.Voice
	levels.Counter = res.Counter
	e.updateVoiceLevels(levels)
}

// updateVoiceLevels stores the latest levels.
func (e *Engine) updateVoiceLevels(levels types.VoiceLevels) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voiceLevels = levels
	e.lastKnownLevels = levels // Update cache for TryRLock fallback
}

// notifyCapture forwards a capture event to the notifier, if any.
func (e *Engine) notifyCapture(eventType eventlog.EventType, message string, details eventlog.CaptureDetails) {
	if e.notifier == nil {
		return
	}
	e.notifier.HandleCapture(eventType, message, details)
}

// pollUntil signals when the given condition becomes true.
func (e *Engine) pollUntil(condition func() bool) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for !condition() {
			time.Sleep(types.PollInterval)
		}
		close(done)
	}()
	return done
}
