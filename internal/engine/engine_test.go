package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/oszuidwest/zwfm-voicedetect/internal/config"
	"github.com/oszuidwest/zwfm-voicedetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedetect/internal/observe"
	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
	"github.com/oszuidwest/zwfm-voicedetect/internal/vad"
)

type fakeNotifier struct {
	mu      sync.Mutex
	events  []string
	levels  []vad.Levels
	capture []eventlog.EventType
}

func (f *fakeNotifier) HandleCalibrated(_ string, levels vad.Levels, _ int, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "calibrated")
	f.levels = append(f.levels, levels)
}

func (f *fakeNotifier) HandleVoiceStart(string, float64, int) { f.add("voice_start") }
func (f *fakeNotifier) HandleVoiceStop(string, float64, int)  { f.add("voice_stop") }

func (f *fakeNotifier) HandleCapture(t eventlog.EventType, _ string, _ eventlog.CaptureDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capture = append(f.capture, t)
}

func (f *fakeNotifier) add(ev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeNotifier) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func newTestEngine(t *testing.T, notifier Notifier, metrics *observe.Metrics) *Engine {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	d := vad.DefaultConfig()
	d.UseNoiseCapture = false
	d.ActivityCounterMax = 10
	d.ActivityCounterThresh = 3
	require.NoError(t, cfg.SetDetection(d))

	return New(cfg, "", notifier, metrics)
}

// pcm returns blocks of BufferLen frames at a constant amplitude.
func pcm(blocks int, amplitude int16) []byte {
	var buf bytes.Buffer
	for i := range blocks * vad.DefaultBufferLen {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func TestProcessAudioDetectsVoice(t *testing.T) {
	notifier := &fakeNotifier{}
	e := newTestEngine(t, notifier, nil)
	require.NoError(t, e.beginDetection())
	defer e.endDetection()

	audioIn := append(pcm(20, 16000), pcm(20, 0)...)
	e.processAudio(bytes.NewReader(audioIn), e.config.DetectionConfig())

	assert.Equal(t, []string{"calibrated", "voice_start", "voice_stop"}, notifier.snapshot())
	require.Len(t, notifier.levels, 1)
	assert.InDelta(t, 0.3, notifier.levels[0].BaseLevel, 1e-9)

	status := e.DetectionStatus()
	assert.Equal(t, types.PhaseDetecting, status.Phase)
	assert.False(t, status.Voice)
	assert.Zero(t, status.ActivityCounter)
	assert.NotEmpty(t, status.SessionID)
	assert.NotEmpty(t, status.CalibratedAt)
}

func TestProcessAudioUpdatesLevels(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	require.NoError(t, e.beginDetection())
	defer e.endDetection()
	e.state = types.StateRunning

	e.processAudio(bytes.NewReader(pcm(6, 16000)), e.config.DetectionConfig())

	levels := e.VoiceLevels()
	assert.True(t, levels.Voice)
	assert.Equal(t, 6, levels.Counter)
	// smoothing leaves 0.2^6 of the silent start
	assert.InDelta(t, 1.0, levels.Energy, 1e-3)
	assert.InDelta(t, 1.0, levels.Level, 1e-3)
	assert.Equal(t, levels.Level, levels.PeakLevel)
	assert.False(t, levels.Calibrating)
}

func TestProcessAudioWithoutSessionKeepsEnergy(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	e.state = types.StateRunning

	e.processAudio(bytes.NewReader(pcm(2, 16000)), e.config.DetectionConfig())

	levels := e.VoiceLevels()
	assert.InDelta(t, 0.96, levels.Energy, 1e-9)
	assert.Zero(t, levels.Level)
	assert.Equal(t, types.PhaseIdle, e.DetectionStatus().Phase)
}

func TestRecalibrateReplacesSession(t *testing.T) {
	notifier := &fakeNotifier{}
	e := newTestEngine(t, notifier, nil)

	assert.ErrorIs(t, e.Recalibrate(), ErrNotRunning)

	require.NoError(t, e.beginDetection())
	first := e.DetectionStatus().SessionID
	e.state = types.StateRunning

	require.NoError(t, e.Recalibrate())
	defer e.endDetection()

	assert.NotEqual(t, first, e.DetectionStatus().SessionID)
	assert.Equal(t, []string{"calibrated", "calibrated"}, notifier.snapshot())
}

func TestDetectionRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	e := newTestEngine(t, nil, metrics)
	require.NoError(t, e.beginDetection())
	defer e.endDetection()

	e.processAudio(bytes.NewReader(pcm(8, 16000)), e.config.DetectionConfig())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(8), totals["voicedetect.samples"])
	assert.Equal(t, int64(1), totals["voicedetect.transitions"])
	assert.Equal(t, int64(1), totals["voicedetect.calibrations"])
}

func TestStopWhenStoppedIsNoop(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	assert.NoError(t, e.Stop())
	assert.Equal(t, types.StateStopped, e.State())
	assert.Equal(t, types.MaxRetries, e.Status().SourceMaxRetries)
	assert.Equal(t, types.VoiceLevels{}, e.VoiceLevels())
}

func TestReconfigure(t *testing.T) {
	notifier := &fakeNotifier{}
	e := newTestEngine(t, notifier, nil)
	base := e.config.Snapshot()

	// not running: nothing happens
	updated := base
	updated.Detection.AvgNoiseMultiplier = 2
	require.NoError(t, e.Reconfigure(&base, &updated))
	assert.Empty(t, notifier.snapshot())

	require.NoError(t, e.beginDetection())
	defer e.endDetection()
	e.state = types.StateRunning
	first := e.DetectionStatus().SessionID

	require.NoError(t, e.Reconfigure(&base, &base))
	assert.Equal(t, first, e.DetectionStatus().SessionID)

	require.NoError(t, e.Reconfigure(&base, &updated))
	assert.NotEqual(t, first, e.DetectionStatus().SessionID)
}

func TestCaptureChanged(t *testing.T) {
	a := vad.DefaultConfig()
	b := a.Clone()
	assert.False(t, captureChanged(&a, &b))

	b.ActivityCounterThresh = 9
	assert.False(t, captureChanged(&a, &b))

	b.MaxCaptureFreq = 400
	assert.True(t, captureChanged(&a, &b))
}
