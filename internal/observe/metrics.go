// Package observe provides OpenTelemetry metrics for the voice detector.
//
// Instruments are created through the OpenTelemetry Metrics API. InitProvider
// wires a Prometheus exporter so they can be scraped from /metrics. Tests
// should use NewMetrics with their own metric.MeterProvider.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/oszuidwest/zwfm-voicedetect"

// Transition directions used as the "direction" attribute.
const (
	DirectionStart = "start"
	DirectionStop  = "stop"
)

// Metrics holds the metric instruments of the detector.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Samples counts energy samples fed to the detector.
	Samples metric.Int64Counter

	// Transitions counts voice transitions. Use with attribute:
	//   attribute.String("direction", "start"|"stop")
	Transitions metric.Int64Counter

	// Calibrations counts finished calibrations, including sessions that
	// skipped the calibration window.
	Calibrations metric.Int64Counter

	// BaseLevel reports the base level of the current session.
	BaseLevel metric.Float64Gauge

	// VoiceLevel tracks the normalized voice level of each detected sample.
	VoiceLevel metric.Float64Histogram

	// CaptureRestarts counts audio source restarts after a failure.
	CaptureRestarts metric.Int64Counter
}

// levelBuckets covers the normalized voice level, which exceeds 1 for
// samples louder than the calibrated range.
var levelBuckets = []float64{
	0, 0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2.5,
}

// NewMetrics creates the instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Samples, err = m.Int64Counter("voicedetect.samples",
		metric.WithDescription("Energy samples processed by the detector."),
	); err != nil {
		return nil, err
	}
	if met.Transitions, err = m.Int64Counter("voicedetect.transitions",
		metric.WithDescription("Voice transitions by direction."),
	); err != nil {
		return nil, err
	}
	if met.Calibrations, err = m.Int64Counter("voicedetect.calibrations",
		metric.WithDescription("Finished noise calibrations."),
	); err != nil {
		return nil, err
	}
	if met.BaseLevel, err = m.Float64Gauge("voicedetect.base_level",
		metric.WithDescription("Base level of the running detection session."),
	); err != nil {
		return nil, err
	}
	if met.VoiceLevel, err = m.Float64Histogram("voicedetect.voice_level",
		metric.WithDescription("Normalized voice level above the base level."),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureRestarts, err = m.Int64Counter("voicedetect.capture.restarts",
		metric.WithDescription("Audio source restarts after a failure."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordSample counts one detected sample and observes its voice level.
func (m *Metrics) RecordSample(ctx context.Context, level float64) {
	if m == nil {
		return
	}
	m.Samples.Add(ctx, 1)
	m.VoiceLevel.Record(ctx, level)
}

// RecordTransition counts a voice transition in the given direction.
func (m *Metrics) RecordTransition(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	m.Transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordCalibration counts a calibration and publishes its base level.
func (m *Metrics) RecordCalibration(ctx context.Context, baseLevel float64, disabled bool) {
	if m == nil {
		return
	}
	m.Calibrations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("noise_capture", !disabled)))
	m.BaseLevel.Record(ctx, baseLevel)
}

// RecordCaptureRestart counts an audio source restart.
func (m *Metrics) RecordCaptureRestart(ctx context.Context) {
	if m == nil {
		return
	}
	m.CaptureRestarts.Add(ctx, 1)
}
