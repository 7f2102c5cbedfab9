// Package vad implements energy-based voice activity detection.
//
// A Session consumes one scalar energy sample per audio buffer. During the
// first NoiseCaptureDuration the samples feed a Calibrator that derives the
// noise floor; afterwards every sample goes to a Detector, a bounded activity
// counter with hysteresis that yields a voice/silence state, start and stop
// transitions and a normalized voice level.
package vad

import (
	"math/bits"
	"time"

	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
	"github.com/oszuidwest/zwfm-voicedetect/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultFFTSize               = 1024
	DefaultBufferLen             = 1024
	DefaultSmoothingTimeConstant = 0.2
	DefaultMinCaptureFreq        = 85.0  // Hz
	DefaultMaxCaptureFreq        = 255.0 // Hz
	DefaultNoiseCaptureMs        = 1000
	DefaultMinNoiseLevel         = 0.3
	DefaultMaxNoiseLevel         = 0.7
	DefaultAvgNoiseMultiplier    = 1.2
	DefaultActivityCounterMin    = 0
	DefaultActivityCounterMax    = 60
	DefaultActivityCounterThresh = 5

	// fallbackNoiseFloor is used when calibration observed nothing and no
	// minimum noise level is configured.
	fallbackNoiseFloor = 0.1
)

// Counting selects how the activity counter moves once it crosses the threshold.
type Counting string

const (
	// CountingGradual moves the counter one step per sample in both directions,
	// so the state flips only after the counter rides across the threshold.
	CountingGradual Counting = "gradual"

	// CountingSnap jumps the counter to its maximum as soon as it rises above
	// the threshold (fast attack) and to its minimum as soon as it falls below
	// it (fast release).
	CountingSnap Counting = "snap"
)

// Config holds the parameters of a detection session. It is immutable for
// the lifetime of a session.
type Config struct {
	// FFTSize and BufferLen describe the analysis window of the capture side.
	// BufferLen is the number of PCM frames reduced into one energy sample.
	FFTSize   int `json:"fft_size" yaml:"fft_size" validate:"gte=32,lte=32768"`
	BufferLen int `json:"buffer_len" yaml:"buffer_len" validate:"gte=256,lte=16384"`

	// SmoothingTimeConstant averages each energy sample with the previous one.
	SmoothingTimeConstant float64 `json:"smoothing_time_constant" yaml:"smoothing_time_constant" validate:"gte=0,lte=1"`

	// MinCaptureFreq and MaxCaptureFreq bound the band (Hz) the energy is taken from.
	MinCaptureFreq float64 `json:"min_capture_freq" yaml:"min_capture_freq" validate:"gt=0"`
	MaxCaptureFreq float64 `json:"max_capture_freq" yaml:"max_capture_freq" validate:"gt=0,lte=8000"`

	// UseNoiseCapture enables the calibration window.
	UseNoiseCapture bool `json:"use_noise_capture" yaml:"use_noise_capture"`
	// NoiseCaptureDurationMs is the calibration window length in milliseconds.
	NoiseCaptureDurationMs int64 `json:"noise_capture_duration_ms" yaml:"noise_capture_duration_ms" validate:"gt=0,lte=60000"`

	// MinNoiseLevel and MaxNoiseLevel clamp the derived base level. Nil or
	// zero means unset.
	MinNoiseLevel *float64 `json:"min_noise_level,omitempty" yaml:"min_noise_level,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxNoiseLevel *float64 `json:"max_noise_level,omitempty" yaml:"max_noise_level,omitempty" validate:"omitempty,gte=0,lte=1"`

	// AvgNoiseMultiplier scales the observed noise floor into the base level.
	AvgNoiseMultiplier float64 `json:"avg_noise_multiplier" yaml:"avg_noise_multiplier" validate:"gt=0,lte=100"`

	ActivityCounterMin    int `json:"activity_counter_min" yaml:"activity_counter_min"`
	ActivityCounterMax    int `json:"activity_counter_max" yaml:"activity_counter_max"`
	ActivityCounterThresh int `json:"activity_counter_thresh" yaml:"activity_counter_thresh"`

	// Counting selects the counter strategy; empty means CountingGradual.
	Counting Counting `json:"counting,omitempty" yaml:"counting,omitempty" validate:"omitempty,oneof=gradual snap"`
}

// Float returns a pointer to v, for the optional noise level fields.
func Float(v float64) *float64 {
	return &v
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() Config {
	return Config{
		FFTSize:                DefaultFFTSize,
		BufferLen:              DefaultBufferLen,
		SmoothingTimeConstant:  DefaultSmoothingTimeConstant,
		MinCaptureFreq:         DefaultMinCaptureFreq,
		MaxCaptureFreq:         DefaultMaxCaptureFreq,
		UseNoiseCapture:        true,
		NoiseCaptureDurationMs: DefaultNoiseCaptureMs,
		MinNoiseLevel:          Float(DefaultMinNoiseLevel),
		MaxNoiseLevel:          Float(DefaultMaxNoiseLevel),
		AvgNoiseMultiplier:     DefaultAvgNoiseMultiplier,
		ActivityCounterMin:     DefaultActivityCounterMin,
		ActivityCounterMax:     DefaultActivityCounterMax,
		ActivityCounterThresh:  DefaultActivityCounterThresh,
		Counting:               CountingGradual,
	}
}

// WithDefaults returns a copy of c with zero-valued numeric fields replaced
// by their defaults. Booleans, noise bounds and counter bounds are kept as
// given since their zero values are meaningful.
func (c Config) WithDefaults() Config {
	if c.FFTSize == 0 {
		c.FFTSize = DefaultFFTSize
	}
	if c.BufferLen == 0 {
		c.BufferLen = DefaultBufferLen
	}
	if c.MinCaptureFreq == 0 {
		c.MinCaptureFreq = DefaultMinCaptureFreq
	}
	if c.MaxCaptureFreq == 0 {
		c.MaxCaptureFreq = DefaultMaxCaptureFreq
	}
	if c.NoiseCaptureDurationMs == 0 {
		c.NoiseCaptureDurationMs = DefaultNoiseCaptureMs
	}
	if c.AvgNoiseMultiplier == 0 {
		c.AvgNoiseMultiplier = DefaultAvgNoiseMultiplier
	}
	if c.Counting == "" {
		c.Counting = CountingGradual
	}
	return c
}

// Clone returns a copy of c that shares no pointers with it.
func (c Config) Clone() Config {
	if c.MinNoiseLevel != nil {
		c.MinNoiseLevel = Float(*c.MinNoiseLevel)
	}
	if c.MaxNoiseLevel != nil {
		c.MaxNoiseLevel = Float(*c.MaxNoiseLevel)
	}
	return c
}

// Validate checks every field and returns a *types.ValidationError listing
// all violations, or nil when the configuration is usable.
func (c Config) Validate() error {
	return c.ValidateWithPrefix("")
}

// ValidateWithPrefix is Validate with field names prefixed, for configs
// nested inside a larger document.
func (c Config) ValidateWithPrefix(prefix string) error {
	verr := util.ValidateStruct(c, prefix)
	c.validateRelations(verr, prefix)
	return verr.Err()
}

// validateRelations adds the cross-field rules that struct tags cannot express.
func (c Config) validateRelations(verr *types.ValidationError, prefix string) {
	field := func(name string) string { return util.JoinField(prefix, name) }

	if !isPowerOfTwo(c.FFTSize) {
		verr.Add(field("fft_size"), "must be a power of two", c.FFTSize)
	}
	if !isPowerOfTwo(c.BufferLen) {
		verr.Add(field("buffer_len"), "must be a power of two", c.BufferLen)
	}
	if c.MinCaptureFreq >= c.MaxCaptureFreq {
		verr.Add(field("min_capture_freq"), "must be below max_capture_freq", c.MinCaptureFreq)
	}
	if c.ActivityCounterMin > c.ActivityCounterThresh {
		verr.Add(field("activity_counter_thresh"), "must be greater than or equal to activity_counter_min", c.ActivityCounterThresh)
	}
	if c.ActivityCounterThresh > c.ActivityCounterMax {
		verr.Add(field("activity_counter_thresh"), "must be less than or equal to activity_counter_max", c.ActivityCounterThresh)
	}
	if c.MinNoiseLevel != nil && c.MaxNoiseLevel != nil && *c.MinNoiseLevel > *c.MaxNoiseLevel {
		verr.Add(field("min_noise_level"), "must be less than or equal to max_noise_level", *c.MinNoiseLevel)
	}
}

// CaptureDuration returns the calibration window as a time.Duration.
func (c Config) CaptureDuration() time.Duration {
	return time.Duration(c.NoiseCaptureDurationMs) * time.Millisecond
}

// CounterBounds returns the activity counter limits.
func (c Config) CounterBounds() CounterBounds {
	return CounterBounds{
		Min:    c.ActivityCounterMin,
		Max:    c.ActivityCounterMax,
		Thresh: c.ActivityCounterThresh,
	}
}

// minNoise returns the lower clamp. A zero bound counts as unset.
func (c Config) minNoise() (float64, bool) {
	if c.MinNoiseLevel == nil || *c.MinNoiseLevel == 0 {
		return 0, false
	}
	return *c.MinNoiseLevel, true
}

// maxNoise returns the upper clamp. A zero bound counts as unset.
func (c Config) maxNoise() (float64, bool) {
	if c.MaxNoiseLevel == nil || *c.MaxNoiseLevel == 0 {
		return 0, false
	}
	return *c.MaxNoiseLevel, true
}

func isPowerOfTwo(n int) bool {
	return n > 0 && bits.OnesCount(uint(n)) == 1
}
