package vad

import (
	"math"
	"slices"
)

// Levels are the thresholds derived from calibration. They are computed once
// per session and never change afterwards.
type Levels struct {
	// BaseLevel is the energy at or above which a sample counts as activity.
	BaseLevel float64 `json:"base_level"`
	// VoiceScale is 1 - BaseLevel, the divisor that normalizes the voice level.
	VoiceScale float64 `json:"voice_scale"`
}

func newLevels(base float64) Levels {
	return Levels{BaseLevel: base, VoiceScale: 1 - base}
}

// Calibrator accumulates energy samples during the noise capture window and
// reduces them to a noise floor. It is not safe for concurrent use.
type Calibrator struct {
	cfg       Config
	samples   []float64
	count     int
	levels    Levels
	finalized bool
}

// NewCalibrator creates a Calibrator for cfg.
func NewCalibrator(cfg Config) *Calibrator {
	return &Calibrator{cfg: cfg}
}

// Observe records one energy sample. Zero, negative and non-finite samples
// carry no information about the floor and are dropped. Samples observed
// after Finalize are ignored.
func (c *Calibrator) Observe(sample float64) {
	if c.finalized || !(sample > 0) || math.IsInf(sample, 0) {
		return
	}
	c.samples = append(c.samples, sample)
	c.count++
}

// Len returns the number of samples retained for the floor estimate.
func (c *Calibrator) Len() int {
	return c.count
}

// Finalized reports whether Finalize has run.
func (c *Calibrator) Finalized() bool {
	return c.finalized
}

// Finalize reduces the observed samples to Levels and releases them. The
// reduction runs once; later calls return the same Levels.
func (c *Calibrator) Finalize() Levels {
	if c.finalized {
		return c.levels
	}
	c.finalized = true

	floor := c.noiseFloor()
	c.samples = nil

	base := floor * c.cfg.AvgNoiseMultiplier
	if lo, ok := c.cfg.minNoise(); ok && base < lo {
		base = lo
	}
	if hi, ok := c.cfg.maxNoise(); ok && base > hi {
		base = hi
	}
	c.levels = newLevels(base)
	return c.levels
}

// noiseFloor returns the quietest observed sample, capped at 1.
//
// NOTE: this is the minimum of the window, not its mean, even though the
// multiplier is named after an average. Changing it shifts every threshold.
func (c *Calibrator) noiseFloor() float64 {
	if len(c.samples) == 0 {
		if lo, ok := c.cfg.minNoise(); ok {
			return lo
		}
		return fallbackNoiseFloor
	}
	slices.Sort(c.samples)
	return min(1, c.samples[0])
}

// DisabledLevels returns the levels used when noise capture is off: the
// configured minimum noise level, or zero when unset.
func DisabledLevels(cfg Config) Levels {
	base, _ := cfg.minNoise()
	return newLevels(base)
}
