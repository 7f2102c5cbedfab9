package vad

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1024, cfg.FFTSize)
	assert.True(t, cfg.UseNoiseCapture)
	assert.Equal(t, CountingGradual, cfg.Counting)
	assert.Equal(t, 0.3, *cfg.MinNoiseLevel)
	assert.Equal(t, 0.7, *cfg.MaxNoiseLevel)
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{ActivityCounterMax: 10, ActivityCounterThresh: 3}.WithDefaults()

	assert.Equal(t, DefaultFFTSize, cfg.FFTSize)
	assert.Equal(t, DefaultBufferLen, cfg.BufferLen)
	assert.Equal(t, int64(DefaultNoiseCaptureMs), cfg.NoiseCaptureDurationMs)
	assert.Equal(t, DefaultAvgNoiseMultiplier, cfg.AvgNoiseMultiplier)
	assert.Equal(t, CountingGradual, cfg.Counting)
	assert.Nil(t, cfg.MinNoiseLevel)
	assert.Equal(t, 10, cfg.ActivityCounterMax)
	assert.False(t, cfg.UseNoiseCapture)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{
			name:   "non-positive duration",
			mutate: func(c *Config) { c.NoiseCaptureDurationMs = 0 },
			fields: []string{"noise_capture_duration_ms"},
		},
		{
			name:   "threshold above max",
			mutate: func(c *Config) { c.ActivityCounterThresh = 61 },
			fields: []string{"activity_counter_thresh"},
		},
		{
			name:   "threshold below min",
			mutate: func(c *Config) { c.ActivityCounterMin = 6 },
			fields: []string{"activity_counter_thresh"},
		},
		{
			name: "inverted noise bounds",
			mutate: func(c *Config) {
				c.MinNoiseLevel = Float(0.8)
				c.MaxNoiseLevel = Float(0.2)
			},
			fields: []string{"min_noise_level"},
		},
		{
			name:   "noise bound out of range",
			mutate: func(c *Config) { c.MaxNoiseLevel = Float(1.5) },
			fields: []string{"max_noise_level"},
		},
		{
			name:   "fft size not a power of two",
			mutate: func(c *Config) { c.FFTSize = 1000 },
			fields: []string{"fft_size"},
		},
		{
			name: "inverted capture band",
			mutate: func(c *Config) {
				c.MinCaptureFreq = 300
				c.MaxCaptureFreq = 200
			},
			fields: []string{"min_capture_freq"},
		},
		{
			name:   "unknown counting strategy",
			mutate: func(c *Config) { c.Counting = "strict" },
			fields: []string{"counting"},
		},
		{
			name:   "smoothing above one",
			mutate: func(c *Config) { c.SmoothingTimeConstant = 1.5 },
			fields: []string{"smoothing_time_constant"},
		},
		{
			name: "several violations reported together",
			mutate: func(c *Config) {
				c.NoiseCaptureDurationMs = -1
				c.AvgNoiseMultiplier = 0
			},
			fields: []string{"noise_capture_duration_ms", "avg_noise_multiplier"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr))
			for _, f := range tt.fields {
				assert.Contains(t, verr.Fields(), f)
			}
		})
	}
}

func TestValidateWithPrefix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FFTSize = 1000

	err := cfg.ValidateWithPrefix("detection")

	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"detection.fft_size"}, verr.Fields())
}

func TestZeroNoiseBoundCountsAsUnset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinNoiseLevel = Float(0)
	cfg.MaxNoiseLevel = nil

	_, ok := cfg.minNoise()
	assert.False(t, ok)
	_, ok = cfg.maxNoise()
	assert.False(t, ok)
}
