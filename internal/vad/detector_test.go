package vad

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detectorConfig(counting Counting) Config {
	cfg := DefaultConfig()
	cfg.ActivityCounterMin = 0
	cfg.ActivityCounterMax = 10
	cfg.ActivityCounterThresh = 3
	cfg.Counting = counting
	return cfg
}

var testLevels = Levels{BaseLevel: 0.3, VoiceScale: 0.7}

func feed(d *Detector, sample float64, n int) []Result {
	out := make([]Result, 0, n)
	for range n {
		out = append(out, d.Process(sample))
	}
	return out
}

func transitions(results []Result) []Transition {
	var out []Transition
	for _, r := range results {
		if r.Transition != TransitionNone {
			out = append(out, r.Transition)
		}
	}
	return out
}

func TestDetectorGradualRise(t *testing.T) {
	d := NewDetector(detectorConfig(CountingGradual), testLevels)

	results := feed(d, 0.8, 20)

	assert.Equal(t, []Transition{TransitionStart}, transitions(results))
	// counter must pass thresh 3, so the fourth sample flips the state
	assert.False(t, results[2].Voice)
	assert.True(t, results[3].Voice)
	assert.Equal(t, TransitionStart, results[3].Transition)
	assert.Equal(t, 10, d.State().Counter)
}

func TestDetectorGradualRelease(t *testing.T) {
	d := NewDetector(detectorConfig(CountingGradual), testLevels)
	feed(d, 0.8, 10)

	results := feed(d, 0.1, 10)

	assert.Equal(t, []Transition{TransitionStop}, transitions(results))
	// 10 -> 3 takes seven steps
	assert.True(t, results[5].Voice)
	assert.False(t, results[6].Voice)
	assert.Equal(t, 0, d.State().Counter)
}

func TestDetectorSnap(t *testing.T) {
	d := NewDetector(detectorConfig(CountingSnap), testLevels)

	rise := feed(d, 0.8, 4)
	assert.Equal(t, 3, rise[2].Counter)
	assert.Equal(t, 10, rise[3].Counter, "fast attack jumps to max")
	assert.Equal(t, TransitionStart, rise[3].Transition)

	fall := feed(d, 0.1, 8)
	assert.Equal(t, 4, fall[5].Counter)
	assert.Equal(t, 3, fall[6].Counter)
	assert.Equal(t, TransitionStop, fall[6].Transition)
	assert.Equal(t, 0, fall[7].Counter, "fast release jumps to min")
}

func TestDetectorFirstEvaluation(t *testing.T) {
	t.Run("silence emits nothing", func(t *testing.T) {
		d := NewDetector(detectorConfig(CountingGradual), testLevels)
		r := d.Process(0.1)
		assert.Equal(t, TransitionNone, r.Transition)
		assert.False(t, r.Voice)
	})

	t.Run("voice emits start", func(t *testing.T) {
		cfg := detectorConfig(CountingGradual)
		cfg.ActivityCounterMin = 4
		cfg.ActivityCounterThresh = 4
		d := NewDetector(cfg, testLevels)

		r := d.Process(0.8)
		assert.Equal(t, TransitionStart, r.Transition)
		assert.True(t, r.Voice)
	})
}

func TestDetectorSteadyStateHasNoTransitions(t *testing.T) {
	d := NewDetector(detectorConfig(CountingGradual), testLevels)
	feed(d, 0.8, 10)

	assert.Empty(t, transitions(feed(d, 0.8, 50)))
}

func TestDetectorSampleAtBaseLevelCountsAsActivity(t *testing.T) {
	d := NewDetector(detectorConfig(CountingGradual), testLevels)
	r := d.Process(testLevels.BaseLevel)
	assert.Equal(t, 1, r.Counter)
	assert.Zero(t, r.Level)
}

func TestDetectorLevel(t *testing.T) {
	d := NewDetector(detectorConfig(CountingGradual), testLevels)

	tests := []struct {
		sample float64
		want   float64
	}{
		{0.1, 0},
		{0.3, 0},
		{0.65, 0.5},
		{1.0, 1.0},
		{2.0, 17.0 / 7.0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{-4, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, d.Process(tt.sample).Level, 1e-9, "sample %v", tt.sample)
	}
}

func TestDetectorZeroVoiceScale(t *testing.T) {
	d := NewDetector(detectorConfig(CountingGradual), Levels{BaseLevel: 1, VoiceScale: 0})
	r := d.Process(5)
	assert.Zero(t, r.Level)
	assert.False(t, math.IsNaN(r.Level))
}

func TestDetectorRandomInvariants(t *testing.T) {
	for _, counting := range []Counting{CountingGradual, CountingSnap} {
		t.Run(string(counting), func(t *testing.T) {
			cfg := detectorConfig(counting)
			bounds := cfg.CounterBounds()
			d := NewDetector(cfg, testLevels)
			rng := rand.New(rand.NewPCG(1, 2))

			voice := false
			for i := range 5000 {
				sample := rng.Float64()
				if i%97 == 0 {
					sample = math.NaN()
				}
				r := d.Process(sample)

				require.GreaterOrEqual(t, r.Counter, bounds.Min)
				require.LessOrEqual(t, r.Counter, bounds.Max)
				require.Equal(t, r.Counter > bounds.Thresh, r.Voice)
				require.GreaterOrEqual(t, r.Level, 0.0)

				switch r.Transition {
				case TransitionStart:
					require.False(t, voice)
				case TransitionStop:
					require.True(t, voice)
				case TransitionNone:
					if i > 0 {
						require.Equal(t, voice, r.Voice)
					}
				}
				voice = r.Voice
			}
			assert.Equal(t, 5000, d.State().Samples)
		})
	}
}

func TestTransitionString(t *testing.T) {
	assert.Equal(t, "start", TransitionStart.String())
	assert.Equal(t, "stop", TransitionStop.String())
	assert.Equal(t, "none", TransitionNone.String())
}
