package vad

import "math"

// Transition is an edge of the voice state.
type Transition int

const (
	// TransitionNone means the voice state did not change.
	TransitionNone Transition = iota
	// TransitionStart marks a silence to voice edge.
	TransitionStart
	// TransitionStop marks a voice to silence edge.
	TransitionStop
)

// String returns the transition name used in logs and events.
func (t Transition) String() string {
	switch t {
	case TransitionStart:
		return "start"
	case TransitionStop:
		return "stop"
	default:
		return "none"
	}
}

// CounterBounds are the limits of the activity counter.
type CounterBounds struct {
	Min    int
	Max    int
	Thresh int
}

// advance moves counter one step towards Max when active, or towards Min
// otherwise. The snap strategy jumps straight to the bound once the step
// crosses the threshold.
func (s Counting) advance(counter int, active bool, b CounterBounds) int {
	switch {
	case active && counter < b.Max:
		counter++
		if s == CountingSnap && counter > b.Thresh {
			counter = b.Max
		}
	case !active && counter > b.Min:
		counter--
		if s == CountingSnap && counter < b.Thresh {
			counter = b.Min
		}
	}
	return counter
}

// Result is the outcome of processing one sample.
type Result struct {
	Level      float64    // normalized voice level, never negative
	Voice      bool       // voice state after this sample
	Transition Transition // edge produced by this sample
	Counter    int        // activity counter after this sample
}

// DetectorState is a snapshot of the detector.
type DetectorState struct {
	Counter int  `json:"activity_counter"`
	Voice   bool `json:"voice"`
	Samples int  `json:"samples"`
}

// Detector is the hysteresis state machine. It is not safe for concurrent use.
type Detector struct {
	levels   Levels
	bounds   CounterBounds
	counting Counting

	counter   int
	voice     bool
	evaluated bool
	samples   int
}

// NewDetector creates a Detector using cfg's counter settings and the
// calibrated levels. The counter starts at ActivityCounterMin.
func NewDetector(cfg Config, levels Levels) *Detector {
	counting := cfg.Counting
	if counting == "" {
		counting = CountingGradual
	}
	return &Detector{
		levels:   levels,
		bounds:   cfg.CounterBounds(),
		counting: counting,
		counter:  cfg.ActivityCounterMin,
	}
}

// Process feeds one energy sample. NaN, infinite and negative samples are
// treated as silence (zero energy).
func (d *Detector) Process(sample float64) Result {
	sample = sanitize(sample)

	d.counter = d.counting.advance(d.counter, sample >= d.levels.BaseLevel, d.bounds)
	voice := d.counter > d.bounds.Thresh

	transition := TransitionNone
	switch {
	case !d.evaluated:
		// No previous state: only an initial voice state is an edge.
		if voice {
			transition = TransitionStart
		}
	case voice && !d.voice:
		transition = TransitionStart
	case !voice && d.voice:
		transition = TransitionStop
	}
	d.voice = voice
	d.evaluated = true
	d.samples++

	return Result{
		Level:      d.level(sample),
		Voice:      voice,
		Transition: transition,
		Counter:    d.counter,
	}
}

func (d *Detector) level(sample float64) float64 {
	if d.levels.VoiceScale <= 0 {
		return 0
	}
	return max(0, sample-d.levels.BaseLevel) / d.levels.VoiceScale
}

// Levels returns the levels the detector was built with.
func (d *Detector) Levels() Levels {
	return d.levels
}

// State returns a snapshot of the counter and voice state.
func (d *Detector) State() DetectorState {
	return DetectorState{
		Counter: d.counter,
		Voice:   d.voice,
		Samples: d.samples,
	}
}

func sanitize(sample float64) float64 {
	if math.IsNaN(sample) || math.IsInf(sample, 0) || sample < 0 {
		return 0
	}
	return sample
}
