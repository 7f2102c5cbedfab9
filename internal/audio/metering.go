// Package audio captures microphone input through FFmpeg and reduces the PCM
// stream to the scalar energy samples the detector consumes.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDecibels maps to energy 0.
	MinDecibels = -100.0
	// MaxDecibels maps to energy 1.
	MaxDecibels = -30.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ClipThreshold is slightly below max to catch near-clips.
	ClipThreshold int16 = 32760
)

// Reading is the measurement of one completed block.
type Reading struct {
	Energy float64 // smoothed energy in [0,1]
	RMSDB  float64 // block RMS in dBFS, floored at MinDecibels
	PeakDB float64 // block peak in dBFS, floored at MinDecibels
	Clips  int     // samples at or near full scale
}

// EnergyMeter reduces mono S16LE PCM into one energy sample per block of
// BufferLen frames. It is not safe for concurrent use.
type EnergyMeter struct {
	blockLen  int
	smoothing float64

	sumSquares float64
	peak       float64
	clips      int
	count      int

	prev       float64
	pending    byte
	hasPending bool
}

// NewEnergyMeter creates a meter that emits every blockLen frames and
// averages each result with the previous one by smoothing (0 disables it).
func NewEnergyMeter(blockLen int, smoothing float64) *EnergyMeter {
	if blockLen <= 0 {
		blockLen = 1024
	}
	return &EnergyMeter{
		blockLen:  blockLen,
		smoothing: min(max(smoothing, 0), 1),
	}
}

// Process consumes PCM bytes and calls emit for every completed block. A
// trailing odd byte is kept for the next call.
func (m *EnergyMeter) Process(buf []byte, emit func(Reading)) {
	if m.hasPending && len(buf) > 0 {
		m.addSample(int16(binary.LittleEndian.Uint16([]byte{m.pending, buf[0]})), emit)
		m.hasPending = false
		buf = buf[1:]
	}

	i := 0
	for ; i+1 < len(buf); i += 2 {
		m.addSample(int16(binary.LittleEndian.Uint16(buf[i:])), emit)
	}
	if i < len(buf) {
		m.pending = buf[i]
		m.hasPending = true
	}
}

func (m *EnergyMeter) addSample(sample int16, emit func(Reading)) {
	v := float64(sample)
	m.sumSquares += v * v
	if a := math.Abs(v); a > m.peak {
		m.peak = a
	}
	if sample >= ClipThreshold || sample <= -ClipThreshold {
		m.clips++
	}
	m.count++

	if m.count >= m.blockLen {
		r := m.flush()
		if emit != nil {
			emit(r)
		}
	}
}

func (m *EnergyMeter) flush() Reading {
	rms := math.Sqrt(m.sumSquares / float64(m.count))
	rmsDB := ToDecibels(rms)
	energy := m.smoothing*m.prev + (1-m.smoothing)*EnergyFromDecibels(rmsDB)
	m.prev = energy

	r := Reading{
		Energy: energy,
		RMSDB:  rmsDB,
		PeakDB: ToDecibels(m.peak),
		Clips:  m.clips,
	}
	m.sumSquares, m.peak, m.clips, m.count = 0, 0, 0, 0
	return r
}

// Reset clears accumulated samples and the smoothing history.
func (m *EnergyMeter) Reset() {
	m.sumSquares, m.peak, m.clips, m.count = 0, 0, 0, 0
	m.prev = 0
	m.hasPending = false
}

// ToDecibels converts a 16-bit amplitude to dBFS, floored at MinDecibels.
func ToDecibels(amplitude float64) float64 {
	if amplitude <= 0 {
		return MinDecibels
	}
	return max(20*math.Log10(amplitude/MaxSampleValue), MinDecibels)
}

// EnergyFromDecibels maps [MinDecibels, MaxDecibels] linearly onto [0,1].
func EnergyFromDecibels(db float64) float64 {
	e := (db - MinDecibels) / (MaxDecibels - MinDecibels)
	return min(max(e, 0), 1)
}
