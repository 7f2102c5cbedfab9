package audio

import (
	"fmt"
	"strconv"

	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
)

// bandFilter returns the FFmpeg filter graph that keeps only the band.
func bandFilter(band Band) string {
	return fmt.Sprintf("highpass=f=%s,lowpass=f=%s", formatHz(band.MinHz), formatHz(band.MaxHz))
}

func formatHz(hz float64) string {
	return strconv.FormatFloat(hz, 'f', -1, 64)
}

// outputArgs are the platform independent arguments after the input.
func outputArgs(band Band) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
	}
	if band.MinHz > 0 && band.MaxHz > band.MinHz {
		args = append(args, "-af", bandFilter(band))
	}
	return append(args,
		"-f", "s16le",
		"-ac", strconv.Itoa(types.Channels),
		"-ar", strconv.Itoa(types.SampleRate),
		"pipe:1",
	)
}
