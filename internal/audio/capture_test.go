package audio

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
)

func TestBuildCaptureCommand(t *testing.T) {
	cmd, args, err := BuildCaptureCommand("hw:1", "/opt/ffmpeg", Band{MinHz: 85, MaxHz: 255})

	assert.NoError(t, err)
	assert.Equal(t, "/opt/ffmpeg", cmd)
	assert.Contains(t, args, "hw:1")
	assert.Contains(t, args, "highpass=f=85,lowpass=f=255")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestOutputArgs(t *testing.T) {
	args := outputArgs(Band{MinHz: 85.5, MaxHz: 300})
	assert.Equal(t, []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-af", "highpass=f=85.5,lowpass=f=300",
		"-f", "s16le",
		"-ac", "1",
		"-ar", "16000",
		"pipe:1",
	}, args)

	assert.NotContains(t, outputArgs(Band{}), "-af")
}

func TestParseDeviceOutput(t *testing.T) {
	cfg := DeviceListConfig{
		AudioStartMarker: "audio devices:",
		AudioStopMarker:  "video devices:",
		DevicePattern:    regexp.MustCompile(`\[(\d+)\]\s*(.+)`),
		ParseDevice: func(m []string) *types.AudioDevice {
			return &types.AudioDevice{ID: ":" + m[1], Name: m[2]}
		},
		FallbackDevices: []types.AudioDevice{{ID: "default", Name: "fallback"}},
	}

	out := "audio devices:\n[0] Built-in Microphone\n[1] USB Mic\nvideo devices:\n[0] Camera\n"
	assert.Equal(t, []types.AudioDevice{
		{ID: ":0", Name: "Built-in Microphone"},
		{ID: ":1", Name: "USB Mic"},
	}, parseDeviceOutput(out, cfg))

	assert.Equal(t, cfg.FallbackDevices, parseDeviceOutput("nothing here", cfg))
}
