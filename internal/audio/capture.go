package audio

import (
	"errors"
	"os/exec"
)

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// Band is the frequency range, in Hz, kept before the energy is measured.
type Band struct {
	MinHz float64
	MaxHz float64
}

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// InputFormat is the FFmpeg input format (e.g., "alsa", "avfoundation", "dshow").
	InputFormat string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string
}

// BuildCaptureCommand returns the FFmpeg arguments that capture device as
// mono 16-bit PCM with the band filter applied. If device is empty, the
// platform default is used, or the first listed device when there is none.
func BuildCaptureCommand(device, ffmpegPath string, band Band) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices := Devices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := "ffmpeg"
	if ffmpegPath != "" {
		command = ffmpegPath
	}

	return command, buildFFmpegCaptureArgs(cfg.InputFormat, device, band), nil
}

// ResolveFFmpegPath returns the path to the FFmpeg binary.
// If customPath is set, it validates the path exists and is executable.
// Otherwise, it searches for "ffmpeg" in the system PATH.
// Returns an empty string if FFmpeg is not found.
func ResolveFFmpegPath(customPath string) string {
	if customPath != "" {
		if _, err := exec.LookPath(customPath); err == nil {
			return customPath
		}
		return ""
	}
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return ""
	}
	return path
}
