//go:build linux

package audio

import (
	"regexp"

	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		InputFormat:   "alsa",
		DefaultDevice: "default",
	}
}

func listDevices() []types.AudioDevice {
	return parseDeviceList(DeviceListConfig{
		Command:          []string{"arecord", "-l"},
		AudioStartMarker: "", // No marker, parse all lines
		DevicePattern:    regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
		ParseDevice: func(matches []string) *types.AudioDevice {
			if len(matches) < 4 {
				return nil
			}
			return &types.AudioDevice{
				ID:   "default:CARD=" + matches[2],
				Name: matches[3],
			}
		},
		FallbackDevices: []types.AudioDevice{
			{ID: "default", Name: "System default"},
		},
	})
}
