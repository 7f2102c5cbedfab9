package notify

import (
	"time"

	"github.com/oszuidwest/zwfm-voicedetect/internal/util"
)

// AppName is the application name used in notifications.
const AppName = "ZuidWest FM Voice Detector"

// Webhook event names.
const (
	EventVoiceStart = "voice_start"
	EventVoiceStop  = "voice_stop"
	EventCalibrated = "calibrated"
	EventTest       = "test"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10000 * time.Millisecond

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return util.TimestampUTC(time.Now())
}
