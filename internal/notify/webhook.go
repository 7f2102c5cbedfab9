package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/oszuidwest/zwfm-voicedetect/internal/util"
)

// ErrWebhookNotConfigured is returned by SendTestWebhook without a URL.
var ErrWebhookNotConfigured = errors.New("webhook URL not configured")

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event      string  `json:"event"`
	SessionID  string  `json:"session_id,omitempty"`
	BaseLevel  float64 `json:"base_level,omitempty"`
	VoiceScale float64 `json:"voice_scale,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	Message    string  `json:"message,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

var webhookClient = &http.Client{Timeout: webhookTimeout}

// SendVoiceStartWebhook notifies the webhook that voice became active.
func SendVoiceStartWebhook(webhookURL, sessionID string, baseLevel float64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     EventVoiceStart,
		SessionID: sessionID,
		BaseLevel: baseLevel,
		Timestamp: timestampUTC(),
	})
}

// SendVoiceStopWebhook notifies the webhook that voice ended after durationMs.
func SendVoiceStopWebhook(webhookURL, sessionID string, baseLevel float64, durationMs int64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:      EventVoiceStop,
		SessionID:  sessionID,
		BaseLevel:  baseLevel,
		DurationMs: durationMs,
		Timestamp:  timestampUTC(),
	})
}

// SendCalibratedWebhook reports the levels derived for a new session.
func SendCalibratedWebhook(webhookURL, sessionID string, baseLevel, voiceScale float64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:      EventCalibrated,
		SessionID:  sessionID,
		BaseLevel:  baseLevel,
		VoiceScale: voiceScale,
		Timestamp:  timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL string) error {
	if webhookURL == "" {
		return ErrWebhookNotConfigured
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     EventTest,
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	resp, err := webhookClient.Post(webhookURL, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
