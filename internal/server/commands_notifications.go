package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-voicedetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-voicedetect/internal/notify"
	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
)

// ErrLogNotConfigured is returned when the event log path is empty.
var ErrLogNotConfigured = errors.New("event log path not configured")

// RunNotificationTest runs the test for a notification channel against the
// current configuration.
func RunNotificationTest(logPath, webhookURL, testType string) error {
	switch testType {
	case "webhook":
		return notify.SendTestWebhook(webhookURL)
	case "log":
		if logPath == "" {
			return ErrLogNotConfigured
		}
		l, err := eventlog.NewLogger(logPath)
		if err != nil {
			return err
		}
		return l.Close()
	default:
		return fmt.Errorf("unknown test type: %s", testType)
	}
}

// handleTest executes a notification test and sends the result to the client.
// testCmd should be in format "test_<type>" (e.g., "test_webhook", "test_log").
func (h *CommandHandler) handleTest(send chan<- any, testCmd string) {
	testType := strings.TrimPrefix(testCmd, "test_")
	snap := h.cfg.Snapshot()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "command", testCmd, "panic", r)
			}
		}()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := RunNotificationTest(snap.LogPath, snap.WebhookURL, testType); err != nil {
			slog.Error("test failed", "command", testCmd, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "command", testCmd)
		}

		trySend(send, testCmd, result)
	}()
}

// handleEventsList reads a page of the event log and sends it to the client.
func (h *CommandHandler) handleEventsList(cmd WSCommand, send chan<- any) {
	var req EventsListRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = DefaultEventLimit
	}
	logPath := h.cfg.LogPath()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in events handler", "panic", r)
			}
		}()

		result := types.WSEventsResult{
			Type:    "events/list_result",
			Success: true,
		}

		if logPath == "" {
			result.Success = false
			result.Error = ErrLogNotConfigured.Error()
		} else {
			entries, hasMore, err := eventlog.ReadLast(logPath, req.Limit, req.Offset, eventlog.TypeFilter(req.Filter))
			if err != nil {
				result.Success = false
				result.Error = err.Error()
			} else {
				result.Entries = entries
				result.HasMore = hasMore
			}
		}

		trySend(send, cmd.Type, result)
	}()
}
