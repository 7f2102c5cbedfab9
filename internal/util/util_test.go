package util

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)

	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next()}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, got)
	assert.Equal(t, 4, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, time.Second, b.Next())
}

func TestFormatDuration(t *testing.T) {
	tests := map[int64]string{
		850:       "850ms",
		45_000:    "45s",
		154_000:   "2m 34s",
		4_980_000: "1h 23m",
	}
	for ms, want := range tests {
		assert.Equal(t, want, FormatDuration(ms))
	}
}

func TestFormatHumanTime(t *testing.T) {
	assert.Equal(t, "unknown", FormatHumanTime(""))
	assert.Equal(t, "not-a-time", FormatHumanTime("not-a-time"))
	assert.NotEqual(t, "unknown", FormatHumanTime("2026-03-01T10:00:00Z"))
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("open", nil))

	base := errors.New("boom")
	err := WrapError("open file", base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "failed to open file: boom", err.Error())
}

func TestExtractLastError(t *testing.T) {
	assert.Equal(t, "Device busy", ExtractLastError("Input #0\n  Device busy \n\n"))
	assert.Empty(t, ExtractLastError("  \n"))

	long := strings.Repeat("x", maxErrorLineLength+10)
	assert.Len(t, ExtractLastError(long), maxErrorLineLength+3)
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("path", "/var/log/voicedetect/events.jsonl"))
	assert.Error(t, ValidatePath("path", ""))
	assert.ErrorContains(t, ValidatePath("path", "/var/log/../etc/passwd"), "'..'")
}

func TestCheckPathWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	require.NoError(t, CheckPathWritable(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file is removed")
}

func TestValidateStructUsesJSONNames(t *testing.T) {
	type request struct {
		URL   string `json:"url" validate:"omitempty,url"`
		Limit int    `json:"limit" validate:"lte=10"`
	}

	verr := ValidateStruct(request{URL: "not a url", Limit: 11}, "webhook")

	require.True(t, verr.HasErrors())
	assert.ElementsMatch(t, []string{"webhook.url", "webhook.limit"}, verr.Fields())
	assert.Equal(t, "must be a valid URL", verr.Errors[0].Message)
	assert.NoError(t, ValidateStruct(request{Limit: 3}, "").Err())
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
}
