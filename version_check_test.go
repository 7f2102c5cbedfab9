package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.10.0", "1.9.0", true},
		{"1.0.0", "1.0.0-rc.1", true},
		{"0.9.0", "1.0.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current), "%s vs %s", tt.latest, tt.current)
	}
}

func TestNormalizeVersion(t *testing.T) {
	assert.Equal(t, "1.4.2", normalizeVersion(" v1.4.2 "))
	assert.Equal(t, "dev", normalizeVersion("dev"))
}

func newReleaseChecker(url, current string) *VersionChecker {
	vc := NewVersionChecker()
	vc.releaseURL = url
	vc.current = current
	return vc
}

func TestVersionCheckerFindsRelease(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Contains(t, r.Header.Get("User-Agent"), "zwfm-voicedetect/")
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name":"v1.3.0"}`))
	}))
	defer ts.Close()

	vc := newReleaseChecker(ts.URL, "1.2.0")
	require.NoError(t, vc.check(context.Background()))

	info := vc.Info()
	assert.Equal(t, "1.3.0", info.Latest)
	assert.True(t, info.UpdateAvail)
	assert.NotEmpty(t, info.CheckedAt)

	require.NoError(t, vc.check(context.Background()))
	assert.Equal(t, "1.3.0", vc.Latest())
	assert.EqualValues(t, 2, requests.Load())
}

func TestVersionCheckerSkipsPrerelease(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v2.0.0-beta.1","prerelease":true}`))
	}))
	defer ts.Close()

	vc := newReleaseChecker(ts.URL, "1.2.0")
	require.NoError(t, vc.check(context.Background()))
	assert.Empty(t, vc.Latest())
	assert.False(t, vc.Info().UpdateAvail)
}

func TestVersionCheckerClassifiesFailures(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer ts.Close()

	vc := newReleaseChecker(ts.URL, "1.2.0")
	err := vc.check(context.Background())
	assert.True(t, errors.Is(err, errRetryableCheck))

	status.Store(http.StatusBadRequest)
	err = vc.check(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, errRetryableCheck))
}

func TestDevBuildNeverReportsUpdate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v9.9.9"}`))
	}))
	defer ts.Close()

	vc := newReleaseChecker(ts.URL, "dev")
	require.NoError(t, vc.check(context.Background()))
	assert.Equal(t, "9.9.9", vc.Latest())
	assert.False(t, vc.Info().UpdateAvail)
}

func TestVersionCheckerRunStopsOnCancel(t *testing.T) {
	vc := NewVersionChecker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, vc.Run(ctx))
}
