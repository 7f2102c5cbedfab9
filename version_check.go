package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-voicedetect/internal/types"
	"github.com/oszuidwest/zwfm-voicedetect/internal/util"
)

const (
	githubRepo           = "oszuidwest/zwfm-voicedetect"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30000 * time.Millisecond // Delay before first check to avoid blocking startup
	versionCheckTimeout  = 30000 * time.Millisecond // HTTP request timeout
	versionMaxRetries    = 3                        // Max retries per check cycle
	versionRetryDelay    = 1 * time.Minute          // Delay between retries
)

// errRetryableCheck marks a failed check that is worth retrying.
var errRetryableCheck = errors.New("version check failed")

// VersionChecker polls the release feed and reports update availability.
// It is safe for concurrent use.
type VersionChecker struct {
	client     *http.Client
	releaseURL string
	current    string

	mu        sync.RWMutex
	latest    string
	etag      string // For conditional requests (304 Not Modified)
	checkedAt time.Time
}

// NewVersionChecker returns a VersionChecker for the running build.
// Call Run to start polling.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{
		client:     &http.Client{Timeout: versionCheckTimeout},
		releaseURL: "https://api.github.com/repos/" + githubRepo + "/releases/latest",
		current:    normalizeVersion(Version),
	}
}

// Run polls for releases until ctx is cancelled. It always returns nil so it
// can run next to the other long-lived goroutines without failing them.
func (vc *VersionChecker) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	timer := time.NewTimer(versionCheckDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			vc.checkWithRetry(ctx)
			timer.Reset(versionCheckInterval)
		}
	}
}

// checkWithRetry performs the version check, retrying transient failures.
func (vc *VersionChecker) checkWithRetry(ctx context.Context) {
	for attempt := range versionMaxRetries {
		err := vc.check(ctx)
		if err == nil {
			return
		}
		slog.Debug("version check failed", "attempt", attempt+1, "error", err)
		if !errors.Is(err, errRetryableCheck) || attempt == versionMaxRetries-1 {
			return
		}
		select {
		case <-time.After(versionRetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

// githubRelease represents a release with version and status information.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check fetches the latest release. Errors wrapping errRetryableCheck are
// transient; other errors end the cycle.
func (vc *VersionChecker) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.releaseURL, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-voicedetect/"+Version)

	vc.mu.RLock()
	etag := vc.etag
	vc.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := vc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errRetryableCheck, err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Best-effort cleanup; error doesn't affect caller
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		vc.markChecked()
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", errRetryableCheck, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return fmt.Errorf("%w: decode release: %w", errRetryableCheck, err)
	}
	if release.Draft || release.Prerelease {
		vc.markChecked()
		return nil
	}
	if release.TagName == "" {
		return fmt.Errorf("%w: release without tag", errRetryableCheck)
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	if newEtag := resp.Header.Get("ETag"); newEtag != "" {
		vc.etag = newEtag
	}
	vc.checkedAt = time.Now()
	vc.mu.Unlock()

	if vc.updateAvailable(vc.Latest()) {
		slog.Info("new release available", "current", vc.current, "latest", release.TagName)
	}
	return nil
}

func (vc *VersionChecker) markChecked() {
	vc.mu.Lock()
	vc.checkedAt = time.Now()
	vc.mu.Unlock()
}

// Latest returns the newest known release, or "" before the first check.
func (vc *VersionChecker) Latest() string {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.latest
}

// Info returns the current version info for clients.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	latest := vc.latest
	checkedAt := vc.checkedAt
	vc.mu.RUnlock()

	info := types.VersionInfo{
		Current:     vc.current,
		Latest:      latest,
		UpdateAvail: vc.updateAvailable(latest),
		Commit:      Commit,
		BuildTime:   util.FormatHumanTime(BuildTime),
	}
	if !checkedAt.IsZero() {
		info.CheckedAt = util.TimestampUTC(checkedAt)
	}
	return info
}

// updateAvailable reports whether latest is newer than a released build.
// Development builds never report updates.
func (vc *VersionChecker) updateAvailable(latest string) bool {
	if latest == "" || vc.current == "dev" || vc.current == "unknown" {
		return false
	}
	return isNewerVersion(latest, vc.current)
}

// normalizeVersion returns a normalized version string.
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// canonicalVersion returns the version in canonical semver format.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// isNewerVersion reports whether latest is newer than current.
func isNewerVersion(latest, current string) bool {
	return semver.Compare(canonicalVersion(latest), canonicalVersion(current)) > 0
}
