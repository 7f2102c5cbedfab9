package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	changes := make(chan [2]Snapshot, 1)
	w := NewWatcher(cfg, func(old, updated Snapshot) {
		changes <- [2]Snapshot{old, updated}
	}, WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"audio": {"input": "hw:3"}}`), 0o600))

	select {
	case c := <-changes:
		assert.Equal(t, "", c[0].AudioInput)
		assert.Equal(t, "hw:3", c[1].AudioInput)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestWatcherIgnoresOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	called := make(chan struct{}, 1)
	w := NewWatcher(cfg, func(Snapshot, Snapshot) { called <- struct{}{} }, WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, cfg.SetAudioInput("hw:4"))

	select {
	case <-called:
		t.Fatal("setter write triggered a reload callback")
	case <-time.After(300 * time.Millisecond):
	}
}
