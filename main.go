// Package main provides a real-time voice activity detector that captures
// audio from an input device, calibrates against the room noise and reports
// voice start and stop over webhooks, an event log, a WebSocket feed and
// Prometheus metrics.
//
// Usage:
//
//	voicedetect [-config path/to/config.json] [-log-level info]
//
// If -config is not specified, the detector looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-voicedetect/internal/audio"
	"github.com/oszuidwest/zwfm-voicedetect/internal/config"
	"github.com/oszuidwest/zwfm-voicedetect/internal/engine"
	"github.com/oszuidwest/zwfm-voicedetect/internal/notify"
	"github.com/oszuidwest/zwfm-voicedetect/internal/observe"
	"github.com/oszuidwest/zwfm-voicedetect/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		slog.Error("invalid log level", "level", *logLevel, "error", err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	if err := run(*configPath); err != nil {
		slog.Error("voice detector failed", "error", err)
		os.Exit(1)
	}
}

// run wires the components together and blocks until a shutdown signal
// arrives or one of the long-lived goroutines fails.
func run(configPath string) error {
	slog.Info("using config file", "path", configPath)

	cfg := config.New(configPath)
	if err := cfg.Load(); err != nil {
		return util.WrapError("load config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		return util.WrapError("init metrics", err)
	}

	// Check FFmpeg availability
	ffmpegPath := audio.ResolveFFmpegPath(cfg.FFmpegPath())
	ffmpegAvailable := ffmpegPath != ""
	if !ffmpegAvailable {
		slog.Warn("FFmpeg not found - running in degraded mode",
			"configured_path", cfg.FFmpegPath())
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	notifier := notify.NewVoiceNotifier(cfg)
	eng := engine.New(cfg, ffmpegPath, notifier, telemetry.Metrics)
	srv := NewServer(cfg, eng, telemetry.Handler(), ffmpegAvailable)

	if ffmpegAvailable {
		slog.Info("starting engine")
		if err := eng.Start(); err != nil {
			slog.Error("failed to start engine", "error", err)
		}
	} else {
		slog.Warn("engine not started - FFmpeg not available")
	}

	httpServer := srv.HTTPServer()
	watcher := config.NewWatcher(cfg, func(old, updated config.Snapshot) {
		if err := eng.Reconfigure(&old, &updated); err != nil {
			slog.Error("applying reloaded config failed", "error", err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting web server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return util.WrapError("serve HTTP", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := watcher.Watch(gctx); err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.version.Run(gctx)
	})

	runErr := g.Wait()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = errors.Join(
		runErr,
		eng.Stop(),
		notifier.Close(),
		telemetry.Shutdown(shutdownCtx),
	)
	if err == nil {
		slog.Info("shutdown complete")
	}
	return err
}
