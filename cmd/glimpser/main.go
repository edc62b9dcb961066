// SPDX-License-Identifier: MIT

// Package main implements the glimpser daemon, the media capture service.
//
// The daemon manages a fleet of encoder child processes pulling from
// remote sources, exposes their frames over HTTP, and guarantees that no
// encoder outlives its capture across normal operation, shutdown, and
// crash-then-restart.
//
// Usage:
//
//	glimpser [options]
//
// Options:
//
//	--config=PATH     Path to config file (default: /etc/glimpser/config.yaml)
//	--listen=ADDR     HTTP API listen address (overrides config)
//	--log-level=LEVEL Log level: debug, info, warn, error (default: info)
//	--help            Show this help message
//
// Startup order is load-bearing: the orphan reaper runs before the pool
// accepts any work, so encoder children left behind by a crashed run are
// gone before new ones spawn.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/harperreed/glimpser-go/internal/capture"
	"github.com/harperreed/glimpser-go/internal/config"
	"github.com/harperreed/glimpser-go/internal/httpapi"
	"github.com/harperreed/glimpser-go/internal/lock"
)

// Build information (set by ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath  = flag.String("config", config.ConfigFilePath, "Path to configuration file")
	listenAddr  = flag.String("listen", "", "HTTP API listen address (overrides config)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showHelp    = flag.Bool("help", false, "Show help message")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if *showVersion {
		fmt.Printf("glimpser %s (%s) built %s\n", Version, Commit, BuildTime)
		os.Exit(0)
	}

	logger := newLogger(*logLevel)
	logger.Info("glimpser starting", "version", Version, "commit", Commit)

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	logger.Info("configuration loaded", "path", *configPath, "streams", len(cfg.Streams))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && err != context.Canceled {
		logger.Error("daemon exited with error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("glimpser stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// One daemon per host: a second instance would double-spawn encoders
	// and reap the first one's children as orphans.
	instanceLock, err := lock.New(cfg.LockFile)
	if err != nil {
		return fmt.Errorf("failed to create instance lock: %w", err)
	}
	if err := instanceLock.Acquire(ctx, 5*time.Second); err != nil {
		return fmt.Errorf("another glimpser daemon appears to be running: %w", err)
	}
	defer func() {
		if err := instanceLock.Release(); err != nil {
			logger.Warn("failed to release instance lock", "error", err.Error())
		}
	}()

	// Reap orphans from a prior crashed run before any child can spawn.
	reaped, err := capture.ReapOrphans(ctx, capture.ReaperConfig{
		EncoderBin: cfg.EncoderBin,
		KillGrace:  cfg.OrphanKillGrace,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("orphan reap failed: %w", err)
	}
	httpapi.RecordOrphansReaped(reaped)

	pool := capture.NewPool(capture.PoolConfig{
		MaxEncoders: cfg.MaxEncoders,
		KillGrace:   cfg.KillGrace,
		Logger:      logger,
	})
	defer pool.Close()
	httpapi.RegisterPoolGauge(pool.Live)

	svc := httpapi.NewCaptureService(cfg, pool, logger)
	handler := httpapi.NewHandler(svc, logger)
	server := httpapi.NewServer(cfg.ListenAddr, handler, logger)

	sup := suture.New("glimpser", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Warn("supervisor event", "event", ev.String())
		},
	})
	sup.Add(server)

	serveErr := sup.Serve(ctx)

	// Graceful teardown, bounded by the configured shutdown budget: stop
	// every capture, close stragglers via the handle registry, then drive
	// the pool down so no encoder survives the daemon.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	svc.Shutdown(shutdownCtx)
	capture.CloseAllHandles()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pool shutdown incomplete", "error", err.Error())
	}

	if serveErr != nil && serveErr != context.Canceled {
		return serveErr
	}
	return nil
}

// loadConfiguration merges the YAML file (if present) with GLIMPSER_*
// environment variables over built-in defaults.
func loadConfiguration(path string) (*config.Config, error) {
	opts := []config.Option{}
	if _, err := os.Stat(path); err == nil {
		opts = append(opts, config.WithYAMLFile(path))
	}

	kc, err := config.NewKoanfConfig(opts...)
	if err != nil {
		return nil, err
	}
	return kc.Load()
}

// newLogger builds the daemon's structured logger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
