package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alejandrodnm/lpbot/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file (.yaml or .toml)")
	once := flag.Bool("once", false, "resume, run one open/monitor/close cycle and exit")
	dryRun := flag.Bool("dry-run", false, "paper venue + in-memory store, no real liquidity moves")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print a summary table when a position closes")
	positions := flag.Bool("positions", false, "print the active positions and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *dryRun {
		cfg.Venue.Mode = "paper"
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.DSN = ":memory:"
	}
	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err, "path", *configPath)
		closeLog()
		os.Exit(1)
	}

	slog.Info("lpbot starting",
		"config", *configPath,
		"provider", cfg.MarketData.Provider,
		"venue", cfg.Venue.Mode,
		"storage", cfg.Storage.Driver,
		"check_interval", cfg.Lifecycle.CheckInterval.Duration,
		"max_lifespan", cfg.Lifecycle.MaxLifespan.Duration,
		"rebalance", cfg.Lifecycle.RebalanceEnabled,
		"dry_run", *dryRun,
		"once", *once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := runOptions{once: *once, table: *table, listOnly: *positions}
	if err := run(ctx, cfg, opts); err != nil {
		slog.Error("lpbot exited with error", "err", err)
		cancel()
		closeLog()
		os.Exit(1)
	}

	slog.Info("lpbot stopped cleanly")
}

// setupLogger configura slog. Con log.file los logs van también a un archivo rotado.
func setupLogger(cfg config.LogConfig) func() {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closeFn
}
