// Package main implements the entry point for the sensorstreams
// acquisition engine: it discovers sensor sources through the configured
// transport provider, runs one buffered receiver per stream, and exposes
// status, quality and Prometheus metrics while optionally recording the
// session to disk.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/sensorstreams/config"
	"github.com/c360/sensorstreams/manager"
	"github.com/c360/sensorstreams/metric"
	"github.com/c360/sensorstreams/quality"
	"github.com/c360/sensorstreams/recorder"
	"github.com/c360/sensorstreams/stream"
	"github.com/c360/sensorstreams/stream/natssource"
	"github.com/c360/sensorstreams/stream/synthetic"
	"github.com/c360/sensorstreams/stream/udpsource"
	"github.com/c360/sensorstreams/stream/wssource"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sensorstreams"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.LogLevel = cliCfg.LogLevel
	}

	logger := setupLogger(cfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting sensor stream acquisition",
		"version", Version,
		"build_time", BuildTime,
		"provider", cfg.Provider.Kind)

	provider, cleanup, err := buildProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}
	defer cleanup()

	metricsRegistry := metric.NewMetricsRegistry()
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			_ = metricsServer.Stop(5 * time.Second)
		}()
	}

	mgr, err := manager.New(manager.Deps{
		Provider:        provider,
		Config:          cfg.ManagerConfig(),
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	ctx := context.Background()
	if err := mgr.Connect(ctx, cfg.Selection()); err != nil {
		return fmt.Errorf("connect streams: %w", err)
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start acquisition: %w", err)
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec, err = recorder.New(cfg.Recorder.Config, logger)
		if err != nil {
			_ = mgr.Stop()
			return fmt.Errorf("open recorder: %w", err)
		}
	}

	err = runUntilSignalled(ctx, cfg, cliCfg, mgr, rec, logger)

	if stopErr := mgr.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	if rec != nil {
		if closeErr := closeRecorder(mgr, rec); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// runUntilSignalled drives the periodic status/recording loop until a
// signal, the optional run-for deadline, or a context error.
func runUntilSignalled(
	ctx context.Context,
	cfg config.Config,
	cliCfg *CLIConfig,
	mgr *manager.Manager,
	rec *recorder.Recorder,
	logger *slog.Logger,
) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	statusInterval := cfg.StatusInterval
	if statusInterval <= 0 {
		statusInterval = time.Minute
	}
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if cliCfg.RunFor > 0 {
		timer := time.NewTimer(cliCfg.RunFor)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
			return nil

		case <-deadline:
			logger.Info("run duration elapsed", "run_for", cliCfg.RunFor.String())
			return nil

		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			st := mgr.Status()
			logger.Info("acquisition status",
				"streams", len(st.Streams),
				"connected", st.Connected,
				"total_received", st.TotalReceived,
				"total_dropped", st.TotalDropped,
				"total_reconnects", st.TotalReconnects,
				"pending_alerts", len(st.Alerts))

			if rec != nil {
				recordStatus(mgr, rec, st, logger)
			}
		}
	}
}

func recordStatus(mgr *manager.Manager, rec *recorder.Recorder, st manager.Status, logger *slog.Logger) {
	for name, ss := range st.Streams {
		samples, err := mgr.Latest(name, ss.BufferLen)
		if err != nil {
			continue
		}
		if err := rec.RecordSnapshot(ss.Descriptor, samples); err != nil {
			logger.Error("snapshot recording failed", "stream", name, "error", err)
		}
	}
}

// closeRecorder finishes the session, attaching per-stream signal
// statistics computed from the final buffered windows.
func closeRecorder(mgr *manager.Manager, rec *recorder.Recorder) error {
	signalStats := make(map[string]quality.SignalStats)
	for name, samples := range mgr.LatestAll(0) {
		if len(samples) > 0 {
			signalStats[name] = quality.AnalyzeSignal(samples)
		}
	}
	return rec.Close(signalStats)
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildProvider constructs the configured transport. The returned cleanup
// releases provider-owned resources; it is a no-op for stateless
// providers.
func buildProvider(cfg config.Config, logger *slog.Logger) (stream.Provider, func(), error) {
	noop := func() {}

	switch cfg.Provider.Kind {
	case config.ProviderSynthetic:
		return demoProvider(), noop, nil

	case config.ProviderUDP:
		p, err := udpsource.NewProvider(udpsource.Config{Addr: cfg.Provider.Addr}, logger)
		if err != nil {
			return nil, noop, err
		}
		return p, func() { _ = p.Close() }, nil

	case config.ProviderNATS:
		p, err := natssource.NewProvider(natssource.Config{
			URL:           cfg.Provider.Addr,
			SubjectPrefix: cfg.Provider.Subject,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return p, func() { _ = p.Close() }, nil

	case config.ProviderWebSocket:
		p, err := wssource.NewProvider(wssource.Config{BaseURL: cfg.Provider.Addr}, logger)
		if err != nil {
			return nil, noop, err
		}
		return p, noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

// demoProvider backs the default configuration with two synthetic
// sources so the binary demonstrates the full pipeline out of the box.
func demoProvider() stream.Provider {
	return synthetic.NewProvider(
		synthetic.Source{Descriptor: stream.SourceDescriptor{
			Name: "eeg-demo", Type: "EEG", NominalRate: 100, ChannelCount: 8,
		}},
		synthetic.Source{Descriptor: stream.SourceDescriptor{
			Name: "gsr-demo", Type: "GSR", NominalRate: 10, ChannelCount: 2,
		}},
	)
}
