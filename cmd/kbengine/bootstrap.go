package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbengine/kbengine/internal/config"
	"github.com/kbengine/kbengine/internal/engine"
	"github.com/kbengine/kbengine/internal/metrics"
)

// meterProvider is non-nil only when --metrics was passed; PersistentPostRun
// flushes and shuts it down so buffered readings aren't lost on exit.
var meterProvider *sdkmetric.MeterProvider

// openEngine resolves config dirs (flags override defaults), loads
// settings, and opens an Engine. Every subcommand's Run func starts here.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	configDir := flagConfigDir
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		configDir = filepath.Join(home, ".kbengine")
	}
	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = configDir
	}

	overrides := map[string]string{}
	if flagLogLevel != "" {
		overrides["loglevel"] = flagLogLevel
	}

	settings, err := config.Load(dataDir, configDir, overrides)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(settings.LogLevel))
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	recorder, err := newRecorder(log)
	if err != nil {
		return nil, fmt.Errorf("configure metrics: %w", err)
	}

	return engine.Open(ctx, settings, log, recorder)
}

// newRecorder builds a metrics.Recorder reading from a stdout-exporting
// MeterProvider when --metrics is set, otherwise the noop recorder every
// one-shot invocation defaults to.
func newRecorder(log *slog.Logger) (*metrics.Recorder, error) {
	if !flagMetrics {
		return metrics.NewNoop(), nil
	}
	exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}
	meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	return metrics.New(meterProvider.Meter("kbengine"), log), nil
}

// shutdownMetrics flushes and closes meterProvider if --metrics configured
// one; it is a no-op otherwise.
func shutdownMetrics() {
	if meterProvider == nil {
		return
	}
	_ = meterProvider.Shutdown(context.Background())
}
