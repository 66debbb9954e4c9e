// Package main implements the entry point for the signal bus daemon.
// The bus hosts three differentiated delivery channels over one relay:
// acknowledged interrupts, broadcast state, and batched bulk work.
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

	"github.com/HomoYouDidnt/kloros-sub007/bus"
	"github.com/HomoYouDidnt/kloros-sub007/config"
	"github.com/HomoYouDidnt/kloros-sub007/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "signalbus"
)

func main() {
	// Add panic recovery
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
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "namespace", cfg.Namespace)
		return nil
	}

	registry := metric.NewRegistry()
	b, err := bus.New(cfg, bus.WithLogger(logger), bus.WithMetrics(registry))
	if err != nil {
		return fmt.Errorf("create bus: %w", err)
	}

	return runWithSignalHandling(b, cfg, registry, logger, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting signal bus",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// runWithSignalHandling starts the bus and blocks until shutdown.
func runWithSignalHandling(
	b *bus.Bus,
	cfg *config.Config,
	registry *metric.Registry,
	logger *slog.Logger,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := b.Start(signalCtx); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}

	var operator *operatorServer
	if cfg.HTTP.Addr != "" {
		operator = newOperatorServer(cfg.HTTP.Addr, b, cfg, registry, logger)
		operator.start()
	}

	slog.Info("Signal bus running",
		"namespace", cfg.Namespace,
		"relay", cfg.NATS.URL,
		"operator_addr", cfg.HTTP.Addr)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if operator != nil {
		operator.stop(shutdownCtx)
	}
	if err := b.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping bus", "error", err)
		return err
	}

	slog.Info("Signal bus shutdown complete")
	return nil
}
