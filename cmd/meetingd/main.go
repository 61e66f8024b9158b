package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"meetingd/internal/agent"
	"meetingd/internal/config"
	"meetingd/internal/httpapi"
	"meetingd/internal/logs"
	"meetingd/internal/observability"
	"meetingd/internal/store"
)

var (
	configFile  string
	listen      string
	baseDir     string
	logLevel    string
	logToFile   bool
	logDir      string
	startAgents bool

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "meetingd",
		Short:   "Meeting agents coordinator - supervises the transcriber and scheduler agents and exposes them over HTTP",
		Version: version,
		RunE:    runServer,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Listen address (default :5001)")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "Directory agent scripts are resolved against")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to rotating files")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")
	rootCmd.PersistentFlags().BoolVar(&startAgents, "start-agents", true, "Start configured agents on boot (use --start-agents=false to start them via the API)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Command line overrides
	if listen != "" {
		cfg.Listen = listen
	}
	if baseDir != "" {
		cfg.BaseDir = baseDir
	}
	if cfg.Logging == nil {
		cfg.Logging = config.DefaultLogConfig()
	}
	cfg.Logging.Level = logLevel
	cfg.Logging.EnableFile = logToFile
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting meetingd",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("base_dir", cfg.BaseDir),
		zap.Int("agents", len(cfg.Agents)))

	metrics := observability.NewMetrics(logger)
	st := store.New()

	registry := agent.NewRegistry(cfg, logger)
	registry.SetMetrics(metrics)
	defer registry.StopAll()

	if startAgents {
		for name, err := range registry.StartAll() {
			if err != nil {
				logger.Error("Agent failed to start", zap.String("agent", name), zap.Error(err))
			}
		}
	}

	api := httpapi.NewServer(registry, st, logger, metrics)
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", cfg.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("HTTP server failed", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}

	registry.StopAll()
	return nil
}
