package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prabhanshu11/omarchy-voice-typing/internal/config"
	"github.com/prabhanshu11/omarchy-voice-typing/internal/engine"
	"github.com/prabhanshu11/omarchy-voice-typing/internal/metrics"
	"github.com/prabhanshu11/omarchy-voice-typing/internal/model"
	"github.com/prabhanshu11/omarchy-voice-typing/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "whisper-sidecar"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
	)

	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("address", cfg.Server.Address),
		slog.String("model", cfg.Whisper.Model),
		slog.String("compute_profile", cfg.Whisper.ComputeProfile),
		slog.String("models_dir", cfg.Whisper.ModelsDir),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()

	manager, err := model.NewManager(logger, appMetrics, model.ManagerConfig{
		DefaultModel:   cfg.Whisper.Model,
		ComputeProfile: cfg.Whisper.ComputeProfile,
		AllowedModels:  cfg.Whisper.AllowedModels,
		Factory:        engine.NewFactory(cfg.Whisper.ModelsDir),
	})
	if err != nil {
		logger.Error("Failed to create model manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Kick off the first load in the background so the server accepts
	// connections immediately; /health reports "loading" meanwhile.
	if err := manager.RequestLoad(cfg.Whisper.Model); err != nil {
		logger.Error("Failed to start initial model load", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := server.NewHTTPServer(cfg, logger, manager, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started, waiting for signals...",
		slog.String("listen", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	manager.Close()

	logger.Info("Service stopped")
}

// loadConfig reads the config file, falling back to defaults plus
// environment overrides when the default path does not exist
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}

	if path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
		if envErr := cfg.ApplyEnv(); envErr != nil {
			return nil, envErr
		}
		if valErr := cfg.Validate(); valErr != nil {
			return nil, valErr
		}
		return cfg, nil
	}

	return nil, err
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
