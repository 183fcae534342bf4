package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/packs-optimizer/internal/application"
	"github.com/eugenenazirov/packs-optimizer/internal/config"
	"github.com/eugenenazirov/packs-optimizer/internal/logging"
)

var signalNotify = signal.Notify

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func main() {
	kingpinApp := kingpin.New("packs-optimizer", "Packs Optimizer - fulfils orders with the fewest items and packs")
	kingpinApp.Version(application.Version)
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").Envar("CONFIG_FILE").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	packSizesStr := kingpinApp.Flag("pack-sizes", "Comma-separated initial pack sizes").String()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()
	logLevel := kingpinApp.Flag("log-level", "Log level: debug, info, warn or error").String()
	storageBackend := kingpinApp.Flag("storage", "Catalog storage backend: memory, file, sqlite, redis or badger").String()
	storagePath := kingpinApp.Flag("storage-path", "Catalog file, sqlite database or badger directory").String()

	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile:     *configFile,
		Port:           port,
		PackSizesStr:   packSizesStr,
		LogLevel:       logLevel,
		StorageBackend: storageBackend,
		StoragePath:    storagePath,
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()
	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		_ = app.Close(ctx)
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app, app.Done(), cfg.ShutdownGracePeriod, logger)
}

// shutdown blocks until a termination signal arrives or stopped is closed,
// then gives the app timeout to drain.
func shutdown(app shutdowner, stopped <-chan struct{}, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case <-stopped:
		logger.Warn("server stopped unexpectedly, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		logger.Error("shutdown completed with errors", zap.Error(err))
	}
}
