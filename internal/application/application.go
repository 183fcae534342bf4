package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eugenenazirov/packs-optimizer/internal/api"
	"github.com/eugenenazirov/packs-optimizer/internal/cache"
	"github.com/eugenenazirov/packs-optimizer/internal/calculator"
	"github.com/eugenenazirov/packs-optimizer/internal/catalog"
	"github.com/eugenenazirov/packs-optimizer/internal/config"
	"github.com/eugenenazirov/packs-optimizer/internal/service"
	"github.com/eugenenazirov/packs-optimizer/internal/storage"
	"github.com/eugenenazirov/packs-optimizer/internal/telemetry"
)

// Version is reported to the tracing backend. Overridden at build time with
// -ldflags "-X .../internal/application.Version=...".
var Version = "dev"

// App encapsulates the application dependencies and HTTP server.
type App struct {
	cfg         config.Config
	storage     storage.Storage
	catalog     *catalog.Catalog
	cache       cache.Cache
	cacheClient *redis.Client
	service     *service.Service
	tracing     *telemetry.Provider
	router      http.Handler
	logger      *zap.Logger
	server      *http.Server

	listener  net.Listener
	group     *errgroup.Group
	cancel    context.CancelFunc
	done      <-chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New initializes the application with all dependencies from the provided configuration.
// Resources opened before a failing step are released before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	app.tracing, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app.storage, err = storage.Open(ctx, storageOptions(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	calc := calculator.New(calculator.WithMaxSearchSpace(cfg.Calculator.MaxSearchSpace))
	app.catalog = catalog.New(app.storage, logger,
		catalog.WithLimits(config.CatalogLimits(cfg)),
		catalog.WithAdmission(calc.Prepare),
	)
	if err = app.catalog.Bootstrap(ctx, cfg.InitialPackSizes); err != nil {
		return nil, fmt.Errorf("failed to apply initial pack sizes: %w", err)
	}

	app.cache, app.cacheClient, err = newCache(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	svcOpts := []service.Option{service.WithCache(app.cache)}
	if pinger, ok := app.storage.(storage.Pinger); ok {
		svcOpts = append(svcOpts, service.WithPinger(pinger))
	}
	app.service = service.New(app.catalog, calc, logger, svcOpts...)

	handler := api.NewHandler(app.service, logger)
	app.router = api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		api.WithClientRateLimit(cfg.RateLimit.PerClientRequests, cfg.RateLimit.PerClientWindow),
		api.WithMetrics(cfg.Metrics.Enabled),
	)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	rootHandler, err := BuildRootHandler(app.router, metricsPath, cfg.WebDir)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	app.server = NewServer(cfg, rootHandler)
	return app, nil
}

func storageOptions(cfg config.Config) storage.Options {
	return storage.Options{
		Backend:  cfg.Storage.Backend,
		Path:     cfg.Storage.Path,
		RedisKey: cfg.Storage.RedisKey,
		Redis:    redisOptions(cfg),
		Breaker: storage.BreakerOptions{
			Enabled:          cfg.Storage.Breaker.Enabled,
			Timeout:          cfg.Storage.Breaker.Timeout,
			FailureThreshold: cfg.Storage.Breaker.FailureThreshold,
		},
	}
}

func redisOptions(cfg config.Config) storage.RedisOptions {
	return storage.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// newCache returns the configured composition cache and, for the redis
// backend, the client the App must close.
func newCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (cache.Cache, *redis.Client, error) {
	switch cfg.Cache.Backend {
	case cache.BackendNone:
		return cache.NewNoop(), nil, nil
	case cache.BackendRedis:
		client, err := storage.NewRedisClient(ctx, redisOptions(cfg))
		if err != nil {
			return nil, nil, err
		}
		return cache.NewRedis(client, cfg.Cache.TTL, logger), client, nil
	default:
		return cache.NewMemory(cfg.Cache.TTL, cfg.Cache.CleanupInterval, cfg.Cache.MaxEntries), nil, nil
	}
}

// BuildRootHandler mounts the API under /api/, the Prometheus exposition at
// metricsPath and, when webDir is set, the static UI at /. Empty metricsPath
// or webDir disable the respective route.
func BuildRootHandler(apiHandler http.Handler, metricsPath, webDir string) (http.Handler, error) {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)

	if metricsPath != "" {
		mux.Handle("GET "+metricsPath, promhttp.Handler())
	}

	if webDir == "" {
		return mux, nil
	}

	staticPath, err := resolveProjectPath(filepath.Join(webDir, "static"))
	if err != nil {
		return nil, err
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticPath))))

	indexPath, err := resolveProjectPath(filepath.Join(webDir, "templates", "index.html"))
	if err != nil {
		return nil, err
	}
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, indexPath)
	}))

	return mux, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start binds the listener, then serves HTTP and runs catalog reloaders in
// the background until Shutdown is called or the server fails.
func (a *App) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}
	a.listener = ln

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	a.cancel = cancel
	a.group = group
	a.done = groupCtx.Done()

	group.Go(func() error {
		a.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	if a.cfg.Catalog.Watch {
		group.Go(func() error {
			if err := a.catalog.Watch(groupCtx, a.cfg.Storage.Path); err != nil {
				a.logger.Error("catalog watcher stopped", zap.Error(err))
			}
			return nil
		})
	}
	if a.cfg.Catalog.RefreshInterval > 0 {
		group.Go(func() error {
			if err := a.catalog.Poll(groupCtx, a.cfg.Catalog.RefreshInterval); err != nil {
				a.logger.Error("catalog poller stopped", zap.Error(err))
			}
			return nil
		})
	}

	return nil
}

// Done is closed once the App stops running, either because Shutdown was
// called or because the server failed. It is nil before Start.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Addr returns the bound listener address, or the configured one before Start.
func (a *App) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.server.Addr
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Shutdown drains the HTTP server, stops background work and releases every
// resource opened by New.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := a.server.Close(); closeErr != nil {
			errs = append(errs, fmt.Errorf("force close server: %w", closeErr))
		}
	}

	if a.cancel != nil {
		a.cancel()
	}
	if a.group != nil {
		if err := a.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	errs = append(errs, a.Close(ctx))
	return errors.Join(errs...)
}

// Close releases tracing, cache and storage resources. It is safe to call
// more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.cache != nil {
			if err := a.cache.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close cache: %w", err))
			}
		}
		if a.cacheClient != nil {
			if err := a.cacheClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close cache client: %w", err))
			}
		}
		if a.storage != nil {
			if err := a.storage.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close storage: %w", err))
			}
		}
		if err := a.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// resolveProjectPath locates a file or directory. Relative paths are looked
// up from the working directory upwards.
func resolveProjectPath(relative string) (string, error) {
	if filepath.IsAbs(relative) {
		if _, err := os.Stat(relative); err != nil {
			return "", fmt.Errorf("unable to locate %s: %w", relative, err)
		}
		return relative, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("unable to locate %s", relative)
}
