package application

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/packs-optimizer/internal/config"
	"github.com/eugenenazirov/packs-optimizer/internal/storage"
)

func TestNewInitializesDependencies(t *testing.T) {
	cfg := baseTestConfig(":8085")
	cfg.InitialPackSizes = []int{400, 150}

	app := newTestApp(t, cfg)

	if want, got := []int{150, 400}, app.catalog.Current().Sizes(); !slices.Equal(got, want) {
		t.Fatalf("expected pack sizes %v, got %v", want, got)
	}
	if app.server == nil || app.router == nil || app.service == nil {
		t.Fatalf("expected server, router, and service to be initialized")
	}
	if app.Server() != app.server {
		t.Fatalf("Server accessor did not return underlying instance")
	}
	if app.Addr() != ":8085" {
		t.Fatalf("expected configured address before Start, got %s", app.Addr())
	}
}

func TestNewKeepsStoredCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	seed, err := storage.NewFileStorage(path)
	if err != nil {
		t.Fatalf("NewFileStorage returned error: %v", err)
	}
	if err := seed.SetPackSizes(context.Background(), []int{23, 31, 53}); err != nil {
		t.Fatalf("SetPackSizes returned error: %v", err)
	}

	cfg := baseTestConfig(":0")
	cfg.Storage.Backend = storage.BackendFile
	cfg.Storage.Path = path

	app := newTestApp(t, cfg)

	if want, got := []int{23, 31, 53}, app.catalog.Current().Sizes(); !slices.Equal(got, want) {
		t.Fatalf("expected stored pack sizes %v to win over initial ones, got %v", want, got)
	}
}

func TestNewAllowsEmptyCatalog(t *testing.T) {
	cfg := baseTestConfig(":0")
	cfg.InitialPackSizes = nil

	app := newTestApp(t, cfg)

	if !app.catalog.Current().Empty() {
		t.Fatalf("expected empty catalog")
	}
	if err := app.service.Ready(context.Background()); err == nil {
		t.Fatalf("expected service to report not ready without a catalog")
	}
}

func TestNewReturnsErrorForInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "invalid pack sizes", mutate: func(c *config.Config) { c.InitialPackSizes = []int{250, 0} }},
		{name: "unknown storage backend", mutate: func(c *config.Config) { c.Storage.Backend = "etcd" }},
		{name: "missing web dir", mutate: func(c *config.Config) { c.WebDir = filepath.Join(t.TempDir(), "absent") }},
		{name: "unsupported exporter", mutate: func(c *config.Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseTestConfig(":0")
			tt.mutate(&cfg)

			if _, err := New(context.Background(), cfg, zaptest.NewLogger(t)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestNewServerAppliesConfig(t *testing.T) {
	cfg := baseTestConfig("9090")
	handler := http.NewServeMux()

	server := NewServer(cfg, handler)
	if server.Addr != ":9090" {
		t.Fatalf("expected address :9090, got %s", server.Addr)
	}
	if server.Handler != handler {
		t.Fatalf("expected handler to be applied")
	}
	if server.ReadHeaderTimeout != cfg.ReadHeaderTimeout ||
		server.WriteTimeout != cfg.WriteTimeout ||
		server.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("server timeouts do not match configuration")
	}
}

func TestBuildRootHandler(t *testing.T) {
	webDir := t.TempDir()
	writeFile(t, filepath.Join(webDir, "templates", "index.html"), "<html>packs</html>")
	writeFile(t, filepath.Join(webDir, "static", "app.js"), "console.log('packs')")

	apiInvoked := false
	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Fatalf("unexpected path passed to API handler: %s", r.URL.Path)
		}
		apiInvoked = true
		w.WriteHeader(http.StatusNoContent)
	})

	handler, err := BuildRootHandler(apiHandler, "/metrics", webDir)
	if err != nil {
		t.Fatalf("BuildRootHandler returned error: %v", err)
	}

	serve := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	t.Run("serves index", func(t *testing.T) {
		rec := serve("/")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "packs") {
			t.Fatalf("unexpected index body %q", rec.Body.String())
		}
	})

	t.Run("serves static assets", func(t *testing.T) {
		if rec := serve("/static/app.js"); rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("returns not found for unknown paths", func(t *testing.T) {
		if rec := serve("/unknown"); rec.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("forwards api traffic", func(t *testing.T) {
		if rec := serve("/api/health"); rec.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", rec.Code)
		}
		if !apiInvoked {
			t.Fatalf("expected API handler to be invoked")
		}
	})

	t.Run("exposes metrics", func(t *testing.T) {
		rec := serve("/metrics")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "packs_catalog_sizes") {
			t.Fatalf("expected packs metrics in exposition")
		}
	})
}

func TestBuildRootHandlerWithoutOptionalRoutes(t *testing.T) {
	handler, err := BuildRootHandler(http.NotFoundHandler(), "", "")
	if err != nil {
		t.Fatalf("BuildRootHandler returned error: %v", err)
	}

	for _, target := range []string{"/", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %s, got %d", target, rec.Code)
		}
	}
}

func TestAppStartAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	cfg := baseTestConfig("127.0.0.1:0")
	cfg.Storage.Backend = storage.BackendFile
	cfg.Storage.Path = path
	cfg.Catalog.Watch = true
	cfg.Catalog.RefreshInterval = 20 * time.Millisecond
	cfg.Cache.CleanupInterval = 10 * time.Millisecond

	app, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	transport := &http.Transport{DisableKeepAlives: true}
	client := &http.Client{Transport: transport, Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + app.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	transport.CloseIdleConnections()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	select {
	case <-app.Done():
	default:
		t.Fatalf("expected Done to be closed after Shutdown")
	}
	if err := app.Close(ctx); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

func TestStartFailsWhenPortIsTaken(t *testing.T) {
	first := newTestApp(t, baseTestConfig("127.0.0.1:0"))
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	second := newTestApp(t, baseTestConfig(first.Addr()))
	if err := second.Start(context.Background()); err == nil {
		t.Fatalf("expected second Start on %s to fail", first.Addr())
	}
}

func TestResolveProjectPathFindsGoMod(t *testing.T) {
	path, err := resolveProjectPath("go.mod")
	if err != nil {
		t.Fatalf("resolveProjectPath returned error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected go.mod to exist at %s: %v", path, err)
	}
}

func TestResolveProjectPathAbsolute(t *testing.T) {
	dir := t.TempDir()
	path, err := resolveProjectPath(dir)
	if err != nil {
		t.Fatalf("resolveProjectPath returned error: %v", err)
	}
	if path != dir {
		t.Fatalf("expected %s, got %s", dir, path)
	}
}

func TestResolveProjectPathUnknownTarget(t *testing.T) {
	if _, err := resolveProjectPath("definitely-not-a-real-file"); err == nil {
		t.Fatalf("expected error for missing resource")
	}
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()

	app, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := app.Close(context.Background()); err != nil {
			t.Errorf("Close returned error: %v", err)
		}
	})
	return app
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func baseTestConfig(port string) config.Config {
	return config.Config{
		Port:                 port,
		InitialPackSizes:     []int{250, 500},
		ShutdownGracePeriod:  50 * time.Millisecond,
		ReadHeaderTimeout:    time.Second,
		WriteTimeout:         time.Second,
		IdleTimeout:          time.Second,
		EnableRequestLogging: false,
		LogLevel:             "info",
		Catalog: config.CatalogConfig{
			MaxSizes: 10,
			MaxSize:  1_000_000,
		},
		Calculator: config.CalculatorConfig{
			MaxSearchSpace: 1 << 20,
		},
		Storage: config.StorageConfig{
			Backend:  storage.BackendMemory,
			RedisKey: storage.DefaultRedisKey,
		},
		Cache: config.CacheConfig{
			Backend:    "memory",
			TTL:        time.Minute,
			MaxEntries: 100,
		},
		Metrics: config.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: config.TracingConfig{
			Exporter:     "grpc",
			SamplingRate: 1,
			ServiceName:  "packs-optimizer-test",
		},
	}
}
