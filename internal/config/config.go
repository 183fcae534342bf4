package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/packs-optimizer/internal/cache"
	"github.com/eugenenazirov/packs-optimizer/internal/calculator"
	"github.com/eugenenazirov/packs-optimizer/internal/catalog"
	"github.com/eugenenazirov/packs-optimizer/internal/storage"
)

const (
	defaultPort           = "8080"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string        `yaml:"port" validate:"required,numeric"`
	InitialPackSizes     []int         `yaml:"pack_sizes" validate:"dive,gt=0"`
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period" validate:"gte=0"`
	ReadHeaderTimeout    time.Duration `yaml:"read_header_timeout" validate:"gt=0"`
	WriteTimeout         time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout          time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	EnableRequestLogging bool          `yaml:"enable_request_logging"`
	LogLevel             string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	WebDir               string        `yaml:"web_dir"`

	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Calculator CalculatorConfig `yaml:"calculator"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Cache      CacheConfig      `yaml:"cache"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// RateLimitConfig configures the global token bucket and the per-client window.
type RateLimitConfig struct {
	RPS               float64       `yaml:"rps" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	PerClientRequests int           `yaml:"per_client_requests" validate:"gte=0"`
	PerClientWindow   time.Duration `yaml:"per_client_window" validate:"gte=0"`
}

// CatalogConfig bounds accepted catalogs and controls background reloads.
type CatalogConfig struct {
	MaxSizes int `yaml:"max_sizes" validate:"gt=0"`
	MaxSize  int `yaml:"max_size" validate:"gt=0"`
	// RefreshInterval polls storage for changes made by other instances; 0 disables.
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gte=0"`
	// Watch reloads the catalog when the file backend's document changes.
	Watch bool `yaml:"watch"`
}

// CalculatorConfig tunes the packing engine.
type CalculatorConfig struct {
	MaxSearchSpace int `yaml:"max_search_space" validate:"gt=0"`
}

// StorageConfig selects the catalog persistence backend.
type StorageConfig struct {
	Backend  string        `yaml:"backend" validate:"oneof=memory file sqlite redis badger"`
	Path     string        `yaml:"path" validate:"required_if=Backend file,required_if=Backend sqlite,required_if=Backend badger"`
	RedisKey string        `yaml:"redis_key"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of the storage backend.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Timeout          time.Duration `yaml:"timeout" validate:"gte=0"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

// RedisConfig is shared by the redis storage backend and the redis cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// CacheConfig configures composition caching.
type CacheConfig struct {
	Backend         string        `yaml:"backend" validate:"oneof=none memory redis"`
	TTL             time.Duration `yaml:"ttl" validate:"gt=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
	MaxEntries      int           `yaml:"max_entries" validate:"gte=0"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"omitempty,startswith=/"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"oneof=grpc http"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	ServiceName  string  `yaml:"service_name" validate:"required"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Port           *string
	PackSizesStr   *string
	RateLimitRPS   *float64
	RateLimitBurst *int
	LogLevel       *string
	StorageBackend *string
	StoragePath    *string
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Apply environment variables (YAML and CLI override them)
	applyEnvConfig(&cfg)

	if overrides != nil && overrides.ConfigFile != "" {
		if err := applyFile(&cfg, overrides.ConfigFile); err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
	}

	if overrides != nil {
		if err := applyCLIOverrides(&cfg, overrides); err != nil {
			return Config{}, err
		}
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		InitialPackSizes:     storage.DefaultPackSizes(),
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		LogLevel:             "info",
		RateLimit: RateLimitConfig{
			RPS:             defaultRateLimitRPS,
			Burst:           defaultRateLimitBurst,
			PerClientWindow: time.Minute,
		},
		Catalog: CatalogConfig{
			MaxSizes: catalog.DefaultMaxSizes,
			MaxSize:  catalog.DefaultMaxSize,
		},
		Calculator: CalculatorConfig{
			MaxSearchSpace: calculator.DefaultMaxSearchSpace,
		},
		Storage: StorageConfig{
			Backend:  storage.BackendMemory,
			RedisKey: storage.DefaultRedisKey,
			Breaker: BreakerConfig{
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cache: CacheConfig{
			Backend:         cache.BackendMemory,
			TTL:             10 * time.Minute,
			CleanupInterval: time.Minute,
			MaxEntries:      10_000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			ServiceName:  "packs-optimizer",
		},
	}
}

// applyFile decodes the YAML document at path on top of cfg. Keys absent from
// the document keep their current values.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}
	return nil
}

// applyEnvConfig applies environment variable configuration. Malformed
// numeric values are ignored.
func applyEnvConfig(cfg *Config) {
	if port := env("PORT"); port != "" {
		cfg.Port = port
	}

	if rawSizes := env("PACK_SIZES"); rawSizes != "" {
		sizes, err := parsePackSizes(rawSizes)
		if err == nil && len(sizes) > 0 {
			cfg.InitialPackSizes = sizes
		}
	}

	if rps := env("RATE_LIMIT_RPS"); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimit.RPS = value
		}
	}

	if burst := env("RATE_LIMIT_BURST"); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimit.Burst = value
		}
	}

	if level := env("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if backend := env("STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = strings.ToLower(backend)
	}
	if path := env("STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if addr := env("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := env("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if backend := env("CACHE_BACKEND"); backend != "" {
		cfg.Cache.Backend = strings.ToLower(backend)
	}
	if endpoint := env("TRACING_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Endpoint = endpoint
		cfg.Tracing.Enabled = true
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) error {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.PackSizesStr != nil && *overrides.PackSizesStr != "" {
		sizes, err := parsePackSizes(*overrides.PackSizesStr)
		if err != nil {
			return fmt.Errorf("parse pack sizes: %w", err)
		}
		cfg.InitialPackSizes = sizes
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimit.RPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimit.Burst = *overrides.RateLimitBurst
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(*overrides.LogLevel)
	}
	if overrides.StorageBackend != nil && *overrides.StorageBackend != "" {
		cfg.Storage.Backend = strings.ToLower(*overrides.StorageBackend)
	}
	if overrides.StoragePath != nil && *overrides.StoragePath != "" {
		cfg.Storage.Path = *overrides.StoragePath
	}

	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints and the cross-section rules struct tags
// cannot express.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Calculator.MaxSearchSpace < cfg.Catalog.MaxSize {
		return fmt.Errorf("invalid configuration: calculator.max_search_space %d must be at least catalog.max_size %d",
			cfg.Calculator.MaxSearchSpace, cfg.Catalog.MaxSize)
	}

	if len(cfg.InitialPackSizes) > 0 {
		if _, err := catalog.Normalize(cfg.InitialPackSizes, CatalogLimits(cfg)); err != nil {
			return fmt.Errorf("invalid configuration: pack_sizes: %w", err)
		}
	}

	if (cfg.Storage.Backend == storage.BackendRedis || cfg.Cache.Backend == cache.BackendRedis) && cfg.Redis.Addr == "" {
		return errors.New("invalid configuration: redis.addr is required when a redis backend is selected")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		return errors.New("invalid configuration: metrics.path is required when metrics are enabled")
	}
	if cfg.Catalog.Watch && cfg.Storage.Backend != storage.BackendFile {
		return errors.New("invalid configuration: catalog.watch requires the file storage backend")
	}
	return nil
}

// CatalogLimits converts the catalog section into catalog.Limits.
func CatalogLimits(cfg Config) catalog.Limits {
	return catalog.Limits{MaxSizes: cfg.Catalog.MaxSizes, MaxSize: cfg.Catalog.MaxSize}
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	if fe.Param() != "" {
		return fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s must satisfy %s", field, fe.Tag())
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// parsePackSizes parses a comma-separated string of pack sizes into a slice of integers.
// It validates that all values are positive integers.
func parsePackSizes(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	sizes := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", part)
		}
		if value <= 0 {
			return nil, fmt.Errorf("pack size must be positive, got %d", value)
		}
		sizes = append(sizes, value)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no pack sizes provided")
	}
	return sizes, nil
}
