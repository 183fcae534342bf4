package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Supported backend names.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// RedisOptions holds Redis connection settings.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Options selects and configures a storage backend.
type Options struct {
	Backend  string
	Path     string
	RedisKey string
	Redis    RedisOptions
	Breaker  BreakerOptions
}

// Open constructs the backend named by opts.Backend. Remote backends are
// wrapped in a circuit breaker when opts.Breaker.Enabled is set.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Storage, error) {
	var (
		store Storage
		err   error
	)

	switch opts.Backend {
	case "", BackendMemory:
		store = NewMemoryStorage()
	case BackendFile:
		store, err = NewFileStorage(opts.Path)
	case BackendSQLite:
		store, err = OpenSQLite(ctx, opts.Path)
	case BackendBadger:
		store, err = OpenBadger(opts.Path)
	case BackendRedis:
		store, err = openRedis(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("catalog storage opened",
		zap.String("backend", backendName(opts.Backend)),
		zap.String("path", opts.Path),
	)

	if opts.Breaker.Enabled {
		store = NewBreakerStorage("storage-"+backendName(opts.Backend), store, opts.Breaker, logger)
	}
	return store, nil
}

// NewRedisClient builds a client from opts and verifies connectivity.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func openRedis(ctx context.Context, opts Options) (Storage, error) {
	client, err := NewRedisClient(ctx, opts.Redis)
	if err != nil {
		return nil, err
	}
	return NewRedisStorage(client, opts.RedisKey), nil
}

func backendName(backend string) string {
	if backend == "" {
		return BackendMemory
	}
	return backend
}
