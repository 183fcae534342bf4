package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/packs-optimizer/internal/storage"
)

// ErrInvalidCatalog is returned when a proposed set of pack sizes is rejected.
var ErrInvalidCatalog = errors.New("invalid pack sizes")

// Default limits applied when a Catalog is built without explicit ones.
const (
	DefaultMaxSizes = 10
	DefaultMaxSize  = 1_000_000
)

// Limits bound the shape of an accepted catalog. Zero fields disable the
// corresponding check.
type Limits struct {
	MaxSizes int
	MaxSize  int
}

// DefaultLimits returns the limits used by the HTTP service.
func DefaultLimits() Limits {
	return Limits{MaxSizes: DefaultMaxSizes, MaxSize: DefaultMaxSize}
}

// Snapshot is an immutable view of the catalog at one point in time.
type Snapshot struct {
	sizes     []int
	Version   uint64
	UpdatedAt time.Time
}

// Sizes returns the pack sizes in ascending order. The caller owns the slice.
func (s *Snapshot) Sizes() []int {
	return slices.Clone(s.sizes)
}

// Len reports how many distinct sizes the snapshot holds.
func (s *Snapshot) Len() int {
	return len(s.sizes)
}

// Empty reports whether no catalog has been configured yet.
func (s *Snapshot) Empty() bool {
	return len(s.sizes) == 0
}

// Normalize validates sizes against limits and returns a deduplicated,
// ascending copy.
func Normalize(sizes []int, limits Limits) ([]int, error) {
	if len(sizes) == 0 {
		return nil, fmt.Errorf("%w: at least one pack size is required", ErrInvalidCatalog)
	}

	out := slices.Clone(sizes)
	for _, size := range out {
		if size <= 0 {
			return nil, fmt.Errorf("%w: pack size %d must be positive", ErrInvalidCatalog, size)
		}
		if limits.MaxSize > 0 && size > limits.MaxSize {
			return nil, fmt.Errorf("%w: pack size %d exceeds maximum %d", ErrInvalidCatalog, size, limits.MaxSize)
		}
	}

	slices.Sort(out)
	out = slices.Compact(out)

	if limits.MaxSizes > 0 && len(out) > limits.MaxSizes {
		return nil, fmt.Errorf("%w: %d distinct sizes exceeds maximum %d", ErrInvalidCatalog, len(out), limits.MaxSizes)
	}
	return out, nil
}

// Catalog is the process-wide registry of pack sizes. Reads are lock-free;
// writers are serialized so the persisted order matches the published order.
type Catalog struct {
	store  storage.Storage
	limits Limits
	admit  func(sizes []int) error
	logger *zap.Logger
	clock  func() time.Time

	writeMu sync.Mutex
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLimits overrides the default catalog limits.
func WithLimits(limits Limits) Option {
	return func(c *Catalog) {
		c.limits = limits
	}
}

// WithAdmission adds a check a normalized catalog must pass before it is
// published. Failures are reported as ErrInvalidCatalog.
func WithAdmission(check func(sizes []int) error) Option {
	return func(c *Catalog) {
		c.admit = check
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Catalog) {
		c.clock = clock
	}
}

// New builds an empty catalog persisting through store.
func New(store storage.Storage, logger *zap.Logger, opts ...Option) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		store:  store,
		limits: DefaultLimits(),
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(&Snapshot{sizes: []int{}, UpdatedAt: c.clock()})
	return c
}

// Current returns the latest published snapshot. It never returns nil.
func (c *Catalog) Current() *Snapshot {
	return c.current.Load()
}

// Limits returns the limits enforced by Replace.
func (c *Catalog) Limits() Limits {
	return c.limits
}

// Replace validates sizes, persists them and publishes the new snapshot.
// On any failure the previous snapshot stays current.
func (c *Catalog) Replace(ctx context.Context, sizes []int) (*Snapshot, error) {
	normalized, err := c.normalize(sizes)
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.SetPackSizes(ctx, normalized); err != nil {
		return nil, fmt.Errorf("persist pack sizes: %w", err)
	}

	snap := c.publish(normalized)
	c.logger.Info("pack sizes replaced",
		zap.Ints("pack_sizes", normalized),
		zap.Uint64("version", snap.Version),
	)
	return snap, nil
}

// Load re-reads the storage backend and publishes its content when it holds
// a valid catalog that differs from the current one. It reports whether a new
// snapshot was published.
func (c *Catalog) Load(ctx context.Context) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stored, err := c.store.GetPackSizes(ctx)
	if err != nil {
		return false, fmt.Errorf("read pack sizes: %w", err)
	}
	if len(stored) == 0 {
		return false, nil
	}

	normalized, err := c.normalize(stored)
	if err != nil {
		return false, fmt.Errorf("stored catalog rejected: %w", err)
	}
	if slices.Equal(normalized, c.Current().sizes) {
		return false, nil
	}

	snap := c.publish(normalized)
	c.logger.Info("pack sizes loaded from storage",
		zap.Ints("pack_sizes", normalized),
		zap.Uint64("version", snap.Version),
	)
	return true, nil
}

// Bootstrap loads the stored catalog and seeds storage with initial when it
// is empty. An empty initial leaves the catalog unconfigured.
func (c *Catalog) Bootstrap(ctx context.Context, initial []int) error {
	loaded, err := c.Load(ctx)
	if err != nil {
		return err
	}
	if loaded || !c.Current().Empty() {
		return nil
	}
	if len(initial) == 0 {
		c.logger.Warn("no pack sizes configured; calculations will fail until a catalog is set")
		return nil
	}
	if _, err := c.Replace(ctx, initial); err != nil {
		return fmt.Errorf("seed pack sizes: %w", err)
	}
	return nil
}

func (c *Catalog) normalize(sizes []int) ([]int, error) {
	normalized, err := Normalize(sizes, c.limits)
	if err != nil {
		return nil, err
	}
	if c.admit != nil {
		if err := c.admit(slices.Clone(normalized)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
		}
	}
	return normalized, nil
}

// caller holds writeMu.
func (c *Catalog) publish(sizes []int) *Snapshot {
	snap := &Snapshot{
		sizes:     sizes,
		Version:   c.version.Add(1),
		UpdatedAt: c.clock(),
	}
	c.current.Store(snap)
	return snap
}
