// Package service combines the pack catalog, the calculator and the
// composition cache into the operations exposed over HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eugenenazirov/packs-optimizer/internal/cache"
	"github.com/eugenenazirov/packs-optimizer/internal/calculator"
	"github.com/eugenenazirov/packs-optimizer/internal/catalog"
	"github.com/eugenenazirov/packs-optimizer/internal/metrics"
	"github.com/eugenenazirov/packs-optimizer/internal/storage"
	"github.com/eugenenazirov/packs-optimizer/internal/telemetry"
)

// ErrNotReady is returned by Ready while the service cannot serve calculations.
var ErrNotReady = errors.New("service not ready")

// Result describes a fulfilled order.
type Result struct {
	Quantity       int
	Packs          calculator.Composition
	TotalItems     int
	TotalPacks     int
	Overage        int
	CatalogVersion uint64
	Cached         bool
	Elapsed        time.Duration
}

// Service is safe for concurrent use.
type Service struct {
	catalog *catalog.Catalog
	calc    calculator.Calculator
	cache   cache.Cache
	pinger  storage.Pinger
	logger  *zap.Logger
	tracer  trace.Tracer

	flight singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables composition caching.
func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithPinger adds a storage reachability check to Ready.
func WithPinger(p storage.Pinger) Option {
	return func(s *Service) {
		s.pinger = p
	}
}

// New wires a Service. Caching is disabled unless WithCache is given.
func New(cat *catalog.Catalog, calc calculator.Calculator, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		catalog: cat,
		calc:    calc,
		cache:   cache.NewNoop(),
		logger:  logger,
		tracer:  telemetry.Tracer("github.com/eugenenazirov/packs-optimizer/internal/service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	snap := cat.Current()
	metrics.ObserveCatalog(snap.Len(), snap.Version)
	return s
}

// PackSizes returns the current catalog snapshot.
func (s *Service) PackSizes() *catalog.Snapshot {
	return s.catalog.Current()
}

// ReplacePackSizes replaces the catalog. Validation failures wrap
// catalog.ErrInvalidCatalog.
func (s *Service) ReplacePackSizes(ctx context.Context, sizes []int) (*catalog.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.replace")
	defer span.End()

	snap, err := s.catalog.Replace(ctx, sizes)
	if err != nil {
		outcome := "error"
		if errors.Is(err, catalog.ErrInvalidCatalog) {
			outcome = "invalid"
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "replace failed")
		}
		metrics.CatalogReplacesTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}

	metrics.CatalogReplacesTotal.WithLabelValues("ok").Inc()
	metrics.ObserveCatalog(snap.Len(), snap.Version)
	span.SetAttributes(
		attribute.Int("packs.catalog.sizes", snap.Len()),
		attribute.Int64("packs.catalog.version", int64(snap.Version)),
	)
	return snap, nil
}

// Calculate computes the optimal composition for quantity against the
// current catalog. Identical concurrent requests share one computation.
func (s *Service) Calculate(ctx context.Context, quantity int) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "packs.calculate",
		trace.WithAttributes(attribute.Int("packs.quantity", quantity)))
	defer span.End()

	start := time.Now()
	snap := s.catalog.Current()
	sizes := snap.Sizes()
	span.SetAttributes(attribute.Int64("packs.catalog.version", int64(snap.Version)))

	if quantity <= 0 || len(sizes) == 0 {
		_, err := s.calc.CalculatePacks(quantity, sizes)
		metrics.ObserveCalculation(outcomeOf(err), time.Since(start), false)
		return Result{}, err
	}

	key := cache.Key(sizes, quantity)
	if packs, ok := s.cache.Get(ctx, key); ok {
		metrics.ObserveCache(true)
		span.SetAttributes(attribute.Bool("packs.cached", true))
		result := newResult(quantity, packs, snap.Version, true, time.Since(start))
		metrics.ObserveCalculation("ok", result.Elapsed, true)
		return result, nil
	}
	metrics.ObserveCache(false)

	v, err, shared := s.flight.Do(key, func() (interface{}, error) {
		packs, err := s.calc.CalculatePacks(quantity, sizes)
		if err != nil {
			return nil, err
		}
		s.cache.Set(context.WithoutCancel(ctx), key, packs)
		return packs, nil
	})
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveCalculation(outcomeOf(err), elapsed, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, "calculation failed")
		if !isInputError(err) {
			s.logger.Error("pack calculation failed",
				zap.Int("quantity", quantity),
				zap.Ints("pack_sizes", sizes),
				zap.Error(err),
			)
		}
		return Result{}, err
	}

	packs, ok := v.(calculator.Composition)
	if !ok {
		return Result{}, fmt.Errorf("unexpected calculation result %T", v)
	}

	span.SetAttributes(attribute.Bool("packs.cached", false), attribute.Bool("packs.shared", shared))
	metrics.ObserveCalculation("ok", elapsed, false)
	return newResult(quantity, packs.Clone(), snap.Version, false, elapsed), nil
}

// Ready reports whether calculations can be served: a catalog must be
// configured and the storage backend must be reachable.
func (s *Service) Ready(ctx context.Context) error {
	if s.catalog.Current().Empty() {
		return fmt.Errorf("%w: %w", ErrNotReady, calculator.ErrEmptyCatalog)
	}
	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			return fmt.Errorf("%w: storage: %w", ErrNotReady, err)
		}
	}
	return nil
}

func newResult(quantity int, packs calculator.Composition, version uint64, cached bool, elapsed time.Duration) Result {
	return Result{
		Quantity:       quantity,
		Packs:          packs,
		TotalItems:     packs.TotalItems(),
		TotalPacks:     packs.TotalPacks(),
		Overage:        packs.Overage(quantity),
		CatalogVersion: version,
		Cached:         cached,
		Elapsed:        elapsed,
	}
}

func isInputError(err error) bool {
	return errors.Is(err, calculator.ErrInvalidQuantity) || errors.Is(err, calculator.ErrEmptyCatalog)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, calculator.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, calculator.ErrEmptyCatalog):
		return "empty_catalog"
	default:
		return "error"
	}
}
