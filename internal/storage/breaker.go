package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerOptions tunes the circuit breaker placed in front of remote backends.
type BreakerOptions struct {
	Enabled          bool
	Timeout          time.Duration
	FailureThreshold uint32
}

// BreakerStorage fails fast with ErrUnavailable while the wrapped backend is
// tripped, instead of letting every request wait for a dead server.
type BreakerStorage struct {
	next Storage
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStorage wraps next with a circuit breaker.
func NewBreakerStorage(name string, next Storage, opts BreakerOptions, logger *zap.Logger) *BreakerStorage {
	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("storage circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &BreakerStorage{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// GetPackSizes reads through the breaker.
func (s *BreakerStorage) GetPackSizes(ctx context.Context) ([]int, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.GetPackSizes(ctx)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return result.([]int), nil
}

// SetPackSizes writes through the breaker.
func (s *BreakerStorage) SetPackSizes(ctx context.Context, sizes []int) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.SetPackSizes(ctx, sizes)
	})
	return breakerError(err)
}

// Ping reports ErrUnavailable while the breaker is open, otherwise delegates.
func (s *BreakerStorage) Ping(ctx context.Context) error {
	if s.cb.State() == gobreaker.StateOpen {
		return fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
	}
	if pinger, ok := s.next.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// State exposes the breaker state.
func (s *BreakerStorage) State() gobreaker.State {
	return s.cb.State()
}

// Close closes the wrapped backend.
func (s *BreakerStorage) Close() error {
	return s.next.Close()
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
