package storage

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var (
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
	// ErrUnavailable indicates the backend is temporarily refusing requests.
	ErrUnavailable = errors.New("storage unavailable")
)

var defaultPackSizes = []int{250, 500, 1000, 2000, 5000}

// Storage persists the pack size catalog. Implementations store the slice
// they are given as-is; validation and normalisation belong to the catalog.
// GetPackSizes returns an empty slice when nothing has been stored yet.
type Storage interface {
	GetPackSizes(ctx context.Context) ([]int, error)
	SetPackSizes(ctx context.Context, sizes []int) error
	Close() error
}

// Pinger is implemented by backends that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryStorage keeps pack sizes in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu        sync.RWMutex
	packSizes []int
}

// NewMemoryStorage returns an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// DefaultPackSizes returns a copy of the default pack sizes slice.
func DefaultPackSizes() []int {
	return slices.Clone(defaultPackSizes)
}

// GetPackSizes returns a defensive copy of the stored pack sizes.
func (s *MemoryStorage) GetPackSizes(context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneSizes(s.packSizes), nil
}

// SetPackSizes stores a copy of the provided pack sizes.
func (s *MemoryStorage) SetPackSizes(_ context.Context, sizes []int) error {
	s.mu.Lock()
	s.packSizes = cloneSizes(sizes)
	s.mu.Unlock()

	return nil
}

// Close is a no-op for in-memory storage.
func (s *MemoryStorage) Close() error {
	return nil
}

func cloneSizes(src []int) []int {
	if len(src) == 0 {
		return []int{}
	}
	return slices.Clone(src)
}
