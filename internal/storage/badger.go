package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var badgerCatalogKey = []byte("catalog:pack-sizes")

// BadgerStorage keeps the catalog in an embedded Badger key-value store.
type BadgerStorage struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger database in dir.
func OpenBadger(dir string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &BadgerStorage{db: db}, nil
}

// GetPackSizes returns the stored sizes, or an empty slice when none were stored.
func (s *BadgerStorage) GetPackSizes(context.Context) ([]int, error) {
	sizes := []int{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerCatalogKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sizes)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return []int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger: read catalog: %w", err)
	}
	return sizes, nil
}

// SetPackSizes overwrites the stored catalog.
func (s *BadgerStorage) SetPackSizes(_ context.Context, sizes []int) error {
	buf, err := json.Marshal(cloneSizes(sizes))
	if err != nil {
		return fmt.Errorf("badger: encode catalog: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerCatalogKey, buf)
	}); err != nil {
		return fmt.Errorf("badger: write catalog: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
