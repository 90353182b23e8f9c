package storage

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"github.com/rl1809/stock-orders/internal/port"
)

// PebbleStore implements port.LocalStore using PebbleDB.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		// snapshots are small and written on every cart/pick mutation
		MemTableSize:    4 << 20,
		WALBytesPerSync: 64 << 10,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) Get(key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, port.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (p *PebbleStore) Set(key string, value []byte) error {
	return p.db.Set([]byte(key), value, pebble.Sync)
}

func (p *PebbleStore) Delete(key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}
