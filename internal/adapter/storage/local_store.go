package storage

import (
	"sync"

	"github.com/rl1809/stock-orders/internal/port"
)

// MemoryLocalStore is a LocalStore that lives for the process only.
type MemoryLocalStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{data: make(map[string][]byte)}
}

func (s *MemoryLocalStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, port.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryLocalStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryLocalStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
