// Package progress keeps uncommitted picking state per order so a picker can
// leave an order and resume it later. All records live under one local key.
package progress

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/port"
)

const (
	StorageKey = "picking_progress"
	MaxAge     = 7 * 24 * time.Hour
)

type Store struct {
	mu     sync.Mutex
	local  port.LocalStore
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(local port.LocalStore, opts ...Option) *Store {
	s := &Store{local: local, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save upserts the record for orderID with a fresh timestamp.
func (s *Store) Save(orderID string, items map[string]domain.ItemProgress, notes string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, ok := s.readAll()
	if !ok {
		return false
	}
	now := s.now()
	all[orderID] = domain.PickingProgress{
		OrderID:      orderID,
		Items:        items,
		Notes:        notes,
		Timestamp:    now.UnixMilli(),
		LastModified: now.UTC(),
	}
	return s.writeAll(all)
}

// Load returns the record if it is younger than MaxAge. Expired records are evicted.
func (s *Store) Load(orderID string) (domain.PickingProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, readable := s.readAll()
	p, ok := all[orderID]
	if !ok {
		return domain.PickingProgress{}, false
	}
	if s.expired(p) {
		if readable {
			delete(all, orderID)
			s.writeAll(all)
		}
		return domain.PickingProgress{}, false
	}
	return p, true
}

func (s *Store) Clear(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, ok := s.readAll()
	if !ok {
		return false
	}
	delete(all, orderID)
	return s.writeAll(all)
}

func (s *Store) ClearAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.local.Delete(StorageKey); err != nil {
		s.warn("delete", err)
		return false
	}
	return true
}

// ListActive summarizes the non-expired records, most recently modified first.
func (s *Store) ListActive() []domain.ProgressSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ProgressSummary
	all, _ := s.readAll()
	for id, p := range all {
		if s.expired(p) {
			continue
		}
		out = append(out, domain.ProgressSummary{
			OrderID:      id,
			LastModified: p.LastModified,
			Timestamp:    p.Timestamp,
			ItemsCount:   len(p.Items),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

// EvictExpired removes every expired record and returns how many were dropped.
func (s *Store) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, ok := s.readAll()
	if !ok {
		return 0
	}
	cleaned := 0
	for id, p := range all {
		if s.expired(p) {
			delete(all, id)
			cleaned++
		}
	}
	if cleaned > 0 {
		s.writeAll(all)
		s.logger.Info("evicted expired picking progress", "count", cleaned)
	}
	return cleaned
}

func (s *Store) expired(p domain.PickingProgress) bool {
	return s.now().Sub(time.UnixMilli(p.Timestamp)) >= MaxAge
}

// readAll reports false when the key could not be read. Callers must not
// write back in that case or every other order's record would be lost.
// Undecodable data reads as empty and may be overwritten.
func (s *Store) readAll() (map[string]domain.PickingProgress, bool) {
	all := make(map[string]domain.PickingProgress)
	raw, err := s.local.Get(StorageKey)
	if errors.Is(err, port.ErrKeyNotFound) {
		return all, true
	}
	if err != nil {
		s.warn("get", err)
		return all, false
	}
	if err := json.Unmarshal(raw, &all); err != nil {
		s.warn("decode", err)
		return make(map[string]domain.PickingProgress), true
	}
	return all, true
}

func (s *Store) writeAll(all map[string]domain.PickingProgress) bool {
	raw, err := json.Marshal(all)
	if err != nil {
		s.warn("encode", err)
		return false
	}
	if err := s.local.Set(StorageKey, raw); err != nil {
		s.warn("set", err)
		return false
	}
	return true
}

func (s *Store) warn(op string, err error) {
	s.logger.Warn("picking progress storage failed",
		"error", &domain.PersistenceError{Op: op, Key: StorageKey, Err: err})
}
