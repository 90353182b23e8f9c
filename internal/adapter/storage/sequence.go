package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/stock-orders/internal/port"
)

const (
	countersCollection = "counters"
	counterValueField  = "value"
)

// DocumentSequence keeps counters in the counters collection of a DocumentStore.
type DocumentSequence struct {
	store port.DocumentStore
	now   func() time.Time
}

func NewDocumentSequence(store port.DocumentStore) *DocumentSequence {
	return &DocumentSequence{store: store, now: time.Now}
}

func (s *DocumentSequence) NextSequence(ctx context.Context, name string) (int64, error) {
	ref := port.Doc(countersCollection, name)

	for attempt := 0; attempt < 2; attempt++ {
		v, err := s.store.Increment(ctx, ref, counterValueField, 1)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, port.ErrNotFound) {
			return 0, fmt.Errorf("increment counter %s: %w", name, err)
		}

		// counter starts at 1
		_, err = s.store.Create(ctx, ref, map[string]any{
			counterValueField: 1,
			"lastUpdated":     s.now().UTC(),
		})
		if err == nil {
			return 1, nil
		}
		if !errors.Is(err, port.ErrAlreadyExists) {
			return 0, fmt.Errorf("create counter %s: %w", name, err)
		}
	}
	return 0, fmt.Errorf("counter %s: contention", name)
}

// Current returns the last value handed out, or 0 for an unused counter.
func (s *DocumentSequence) Current(ctx context.Context, name string) (int64, error) {
	doc, err := s.store.Get(ctx, port.Doc(countersCollection, name))
	if errors.Is(err, port.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	v, ok := toInt64(doc.Data[counterValueField])
	if !ok {
		return 0, fmt.Errorf("counter %s: value %v is not a number", name, doc.Data[counterValueField])
	}
	return v, nil
}

type memoryGuard struct {
	token   string
	expires time.Time
}

// MemoryGuard is an in-process GuardRepository for single-instance deployments.
type MemoryGuard struct {
	mu     sync.Mutex
	guards map[string]memoryGuard
	now    func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{guards: make(map[string]memoryGuard), now: time.Now}
}

func (g *MemoryGuard) AcquireGuard(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if cur, ok := g.guards[key]; ok && now.Before(cur.expires) {
		return false, nil
	}
	g.guards[key] = memoryGuard{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (g *MemoryGuard) ReleaseGuard(ctx context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cur, ok := g.guards[key]; ok && cur.token == token {
		delete(g.guards, key)
	}
	return nil
}
