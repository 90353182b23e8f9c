package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-orders/internal/adapter/storage"
	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/port"
)

var testNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func fixedClock() func() time.Time { return func() time.Time { return testNow } }

// failingBatchStore rejects every batch, as a remote commit failure would.
type failingBatchStore struct {
	*storage.MemoryStore
	err error
}

func (f *failingBatchStore) Batch(ctx context.Context, ops []port.BatchOp) error {
	return f.err
}

// blockingBatchStore waits for the context before failing.
type blockingBatchStore struct {
	*storage.MemoryStore
}

func (b *blockingBatchStore) Batch(ctx context.Context, ops []port.BatchOp) error {
	<-ctx.Done()
	return ctx.Err()
}

type failingSequence struct{}

func (failingSequence) NextSequence(ctx context.Context, name string) (int64, error) {
	return 0, errors.New("counter contention")
}

// Mock EventPublisher
type mockPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func (m *mockPublisher) Events() []domain.OrderEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OrderEvent(nil), m.events...)
}

func seedProduct(t *testing.T, store port.DocumentStore, p domain.Product) {
	t.Helper()
	data, err := port.Encode(p)
	require.NoError(t, err)
	_, err = store.Create(context.Background(), port.Doc(collProducts, p.ID), data)
	require.NoError(t, err)
}

func stockOf(t *testing.T, store port.DocumentStore, productID string) int {
	t.Helper()
	doc, err := store.Get(context.Background(), port.Doc(collProducts, productID))
	require.NoError(t, err)
	var p domain.Product
	require.NoError(t, doc.Decode(&p))
	return p.StockQuantity
}

func intPtr(v int) *int { return &v }
