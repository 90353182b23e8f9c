package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rl1809/stock-orders/internal/core/domain"
)

type countingPublisher struct {
	mu     sync.Mutex
	orders map[string]int
	calls  atomic.Int64
	err    error
}

func (c *countingPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orders == nil {
		c.orders = make(map[string]int)
	}
	c.orders[event.OrderID]++
	return c.err
}

func TestAsyncPublisher_DeliversEverythingBeforeClose(t *testing.T) {
	next := &countingPublisher{}
	p := NewAsyncPublisher(next, 4, 10, nil)

	const total = 200
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			event := domain.OrderEvent{Type: domain.EventOrderSubmitted, OrderID: string(rune('a' + i%26))}
			if err := p.Publish(context.Background(), event); err != nil {
				t.Errorf("publish: %v", err)
			}
		}(i)
	}
	wg.Wait()
	p.Close()

	if got := next.calls.Load(); got != total {
		t.Errorf("expected %d deliveries, got %d", total, got)
	}
}

func TestAsyncPublisher_ErrorsAreLoggedNotReturned(t *testing.T) {
	next := &countingPublisher{err: errors.New("broker down")}
	p := NewAsyncPublisher(next, 1, 1, nil)

	if err := p.Publish(context.Background(), domain.OrderEvent{OrderID: "o1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	p.Close()

	if next.calls.Load() != 1 {
		t.Fatalf("expected one delivery attempt")
	}
}

func TestAsyncPublisher_RejectsAfterClose(t *testing.T) {
	p := NewAsyncPublisher(&countingPublisher{}, 1, 1, nil)
	p.Close()
	p.Close()

	if err := p.Publish(context.Background(), domain.OrderEvent{}); !errors.Is(err, ErrPublisherClosed) {
		t.Fatalf("expected ErrPublisherClosed, got %v", err)
	}
}
