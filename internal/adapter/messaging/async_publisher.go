package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/port"
)

var ErrPublisherClosed = errors.New("publisher closed")

// AsyncPublisher queues events and hands them to the next publisher from a
// pool of workers, so request paths never wait on the broker.
type AsyncPublisher struct {
	next    port.EventPublisher
	queue   chan domain.OrderEvent
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncPublisher(next port.EventPublisher, workers, queueSize int, logger *slog.Logger) *AsyncPublisher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &AsyncPublisher{
		next:    next,
		queue:   make(chan domain.OrderEvent, queueSize),
		timeout: 5 * time.Second,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(id)
		}(i)
	}
	return p
}

// Publish enqueues the event. It blocks while the queue is full.
func (p *AsyncPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AsyncPublisher) workerLoop(id int) {
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.next.Publish(ctx, event); err != nil {
			p.logger.Error("publish order event failed",
				"worker", id, "type", event.Type, "order_id", event.OrderID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
