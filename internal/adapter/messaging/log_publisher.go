package messaging

import (
	"context"
	"log/slog"

	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/port"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (l *LogPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	l.logger.InfoContext(ctx, "order event",
		"type", event.Type,
		"order_id", event.OrderID,
		"display_id", event.DisplayID,
		"lines", len(event.Lines),
	)
	return nil
}

// MultiPublisher fans out events to multiple publishers and stops at the
// first error.
type MultiPublisher struct {
	publishers []port.EventPublisher
}

func NewMultiPublisher(ps ...port.EventPublisher) *MultiPublisher {
	return &MultiPublisher{publishers: ps}
}

func (m *MultiPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
