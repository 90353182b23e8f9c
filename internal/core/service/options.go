package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/metrics"
	"github.com/rl1809/stock-orders/internal/port"
)

const tracerName = "github.com/rl1809/stock-orders/internal/core/service"

// Document collections.
const (
	collProducts   = "products"
	collOrders     = "orders"
	collOrderItems = "orderItems"
	collUsers      = "users"
)

type options struct {
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics.Registry
	tracer  trace.Tracer
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) timestamp() time.Time {
	return o.now().UTC()
}

// publish sends an event best effort. Failures are only logged.
func (o options) publish(ctx context.Context, events port.EventPublisher, event domain.OrderEvent) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, event); err != nil {
		o.logger.Warn("publish order event failed", "type", event.Type, "order_id", event.OrderID, "error", err)
	}
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func ordersRef(orderID string) port.DocRef {
	return port.Doc(collOrders, orderID)
}

func itemsRef(orderID string) port.CollectionRef {
	return ordersRef(orderID).Collection(collOrderItems)
}

func eventLines(items []domain.OrderItem) []domain.EventLine {
	lines := make([]domain.EventLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.EventLine{ProductID: item.ProductID, Quantity: item.QuantityOrdered})
	}
	return lines
}
