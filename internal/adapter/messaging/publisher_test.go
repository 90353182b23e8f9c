package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/stock-orders/internal/core/domain"
)

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func pickedEvent() domain.OrderEvent {
	return domain.OrderEvent{
		Type:       domain.EventOrderPicked,
		OrderID:    "o-1",
		DisplayID:  "ORD-0007",
		Lines:      []domain.EventLine{{ProductID: "A", Quantity: 8}},
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	fw := &fakeKafkaWriter{}
	p := NewKafkaPublisherWith(fw)

	if err := p.Publish(context.Background(), pickedEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("want 1 msg, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "o-1" {
		t.Fatalf("key mismatch: %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "order.picked" {
		t.Fatalf("type header mismatch: %+v", msg.Headers)
	}

	var got domain.OrderEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.DisplayID != "ORD-0007" || len(got.Lines) != 1 || got.Lines[0].Quantity != 8 {
		t.Fatalf("payload mismatch: %+v", got)
	}
}

func TestKafkaPublisher_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	p := NewKafkaPublisherWith(&fakeKafkaWriter{err: boom})

	if err := p.Publish(context.Background(), pickedEvent()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close on fake writer: %v", err)
	}
}

func TestMultiPublisher(t *testing.T) {
	var buf bytes.Buffer
	logPub := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))
	fw := &fakeKafkaWriter{}

	m := NewMultiPublisher(logPub, NewKafkaPublisherWith(fw))
	if err := m.Publish(context.Background(), pickedEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("want 1 kafka msg, got %d", len(fw.msgs))
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"order_id":"o-1"`)) {
		t.Fatalf("log line missing order id: %s", buf.String())
	}

	failing := NewMultiPublisher(NewKafkaPublisherWith(&fakeKafkaWriter{err: errors.New("down")}), logPub)
	if err := failing.Publish(context.Background(), pickedEvent()); err == nil {
		t.Fatal("expected error")
	}
}
