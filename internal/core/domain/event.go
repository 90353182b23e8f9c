package domain

import "time"

type EventType string

const (
	EventOrderSubmitted EventType = "order.submitted"
	EventOrderUpdated   EventType = "order.updated"
	EventOrderPicked    EventType = "order.picked"
)

type EventLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type OrderEvent struct {
	Type       EventType   `json:"type"`
	OrderID    string      `json:"orderId"`
	DisplayID  string      `json:"displayId,omitempty"`
	UserID     string      `json:"userId,omitempty"`
	Lines      []EventLine `json:"lines"`
	OccurredAt time.Time   `json:"occurredAt"`
}
