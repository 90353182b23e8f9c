package domain

import "time"

type ItemProgress struct {
	ProductID      string     `json:"productId"`
	QuantityPicked int        `json:"quantityPicked"`
	Status         ItemStatus `json:"status"`
}

// PickingProgress is the uncommitted picking state of one order, keyed by item doc id.
type PickingProgress struct {
	OrderID      string                  `json:"orderId"`
	Items        map[string]ItemProgress `json:"items"`
	Notes        string                  `json:"notes"`
	Timestamp    int64                   `json:"timestamp"`
	LastModified time.Time               `json:"lastModified"`
}

type ProgressSummary struct {
	OrderID      string    `json:"orderId"`
	LastModified time.Time `json:"lastModified"`
	Timestamp    int64     `json:"timestamp"`
	ItemsCount   int       `json:"itemsCount"`
}
