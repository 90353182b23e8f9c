package domain

import "time"

type OrderStatus string

const (
	OrderStatusDraft      OrderStatus = "draft"
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusInProgress OrderStatus = "in-progress"
	OrderStatusPicked     OrderStatus = "picked"
)

type OrderType string

const (
	OrderTypeUnit    OrderType = "unit"
	OrderTypePackage OrderType = "package"
)

type ItemStatus string

const (
	ItemStatusPending ItemStatus = "pending"
	ItemStatusPicked  ItemStatus = "picked"
)

type Order struct {
	ID               string      `json:"-"`
	DisplayID        string      `json:"displayId,omitempty"`
	SequentialNumber int64       `json:"sequentialNumber,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	CreatedBy        string      `json:"createdBy"`
	CreatedByName    string      `json:"createdByName,omitempty"`
	StoreName        string      `json:"storeName,omitempty"`
	Status           OrderStatus `json:"status"`
	Notes            string      `json:"notes"`
	PickingNotes     string      `json:"pickingNotes,omitempty"`
	PickedAt         *time.Time  `json:"pickedAt,omitempty"`
	UpdatedAt        time.Time   `json:"updatedAt"`

	// Items is only populated on draft orders.
	Items []DraftLine `json:"items,omitempty"`
}

// DraftLine is the lightweight cart line kept on a draft order.
type DraftLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderItem is stored in the orderItems subcollection of its order.
// For package lines QuantityOrdered = PackagesOrdered * PackageQuantity.
type OrderItem struct {
	DocID           string     `json:"-"`
	ProductID       string     `json:"productId"`
	QuantityOrdered int        `json:"quantityOrdered"`
	OrderType       OrderType  `json:"orderType"`
	PackagesOrdered *int       `json:"packagesOrdered"`
	PackageQuantity *int       `json:"packageQuantity"`
	QuantityPicked  *int       `json:"quantityPicked,omitempty"`
	Status          ItemStatus `json:"status,omitempty"`
}

// PickedQuantity returns the recorded picked quantity, defaulting to the ordered amount.
func (i OrderItem) PickedQuantity() int {
	if i.QuantityPicked == nil {
		return i.QuantityOrdered
	}
	return *i.QuantityPicked
}

// User is the stored profile used to stamp orders.
type User struct {
	ID        string `json:"-"`
	FullName  string `json:"fullName"`
	StoreName string `json:"storeName"`
}
