// Package cart holds the desired contents of an order before it is submitted.
//
// Every mutation snapshots the cart into a port.LocalStore so a reload can
// resume it. Snapshots older than MaxAge, or bound to another order while
// editing, are ignored on Load. Storage failures are logged and never
// returned to the caller.
package cart

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/port"
)

const (
	CreateStorageKey = "warehouse_cart"
	EditStorageKey   = "warehouse_edit_cart"

	MaxAge = 24 * time.Hour
)

// Line is one product in the cart. Quantity is in units or packages
// depending on PackageMode.
type Line struct {
	ProductID   string `json:"productId"`
	Quantity    int    `json:"quantity"`
	PackageMode bool   `json:"packageMode"`
}

type snapshot struct {
	Cart        map[string]int  `json:"cart"`
	PackageMode map[string]bool `json:"packageMode"`
	Timestamp   int64           `json:"timestamp"`
	OrderID     string          `json:"orderId,omitempty"`
	BrandFilter string          `json:"brandFilter,omitempty"`
}

type Cart struct {
	mu          sync.Mutex
	local       port.LocalStore
	key         string
	orderID     string
	quantities  map[string]int
	packageMode map[string]bool
	brandFilter string
	listeners   []func()
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Cart)

// WithOrderID binds the cart to an order being edited.
func WithOrderID(orderID string) Option {
	return func(c *Cart) { c.orderID = orderID }
}

func WithStorageKey(key string) Option {
	return func(c *Cart) { c.key = key }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cart) { c.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cart) { c.now = now }
}

func New(local port.LocalStore, opts ...Option) *Cart {
	c := &Cart{
		local:       local,
		quantities:  make(map[string]int),
		packageMode: make(map[string]bool),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.key == "" {
		c.key = CreateStorageKey
		if c.orderID != "" {
			c.key = EditStorageKey
		}
	}
	return c
}

func (c *Cart) OrderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderID
}

func (c *Cart) StorageKey() string { return c.key }

// OnChange registers fn to run after every mutation.
func (c *Cart) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Add changes the quantity by delta, never going below zero.
func (c *Cart) Add(productID string, delta int) {
	c.mutate(func() {
		q := c.quantities[productID] + delta
		if q <= 0 {
			delete(c.quantities, productID)
			return
		}
		c.quantities[productID] = q
	})
}

// AddChecked adds like Add and reports a *domain.StockWarning when the new
// quantity exceeds the product's stock. The add is applied either way.
func (c *Cart) AddChecked(p domain.Product, delta int) error {
	c.Add(p.ID, delta)

	c.mu.Lock()
	qty := c.quantities[p.ID]
	pkg := c.packageMode[p.ID]
	c.mu.Unlock()

	available := p.EffectiveStock(pkg)
	if qty > available {
		return &domain.StockWarning{ProductID: p.ID, Requested: qty, Available: available, PackageMode: pkg}
	}
	return nil
}

// Remove lowers the quantity by delta. Reaching zero also resets the line
// to unit mode.
func (c *Cart) Remove(productID string, delta int) {
	c.mutate(func() {
		if c.quantities[productID] == 0 {
			return
		}
		q := c.quantities[productID] - delta
		if q <= 0 {
			delete(c.quantities, productID)
			delete(c.packageMode, productID)
			return
		}
		c.quantities[productID] = q
	})
}

func (c *Cart) SetQuantity(productID string, n int) {
	c.mutate(func() {
		if n <= 0 {
			delete(c.quantities, productID)
			delete(c.packageMode, productID)
			return
		}
		c.quantities[productID] = n
	})
}

// TogglePackageMode flips the ordering mode. The held quantity is not rescaled.
func (c *Cart) TogglePackageMode(productID string) {
	c.mutate(func() {
		if c.packageMode[productID] {
			delete(c.packageMode, productID)
			return
		}
		c.packageMode[productID] = true
	})
}

func (c *Cart) SetBrandFilter(brand string) {
	c.mutate(func() { c.brandFilter = brand })
}

func (c *Cart) BrandFilter() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brandFilter
}

func (c *Cart) Quantity(productID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quantities[productID]
}

func (c *Cart) IsPackageMode(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.packageMode[productID]
}

// Items returns the lines with a positive quantity, sorted by product id.
func (c *Cart) Items() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itemsLocked()
}

func (c *Cart) itemsLocked() []Line {
	lines := make([]Line, 0, len(c.quantities))
	for id, q := range c.quantities {
		if q > 0 {
			lines = append(lines, Line{ProductID: id, Quantity: q, PackageMode: c.packageMode[id]})
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

func (c *Cart) TotalQuantity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, q := range c.quantities {
		if q > 0 {
			total += q
		}
	}
	return total
}

// ItemCount is the number of distinct products in the cart.
func (c *Cart) ItemCount() int {
	return len(c.Items())
}

func (c *Cart) IsEmpty() bool {
	return c.ItemCount() == 0
}

// Clear empties the cart and erases its snapshot.
func (c *Cart) Clear() {
	c.mu.Lock()
	c.quantities = make(map[string]int)
	c.packageMode = make(map[string]bool)
	c.clearStorageLocked()
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()

	notify(listeners)
}

// LoadFromOrderItems replaces the cart contents with the lines of an
// existing order, in the mode each line was ordered in.
func (c *Cart) LoadFromOrderItems(items []domain.OrderItem) {
	c.mutate(func() {
		c.quantities = make(map[string]int)
		c.packageMode = make(map[string]bool)
		for _, item := range items {
			qty := item.QuantityOrdered
			if item.OrderType == domain.OrderTypePackage {
				c.packageMode[item.ProductID] = true
				qty = 0
				if item.PackagesOrdered != nil {
					qty = *item.PackagesOrdered
				}
			}
			if qty > 0 {
				c.quantities[item.ProductID] = qty
			}
		}
	})
}

// ExportForOrder resolves each line against the catalog into the OrderItem
// payload. Products missing from the catalog count as single-unit packages.
func (c *Cart) ExportForOrder(products []domain.Product) []domain.OrderItem {
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := c.Items()
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		item := domain.OrderItem{
			ProductID:       line.ProductID,
			QuantityOrdered: line.Quantity,
			OrderType:       domain.OrderTypeUnit,
		}
		if line.PackageMode {
			perPackage := 1
			if p, ok := byID[line.ProductID]; ok {
				perPackage = p.UnitsPerPackage()
			}
			packages := line.Quantity
			item.QuantityOrdered = packages * perPackage
			item.OrderType = domain.OrderTypePackage
			item.PackagesOrdered = &packages
			item.PackageQuantity = &perPackage
		}
		items = append(items, item)
	}
	return items
}

// Load applies the stored snapshot and reports whether one was applied.
func (c *Cart) Load() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.local.Get(c.key)
	if errors.Is(err, port.ErrKeyNotFound) {
		return false
	}
	if err != nil {
		c.warn("get", err)
		return false
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.warn("decode", err)
		c.clearStorageLocked()
		return false
	}

	if snap.Timestamp > 0 && c.now().Sub(time.UnixMilli(snap.Timestamp)) > MaxAge {
		c.clearStorageLocked()
		return false
	}

	if c.orderID != "" && snap.OrderID != c.orderID {
		return false
	}

	c.quantities = make(map[string]int, len(snap.Cart))
	for id, q := range snap.Cart {
		if q > 0 {
			c.quantities[id] = q
		}
	}
	c.packageMode = make(map[string]bool, len(snap.PackageMode))
	for id, on := range snap.PackageMode {
		if on {
			c.packageMode[id] = true
		}
	}
	c.brandFilter = snap.BrandFilter
	return true
}

func (c *Cart) mutate(fn func()) {
	c.mu.Lock()
	fn()
	c.saveLocked()
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()

	notify(listeners)
}

func (c *Cart) saveLocked() {
	snap := snapshot{
		Cart:        c.quantities,
		PackageMode: c.packageMode,
		Timestamp:   c.now().UnixMilli(),
		OrderID:     c.orderID,
		BrandFilter: c.brandFilter,
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		c.warn("encode", err)
		return
	}
	if err := c.local.Set(c.key, raw); err != nil {
		c.warn("set", err)
	}
}

func (c *Cart) clearStorageLocked() {
	if err := c.local.Delete(c.key); err != nil {
		c.warn("delete", err)
	}
}

func (c *Cart) warn(op string, err error) {
	perr := &domain.PersistenceError{Op: op, Key: c.key, Err: err}
	c.logger.Warn("cart snapshot failed", "error", perr)
}

func notify(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}
