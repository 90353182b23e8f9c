package service

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/stock-orders/internal/core/cart"
	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/port"
)

const DefaultDraftDelay = time.Second

// DraftAutosaver keeps a draft order in sync with a create-mode cart.
// Cart changes are debounced; the first save creates the draft document and
// later saves update it.
type DraftAutosaver struct {
	mu      sync.Mutex
	store   port.DocumentStore
	cart    *cart.Cart
	owner   domain.User
	delay   time.Duration
	timer   *time.Timer
	draftID string
	opts    options
}

// NewDraftAutosaver subscribes to c. Carts bound to an existing order are
// never drafted.
func NewDraftAutosaver(store port.DocumentStore, c *cart.Cart, owner domain.User, delay time.Duration, opts ...Option) *DraftAutosaver {
	if delay <= 0 {
		delay = DefaultDraftDelay
	}
	d := &DraftAutosaver{
		store: store,
		cart:  c,
		owner: owner,
		delay: delay,
		opts:  newOptions(opts),
	}
	if c.OrderID() == "" {
		c.OnChange(d.Schedule)
	}
	return d
}

func (d *DraftAutosaver) DraftID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draftID
}

// Schedule (re)starts the debounce timer.
func (d *DraftAutosaver) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		if err := d.Flush(context.Background()); err != nil {
			d.opts.logger.Warn("draft autosave failed", "user_id", d.owner.ID, "error", err)
		}
	})
}

// Flush saves the draft now. An empty cart is not saved.
func (d *DraftAutosaver) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	lines := d.cart.Items()
	if len(lines) == 0 {
		return nil
	}

	items := make([]domain.DraftLine, 0, len(lines))
	for _, l := range lines {
		items = append(items, domain.DraftLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	now := d.opts.timestamp()
	name := d.owner.FullName
	if name == "" {
		name = unknownName
	}
	data := map[string]any{
		"items":         items,
		"status":        domain.OrderStatusDraft,
		"createdBy":     d.owner.ID,
		"createdByName": name,
		"updatedAt":     now,
	}

	if d.draftID != "" {
		if err := d.store.Update(ctx, ordersRef(d.draftID), data); err != nil {
			return domain.NewRemoteError("update draft", err)
		}
	} else {
		data["createdAt"] = now
		id, err := d.store.Create(ctx, port.Collection(collOrders).Doc(""), data)
		if err != nil {
			return domain.NewRemoteError("create draft", err)
		}
		d.draftID = id
	}

	if d.opts.metrics != nil {
		d.opts.metrics.DraftsSaved.Inc()
	}
	return nil
}

// Discard cancels any pending save and deletes the draft document, best effort.
func (d *DraftAutosaver) Discard(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.draftID == "" {
		return
	}
	if err := d.store.Delete(ctx, ordersRef(d.draftID)); err != nil {
		d.opts.logger.Warn("could not delete draft order", "draft_id", d.draftID, "error", err)
	}
	d.draftID = ""
}
