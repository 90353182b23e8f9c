package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rl1809/stock-orders/internal/core/cart"
	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/port"
)

const (
	OrderCounterName = "orderCounter"
	unknownName      = "unknown"
)

type OrderService struct {
	store    port.DocumentStore
	sequence port.SequenceRepository
	events   port.EventPublisher
	opts     options
}

// NewOrderService wires order submission and editing. sequence and events
// may be nil: display ids then always use the timestamp fallback and no
// events are published.
func NewOrderService(store port.DocumentStore, sequence port.SequenceRepository, events port.EventPublisher, opts ...Option) *OrderService {
	return &OrderService{
		store:    store,
		sequence: sequence,
		events:   events,
		opts:     newOptions(opts),
	}
}

type SubmitRequest struct {
	UserID   string
	Notes    string
	Cart     *cart.Cart
	Products []domain.Product

	// Draft, when set, is discarded after a successful submit.
	Draft *DraftAutosaver
}

// Submit turns the cart into a pending order with one item per cart line.
// The order and its items are written in one batch.
func (s *OrderService) Submit(ctx context.Context, req SubmitRequest) (domain.Order, error) {
	if req.Cart == nil || req.Cart.IsEmpty() {
		return domain.Order{}, domain.ErrEmptyCart
	}

	ctx, span := s.opts.tracer.Start(ctx, "OrderService.Submit")
	defer span.End()

	displayID, seq := s.nextDisplayID(ctx)
	user := s.lookupUser(ctx, req.UserID)
	now := s.opts.timestamp()

	order := domain.Order{
		ID:               uuid.NewString(),
		DisplayID:        displayID,
		SequentialNumber: seq,
		CreatedAt:        now,
		CreatedBy:        req.UserID,
		CreatedByName:    user.FullName,
		StoreName:        user.StoreName,
		Status:           domain.OrderStatusPending,
		Notes:            req.Notes,
		UpdatedAt:        now,
	}

	items := req.Cart.ExportForOrder(req.Products)
	ops, err := s.createOps(order, items)
	if err != nil {
		recordError(span, err)
		return domain.Order{}, err
	}

	if err := s.store.Batch(ctx, ops); err != nil {
		err = domain.NewRemoteError("submit order", err)
		recordError(span, err)
		s.opts.logger.Error("submit order failed", "user_id", req.UserID, "error", err)
		return domain.Order{}, err
	}

	req.Cart.Clear()
	if req.Draft != nil {
		req.Draft.Discard(ctx)
	}

	s.opts.logger.Info("order submitted", "order_id", order.ID, "display_id", order.DisplayID, "items", len(items))
	if s.opts.metrics != nil {
		s.opts.metrics.OrdersSubmitted.Inc()
	}
	s.opts.publish(ctx, s.events, domain.OrderEvent{
		Type:       domain.EventOrderSubmitted,
		OrderID:    order.ID,
		DisplayID:  order.DisplayID,
		UserID:     req.UserID,
		Lines:      eventLines(items),
		OccurredAt: now,
	})
	return order, nil
}

func (s *OrderService) createOps(order domain.Order, items []domain.OrderItem) ([]port.BatchOp, error) {
	data, err := port.Encode(order)
	if err != nil {
		return nil, err
	}
	ops := []port.BatchOp{port.CreateOp(ordersRef(order.ID), data)}
	return s.appendItemOps(ops, order.ID, items)
}

func (s *OrderService) appendItemOps(ops []port.BatchOp, orderID string, items []domain.OrderItem) ([]port.BatchOp, error) {
	coll := itemsRef(orderID)
	for _, item := range items {
		item.Status = domain.ItemStatusPending
		data, err := port.Encode(item)
		if err != nil {
			return nil, err
		}
		ops = append(ops, port.CreateOp(coll.Doc(uuid.NewString()), data))
	}
	return ops, nil
}

// nextDisplayID returns ORD-0001 style ids from the counter, or
// ORD-<last six digits of unix ms> when the counter is unavailable.
func (s *OrderService) nextDisplayID(ctx context.Context) (string, int64) {
	if s.sequence != nil {
		n, err := s.sequence.NextSequence(ctx, OrderCounterName)
		if err == nil {
			return fmt.Sprintf("ORD-%04d", n), n
		}
		s.opts.logger.Warn("order counter unavailable, using timestamp id", "error", err)
	}
	if s.opts.metrics != nil {
		s.opts.metrics.DisplayIDFallbacks.Inc()
	}
	return fmt.Sprintf("ORD-%06d", s.opts.now().UnixMilli()%1_000_000), 0
}

func (s *OrderService) lookupUser(ctx context.Context, userID string) domain.User {
	user := domain.User{ID: userID, FullName: unknownName, StoreName: unknownName}
	if userID == "" {
		return user
	}

	doc, err := s.store.Get(ctx, port.Doc(collUsers, userID))
	if err != nil {
		if !errors.Is(err, port.ErrNotFound) {
			s.opts.logger.Warn("user lookup failed", "user_id", userID, "error", err)
		}
		return user
	}

	var stored domain.User
	if err := doc.Decode(&stored); err != nil {
		s.opts.logger.Warn("user decode failed", "user_id", userID, "error", err)
		return user
	}
	if stored.FullName != "" {
		user.FullName = stored.FullName
	}
	if stored.StoreName != "" {
		user.StoreName = stored.StoreName
	}
	return user
}

// GetOrder returns the order and its items.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, []domain.OrderItem, error) {
	return loadOrder(ctx, s.store, orderID)
}

// LoadForEdit returns an order the user may edit. Ownership is checked
// before status.
func (s *OrderService) LoadForEdit(ctx context.Context, orderID, userID string) (domain.Order, []domain.OrderItem, error) {
	order, items, err := loadOrder(ctx, s.store, orderID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	if order.CreatedBy != userID {
		return domain.Order{}, nil, domain.ErrNotEditable
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, nil, domain.ErrInvalidState
	}
	return order, items, nil
}

// BeginEdit fills an edit cart from the order's items. A snapshot saved for
// the same order takes precedence so unsaved edits survive a reload.
func (s *OrderService) BeginEdit(ctx context.Context, orderID, userID string, c *cart.Cart) (domain.Order, error) {
	if c.OrderID() != orderID {
		return domain.Order{}, fmt.Errorf("cart is bound to order %q, not %q", c.OrderID(), orderID)
	}
	order, items, err := s.LoadForEdit(ctx, orderID, userID)
	if err != nil {
		return domain.Order{}, err
	}
	if !c.Load() {
		c.LoadFromOrderItems(items)
	}
	return order, nil
}

type SaveEditRequest struct {
	OrderID  string
	UserID   string
	Notes    string
	Cart     *cart.Cart
	Products []domain.Product
}

// SaveEdit replaces every item of the order with the cart contents and
// updates notes. Status is left as is.
func (s *OrderService) SaveEdit(ctx context.Context, req SaveEditRequest) error {
	if req.Cart == nil || req.Cart.IsEmpty() {
		return domain.ErrEmptyCart
	}

	ctx, span := s.opts.tracer.Start(ctx, "OrderService.SaveEdit")
	defer span.End()

	order, existing, err := s.LoadForEdit(ctx, req.OrderID, req.UserID)
	if err != nil {
		recordError(span, err)
		return err
	}

	now := s.opts.timestamp()
	ops := []port.BatchOp{port.UpdateOp(ordersRef(order.ID), map[string]any{
		"notes":     req.Notes,
		"updatedAt": now,
	})}
	for _, item := range existing {
		ops = append(ops, port.DeleteOp(itemsRef(order.ID).Doc(item.DocID)))
	}
	items := req.Cart.ExportForOrder(req.Products)
	if ops, err = s.appendItemOps(ops, order.ID, items); err != nil {
		recordError(span, err)
		return err
	}

	if err := s.store.Batch(ctx, ops); err != nil {
		err = domain.NewRemoteError("save order edit", err)
		recordError(span, err)
		s.opts.logger.Error("save order edit failed", "order_id", order.ID, "error", err)
		return err
	}

	req.Cart.Clear()

	s.opts.logger.Info("order edited", "order_id", order.ID, "items", len(items))
	if s.opts.metrics != nil {
		s.opts.metrics.OrdersEdited.Inc()
	}
	s.opts.publish(ctx, s.events, domain.OrderEvent{
		Type:       domain.EventOrderUpdated,
		OrderID:    order.ID,
		DisplayID:  order.DisplayID,
		UserID:     req.UserID,
		Lines:      eventLines(items),
		OccurredAt: now,
	})
	return nil
}

// ListOrders returns orders in the given status, newest first.
func (s *OrderService) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return s.queryOrders(ctx, []port.Filter{{Field: "status", Value: string(status)}})
}

// ListUserOrders returns the user's order history, newest first. Drafts are skipped.
func (s *OrderService) ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	orders, err := s.queryOrders(ctx, []port.Filter{{Field: "createdBy", Value: userID}})
	if err != nil {
		return nil, err
	}
	out := orders[:0]
	for _, o := range orders {
		if o.Status != domain.OrderStatusDraft {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *OrderService) queryOrders(ctx context.Context, where []port.Filter) ([]domain.Order, error) {
	docs, err := s.store.GetAll(ctx, port.Query{
		Collection: port.Collection(collOrders),
		Where:      where,
		OrderBy:    "createdAt",
		Descending: true,
	})
	if err != nil {
		return nil, domain.NewRemoteError("list orders", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		o, err := decodeOrder(doc)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func loadOrder(ctx context.Context, store port.DocumentStore, orderID string) (domain.Order, []domain.OrderItem, error) {
	doc, err := store.Get(ctx, ordersRef(orderID))
	if errors.Is(err, port.ErrNotFound) {
		return domain.Order{}, nil, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if err != nil {
		return domain.Order{}, nil, domain.NewRemoteError("get order", err)
	}
	order, err := decodeOrder(doc)
	if err != nil {
		return domain.Order{}, nil, err
	}

	docs, err := store.GetAll(ctx, port.Query{Collection: itemsRef(orderID)})
	if err != nil {
		return domain.Order{}, nil, domain.NewRemoteError("get order items", err)
	}
	items := make([]domain.OrderItem, 0, len(docs))
	for _, d := range docs {
		var item domain.OrderItem
		if err := d.Decode(&item); err != nil {
			return domain.Order{}, nil, err
		}
		item.DocID = d.Ref.ID
		items = append(items, item)
	}
	return order, items, nil
}

func decodeOrder(doc port.Document) (domain.Order, error) {
	var o domain.Order
	if err := doc.Decode(&o); err != nil {
		return domain.Order{}, err
	}
	o.ID = doc.Ref.ID
	return o, nil
}
