package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-orders/internal/adapter/storage"
	"github.com/rl1809/stock-orders/internal/core/cart"
	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/core/progress"
	"github.com/rl1809/stock-orders/internal/port"
)

type pickFixture struct {
	store    *storage.MemoryStore
	orders   *OrderService
	progress *progress.Store
	picking  *PickingService
	events   *mockPublisher
	products []domain.Product
}

func newPickFixture(t *testing.T) *pickFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	products := []domain.Product{
		{ID: "A", Name: "Apples", PackageQuantity: 1, StockQuantity: 100},
		{ID: "B", Name: "Beans", PackageQuantity: 6, StockQuantity: 60},
	}
	for _, p := range products {
		seedProduct(t, store, p)
	}
	events := &mockPublisher{}
	prog := progress.NewStore(storage.NewMemoryLocalStore())
	return &pickFixture{
		store:    store,
		orders:   NewOrderService(store, nil, nil),
		progress: prog,
		picking:  NewPickingService(store, storage.NewMemoryGuard(), events, prog, PickingConfig{CommitTimeout: time.Second}),
		events:   events,
		products: products,
	}
}

func (f *pickFixture) open(t *testing.T, lines map[string]int) (*PickSession, []SessionItem) {
	t.Helper()
	order := submitOrder(t, f.orders, "u1", f.products, lines)
	sess, err := f.picking.Open(context.Background(), order.ID, false)
	require.NoError(t, err)
	return sess, sess.View().Items
}

func itemFor(items []SessionItem, productID string) SessionItem {
	for _, item := range items {
		if item.ProductID == productID {
			return item
		}
	}
	return SessionItem{}
}

func TestPickSession_DefaultsToOrderedQuantity(t *testing.T) {
	f := newPickFixture(t)
	_, items := f.open(t, map[string]int{"A": 10})

	require.Len(t, items, 1)
	assert.Equal(t, domain.ItemStatusPending, items[0].Status)
	assert.Equal(t, 10, items[0].QuantityPicked)
}

func TestPickSession_NegativeQuantityRejected(t *testing.T) {
	f := newPickFixture(t)
	sess, items := f.open(t, map[string]int{"A": 10})

	err := sess.Confirm(items[0].DocID, -1)
	if !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got: %v", err)
	}
	after := sess.View().Items[0]
	assert.Equal(t, domain.ItemStatusPending, after.Status)
	assert.Equal(t, 10, after.QuantityPicked)

	_, ok := f.progress.Load(sess.OrderID())
	assert.False(t, ok, "rejected transitions are not saved")
}

func TestPickSession_TransitionsAndOverPick(t *testing.T) {
	f := newPickFixture(t)
	sess, items := f.open(t, map[string]int{"A": 10})
	id := items[0].DocID

	require.NoError(t, sess.Confirm(id, 12), "picking more than ordered is allowed")
	assert.ErrorIs(t, sess.Confirm(id, 3), domain.ErrInvalidTransition)

	require.NoError(t, sess.Edit(id))
	item := sess.View().Items[0]
	assert.Equal(t, domain.ItemStatusPending, item.Status)
	assert.Equal(t, 12, item.QuantityPicked, "edit keeps the last quantity")
	assert.ErrorIs(t, sess.Edit(id), domain.ErrInvalidTransition)

	assert.ErrorIs(t, sess.Confirm("nope", 1), domain.ErrItemNotFound)
}

func TestPickSession_CompletionGate(t *testing.T) {
	f := newPickFixture(t)
	sess, items := f.open(t, map[string]int{"A": 2, "B": 1})

	assert.False(t, sess.CanComplete())
	require.NoError(t, sess.Confirm(items[0].DocID, items[0].QuantityPicked))
	assert.False(t, sess.CanComplete(), "one pending item disables completion")

	require.NoError(t, sess.Confirm(items[1].DocID, items[1].QuantityPicked))
	assert.True(t, sess.CanComplete())

	require.NoError(t, sess.Edit(items[1].DocID))
	assert.False(t, sess.CanComplete())

	_, err := f.picking.Complete(context.Background(), sess.OrderID())
	assert.ErrorIs(t, err, domain.ErrNotCompletable)
}

func TestPickSession_EmptyOrderNotCompletable(t *testing.T) {
	sess := NewPickSession(domain.Order{ID: "empty", Status: domain.OrderStatusPending}, nil, nil, false)
	assert.False(t, sess.CanComplete())
}

func TestComplete_DecrementsByPickedQuantity(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()
	sess, items := f.open(t, map[string]int{"A": 10})

	require.NoError(t, sess.Confirm(items[0].DocID, 8))
	require.NoError(t, sess.SetNotes("  shelf 3 short  "))

	result, err := f.picking.Complete(ctx, sess.OrderID())
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.PickedAt)

	assert.Equal(t, 92, stockOf(t, f.store, "A"))

	order, stored, err := f.orders.GetOrder(ctx, sess.OrderID())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPicked, order.Status)
	assert.Equal(t, "shelf 3 short", order.PickingNotes)
	require.NotNil(t, order.PickedAt)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.ItemStatusPicked, stored[0].Status)
	assert.Equal(t, 8, stored[0].PickedQuantity())

	assert.True(t, sess.Completed())
	assert.ErrorIs(t, sess.Confirm(items[0].DocID, 1), domain.ErrSessionCompleted)

	_, ok := f.progress.Load(sess.OrderID())
	assert.False(t, ok, "progress is cleared after completion")

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderPicked, events[0].Type)
	assert.Equal(t, []domain.EventLine{{ProductID: "A", Quantity: 8}}, events[0].Lines)
}

func TestComplete_ZeroPickSkipsStockUpdate(t *testing.T) {
	f := newPickFixture(t)
	sess, items := f.open(t, map[string]int{"A": 3, "B": 1})

	require.NoError(t, sess.Confirm(itemFor(items, "A").DocID, 0))
	require.NoError(t, sess.Confirm(itemFor(items, "B").DocID, 6))

	_, err := f.picking.Complete(context.Background(), sess.OrderID())
	require.NoError(t, err)
	assert.Equal(t, 100, stockOf(t, f.store, "A"))
	assert.Equal(t, 54, stockOf(t, f.store, "B"))
}

func TestComplete_MidBatchFailureChangesNothing(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()
	sess, items := f.open(t, map[string]int{"A": 5, "GHOST": 2})

	for _, item := range items {
		require.NoError(t, sess.Confirm(item.DocID, item.QuantityPicked))
	}

	result, err := f.picking.Complete(ctx, sess.OrderID())
	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.False(t, result.Success)
	assert.Equal(t, err.Error(), result.Message)

	assert.Equal(t, 100, stockOf(t, f.store, "A"), "no stock may change on a failed commit")
	order, stored, err := f.orders.GetOrder(ctx, sess.OrderID())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	for _, item := range stored {
		assert.Equal(t, domain.ItemStatusPending, item.Status)
	}

	assert.False(t, sess.Completed())
	assert.True(t, sess.CanComplete(), "session is re-enabled for retry")
	_, ok := f.progress.Load(sess.OrderID())
	assert.True(t, ok, "progress survives a failed commit")

	seedProduct(t, f.store, domain.Product{ID: "GHOST", StockQuantity: 10})
	result, err = f.picking.Complete(ctx, sess.OrderID())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 95, stockOf(t, f.store, "A"))
	assert.Equal(t, 8, stockOf(t, f.store, "GHOST"))
}

func TestComplete_RemoteFailureIsVerbatim(t *testing.T) {
	f := newPickFixture(t)
	sess, items := f.open(t, map[string]int{"A": 1})
	require.NoError(t, sess.Confirm(items[0].DocID, 1))

	failing := NewPickingService(&failingBatchStore{MemoryStore: f.store, err: errors.New("network unreachable")}, nil, nil, f.progress, PickingConfig{})
	failing.sessions[sess.OrderID()] = sess

	result, err := failing.Complete(context.Background(), sess.OrderID())
	require.Error(t, err)
	assert.Equal(t, "network unreachable", result.Message)
	assert.True(t, sess.CanComplete())
}

func TestComplete_TimeoutRequiresManualRetry(t *testing.T) {
	f := newPickFixture(t)
	sess, items := f.open(t, map[string]int{"A": 1})
	require.NoError(t, sess.Confirm(items[0].DocID, 1))

	slow := NewPickingService(&blockingBatchStore{MemoryStore: f.store}, nil, nil, f.progress, PickingConfig{CommitTimeout: 20 * time.Millisecond})
	slow.sessions[sess.OrderID()] = sess

	result, err := slow.Complete(context.Background(), sess.OrderID())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, result.Message, "timed out")
	assert.True(t, sess.CanComplete())
	assert.Equal(t, 100, stockOf(t, f.store, "A"))
}

func TestComplete_GuardHeldElsewhere(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()
	guard := storage.NewMemoryGuard()
	svc := NewPickingService(f.store, guard, nil, f.progress, PickingConfig{})

	order := submitOrder(t, f.orders, "u1", f.products, map[string]int{"A": 1})
	sess, err := svc.Open(ctx, order.ID, false)
	require.NoError(t, err)
	require.NoError(t, sess.Confirm(sess.View().Items[0].DocID, 1))

	ok, err := guard.AcquireGuard(ctx, guardKeyPrefix+order.ID, "other-picker", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Complete(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrCompletionInProgress)
	assert.True(t, sess.CanComplete())
	assert.Equal(t, 100, stockOf(t, f.store, "A"))

	require.NoError(t, guard.ReleaseGuard(ctx, guardKeyPrefix+order.ID, "other-picker"))
	_, err = svc.Complete(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 99, stockOf(t, f.store, "A"))
}

func TestOpen_RestoresOnlyPickedItemsAndNotes(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()
	sess, items := f.open(t, map[string]int{"A": 4, "B": 1})
	a, b := itemFor(items, "A"), itemFor(items, "B")

	require.NoError(t, sess.Confirm(a.DocID, 3))
	require.NoError(t, sess.Confirm(b.DocID, 5))
	require.NoError(t, sess.Edit(b.DocID))
	require.NoError(t, sess.SetNotes("aisle 7"))

	// A fresh process only has the progress store.
	f.picking.Close(sess.OrderID())
	resumed, err := f.picking.Open(ctx, sess.OrderID(), false)
	require.NoError(t, err)
	require.NotSame(t, sess, resumed)

	view := resumed.View()
	assert.True(t, view.Restored)
	assert.Equal(t, "aisle 7", view.Notes)
	gotA, gotB := itemFor(view.Items, "A"), itemFor(view.Items, "B")
	assert.Equal(t, domain.ItemStatusPicked, gotA.Status)
	assert.Equal(t, 3, gotA.QuantityPicked)
	assert.Equal(t, domain.ItemStatusPending, gotB.Status)
	assert.Equal(t, 1, gotB.QuantityPicked, "pending items start from the ordered amount")

	summaries := f.picking.ActiveProgress()
	require.Len(t, summaries, 1)
	assert.Equal(t, sess.OrderID(), summaries[0].OrderID)
	assert.Equal(t, 2, summaries[0].ItemsCount)
}

func TestOpen_ReadOnlyRejectsMutations(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()
	order := submitOrder(t, f.orders, "u1", f.products, map[string]int{"A": 1})

	sess, err := f.picking.Open(ctx, order.ID, true)
	require.NoError(t, err)
	docID := sess.View().Items[0].DocID

	assert.ErrorIs(t, sess.Confirm(docID, 1), domain.ErrReadOnly)
	assert.ErrorIs(t, sess.Edit(docID), domain.ErrReadOnly)
	assert.ErrorIs(t, sess.SetNotes("x"), domain.ErrReadOnly)
	assert.False(t, sess.CanComplete())

	_, err = f.picking.Session(order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound, "read-only sessions are not registered")
}

func TestOpen_PickedOrderIsReadOnly(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()
	sess, items := f.open(t, map[string]int{"A": 1})
	require.NoError(t, sess.Confirm(items[0].DocID, 1))
	_, err := f.picking.Complete(ctx, sess.OrderID())
	require.NoError(t, err)

	again, err := f.picking.Open(ctx, sess.OrderID(), false)
	require.NoError(t, err)
	view := again.View()
	assert.True(t, view.ReadOnly)
	assert.True(t, view.Completed)
	assert.Equal(t, domain.ItemStatusPicked, view.Items[0].Status)
}

func TestOpen_MissingOrder(t *testing.T) {
	f := newPickFixture(t)
	_, err := f.picking.Open(context.Background(), "missing", false)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestPickSession_OnChange(t *testing.T) {
	f := newPickFixture(t)
	sess, items := f.open(t, map[string]int{"A": 1})

	calls := 0
	sess.OnChange(func() {
		calls++
		_ = sess.CanComplete()
	})
	require.NoError(t, sess.Confirm(items[0].DocID, 1))
	require.NoError(t, sess.SetNotes("n"))
	_, err := f.picking.Complete(context.Background(), sess.OrderID())
	require.NoError(t, err)

	// confirm, notes, begin, finish
	assert.Equal(t, 4, calls)
}

func TestCompletionOps(t *testing.T) {
	at := testNow
	ops, units := completionOps("o1", []SessionItem{
		{DocID: "i1", ProductID: "A", QuantityPicked: 8},
		{DocID: "i2", ProductID: "B", QuantityPicked: 0},
	}, "", at)

	assert.Equal(t, 8, units)
	require.Len(t, ops, 4)
	assert.Equal(t, port.OpUpdate, ops[0].Kind)
	assert.Equal(t, port.IncrementOp(port.Doc(collProducts, "A"), "stockQuantity", -8), ops[1])
	assert.Equal(t, port.OpUpdate, ops[2].Kind)
	assert.Equal(t, "orders/o1", ops[3].Ref.Path())
	assert.NotContains(t, ops[3].Data, "pickingNotes")
}

func TestOpen_ReloadsSessionAfterEdit(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()
	sess, items := f.open(t, map[string]int{"A": 2})
	require.NoError(t, sess.Confirm(items[0].DocID, 2))
	require.NoError(t, sess.SetNotes("aisle 4"))

	edit := cart.New(storage.NewMemoryLocalStore(), cart.WithOrderID(sess.OrderID()))
	_, err := f.orders.BeginEdit(ctx, sess.OrderID(), "u1", edit)
	require.NoError(t, err)
	edit.SetQuantity("B", 3)
	require.NoError(t, f.orders.SaveEdit(ctx, SaveEditRequest{
		OrderID: sess.OrderID(), UserID: "u1", Cart: edit, Products: f.products,
	}))

	reopened, err := f.picking.Open(ctx, sess.OrderID(), false)
	require.NoError(t, err)
	assert.NotSame(t, sess, reopened)

	view := reopened.View()
	require.Len(t, view.Items, 2)
	assert.False(t, view.CanComplete, "new items start pending")
	assert.Equal(t, "aisle 4", view.Notes, "saved notes survive the reload")

	for _, item := range view.Items {
		require.NoError(t, reopened.Confirm(item.DocID, item.QuantityPicked))
	}
	result, err := f.picking.Complete(ctx, sess.OrderID())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 98, stockOf(t, f.store, "A"))
	assert.Equal(t, 57, stockOf(t, f.store, "B"))
}

func TestOpen_KeepsSessionWhileOrderUnchanged(t *testing.T) {
	f := newPickFixture(t)
	sess, items := f.open(t, map[string]int{"A": 2})
	require.NoError(t, sess.Confirm(items[0].DocID, 1))

	again, err := f.picking.Open(context.Background(), sess.OrderID(), false)
	require.NoError(t, err)
	assert.Same(t, sess, again)
	assert.Equal(t, 1, again.View().Items[0].QuantityPicked)
}

func TestComplete_StaleSessionIsClosed(t *testing.T) {
	f := newPickFixture(t)
	ctx := context.Background()
	sess, items := f.open(t, map[string]int{"A": 2, "B": 1})
	for _, item := range items {
		require.NoError(t, sess.Confirm(item.DocID, item.QuantityPicked))
	}

	gone := itemFor(items, "B")
	require.NoError(t, f.store.Delete(ctx, itemsRef(sess.OrderID()).Doc(gone.DocID)))

	_, err := f.picking.Complete(ctx, sess.OrderID())
	require.ErrorIs(t, err, port.ErrNotFound)
	_, err = f.picking.Session(sess.OrderID())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound, "stale session must not be retried")

	reopened, err := f.picking.Open(ctx, sess.OrderID(), false)
	require.NoError(t, err)
	require.Len(t, reopened.View().Items, 1)
	assert.True(t, reopened.CanComplete(), "progress of the surviving item is restored")

	_, err = f.picking.Complete(ctx, sess.OrderID())
	require.NoError(t, err)
	assert.Equal(t, 98, stockOf(t, f.store, "A"))
	assert.Equal(t, 60, stockOf(t, f.store, "B"))
}
