package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-orders/internal/adapter/storage"
	"github.com/rl1809/stock-orders/internal/core/cart"
	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/port"
)

func TestDraftAutosaver_FlushCreatesThenUpdates(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	c := cart.New(storage.NewMemoryLocalStore())
	d := NewDraftAutosaver(store, c, domain.User{ID: "u1", FullName: "Dana"}, time.Hour)

	require.NoError(t, d.Flush(ctx))
	assert.Empty(t, d.DraftID(), "empty carts are not drafted")

	c.Add("A", 2)
	require.NoError(t, d.Flush(ctx))
	id := d.DraftID()
	require.NotEmpty(t, id)

	c.Add("B", 1)
	require.NoError(t, d.Flush(ctx))
	assert.Equal(t, id, d.DraftID(), "later saves reuse the draft document")

	doc, err := store.Get(ctx, ordersRef(id))
	require.NoError(t, err)
	var draft domain.Order
	require.NoError(t, doc.Decode(&draft))
	assert.Equal(t, domain.OrderStatusDraft, draft.Status)
	assert.Equal(t, "u1", draft.CreatedBy)
	assert.Equal(t, "Dana", draft.CreatedByName)
	assert.Equal(t, []domain.DraftLine{{ProductID: "A", Quantity: 2}, {ProductID: "B", Quantity: 1}}, draft.Items)
}

func TestDraftAutosaver_DebouncesCartChanges(t *testing.T) {
	store := storage.NewMemoryStore()
	c := cart.New(storage.NewMemoryLocalStore())
	d := NewDraftAutosaver(store, c, domain.User{ID: "u1"}, 10*time.Millisecond)

	c.Add("A", 1)
	c.Add("A", 1)
	c.Add("A", 1)

	require.Eventually(t, func() bool { return d.DraftID() != "" }, time.Second, 5*time.Millisecond)

	docs, err := store.GetAll(context.Background(), port.Query{Collection: port.Collection(collOrders)})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDraftAutosaver_DiscardedOnSubmit(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	c := cart.New(storage.NewMemoryLocalStore())
	d := NewDraftAutosaver(store, c, domain.User{ID: "u1"}, time.Hour)
	svc := NewOrderService(store, nil, nil)

	c.Add("A", 1)
	require.NoError(t, d.Flush(ctx))
	draftID := d.DraftID()

	order, err := svc.Submit(ctx, SubmitRequest{UserID: "u1", Cart: c, Draft: d})
	require.NoError(t, err)

	_, err = store.Get(ctx, ordersRef(draftID))
	assert.ErrorIs(t, err, port.ErrNotFound)
	assert.Empty(t, d.DraftID())

	docs, err := store.GetAll(ctx, port.Query{Collection: port.Collection(collOrders)})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, order.ID, docs[0].Ref.ID)
}

func TestDraftAutosaver_EditCartsAreNotDrafted(t *testing.T) {
	store := storage.NewMemoryStore()
	c := cart.New(storage.NewMemoryLocalStore(), cart.WithOrderID("o1"))
	d := NewDraftAutosaver(store, c, domain.User{ID: "u1"}, time.Millisecond)

	c.Add("A", 1)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, d.DraftID())
}
