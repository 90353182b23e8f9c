package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-orders/internal/adapter/storage"
	"github.com/rl1809/stock-orders/internal/core/cart"
	"github.com/rl1809/stock-orders/internal/core/domain"
)

func TestCartSessions_PerUserCartsPersist(t *testing.T) {
	local := storage.NewMemoryLocalStore()
	sessions := NewCartSessions(local, nil, 0)

	alice := sessions.Cart("alice")
	alice.Add("A", 2)
	sessions.Cart("bob").Add("B", 1)

	assert.Same(t, alice, sessions.Cart("alice"))
	assert.Equal(t, 0, alice.Quantity("B"))
	assert.Nil(t, sessions.Draft("alice"), "no store, no drafts")

	restarted := NewCartSessions(local, nil, 0)
	assert.Equal(t, 2, restarted.Cart("alice").Quantity("A"))
	assert.Equal(t, 1, restarted.Cart("bob").Quantity("B"))
}

func TestCartSessions_EditCartsAreBound(t *testing.T) {
	local := storage.NewMemoryLocalStore()
	sessions := NewCartSessions(local, storage.NewMemoryStore(), time.Hour)

	edit := sessions.EditCart("alice", "o1")
	assert.Equal(t, "o1", edit.OrderID())
	assert.NotEqual(t, sessions.Cart("alice").StorageKey(), edit.StorageKey())
	require.NotNil(t, sessions.Draft("alice"))

	sessions.ReleaseEdit("alice", "o1")
	assert.NotSame(t, edit, sessions.EditCart("alice", "o1"))
}

func TestCartSessions_EditCartSurvivesRestart(t *testing.T) {
	local := storage.NewMemoryLocalStore()
	before := NewCartSessions(local, nil, 0)
	before.EditCart("alice", "o1").LoadFromOrderItems([]domain.OrderItem{
		{ProductID: "A", QuantityOrdered: 5, OrderType: domain.OrderTypeUnit},
		{ProductID: "B", QuantityOrdered: 2, OrderType: domain.OrderTypeUnit},
	})

	after := NewCartSessions(local, nil, 0)
	edit := after.EditCart("alice", "o1")
	edit.Add("C", 1)

	assert.Equal(t, []cart.Line{
		{ProductID: "A", Quantity: 5},
		{ProductID: "B", Quantity: 2},
		{ProductID: "C", Quantity: 1},
	}, edit.Items())

	reloaded := NewCartSessions(local, nil, 0).EditCart("alice", "o1")
	assert.Equal(t, 3, reloaded.ItemCount(), "the snapshot keeps every line")
	assert.Equal(t, 0, NewCartSessions(local, nil, 0).EditCart("alice", "o2").ItemCount())
}
