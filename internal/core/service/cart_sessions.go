package service

import (
	"sync"
	"time"

	"github.com/rl1809/stock-orders/internal/core/cart"
	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/port"
)

// CartSessions owns one create cart per user and one edit cart per
// (user, order). Each cart persists under its own local storage key.
type CartSessions struct {
	mu         sync.Mutex
	local      port.LocalStore
	store      port.DocumentStore
	draftDelay time.Duration
	carts      map[string]*cart.Cart
	drafts     map[string]*DraftAutosaver
	opts       options
	optList    []Option
}

// NewCartSessions builds the registry. With a non-nil store every create
// cart gets a DraftAutosaver.
func NewCartSessions(local port.LocalStore, store port.DocumentStore, draftDelay time.Duration, opts ...Option) *CartSessions {
	return &CartSessions{
		local:      local,
		store:      store,
		draftDelay: draftDelay,
		carts:      make(map[string]*cart.Cart),
		drafts:     make(map[string]*DraftAutosaver),
		opts:       newOptions(opts),
		optList:    opts,
	}
}

func createKey(userID string) string {
	return cart.CreateStorageKey + ":" + userID
}

func editKey(userID, orderID string) string {
	return cart.EditStorageKey + ":" + userID + ":" + orderID
}

// Cart returns the user's create cart, restoring its snapshot on first use.
func (s *CartSessions) Cart(userID string) *cart.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := createKey(userID)
	if c, ok := s.carts[key]; ok {
		return c
	}
	c := cart.New(s.local,
		cart.WithStorageKey(key),
		cart.WithLogger(s.opts.logger),
		cart.WithClock(s.opts.now),
	)
	c.Load()
	s.carts[key] = c

	if s.store != nil {
		s.drafts[key] = NewDraftAutosaver(s.store, c, domain.User{ID: userID}, s.draftDelay, s.optList...)
	}
	return c
}

// Draft returns the autosaver of the user's create cart, if any.
func (s *CartSessions) Draft(userID string) *DraftAutosaver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[createKey(userID)]
}

// EditCart returns the cart bound to orderID for the user, restoring its
// snapshot on first use. Without a snapshot it starts empty and
// OrderService.BeginEdit fills it.
func (s *CartSessions) EditCart(userID, orderID string) *cart.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := editKey(userID, orderID)
	if c, ok := s.carts[key]; ok {
		return c
	}
	c := cart.New(s.local,
		cart.WithOrderID(orderID),
		cart.WithStorageKey(key),
		cart.WithLogger(s.opts.logger),
		cart.WithClock(s.opts.now),
	)
	c.Load()
	s.carts[key] = c
	return c
}

// ReleaseEdit forgets an edit cart after it was saved or abandoned.
func (s *CartSessions) ReleaseEdit(userID, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, editKey(userID, orderID))
}
