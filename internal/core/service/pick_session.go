package service

import (
	"sync"
	"time"

	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/core/progress"
)

// SessionItem is the picker's working copy of one order item.
type SessionItem struct {
	DocID           string            `json:"docId"`
	ProductID       string            `json:"productId"`
	QuantityOrdered int               `json:"quantityOrdered"`
	OrderType       domain.OrderType  `json:"orderType"`
	PackagesOrdered *int              `json:"packagesOrdered"`
	PackageQuantity *int              `json:"packageQuantity"`
	QuantityPicked  int               `json:"quantityPicked"`
	Status          domain.ItemStatus `json:"status"`
}

type completionState int

const (
	completionIdle completionState = iota
	completionRunning
	completionDone
)

// SessionView is a point-in-time copy of a session for rendering.
type SessionView struct {
	Order       domain.Order  `json:"order"`
	OrderID     string        `json:"orderId"`
	Items       []SessionItem `json:"items"`
	Notes       string        `json:"notes"`
	ReadOnly    bool          `json:"readOnly"`
	Completing  bool          `json:"completing"`
	Completed   bool          `json:"completed"`
	CanComplete bool          `json:"canComplete"`
	Restored    bool          `json:"restored"`
}

// PickSession drives one order through picking. Items move
// pending -> picked on Confirm and back on Edit. Every transition is saved to
// the progress store. A read-only session projects stored state and rejects
// every mutation.
type PickSession struct {
	mu         sync.Mutex
	order      domain.Order
	items      []SessionItem
	index      map[string]int
	notes      string
	readOnly   bool
	completion completionState
	restored   bool
	progress   *progress.Store
	listeners  []func()
}

func NewPickSession(order domain.Order, items []domain.OrderItem, store *progress.Store, readOnly bool) *PickSession {
	s := &PickSession{
		order:    order,
		items:    make([]SessionItem, 0, len(items)),
		index:    make(map[string]int, len(items)),
		notes:    order.PickingNotes,
		readOnly: readOnly,
		progress: store,
	}
	for _, item := range items {
		status := domain.ItemStatusPending
		if item.Status == domain.ItemStatusPicked {
			status = domain.ItemStatusPicked
		}
		s.index[item.DocID] = len(s.items)
		s.items = append(s.items, SessionItem{
			DocID:           item.DocID,
			ProductID:       item.ProductID,
			QuantityOrdered: item.QuantityOrdered,
			OrderType:       item.OrderType,
			PackagesOrdered: item.PackagesOrdered,
			PackageQuantity: item.PackageQuantity,
			QuantityPicked:  item.PickedQuantity(),
			Status:          status,
		})
	}
	if order.Status == domain.OrderStatusPicked {
		s.completion = completionDone
	}
	return s
}

// matches reports whether the session was built from this stored state.
func (s *PickSession) matches(order domain.Order, items []domain.OrderItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.Status != s.order.Status || !order.UpdatedAt.Equal(s.order.UpdatedAt) || len(items) != len(s.items) {
		return false
	}
	for _, item := range items {
		i, ok := s.index[item.DocID]
		if !ok || s.items[i].ProductID != item.ProductID || s.items[i].QuantityOrdered != item.QuantityOrdered {
			return false
		}
	}
	return true
}

func (s *PickSession) committing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completion == completionRunning
}

// Restore applies saved progress: items saved as picked, and the notes.
// It reports whether anything was applied.
func (s *PickSession) Restore() bool {
	s.mu.Lock()
	if s.readOnly || s.completion != completionIdle || s.progress == nil {
		s.mu.Unlock()
		return false
	}
	saved, ok := s.progress.Load(s.order.ID)
	if !ok {
		s.mu.Unlock()
		return false
	}

	applied := false
	for docID, p := range saved.Items {
		i, found := s.index[docID]
		if !found || p.Status != domain.ItemStatusPicked {
			continue
		}
		s.items[i].QuantityPicked = p.QuantityPicked
		s.items[i].Status = domain.ItemStatusPicked
		applied = true
	}
	if saved.Notes != "" {
		s.notes = saved.Notes
		applied = true
	}
	s.restored = applied
	listeners := s.listenersLocked()
	s.mu.Unlock()

	if applied {
		notify(listeners)
	}
	return applied
}

func (s *PickSession) OrderID() string { return s.order.ID }

// OnChange registers fn to run after every state change.
func (s *PickSession) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Confirm marks a pending item picked with qty. qty may exceed the ordered
// amount but not be negative.
func (s *PickSession) Confirm(docID string, qty int) error {
	return s.transition(func() error {
		if qty < 0 {
			return domain.ErrInvalidQuantity
		}
		item, err := s.itemLocked(docID)
		if err != nil {
			return err
		}
		if item.Status != domain.ItemStatusPending {
			return domain.ErrInvalidTransition
		}
		item.QuantityPicked = qty
		item.Status = domain.ItemStatusPicked
		return nil
	})
}

// Edit returns a picked item to pending. Its quantity is kept for pre-filling.
func (s *PickSession) Edit(docID string) error {
	return s.transition(func() error {
		item, err := s.itemLocked(docID)
		if err != nil {
			return err
		}
		if item.Status != domain.ItemStatusPicked {
			return domain.ErrInvalidTransition
		}
		item.Status = domain.ItemStatusPending
		return nil
	})
}

func (s *PickSession) SetNotes(notes string) error {
	return s.transition(func() error {
		s.notes = notes
		return nil
	})
}

// CanComplete is true when the order has items and every one is picked.
func (s *PickSession) CanComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canCompleteLocked()
}

func (s *PickSession) canCompleteLocked() bool {
	if s.readOnly || s.completion != completionIdle || len(s.items) == 0 {
		return false
	}
	for _, item := range s.items {
		if item.Status != domain.ItemStatusPicked {
			return false
		}
	}
	return true
}

func (s *PickSession) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completion == completionDone
}

func (s *PickSession) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionView{
		Order:       s.order,
		OrderID:     s.order.ID,
		Items:       append([]SessionItem(nil), s.items...),
		Notes:       s.notes,
		ReadOnly:    s.readOnly,
		Completing:  s.completion == completionRunning,
		Completed:   s.completion == completionDone,
		CanComplete: s.canCompleteLocked(),
		Restored:    s.restored,
	}
}

// beginCompletion locks the session against edits and returns the items and
// trimmed notes to commit.
func (s *PickSession) beginCompletion() ([]SessionItem, string, error) {
	s.mu.Lock()
	if err := s.mutableLocked(); err != nil {
		s.mu.Unlock()
		return nil, "", err
	}
	if !s.canCompleteLocked() {
		s.mu.Unlock()
		return nil, "", domain.ErrNotCompletable
	}
	s.completion = completionRunning
	items := append([]SessionItem(nil), s.items...)
	notes := s.notes
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners)
	return items, notes, nil
}

// abortCompletion re-enables the session after a failed commit. Local state
// is left as it was.
func (s *PickSession) abortCompletion() {
	s.mu.Lock()
	if s.completion == completionRunning {
		s.completion = completionIdle
	}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners)
}

func (s *PickSession) finishCompletion(pickedAt time.Time, notes string) {
	s.mu.Lock()
	s.completion = completionDone
	s.order.Status = domain.OrderStatusPicked
	s.order.PickedAt = &pickedAt
	if notes != "" {
		s.order.PickingNotes = notes
	}
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners)
}

func (s *PickSession) transition(fn func() error) error {
	s.mu.Lock()
	if err := s.mutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.saveProgressLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	notify(listeners)
	return nil
}

func (s *PickSession) mutableLocked() error {
	switch {
	case s.readOnly:
		return domain.ErrReadOnly
	case s.completion == completionDone:
		return domain.ErrSessionCompleted
	case s.completion == completionRunning:
		return domain.ErrCompletionInProgress
	}
	return nil
}

func (s *PickSession) itemLocked(docID string) (*SessionItem, error) {
	i, ok := s.index[docID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	return &s.items[i], nil
}

func (s *PickSession) saveProgressLocked() {
	if s.progress == nil {
		return
	}
	items := make(map[string]domain.ItemProgress, len(s.items))
	for _, item := range s.items {
		items[item.DocID] = domain.ItemProgress{
			ProductID:      item.ProductID,
			QuantityPicked: item.QuantityPicked,
			Status:         item.Status,
		}
	}
	s.progress.Save(s.order.ID, items, s.notes)
}

func (s *PickSession) listenersLocked() []func() {
	return append([]func(){}, s.listeners...)
}

func notify(listeners []func()) {
	for _, fn := range listeners {
		fn()
	}
}
