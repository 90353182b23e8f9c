package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/core/progress"
	"github.com/rl1809/stock-orders/internal/port"
)

const (
	DefaultCommitTimeout = 15 * time.Second
	DefaultGuardTTL      = 30 * time.Second

	guardKeyPrefix = "pick:"
)

type PickingConfig struct {
	// CommitTimeout bounds the completion batch. Zero disables the timeout.
	CommitTimeout time.Duration
	GuardTTL      time.Duration
}

// CompletionResult is what the completion callback reports to the picker.
type CompletionResult struct {
	OrderID  string     `json:"orderId"`
	Success  bool       `json:"success"`
	Message  string     `json:"message"`
	PickedAt *time.Time `json:"pickedAt,omitempty"`
}

// PickingService keeps the open pick sessions and commits completed ones.
type PickingService struct {
	store    port.DocumentStore
	guard    port.GuardRepository
	events   port.EventPublisher
	progress *progress.Store
	cfg      PickingConfig
	opts     options

	mu       sync.Mutex
	sessions map[string]*PickSession
}

// NewPickingService wires picking. guard and events may be nil.
func NewPickingService(store port.DocumentStore, guard port.GuardRepository, events port.EventPublisher, progressStore *progress.Store, cfg PickingConfig, opts ...Option) *PickingService {
	if cfg.GuardTTL <= 0 {
		cfg.GuardTTL = DefaultGuardTTL
	}
	return &PickingService{
		store:    store,
		guard:    guard,
		events:   events,
		progress: progressStore,
		cfg:      cfg,
		opts:     newOptions(opts),
		sessions: make(map[string]*PickSession),
	}
}

// Open loads an order for picking. Editable sessions are kept open and
// resumed from saved progress; read-only ones are built fresh on each call.
// A kept session is rebuilt when the stored order changed under it, for
// example after an edit replaced its items.
func (s *PickingService) Open(ctx context.Context, orderID string, readOnly bool) (*PickSession, error) {
	var cached *PickSession
	if !readOnly {
		s.mu.Lock()
		cached = s.sessions[orderID]
		s.mu.Unlock()
		if cached != nil && cached.committing() {
			return cached, nil
		}
	}

	order, items, err := loadOrder(ctx, s.store, orderID)
	if err != nil {
		if cached != nil && errors.Is(err, domain.ErrOrderNotFound) {
			s.drop(orderID, cached)
		}
		return nil, err
	}
	if cached != nil && cached.matches(order, items) {
		return cached, nil
	}
	if order.Status == domain.OrderStatusPicked {
		readOnly = true
	}

	sess := NewPickSession(order, items, s.progress, readOnly)
	if readOnly {
		if cached != nil {
			s.drop(orderID, cached)
		}
		return sess, nil
	}
	if sess.Restore() {
		s.opts.logger.Info("picking progress restored", "order_id", orderID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[orderID]; ok && existing != cached {
		return existing, nil
	}
	if cached != nil {
		s.opts.logger.Info("picking session reloaded", "order_id", orderID, "items", len(items))
	}
	s.sessions[orderID] = sess
	s.setActiveGauge()
	return sess, nil
}

// Session returns an open editable session.
func (s *PickingService) Session(orderID string) (*PickSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[orderID]
	if !ok {
		return nil, fmt.Errorf("no open picking session for %s: %w", orderID, domain.ErrOrderNotFound)
	}
	return sess, nil
}

// Close drops the session. Saved progress is kept.
func (s *PickingService) Close(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, orderID)
	s.setActiveGauge()
}

// drop closes the session only if it is still the one registered for orderID.
func (s *PickingService) drop(orderID string, sess *PickSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[orderID] == sess {
		delete(s.sessions, orderID)
		s.setActiveGauge()
	}
}

// dropIfStale closes sess when the stored order no longer matches it, so
// the next Open rebuilds it from the database.
func (s *PickingService) dropIfStale(ctx context.Context, orderID string, sess *PickSession) {
	order, items, err := loadOrder(ctx, s.store, orderID)
	if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		return
	}
	if err == nil && sess.matches(order, items) {
		return
	}
	s.opts.logger.Warn("picking session is stale, closing it", "order_id", orderID)
	s.drop(orderID, sess)
}

// ActiveProgress lists orders with saved, uncommitted picking progress.
func (s *PickingService) ActiveProgress() []domain.ProgressSummary {
	if s.progress == nil {
		return nil
	}
	return s.progress.ListActive()
}

// Complete commits a fully picked order in one batch: every item gets its
// picked quantity, every product stock is decremented relative to its
// stored value, and the order becomes picked. On failure nothing is written
// and the session can be completed again.
func (s *PickingService) Complete(ctx context.Context, orderID string) (CompletionResult, error) {
	result := CompletionResult{OrderID: orderID}

	sess, err := s.Session(orderID)
	if err != nil {
		result.Message = err.Error()
		return result, err
	}

	ctx, span := s.opts.tracer.Start(ctx, "PickingService.Complete")
	defer span.End()

	items, notes, err := sess.beginCompletion()
	if err != nil {
		result.Message = err.Error()
		return result, err
	}

	release, err := s.acquire(ctx, orderID)
	if err != nil {
		sess.abortCompletion()
		recordError(span, err)
		result.Message = err.Error()
		return result, err
	}
	defer release()

	pickedAt := s.opts.timestamp()
	notes = strings.TrimSpace(notes)
	ops, units := completionOps(orderID, items, notes, pickedAt)

	commitCtx := ctx
	if s.cfg.CommitTimeout > 0 {
		var cancel context.CancelFunc
		commitCtx, cancel = context.WithTimeout(ctx, s.cfg.CommitTimeout)
		defer cancel()
	}

	start := time.Now()
	err = s.store.Batch(commitCtx, ops)
	if s.opts.metrics != nil {
		s.opts.metrics.CommitLatencySec.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(commitCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("picking commit timed out after %s, retry manually: %w", s.cfg.CommitTimeout, err)
		}
		stale := errors.Is(err, port.ErrNotFound)
		err = domain.NewRemoteError("complete picking", err)
		sess.abortCompletion()
		if stale {
			s.dropIfStale(ctx, orderID, sess)
		}
		recordError(span, err)
		if s.opts.metrics != nil {
			s.opts.metrics.CommitFailures.Inc()
		}
		s.opts.logger.Error("complete picking failed", "order_id", orderID, "error", err)
		result.Message = err.Error()
		return result, err
	}

	sess.finishCompletion(pickedAt, notes)
	if s.progress != nil {
		s.progress.Clear(orderID)
	}
	s.Close(orderID)

	if s.opts.metrics != nil {
		s.opts.metrics.PicksCompleted.Inc()
		s.opts.metrics.ItemsConfirmed.Add(float64(len(items)))
		s.opts.metrics.UnitsDecremented.Add(float64(units))
	}
	s.opts.logger.Info("picking completed", "order_id", orderID, "items", len(items), "units", units)

	lines := make([]domain.EventLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.EventLine{ProductID: item.ProductID, Quantity: item.QuantityPicked})
	}
	view := sess.View()
	s.opts.publish(ctx, s.events, domain.OrderEvent{
		Type:       domain.EventOrderPicked,
		OrderID:    orderID,
		DisplayID:  view.Order.DisplayID,
		UserID:     view.Order.CreatedBy,
		Lines:      lines,
		OccurredAt: pickedAt,
	})

	result.Success = true
	result.Message = "picking completed and stock updated"
	result.PickedAt = &pickedAt
	return result, nil
}

func completionOps(orderID string, items []SessionItem, notes string, pickedAt time.Time) ([]port.BatchOp, int) {
	ops := make([]port.BatchOp, 0, 2*len(items)+1)
	units := 0
	for _, item := range items {
		ops = append(ops, port.UpdateOp(itemsRef(orderID).Doc(item.DocID), map[string]any{
			"quantityPicked": item.QuantityPicked,
			"status":         domain.ItemStatusPicked,
		}))
		if item.ProductID != "" && item.QuantityPicked != 0 {
			ops = append(ops, port.IncrementOp(port.Doc(collProducts, item.ProductID), "stockQuantity", -int64(item.QuantityPicked)))
			units += item.QuantityPicked
		}
	}

	orderUpdate := map[string]any{
		"status":   domain.OrderStatusPicked,
		"pickedAt": pickedAt,
	}
	if notes != "" {
		orderUpdate["pickingNotes"] = notes
	}
	return append(ops, port.UpdateOp(ordersRef(orderID), orderUpdate)), units
}

// acquire takes the completion guard for the order. The returned func
// releases it.
func (s *PickingService) acquire(ctx context.Context, orderID string) (func(), error) {
	if s.guard == nil {
		return func() {}, nil
	}
	key, token := guardKeyPrefix+orderID, uuid.NewString()
	ok, err := s.guard.AcquireGuard(ctx, key, token, s.cfg.GuardTTL)
	if err != nil {
		return nil, domain.NewRemoteError("acquire completion guard", err)
	}
	if !ok {
		return nil, domain.ErrCompletionInProgress
	}
	return func() {
		if err := s.guard.ReleaseGuard(context.WithoutCancel(ctx), key, token); err != nil {
			s.opts.logger.Warn("release completion guard failed", "order_id", orderID, "error", err)
		}
	}, nil
}

func (s *PickingService) setActiveGauge() {
	if s.opts.metrics != nil {
		s.opts.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
}
