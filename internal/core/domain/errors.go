package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidQuantity      = errors.New("quantity cannot be negative")
	ErrNotEditable          = errors.New("only the creator can edit this order")
	ErrInvalidState         = errors.New("only pending orders can be edited")
	ErrOrderNotFound        = errors.New("order not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrProductExists        = errors.New("product already exists")
	ErrItemNotFound         = errors.New("order item not found")
	ErrInvalidTransition    = errors.New("invalid item transition")
	ErrNotCompletable       = errors.New("all items must be picked before completing")
	ErrCompletionInProgress = errors.New("picking completion already in progress")
	ErrReadOnly             = errors.New("order is read-only")
	ErrSessionCompleted     = errors.New("picking already completed")
)

// StockWarning is advisory: the requested quantity exceeds known stock.
// It never blocks a cart write.
type StockWarning struct {
	ProductID   string
	Requested   int
	Available   int
	PackageMode bool
}

func (w *StockWarning) Error() string {
	unit := "units"
	if w.PackageMode {
		unit = "packages"
	}
	return fmt.Sprintf("requested %d %s of %s exceeds available stock (%d)", w.Requested, unit, w.ProductID, w.Available)
}

// PersistenceError reports a local-storage failure. It is logged, never surfaced.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("local storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RemoteError wraps a failed document-store call. Its message is the
// underlying error verbatim so it can be shown to the user as is.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string { return e.Err.Error() }

func (e *RemoteError) Unwrap() error { return e.Err }

func NewRemoteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}
