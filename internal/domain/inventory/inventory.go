package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound             = errors.New("inventory: article not found")
	ErrInvalidQuantity      = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock    = errors.New("inventory: insufficient stock")
	ErrInsufficientReserved = errors.New("inventory: reserved quantity too small")
	ErrUnknownKind          = errors.New("inventory: unknown movement kind")
)

// InsufficientStockError tells the caller which article failed and how many units are left.
type InsufficientStockError struct {
	ArticleRef string
	Requested  int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s: requested %d, available %d", e.ArticleRef, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Entry is the sellable quantity of one article.
type Entry struct {
	ArticleRef string
	Available  int
	Reserved   int
	UpdatedAt  time.Time
}

func NewEntry(articleRef string) *Entry {
	return &Entry{ArticleRef: articleRef, UpdatedAt: time.Now().UTC()}
}

// Apply mutates the entry for op and returns the movement describing it.
// On error the entry is left untouched.
func (e *Entry) Apply(op Operation) (Movement, error) {
	if op.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	var delta, reservedDelta int
	switch op.Kind {
	case KindReserve:
		if e.Available < op.Quantity {
			return Movement{}, &InsufficientStockError{ArticleRef: e.ArticleRef, Requested: op.Quantity, Available: e.Available}
		}
		delta, reservedDelta = -op.Quantity, op.Quantity
	case KindRelease:
		if e.Reserved < op.Quantity {
			return Movement{}, fmt.Errorf("%w: %s has %d reserved, release of %d", ErrInsufficientReserved, e.ArticleRef, e.Reserved, op.Quantity)
		}
		delta, reservedDelta = op.Quantity, -op.Quantity
	case KindDebit:
		if e.Reserved < op.Quantity {
			return Movement{}, fmt.Errorf("%w: %s has %d reserved, debit of %d", ErrInsufficientReserved, e.ArticleRef, e.Reserved, op.Quantity)
		}
		reservedDelta = -op.Quantity
	case KindCredit:
		delta = op.Quantity
	default:
		return Movement{}, fmt.Errorf("%w: %q", ErrUnknownKind, op.Kind)
	}

	now := time.Now().UTC()
	e.Available += delta
	e.Reserved += reservedDelta
	e.UpdatedAt = now

	return Movement{
		ArticleRef:         e.ArticleRef,
		Kind:               op.Kind,
		Quantity:           op.Quantity,
		Delta:              delta,
		ReservedDelta:      reservedDelta,
		ResultingAvailable: e.Available,
		ResultingReserved:  e.Reserved,
		Reason:             op.Reason,
		OrderID:            op.OrderID,
		IdempotencyKey:     op.IdempotencyKey,
		CreatedAt:          now,
	}, nil
}

func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
