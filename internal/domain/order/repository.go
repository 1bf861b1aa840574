package order

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	FindByIntentID(ctx context.Context, intentID string) (*Order, error)
	// Update stores o if o.Version matches the stored version, then bumps
	// o.Version. A stale version yields ErrConflict.
	Update(ctx context.Context, o *Order) error
	// ListByStatus returns orders in status last updated before olderThan.
	ListByStatus(ctx context.Context, status Status, olderThan time.Time) ([]*Order, error)
	// ListUnsettled returns orders still owing a settlement, last updated
	// before olderThan.
	ListUnsettled(ctx context.Context, olderThan time.Time) ([]*Order, error)
}

// NumberGenerator hands out human-readable order numbers (YYYYMMDD-NNNNNN).
type NumberGenerator interface {
	Next(ctx context.Context, at time.Time) (string, error)
}
