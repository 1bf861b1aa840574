package inventory

import "context"

// Store persists stock entries and their movement log.
//
// Apply must apply every operation or none of them, writing each quantity
// change together with its movement. Operations touching the same article are
// serialized.
type Store interface {
	Apply(ctx context.Context, ops ...Operation) ([]Movement, error)
	Entry(ctx context.Context, articleRef string) (*Entry, error)
	Movements(ctx context.Context, articleRef string) ([]Movement, error)
	MovementsByOrder(ctx context.Context, orderID string) ([]Movement, error)
	// ReservationMovements lists reserve, release and debit movements that
	// reference an order, for the audit sweep.
	ReservationMovements(ctx context.Context) ([]Movement, error)
	Articles(ctx context.Context) ([]string, error)
}
