package order

import (
	"context"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

type IDGenerator interface {
	NewID() string
}

// StockLedger is the slice of the inventory ledger the orchestrator drives.
type StockLedger interface {
	Reserve(ctx context.Context, orderID string, lines map[string]int) ([]dominv.Movement, error)
	Release(ctx context.Context, orderID string, lines map[string]int, reason string) ([]dominv.Movement, error)
	Debit(ctx context.Context, orderID string, lines map[string]int) ([]dominv.Movement, error)
	Credit(ctx context.Context, orderID string, lines map[string]int, reason string) ([]dominv.Movement, error)
	OpenReservations(ctx context.Context, olderThan time.Time) (map[string]map[string]int, error)
}
