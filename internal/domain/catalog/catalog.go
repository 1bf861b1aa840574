package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("catalog: article not found")

// Article is the sellable definition of a stock item. UnitPrice is the
// authoritative price; client-supplied prices are never trusted.
type Article struct {
	Ref         string          `json:"ref"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Weight      decimal.Decimal `json:"weight"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Active      bool            `json:"active"`
}

type Repository interface {
	// Lookup returns the requested articles keyed by ref. Missing refs are
	// absent from the map.
	Lookup(ctx context.Context, refs ...string) (map[string]Article, error)
	Upsert(ctx context.Context, a Article) error
}
