package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
)

type CatalogRepository struct{ db *pgxpool.Pool }

func NewCatalogRepository(db *pgxpool.Pool) *CatalogRepository { return &CatalogRepository{db: db} }

func (r *CatalogRepository) Lookup(ctx context.Context, refs ...string) (map[string]domain.Article, error) {
	out := make(map[string]domain.Article, len(refs))
	if len(refs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
    SELECT ref, name, description, category, weight::text, unit_price::text, active
    FROM articles WHERE ref = ANY($1)
  `, refs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.Article
		var weight, price string
		if err := rows.Scan(&a.Ref, &a.Name, &a.Description, &a.Category, &weight, &price, &a.Active); err != nil {
			return nil, err
		}
		if a.Weight, err = decimal.NewFromString(weight); err != nil {
			return nil, err
		}
		if a.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out[a.Ref] = a
	}
	return out, rows.Err()
}

func (r *CatalogRepository) Upsert(ctx context.Context, a domain.Article) error {
	_, err := r.db.Exec(ctx, `
    INSERT INTO articles (ref, name, description, category, weight, unit_price, active, updated_at)
    VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric,$7,NOW())
    ON CONFLICT (ref) DO UPDATE SET
      name = EXCLUDED.name, description = EXCLUDED.description, category = EXCLUDED.category,
      weight = EXCLUDED.weight, unit_price = EXCLUDED.unit_price, active = EXCLUDED.active,
      updated_at = NOW()
  `, a.Ref, a.Name, a.Description, a.Category, a.Weight.String(), a.UnitPrice.String(), a.Active)
	return err
}
