package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
)

type OrderRepository struct{ db *pgxpool.Pool }

func NewOrderRepository(db *pgxpool.Pool) *OrderRepository { return &OrderRepository{db: db} }

const orderColumns = `id, number, status, buyer, billing_address, shipping_address,
	lines, pricing, history, payments, pending, version, created_at, updated_at`

// orderRow is the column encoding of an order. Nested values are JSONB.
type orderRow struct {
	ID, Number, Status                string
	Buyer, Billing, Shipping          []byte
	Lines, Pricing, History, Payments []byte
	// Pending is NULL while the order owes nothing.
	Pending              []byte
	Version              int
	CreatedAt, UpdatedAt time.Time
}

func encodeOrder(o *domain.Order) (orderRow, error) {
	row := orderRow{
		ID:        o.ID,
		Number:    o.Number,
		Status:    string(o.Status),
		Version:   o.Version,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	payments := o.Payments
	if payments == nil {
		payments = []payment.Record{}
	}
	var err error
	for _, f := range []struct {
		dst *[]byte
		v   any
	}{
		{&row.Buyer, o.Buyer},
		{&row.Billing, o.BillingAddress},
		{&row.Shipping, o.ShippingAddress},
		{&row.Lines, o.Lines},
		{&row.Pricing, o.Pricing},
		{&row.History, o.History},
		{&row.Payments, payments},
	} {
		if *f.dst, err = json.Marshal(f.v); err != nil {
			return orderRow{}, fmt.Errorf("order repository: encode %s: %w", o.ID, err)
		}
	}
	if o.Pending != nil {
		if row.Pending, err = json.Marshal(o.Pending); err != nil {
			return orderRow{}, fmt.Errorf("order repository: encode %s: %w", o.ID, err)
		}
	}
	return row, nil
}

func decodeOrder(row orderRow) (*domain.Order, error) {
	o := &domain.Order{
		ID:        row.ID,
		Number:    row.Number,
		Status:    domain.Status(row.Status),
		Version:   row.Version,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	for _, f := range []struct {
		src []byte
		dst any
	}{
		{row.Buyer, &o.Buyer},
		{row.Billing, &o.BillingAddress},
		{row.Shipping, &o.ShippingAddress},
		{row.Lines, &o.Lines},
		{row.Pricing, &o.Pricing},
		{row.History, &o.History},
		{row.Payments, &o.Payments},
	} {
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("order repository: decode %s: %w", row.ID, err)
		}
	}
	if len(row.Pending) > 0 {
		o.Pending = &domain.Settlement{}
		if err := json.Unmarshal(row.Pending, o.Pending); err != nil {
			return nil, fmt.Errorf("order repository: decode %s: %w", row.ID, err)
		}
	}
	return o, nil
}

func scanOrder(r pgx.Row) (*domain.Order, error) {
	var row orderRow
	err := r.Scan(&row.ID, &row.Number, &row.Status, &row.Buyer, &row.Billing, &row.Shipping,
		&row.Lines, &row.Pricing, &row.History, &row.Payments, &row.Pending, &row.Version, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeOrder(row)
}

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	row, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
    INSERT INTO orders (`+orderColumns+`)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,$12,$13)
  `, row.ID, row.Number, row.Status, row.Buyer, row.Billing, row.Shipping,
		row.Lines, row.Pricing, row.History, row.Payments, row.Pending, row.CreatedAt, row.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return err
	}
	o.Version = 1
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE number = $1`, number))
}

func (r *OrderRepository) FindByIntentID(ctx context.Context, intentID string) (*domain.Order, error) {
	if intentID == "" {
		return nil, domain.ErrNotFound
	}
	filter, err := json.Marshal([]map[string]string{{"intent_id": intentID}})
	if err != nil {
		return nil, err
	}
	return scanOrder(r.db.QueryRow(ctx, `
    SELECT `+orderColumns+` FROM orders
    WHERE payments @> $1::jsonb
    ORDER BY created_at DESC LIMIT 1
  `, filter))
}

func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	row, err := encodeOrder(o)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
    UPDATE orders
    SET status = $3, buyer = $4, billing_address = $5, shipping_address = $6,
        lines = $7, pricing = $8, history = $9, payments = $10, pending = $11,
        updated_at = $12, version = version + 1
    WHERE id = $1 AND version = $2
  `, row.ID, row.Version, row.Status, row.Buyer, row.Billing, row.Shipping,
		row.Lines, row.Pricing, row.History, row.Payments, row.Pending, row.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	o.Version++
	return nil
}

func (r *OrderRepository) ListByStatus(ctx context.Context, status domain.Status, olderThan time.Time) ([]*domain.Order, error) {
	rows, err := r.db.Query(ctx, `
    SELECT `+orderColumns+` FROM orders
    WHERE status = $1 AND updated_at < $2
    ORDER BY created_at
  `, string(status), olderThan)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (r *OrderRepository) ListUnsettled(ctx context.Context, olderThan time.Time) ([]*domain.Order, error) {
	rows, err := r.db.Query(ctx, `
    SELECT `+orderColumns+` FROM orders
    WHERE pending IS NOT NULL AND updated_at < $1
    ORDER BY updated_at
  `, olderThan)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]*domain.Order, error) {
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// NumberGenerator hands out order numbers from a per-day counter row.
type NumberGenerator struct{ db *pgxpool.Pool }

func NewNumberGenerator(db *pgxpool.Pool) *NumberGenerator { return &NumberGenerator{db: db} }

func (g *NumberGenerator) Next(ctx context.Context, at time.Time) (string, error) {
	day := at.UTC().Truncate(24 * time.Hour)
	var seq int64
	err := g.db.QueryRow(ctx, `
    INSERT INTO order_number_counters (day, seq) VALUES ($1, 1)
    ON CONFLICT (day) DO UPDATE SET seq = order_number_counters.seq + 1
    RETURNING seq
  `, day).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("order numbers: %w", err)
	}
	return id.FormatNumber(at, seq), nil
}
