package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
)

// StockStore keeps the stock ledger in postgres. Apply runs one transaction
// that locks the touched entries with SELECT ... FOR UPDATE in ref order.
type StockStore struct{ db *pgxpool.Pool }

func NewStockStore(db *pgxpool.Pool) *StockStore { return &StockStore{db: db} }

const movementColumns = `id, article_ref, kind, quantity, delta, reserved_delta,
	resulting_available, resulting_reserved, reason, order_id, COALESCE(idempotency_key, ''), created_at`

func (s *StockStore) Apply(ctx context.Context, ops ...domain.Operation) ([]domain.Movement, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	credited := make(map[string]bool, len(ops))
	for _, op := range ops {
		if op.Kind == domain.KindCredit {
			credited[op.ArticleRef] = true
		}
	}

	// known marks entries that existed before this batch or have been
	// credited within it; any other kind on an unknown article fails.
	entries := make(map[string]*domain.Entry, len(ops))
	known := make(map[string]bool, len(ops))
	for _, ref := range distinctRefs(ops) {
		e, err := lockEntry(ctx, tx, ref)
		switch {
		case errors.Is(err, domain.ErrNotFound) && credited[ref]:
			if _, err := tx.Exec(ctx, `INSERT INTO stock_entries (article_ref) VALUES ($1) ON CONFLICT DO NOTHING`, ref); err != nil {
				return nil, err
			}
			if e, err = lockEntry(ctx, tx, ref); err != nil {
				return nil, err
			}
			known[ref] = false
		case errors.Is(err, domain.ErrNotFound):
			continue
		case err != nil:
			return nil, err
		default:
			known[ref] = true
		}
		entries[ref] = e
	}

	seen, err := movementsByKey(ctx, tx, ops)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Movement, 0, len(ops))
	fresh := make([]domain.Movement, 0, len(ops))
	for _, op := range ops {
		if m, ok := seen[op.IdempotencyKey]; ok && op.IdempotencyKey != "" {
			out = append(out, m)
			continue
		}
		entry, ok := entries[op.ArticleRef]
		if !ok || (!known[op.ArticleRef] && op.Kind != domain.KindCredit) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, op.ArticleRef)
		}
		m, err := entry.Apply(op)
		if err != nil {
			return nil, err
		}
		known[op.ArticleRef] = true
		m.ID = id.New()
		if op.IdempotencyKey != "" {
			seen[op.IdempotencyKey] = m
		}
		out = append(out, m)
		fresh = append(fresh, m)
	}

	if len(fresh) == 0 {
		return out, nil
	}

	batch := &pgx.Batch{}
	for _, m := range fresh {
		var key any
		if m.IdempotencyKey != "" {
			key = m.IdempotencyKey
		}
		batch.Queue(`
      INSERT INTO stock_movements (id, article_ref, kind, quantity, delta, reserved_delta,
        resulting_available, resulting_reserved, reason, order_id, idempotency_key, created_at)
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    `, m.ID, m.ArticleRef, string(m.Kind), m.Quantity, m.Delta, m.ReservedDelta,
			m.ResultingAvailable, m.ResultingReserved, m.Reason, m.OrderID, key, m.CreatedAt)
	}
	for _, e := range entries {
		batch.Queue(`
      UPDATE stock_entries SET available = $2, reserved = $3, updated_at = $4
      WHERE article_ref = $1
    `, e.ArticleRef, e.Available, e.Reserved, e.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func lockEntry(ctx context.Context, tx pgx.Tx, ref string) (*domain.Entry, error) {
	e := &domain.Entry{}
	err := tx.QueryRow(ctx, `
    SELECT article_ref, available, reserved, updated_at
    FROM stock_entries WHERE article_ref = $1
    FOR UPDATE
  `, ref).Scan(&e.ArticleRef, &e.Available, &e.Reserved, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func movementsByKey(ctx context.Context, tx pgx.Tx, ops []domain.Operation) (map[string]domain.Movement, error) {
	keys := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.IdempotencyKey != "" {
			keys = append(keys, op.IdempotencyKey)
		}
	}
	out := make(map[string]domain.Movement, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	ms, err := queryMovements(ctx, tx, `WHERE idempotency_key = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		out[m.IdempotencyKey] = m
	}
	return out, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryMovements(ctx context.Context, q querier, where string, args ...any) ([]domain.Movement, error) {
	rows, err := q.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Movement
	for rows.Next() {
		var m domain.Movement
		var kind string
		if err := rows.Scan(&m.ID, &m.ArticleRef, &kind, &m.Quantity, &m.Delta, &m.ReservedDelta,
			&m.ResultingAvailable, &m.ResultingReserved, &m.Reason, &m.OrderID, &m.IdempotencyKey, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Kind = domain.Kind(kind)
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *StockStore) Entry(ctx context.Context, articleRef string) (*domain.Entry, error) {
	e := &domain.Entry{}
	err := s.db.QueryRow(ctx, `
    SELECT article_ref, available, reserved, updated_at
    FROM stock_entries WHERE article_ref = $1
  `, articleRef).Scan(&e.ArticleRef, &e.Available, &e.Reserved, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *StockStore) Movements(ctx context.Context, articleRef string) ([]domain.Movement, error) {
	return queryMovements(ctx, s.db, `WHERE article_ref = $1`, articleRef)
}

func (s *StockStore) MovementsByOrder(ctx context.Context, orderID string) ([]domain.Movement, error) {
	return queryMovements(ctx, s.db, `WHERE order_id = $1`, orderID)
}

func (s *StockStore) ReservationMovements(ctx context.Context) ([]domain.Movement, error) {
	return queryMovements(ctx, s.db, `WHERE order_id <> '' AND kind <> $1`, string(domain.KindCredit))
}

func (s *StockStore) Articles(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT article_ref FROM stock_entries ORDER BY article_ref`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func distinctRefs(ops []domain.Operation) []string {
	refs := make([]string, 0, len(ops))
	dup := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if _, ok := dup[op.ArticleRef]; ok {
			continue
		}
		dup[op.ArticleRef] = struct{}{}
		refs = append(refs, op.ArticleRef)
	}
	sort.Strings(refs)
	return refs
}
