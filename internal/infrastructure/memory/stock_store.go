package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
)

// StockStore keeps entries and their movement log in process. Writers lock
// the touched articles in ref order, so batches on disjoint articles run in
// parallel and overlapping batches cannot deadlock.
type StockStore struct {
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu        sync.RWMutex
	entries   map[string]*domain.Entry
	movements []domain.Movement
	byKey     map[string]domain.Movement
}

func NewStockStore() *StockStore {
	return &StockStore{
		locks:   make(map[string]*sync.Mutex),
		entries: make(map[string]*domain.Entry),
		byKey:   make(map[string]domain.Movement),
	}
}

func (s *StockStore) Apply(ctx context.Context, ops ...domain.Operation) ([]domain.Movement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}

	unlock := s.lockArticles(ops)
	defer unlock()

	s.mu.RLock()
	work := make(map[string]*domain.Entry, len(ops))
	for _, op := range ops {
		if e, ok := s.entries[op.ArticleRef]; ok {
			work[op.ArticleRef] = e.Clone()
		}
	}
	seen := make(map[string]domain.Movement)
	for _, op := range ops {
		if m, ok := s.byKey[op.IdempotencyKey]; ok && op.IdempotencyKey != "" {
			seen[op.IdempotencyKey] = m
		}
	}
	s.mu.RUnlock()

	out := make([]domain.Movement, 0, len(ops))
	fresh := make([]domain.Movement, 0, len(ops))
	for _, op := range ops {
		if op.IdempotencyKey != "" {
			if m, ok := seen[op.IdempotencyKey]; ok {
				out = append(out, m)
				continue
			}
		}
		entry, ok := work[op.ArticleRef]
		if !ok {
			if op.Kind != domain.KindCredit {
				return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, op.ArticleRef)
			}
			entry = domain.NewEntry(op.ArticleRef)
			work[op.ArticleRef] = entry
		}
		m, err := entry.Apply(op)
		if err != nil {
			return nil, err
		}
		m.ID = id.New()
		if op.IdempotencyKey != "" {
			seen[op.IdempotencyKey] = m
		}
		out = append(out, m)
		fresh = append(fresh, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, e := range work {
		s.entries[ref] = e
	}
	for _, m := range fresh {
		s.movements = append(s.movements, m)
		if m.IdempotencyKey != "" {
			s.byKey[m.IdempotencyKey] = m
		}
	}
	return out, nil
}

func (s *StockStore) Entry(ctx context.Context, articleRef string) (*domain.Entry, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[articleRef]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *StockStore) Movements(ctx context.Context, articleRef string) ([]domain.Movement, error) {
	return s.filter(ctx, func(m domain.Movement) bool { return m.ArticleRef == articleRef }), nil
}

func (s *StockStore) MovementsByOrder(ctx context.Context, orderID string) ([]domain.Movement, error) {
	return s.filter(ctx, func(m domain.Movement) bool { return m.OrderID == orderID }), nil
}

func (s *StockStore) ReservationMovements(ctx context.Context) ([]domain.Movement, error) {
	return s.filter(ctx, func(m domain.Movement) bool {
		return m.OrderID != "" && m.Kind != domain.KindCredit
	}), nil
}

func (s *StockStore) Articles(ctx context.Context) ([]string, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make([]string, 0, len(s.entries))
	for ref := range s.entries {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs, nil
}

func (s *StockStore) filter(ctx context.Context, keep func(domain.Movement) bool) []domain.Movement {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Movement
	for _, m := range s.movements {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func (s *StockStore) lockArticles(ops []domain.Operation) func() {
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

	s.locksMu.Lock()
	held := make([]*sync.Mutex, 0, len(refs))
	for _, ref := range refs {
		l, ok := s.locks[ref]
		if !ok {
			l = &sync.Mutex{}
			s.locks[ref] = l
		}
		held = append(held, l)
	}
	s.locksMu.Unlock()

	for _, l := range held {
		l.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
