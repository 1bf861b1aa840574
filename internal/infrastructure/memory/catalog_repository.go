package memory

import (
	"context"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
)

type CatalogRepository struct {
	mu       sync.RWMutex
	articles map[string]domain.Article
}

func NewCatalogRepository(seed ...domain.Article) *CatalogRepository {
	r := &CatalogRepository{articles: make(map[string]domain.Article, len(seed))}
	for _, a := range seed {
		r.articles[a.Ref] = a
	}
	return r
}

func (r *CatalogRepository) Lookup(ctx context.Context, refs ...string) (map[string]domain.Article, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.Article, len(refs))
	for _, ref := range refs {
		if a, ok := r.articles[ref]; ok {
			out[ref] = a
		}
	}
	return out, nil
}

func (r *CatalogRepository) Upsert(ctx context.Context, a domain.Article) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	r.articles[a.Ref] = a
	return nil
}
