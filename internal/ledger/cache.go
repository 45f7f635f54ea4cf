package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/voice-ledger/internal/domain"
	"github.com/patrickmn/go-cache"
)

// DefaultReferenceTTL is how long entities and categories stay cached.
const DefaultReferenceTTL = 5 * time.Minute

const (
	entitiesKey   = "entities"
	categoriesKey = "categories"
)

// CachedRepository wraps a Repository and caches its reference data.
// Reference data is immutable during a capture session, so a short TTL is
// enough; writes do not touch entities or categories.
type CachedRepository struct {
	Repository
	cache *cache.Cache
}

// WithReferenceCache wraps repo with a TTL cache for ListEntities and
// ListCategories.
func WithReferenceCache(repo Repository, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = DefaultReferenceTTL
	}
	return &CachedRepository{
		Repository: repo,
		cache:      cache.New(ttl, 2*ttl),
	}
}

func (r *CachedRepository) ListEntities(ctx context.Context) ([]domain.Entity, error) {
	if cached, found := r.cache.Get(entitiesKey); found {
		return append([]domain.Entity(nil), cached.([]domain.Entity)...), nil
	}

	entities, err := r.Repository.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListEntities: %w", err)
	}
	r.cache.Set(entitiesKey, entities, cache.DefaultExpiration)
	return append([]domain.Entity(nil), entities...), nil
}

func (r *CachedRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	if cached, found := r.cache.Get(categoriesKey); found {
		return append([]domain.Category(nil), cached.([]domain.Category)...), nil
	}

	categories, err := r.Repository.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}
	r.cache.Set(categoriesKey, categories, cache.DefaultExpiration)
	return append([]domain.Category(nil), categories...), nil
}

// Invalidate drops cached reference data.
func (r *CachedRepository) Invalidate() {
	r.cache.Flush()
}
