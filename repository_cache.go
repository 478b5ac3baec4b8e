package tcc

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 1000
	defaultCacheTTL  = 120 * time.Second
)

// CachingRepository decorates a Repository with a bounded, expiring read
// cache keyed by Xid.  The cache holds private copies, so callers never
// share a record with it.
type CachingRepository struct {
	backend Repository
	cache   *expirable.LRU[Xid, *Transaction]
}

// NewCachingRepository wraps backend with a cache.  Zero values select a
// capacity of 1000 entries and a 120 second time-to-live.
func NewCachingRepository(backend Repository, size int, ttl time.Duration) *CachingRepository {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachingRepository{
		backend: backend,
		cache:   expirable.NewLRU[Xid, *Transaction](size, nil, ttl),
	}
}

// Backend returns the decorated repository.
func (r *CachingRepository) Backend() Repository {
	return r.backend
}

func (r *CachingRepository) put(tx *Transaction) {
	r.cache.Add(tx.xid, tx.Clone())
}

// Create implements Repository.
func (r *CachingRepository) Create(ctx context.Context, tx *Transaction) error {
	if err := r.backend.Create(ctx, tx); err != nil {
		return err
	}
	r.put(tx)
	return nil
}

// Update implements Repository.  Any failure evicts the cached entry so
// that the next read goes to the backend.
func (r *CachingRepository) Update(ctx context.Context, tx *Transaction) error {
	if err := r.backend.Update(ctx, tx); err != nil {
		r.cache.Remove(tx.xid)
		return err
	}
	r.put(tx)
	return nil
}

// Delete implements Repository.
func (r *CachingRepository) Delete(ctx context.Context, tx *Transaction) error {
	r.cache.Remove(tx.xid)
	return r.backend.Delete(ctx, tx)
}

// FindByXid implements Repository.
func (r *CachingRepository) FindByXid(ctx context.Context, xid Xid) (*Transaction, error) {
	if cached, ok := r.cache.Get(xid); ok {
		// Re-adding restarts the entry's time-to-live.
		r.cache.Add(xid, cached)
		return cached.Clone(), nil
	}

	tx, err := r.backend.FindByXid(ctx, xid)
	if err != nil {
		return nil, err
	}
	r.put(tx)
	return tx, nil
}

// FindAllUnmodifiedSince implements Repository.  The scan always reads
// the backend and refreshes the cache with what it finds.
func (r *CachingRepository) FindAllUnmodifiedSince(ctx context.Context, since time.Time) ([]*Transaction, error) {
	txs, err := r.backend.FindAllUnmodifiedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		r.put(tx)
	}
	return txs, nil
}

// CachedLen returns the number of live cache entries.
func (r *CachingRepository) CachedLen() int {
	return r.cache.Len()
}
