package repository

import (
	"context"
	"time"

	domrepo "TriggerHub/internal/domain/repository"
	"TriggerHub/pkg/cache"
)

// CacheIdempotencyStore implements IdempotencyStore on the cache service.
// TryLock is SetNX under the hood, which is exactly the mark-once we need;
// the mark expires with the TTL so the keyspace stays bounded.
type CacheIdempotencyStore struct {
	cache  cache.Service
	prefix string
}

func NewCacheIdempotencyStore(c cache.Service) *CacheIdempotencyStore {
	return &CacheIdempotencyStore{cache: c, prefix: "delivery:"}
}

func (s *CacheIdempotencyStore) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.cache.TryLock(ctx, s.prefix+key, ttl)
}

var _ domrepo.IdempotencyStore = (*CacheIdempotencyStore)(nil)
