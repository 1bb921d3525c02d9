package webhooks

import (
	"context"
	"sync"
	"time"

	"eventhub/internal/pkg/clock"
	"eventhub/internal/platform/models"
)

type cachedKey struct {
	key      *models.APIKey
	cachedAt time.Time
}

// KeyCache keeps recent hash lookups in memory so the ingress path skips
// the database on repeat callers. Misses are not cached.
type KeyCache struct {
	next  KeyStore
	clock clock.Clock
	ttl   time.Duration
	store sync.Map // map[key_hash]*cachedKey
}

func NewKeyCache(next KeyStore, clk clock.Clock, ttl time.Duration) *KeyCache {
	return &KeyCache{next: next, clock: clk, ttl: ttl}
}

func (c *KeyCache) GetActiveByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	if val, ok := c.store.Load(hash); ok {
		entry := val.(*cachedKey)
		if c.clock.Now().Sub(entry.cachedAt) <= c.ttl {
			return entry.key, nil
		}
		c.store.Delete(hash)
	}

	key, err := c.next.GetActiveByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.store.Store(hash, &cachedKey{key: key, cachedAt: c.clock.Now()})
	return key, nil
}

func (c *KeyCache) UpdateLastUsed(ctx context.Context, id string, at int64) error {
	return c.next.UpdateLastUsed(ctx, id, at)
}

// Invalidate drops every entry. Admin changes call it so edits, rotations
// and deletions apply to the next request.
func (c *KeyCache) Invalidate() {
	c.store.Range(func(k, _ interface{}) bool {
		c.store.Delete(k)
		return true
	})
}
