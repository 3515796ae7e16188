package preference

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/dukerupert/herald/internal/model"
	"github.com/dukerupert/herald/internal/store"
)

// missing marks a cached ErrNotFound so defaults are not re-queried.
type missing struct{}

// CachedStore keeps per-type lookups in a TTL cache. Writes through it
// evict the affected entries.
type CachedStore struct {
	next  Store
	cache *cache.Cache
	// writes counts UpsertMany calls. A fill that raced a write is evicted.
	writes atomic.Uint64
}

func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func cacheKey(userID string, t model.NotificationType) string {
	return userID + "|" + string(t)
}

func (c *CachedStore) Get(ctx context.Context, userID string, t model.NotificationType) (*model.TypePreference, error) {
	key := cacheKey(userID, t)
	if v, found := c.cache.Get(key); found {
		if _, ok := v.(missing); ok {
			return nil, store.ErrNotFound
		}
		pref := v.(model.TypePreference)
		return &pref, nil
	}

	seen := c.writes.Load()
	pref, err := c.next.Get(ctx, userID, t)
	if errors.Is(err, store.ErrNotFound) {
		c.fill(key, missing{}, seen)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	c.fill(key, *pref, seen)
	return pref, nil
}

// fill caches v unless a write landed after seen. Set comes before the
// check; UpsertMany bumps writes before it deletes.
func (c *CachedStore) fill(key string, v any, seen uint64) {
	c.cache.Set(key, v, cache.DefaultExpiration)
	if c.writes.Load() != seen {
		c.cache.Delete(key)
	}
}

func (c *CachedStore) List(ctx context.Context, userID string) (map[model.NotificationType]model.TypePreference, error) {
	return c.next.List(ctx, userID)
}

func (c *CachedStore) UpsertMany(ctx context.Context, userID string, prefs map[model.NotificationType]model.TypePreference) error {
	err := c.next.UpsertMany(ctx, userID, prefs)
	c.writes.Add(1)
	for t := range prefs {
		c.cache.Delete(cacheKey(userID, t))
	}
	return err
}
