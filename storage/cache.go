package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-api/domain"
	"todo-api/tasksync"
)

// Cache wraps a store with Redis-backed caching of per-user collection reads.
// Only owner-scoped selects in the default order are cached; every write
// moves the owner to a new cache generation.
type Cache struct {
	base  tasksync.Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base tasksync.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Select(ctx context.Context, table string, filters []domain.Filter, order domain.Order) ([]domain.Task, error) {
	userID, cacheable := collectionRead(filters, order)
	if !cacheable || c.redis == nil {
		return c.base.Select(ctx, table, filters, order)
	}
	gen, ok := c.generation(ctx, table, userID)
	if !ok {
		return c.base.Select(ctx, table, filters, order)
	}
	key := tasksCacheKey(table, userID, gen)
	if tasks, ok := c.load(ctx, key); ok {
		return tasks, nil
	}

	// A write landing during the fetch bumps the generation, so this listing
	// is stored under a key no later read will use.
	tasks, err := c.base.Select(ctx, table, filters, order)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, tasks)
	return tasks, nil
}

func (c *Cache) Insert(ctx context.Context, table string, record domain.TaskPatch) ([]domain.Task, error) {
	rows, err := c.base.Insert(ctx, table, record)
	if record.UserID != nil {
		c.evict(ctx, table, *record.UserID)
	}
	return rows, err
}

func (c *Cache) Update(ctx context.Context, table string, patch domain.TaskPatch, filters []domain.Filter) ([]domain.Task, error) {
	rows, err := c.base.Update(ctx, table, patch, filters)
	c.evictScope(ctx, table, filters)
	return rows, err
}

func (c *Cache) Delete(ctx context.Context, table string, filters []domain.Filter) error {
	err := c.base.Delete(ctx, table, filters)
	c.evictScope(ctx, table, filters)
	return err
}

// collectionRead reports whether the select is the plain owner listing.
func collectionRead(filters []domain.Filter, order domain.Order) (string, bool) {
	if len(filters) != 1 || filters[0].Column != domain.ColumnUserID || filters[0].Value == "" {
		return "", false
	}
	if order != domain.NewestFirst {
		return "", false
	}
	return filters[0].Value, true
}

func (c *Cache) load(ctx context.Context, key string) ([]domain.Task, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, key string, tasks []domain.Task) {
	if c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

// evictScope drops the owner's entry when the write is owner-scoped. Writes
// without an owner filter cannot be attributed, so nothing is evicted.
func (c *Cache) evictScope(ctx context.Context, table string, filters []domain.Filter) {
	if userID, ok := domain.FilterValue(filters, domain.ColumnUserID); ok {
		c.evict(ctx, table, userID)
	}
}

// evict bumps the owner's generation. Listings stored under older
// generations are never read again and expire with their TTL.
func (c *Cache) evict(ctx context.Context, table, userID string) {
	if c.redis == nil || userID == "" {
		return
	}
	key := generationKey(table, userID)
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, c.generationTTL())
		return nil
	})
}

// generation returns the owner's current cache generation. ok is false when
// redis cannot be read, in which case nothing is cached.
func (c *Cache) generation(ctx context.Context, table, userID string) (string, bool) {
	gen, err := c.redis.Get(ctx, generationKey(table, userID)).Result()
	switch {
	case err == redis.Nil:
		return "0", true
	case err != nil:
		return "", false
	}
	return gen, true
}

// generationTTL outlives every listing stored under an older generation.
func (c *Cache) generationTTL() time.Duration {
	if ttl := 2 * c.ttl; ttl > minGenerationTTL {
		return ttl
	}
	return minGenerationTTL
}

const minGenerationTTL = 24 * time.Hour

func generationKey(table, userID string) string {
	return "tasks:" + table + ":" + userID + ":gen"
}

func tasksCacheKey(table, userID, gen string) string {
	return "tasks:" + table + ":" + userID + ":" + gen
}
