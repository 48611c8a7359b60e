package evidence

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps ranked collections hot across repeated queries. A nil *Cache
// is valid and does nothing, so the aggregator never branches on whether
// Redis is configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(addr string, db int, ttl time.Duration) *Cache {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// Get returns a cached collection. Any Redis failure is a miss.
func (c *Cache) Get(ctx context.Context, key string) (Collection, bool) {
	if c == nil {
		return Collection{}, false
	}
	raw, err := c.client.Get(ctx, "evidence:"+key).Result()
	if err != nil {
		// Infrastructure failures count as a miss, same as redis.Nil.
		return Collection{}, false
	}
	var col Collection
	if err := json.Unmarshal([]byte(raw), &col); err != nil {
		return Collection{}, false
	}
	return col, true
}

// Put stores a collection, best effort.
func (c *Cache) Put(ctx context.Context, key string, col Collection) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(col)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, "evidence:"+key, raw, c.ttl).Err()
}

// CacheKey is stable for the same query and kind set regardless of kind
// order.
func CacheKey(query string, kinds []SourceKind) string {
	ks := make([]string, 0, len(kinds))
	for _, k := range kinds {
		ks = append(ks, string(k))
	}
	sort.Strings(ks)
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s", strings.ToLower(strings.TrimSpace(query)), strings.Join(ks, ","))))
	return hex.EncodeToString(sum[:])[:16]
}
