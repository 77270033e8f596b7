// Package rediscache wraps a websearch.Provider with a Redis-backed result
// cache. Repeated questions within the TTL skip the upstream search.
//
// Cache failures never fail a search: a broken Redis degrades to calling the
// wrapped provider directly.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stephen37/voice-assistant/pkg/provider/websearch"
)

const (
	// DefaultTTL is how long results are kept.
	DefaultTTL = 6 * time.Hour

	defaultPrefix = "voice-assistant:websearch:"
)

var _ websearch.Provider = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the expiry of cached results.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// Cache is a caching decorator around a websearch.Provider.
type Cache struct {
	next   websearch.Provider
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// New wraps next with a cache stored in rdb.
func New(next websearch.Provider, rdb redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{next: next, rdb: rdb, ttl: DefaultTTL, prefix: defaultPrefix}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewClient returns a client for the Redis server at addr. It connects
// lazily and redials after failures, so a server that is down at startup
// only degrades the cache.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// Search returns cached results when present and otherwise delegates to the
// wrapped provider, caching non-empty results.
func (c *Cache) Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error) {
	key := c.key(query, maxResults)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []websearch.Result
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			slog.Debug("websearch cache hit", "query", query)
			return cached, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("websearch cache read failed", "err", err)
	}

	results, err := c.next.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return results, nil
	}

	if payload, err := json.Marshal(results); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			slog.Warn("websearch cache write failed", "err", err)
		}
	}
	return results, nil
}

// Ping checks the Redis connection. It is used as a readiness check.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) key(query string, maxResults int) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(norm + "\x00" + strconv.Itoa(maxResults)))
	return c.prefix + hex.EncodeToString(sum[:16])
}
