package completion

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/zeebo/blake3"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/logger"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/ports"
)

// DefaultCacheTTL is how long a cached completion is reused.
const DefaultCacheTTL = 10 * time.Minute

const cacheKeyPrefix = "helix:completion:"

// Cached serves repeated prompts from Redis. Errors are never cached, and a
// Redis outage only costs the cache: calls go straight to the inner service.
type Cached struct {
	inner     ports.TextCompletionService
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
}

// CacheOption configures Cached.
type CacheOption func(*Cached)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cached) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithNamespace separates entries of different models sharing one Redis.
func WithNamespace(ns string) CacheOption {
	return func(c *Cached) {
		c.namespace = ns
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *Cached) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCached wraps inner with a cache in client.
func NewCached(inner ports.TextCompletionService, client *redis.Client, opts ...CacheOption) *Cached {
	c := &Cached{
		inner:  inner,
		client: client,
		ttl:    DefaultCacheTTL,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cached) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	key := c.key(prompt, maxTokens)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		c.logger.Debug("completion cache hit", "key", key)
		return cached, nil
	case errors.Is(err, redis.Nil):
		// miss
	default:
		c.logger.Warn("completion cache unavailable", "error", err)
	}

	out, err := c.inner.Complete(ctx, prompt, maxTokens)
	if err != nil {
		return "", err
	}

	if err := c.client.Set(ctx, key, out, c.ttl).Err(); err != nil {
		c.logger.Warn("completion cache write failed", "error", err)
	}
	return out, nil
}

func (c *Cached) key(prompt string, maxTokens int) string {
	h := blake3.New()
	fmt.Fprintf(h, "%s\x00%d\x00", c.namespace, maxTokens)
	h.Write([]byte(prompt))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil)[:16])
}

var _ ports.TextCompletionService = (*Cached)(nil)
