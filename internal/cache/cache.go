// Package cache stores LLM responses keyed by a fingerprint of everything that
// influences generation, so redelivered events do not pay for a second call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Matza-labs/atlas-ai/internal/llm"
	"github.com/Matza-labs/atlas-ai/pkg/atlas"
)

// Cache is a response store. Get reports a miss as (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (*llm.Response, bool, error)
	Put(ctx context.Context, key string, resp *llm.Response) error
}

// FingerprintInput is everything that determines a generation.
type FingerprintInput struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
	Prompt      *atlas.Prompt
}

// Fingerprint returns the hex sha256 of the generation inputs. Fields are
// length-prefixed so no two distinct inputs share an encoding.
func Fingerprint(in FingerprintInput) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}

	write(in.Provider)
	write(in.Model)
	write(strconv.Itoa(in.MaxTokens))
	write(strconv.FormatFloat(in.Temperature, 'g', -1, 64))
	if in.Prompt != nil {
		write(string(in.Prompt.Kind))
		write(in.Prompt.System)
		write(in.Prompt.User)
		for _, id := range in.Prompt.EvidenceIDs {
			write(id)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RedisCache stores responses as JSON strings at atlas:ai:cache:{fingerprint}.
type RedisCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisCache creates a cache expiring entries after ttl (0 keeps them).
func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*llm.Response, bool, error) {
	data, err := c.rdb.Get(ctx, atlas.CacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var resp llm.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &resp, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, resp *llm.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, atlas.CacheKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

type memoryEntry struct {
	resp    llm.Response
	expires time.Time
}

// MemoryCache is a process-local cache used when no Redis is available.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryCache creates an in-memory cache expiring entries after ttl
// (0 keeps them).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*llm.Response, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		delete(c.items, key)
		return nil, false, nil
	}
	resp := entry.resp
	return &resp, true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, resp *llm.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{resp: *resp}
	if c.ttl > 0 {
		entry.expires = c.now().Add(c.ttl)
	}
	c.items[key] = entry
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
