package atlas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis operations used by the AI strategy layer: consumer
// group reads on the inbound stream, appends to outbound streams, and artifact
// hashes. The client is safe for concurrent use.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a client from explicit connection options.
func NewClient(redisOpts *redis.Options) *Client {
	return &Client{rdb: redis.NewClient(redisOpts)}
}

// NewClientFromURL creates a client from a redis:// or rediss:// URL.
func NewClientFromURL(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return NewClient(opts), nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Used by the health check.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// RedisClient exposes the underlying go-redis client for components that need
// plain key/value commands, such as the response cache.
func (c *Client) RedisClient() *redis.Client {
	return c.rdb
}

// EnsureGroup creates the consumer group (and the stream, if missing) starting
// from the beginning of the stream. An existing group is not an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup reads up to count new entries for the consumer, blocking for at
// most block. A timeout with no entries returns (nil, nil).
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream %s: %w", stream, err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

// Ack acknowledges entries for the group, removing them from the pending list.
func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack %v on %s: %w", ids, stream, err)
	}
	return nil
}

// Reclaim transfers entries that have been pending longer than minIdle to the
// given consumer and returns them. At most count entries are returned.
func (c *Client) Reclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]redis.XMessage, error) {
	var claimed []redis.XMessage
	start := "0-0"

	for int64(len(claimed)) < count {
		messages, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    start,
			Count:    count - int64(len(claimed)),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to reclaim entries on %s: %w", stream, err)
		}

		claimed = append(claimed, messages...)
		if next == "" || next == "0-0" {
			break
		}
		start = next
	}

	return claimed, nil
}

// PendingDeliveries returns the delivery count of each pending entry ID.
// IDs that are no longer pending are absent from the result.
func (c *Client) PendingDeliveries(ctx context.Context, stream, group string, ids ...string) (map[string]int64, error) {
	counts := make(map[string]int64, len(ids))
	for _, id := range ids {
		pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  group,
			Start:  id,
			End:    id,
			Count:  1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read pending entry %s: %w", id, err)
		}
		for _, p := range pending {
			counts[p.ID] = p.RetryCount
		}
	}
	return counts, nil
}

// AddToStream appends an entry, trimming the stream to approximately maxLen
// entries when maxLen is positive. Returns the new entry ID.
func (c *Client) AddToStream(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return id, nil
}

// RecentEntries returns up to count entries from stream, newest first.
func (c *Client) RecentEntries(ctx context.Context, stream string, count int64) ([]redis.XMessage, error) {
	messages, err := c.rdb.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}
	return messages, nil
}

// ReadAfter returns up to count entries newer than afterID, blocking for at
// most block when there are none. Use "0-0" to read from the start.
func (c *Client) ReadAfter(ctx context.Context, stream, afterID string, count int64, block time.Duration) ([]redis.XMessage, error) {
	streams, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, afterID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream %s: %w", stream, err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

// ScanArtifactIDs returns the IDs of stored artifacts starting with prefix.
func (c *Client) ScanArtifactIDs(ctx context.Context, prefix string) ([]string, error) {
	keyPrefix := ArtifactKey("")
	var ids []string

	iter := c.rdb.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan artifacts: %w", err)
	}
	return ids, nil
}

// WriteArtifact stores the artifact hash at atlas:ai:artifact:{id}. A positive
// ttl bounds retention.
func (c *Client) WriteArtifact(ctx context.Context, a *Artifact, ttl time.Duration) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid artifact: %w", err)
	}

	hash, err := ArtifactToHash(a)
	if err != nil {
		return fmt.Errorf("failed to serialize artifact: %w", err)
	}

	key := ArtifactKey(a.ID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, hash)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write artifact to Redis: %w", err)
	}
	return nil
}

// GetArtifact retrieves an artifact by ID.
// Returns (nil, redis.Nil) if the artifact doesn't exist; use IsNotFound.
func (c *Client) GetArtifact(ctx context.Context, artifactID string) (*Artifact, error) {
	hashData, err := c.rdb.HGetAll(ctx, ArtifactKey(artifactID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	artifact, err := HashToArtifact(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize artifact: %w", err)
	}
	return artifact, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
