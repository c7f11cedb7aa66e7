package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/wellsgz/pingmon/internal/stats"
)

// scanCount is the COUNT hint passed to SCAN
const scanCount = 100

// RedisStore implements Store on Redis streams, strings and lists
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis server described by url,
// e.g. "redis://127.0.0.1:6379/0". The connection itself is lazy.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Append adds a sample as XADD key * ts <ms> ms <latency>
func (s *RedisStore) Append(ctx context.Context, key string, sample stats.Sample) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		ID:     "*",
		Values: []interface{}{
			"ts", strconv.FormatInt(sample.Timestamp, 10),
			"ms", strconv.FormatFloat(sample.LatencyMs, 'f', -1, 64),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", key, err)
	}
	return id, nil
}

// Trim runs XTRIM key MAXLEN maxLen
func (s *RedisStore) Trim(ctx context.Context, key string, maxLen int64) error {
	if err := s.client.XTrimMaxLen(ctx, key, maxLen).Err(); err != nil {
		return fmt.Errorf("xtrim %s: %w", key, err)
	}
	return nil
}

// Range runs XRANGE key fromMs +. Stream entry IDs carry the insertion time
// in milliseconds, so the bound applies to insertion time.
func (s *RedisStore) Range(ctx context.Context, key string, fromMs int64) ([]stats.Sample, error) {
	msgs, err := s.client.XRange(ctx, key, strconv.FormatInt(fromMs, 10), "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", key, err)
	}

	samples := make([]stats.Sample, 0, len(msgs))
	for _, msg := range msgs {
		samples = append(samples, decodeSample(msg.Values))
	}
	return samples, nil
}

// decodeSample reads the ts/ms fields of a stream entry. Missing or
// unparseable fields fall back to ts=0 and ms=Ceiling, as does a latency
// that is negative or not finite.
func decodeSample(values map[string]interface{}) stats.Sample {
	sample := stats.Sample{LatencyMs: stats.Ceiling}

	if raw, ok := values["ts"].(string); ok {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			sample.Timestamp = ts
		}
	}
	if raw, ok := values["ms"].(string); ok {
		if ms, err := strconv.ParseFloat(raw, 64); err == nil && ms >= 0 && !math.IsInf(ms, 1) {
			sample.LatencyMs = ms
		}
	}
	return sample
}

// SetCache overwrites key with value
func (s *RedisStore) SetCache(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetCache returns the value stored at key
func (s *RedisStore) GetCache(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Scan iterates SCAN MATCH pattern until the cursor returns to zero
func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}

// ListRange runs LRANGE key 0 -1
func (s *RedisStore) ListRange(ctx context.Context, key string) ([]string, error) {
	items, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return items, nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the client and its pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}
