package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/wellsgz/pingmon/internal/stats"
)

// DefaultMaxLen keeps 24 hours of samples at a 5 second probe interval.
const DefaultMaxLen = 86400 / 5

var (
	// ErrNotFound is returned when a cache entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks connection-level store failures.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the time-series and key-value service the monitor runs against.
// Streams are append-only and ordered by submission.
type Store interface {
	// Append adds one sample to the end of the stream and returns its entry ID
	Append(ctx context.Context, key string, s stats.Sample) (string, error)

	// Trim keeps only the most recent maxLen entries of the stream
	Trim(ctx context.Context, key string, maxLen int64) error

	// Range returns samples from fromMs to the newest, oldest first
	Range(ctx context.Context, key string, fromMs int64) ([]stats.Sample, error)

	// SetCache overwrites a cached blob
	SetCache(ctx context.Context, key string, value []byte) error

	// GetCache returns a cached blob or ErrNotFound
	GetCache(ctx context.Context, key string) ([]byte, error)

	// Scan lists keys matching a glob pattern
	Scan(ctx context.Context, pattern string) ([]string, error)

	// ListRange returns every element of a list
	ListRange(ctx context.Context, key string) ([]string, error)

	// Ping checks connectivity
	Ping(ctx context.Context) error

	// Close releases store resources
	Close() error
}

// StreamKey returns the sample stream key for a target.
func StreamKey(prefix, id string) string {
	return fmt.Sprintf("%s:stream:%s", prefix, id)
}

// CacheKey returns the aggregate cache key for a target.
func CacheKey(prefix, id string) string {
	return fmt.Sprintf("%s:cache:%s", prefix, id)
}

// IsUnavailable reports whether err means the store itself cannot be reached,
// as opposed to a failure of a single command.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Open returns the store selected by url: "memory://" for the in-process
// store, anything else is parsed as a Redis URL.
func Open(url string) (Store, error) {
	if IsMemoryURL(url) {
		return NewMemoryStore(), nil
	}
	return NewRedisStore(url)
}
