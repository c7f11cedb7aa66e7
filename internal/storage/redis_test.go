package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wellsgz/pingmon/internal/stats"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client), mr, client
}

func TestRedisStoreAppendRange(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestRedis(t)
	key := StreamKey("monitor", "a")

	now := time.Now().UnixMilli()
	want := []stats.Sample{
		{Timestamp: now, LatencyMs: 10.5},
		{Timestamp: now + 5000, LatencyMs: stats.Ceiling},
		{Timestamp: now + 10000, LatencyMs: 0.042},
	}
	for _, sample := range want {
		id, err := s.Append(ctx, key, sample)
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if id == "" {
			t.Fatal("Append() returned empty entry id")
		}
	}

	got, err := s.Range(ctx, key, time.Now().Add(-time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Range() returned %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRedisStoreTrim(t *testing.T) {
	ctx := context.Background()
	s, _, client := newTestRedis(t)
	key := StreamKey("monitor", "a")

	for i := 0; i < 50; i++ {
		if _, err := s.Append(ctx, key, stats.Sample{Timestamp: int64(i), LatencyMs: 1}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if err := s.Trim(ctx, key, 20); err != nil {
			t.Fatalf("Trim() error = %v", err)
		}
	}

	n, err := client.XLen(ctx, key).Result()
	if err != nil {
		t.Fatalf("XLen() error = %v", err)
	}
	if n != 20 {
		t.Fatalf("stream length = %d, want 20", n)
	}

	samples, err := s.Range(ctx, key, 0)
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if samples[0].Timestamp != 30 || samples[len(samples)-1].Timestamp != 49 {
		t.Errorf("retained %d..%d, want 30..49", samples[0].Timestamp, samples[len(samples)-1].Timestamp)
	}
}

func TestRedisStoreMalformedEntries(t *testing.T) {
	ctx := context.Background()
	s, _, client := newTestRedis(t)
	key := StreamKey("monitor", "a")

	entries := [][]interface{}{
		{"ts", "1000"},
		{"ms", "12.5"},
		{"ts", "bad", "ms", "bad"},
		{"ts", "2000", "ms", "7"},
		{"ts", "3000", "ms", "-Inf"},
		{"ts", "4000", "ms", "+Inf"},
		{"ts", "5000", "ms", "NaN"},
		{"ts", "6000", "ms", "-3"},
	}
	for _, values := range entries {
		if err := client.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: values}).Err(); err != nil {
			t.Fatalf("XAdd() error = %v", err)
		}
	}

	got, err := s.Range(ctx, key, 0)
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	want := []stats.Sample{
		{Timestamp: 1000, LatencyMs: stats.Ceiling},
		{Timestamp: 0, LatencyMs: 12.5},
		{Timestamp: 0, LatencyMs: stats.Ceiling},
		{Timestamp: 2000, LatencyMs: 7},
		{Timestamp: 3000, LatencyMs: stats.Ceiling},
		{Timestamp: 4000, LatencyMs: stats.Ceiling},
		{Timestamp: 5000, LatencyMs: stats.Ceiling},
		{Timestamp: 6000, LatencyMs: stats.Ceiling},
	}
	if len(got) != len(want) {
		t.Fatalf("Range() returned %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRedisStoreCache(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestRedis(t)
	key := CacheKey("monitor", "a")

	if _, err := s.GetCache(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCache() error = %v, want ErrNotFound", err)
	}

	payload := []byte(`{"id":"a","address":"127.0.0.1"}`)
	if err := s.SetCache(ctx, key, payload); err != nil {
		t.Fatalf("SetCache() error = %v", err)
	}
	got, err := s.GetCache(ctx, key)
	if err != nil {
		t.Fatalf("GetCache() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("GetCache() = %s, want %s", got, payload)
	}
}

func TestRedisStoreScanListRange(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newTestRedis(t)

	mr.RPush("monitor:targets:internet", `{"id":"g","address":"8.8.8.8","prefix":"internet"}`, "garbage")
	mr.RPush("monitor:targets:iot", `{"id":"p","address":"10.0.0.2","prefix":"iot"}`)
	mr.Set("monitor:other", "x")

	keys, err := s.Scan(ctx, "monitor:targets:*")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Scan() = %v, want 2 keys", keys)
	}

	items, err := s.ListRange(ctx, "monitor:targets:internet")
	if err != nil {
		t.Fatalf("ListRange() error = %v", err)
	}
	if len(items) != 2 || items[1] != "garbage" {
		t.Errorf("ListRange() = %v", items)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newTestRedis(t)

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	mr.Close()

	err := s.Ping(ctx)
	if !IsUnavailable(err) {
		t.Errorf("Ping() after server close error = %v, want unavailable", err)
	}
	_, err = s.Append(ctx, StreamKey("monitor", "a"), stats.Sample{Timestamp: 1, LatencyMs: 1})
	if !IsUnavailable(err) {
		t.Errorf("Append() after server close error = %v, want unavailable", err)
	}
}

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", ErrNotFound, false},
		{"plain", errors.New("WRONGTYPE"), false},
		{"sentinel", ErrUnavailable, true},
		{"closed client", redis.ErrClosed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnavailable(tt.err); got != tt.want {
				t.Errorf("IsUnavailable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
