package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/wellsgz/pingmon/internal/stats"
	"github.com/wellsgz/pingmon/internal/storage"
	"github.com/wellsgz/pingmon/internal/target"
)

var (
	testNow    = time.UnixMilli(1_700_000_000_000)
	testTarget = target.Target{ID: "a", Address: "127.0.0.1", Prefix: "monitor"}
)

// samplesAt places one sample per latency, stepSeconds apart, ending
// endAgo before now
func samplesAt(now time.Time, endAgo time.Duration, stepSeconds int, latencies ...float64) []stats.Sample {
	out := make([]stats.Sample, len(latencies))
	for i, ms := range latencies {
		back := endAgo + time.Duration((len(latencies)-1-i)*stepSeconds)*time.Second
		out[i] = stats.Sample{Timestamp: now.Add(-back).UnixMilli(), LatencyMs: ms}
	}
	return out
}

func TestBuildViewConsecutiveProbes(t *testing.T) {
	samples := samplesAt(testNow, 5*time.Second, 5, 10, 12, 11, 13, 9)
	view := BuildView(testTarget, samples, testNow, DefaultHistoryBuckets, DefaultBucketWidth)

	want := stats.StatVector{0, 9, 13, 11, 2.25}
	for _, w := range Windows {
		if got := view.Stats[w.Label]; got != want {
			t.Errorf("Stats[%q] = %v, want %v", w.Label, got, want)
		}
	}
	if view.ID != "a" || view.Address != "127.0.0.1" {
		t.Errorf("view identity = %q/%q", view.ID, view.Address)
	}
	if got := view.History[DefaultHistoryBuckets-1]; got != want {
		t.Errorf("newest history entry = %v, want %v", got, want)
	}
	for i := 0; i < DefaultHistoryBuckets-1; i++ {
		if view.History[i] != (stats.StatVector{}) {
			t.Errorf("History[%d] = %v, want zero", i, view.History[i])
		}
	}
}

func TestBuildViewTimeouts(t *testing.T) {
	samples := samplesAt(testNow, time.Second, 5, stats.Ceiling, 20, stats.Ceiling)
	view := BuildView(testTarget, samples, testNow, DefaultHistoryBuckets, DefaultBucketWidth)

	want := stats.StatVector{66.67, 20, 20, 20, 0}
	if got := view.Stats["1m"]; got != want {
		t.Errorf(`Stats["1m"] = %v, want %v`, got, want)
	}
}

func TestBuildViewWindows(t *testing.T) {
	samples := []stats.Sample{
		{Timestamp: testNow.Add(-23 * time.Hour).UnixMilli(), LatencyMs: 100},
		{Timestamp: testNow.Add(-2 * time.Hour).UnixMilli(), LatencyMs: 50},
		{Timestamp: testNow.Add(-10 * time.Minute).UnixMilli(), LatencyMs: stats.Ceiling},
		{Timestamp: testNow.Add(-30 * time.Second).UnixMilli(), LatencyMs: 10},
	}
	view := BuildView(testTarget, samples, testNow, DefaultHistoryBuckets, DefaultBucketWidth)

	tests := []struct {
		label string
		count int
		want  stats.StatVector
	}{
		{"1m", 1, stats.StatVector{0, 10, 10, 10, 0}},
		{"5m", 1, stats.StatVector{0, 10, 10, 10, 0}},
		{"15m", 2, stats.StatVector{50, 10, 10, 10, 0}},
		{"1h", 2, stats.StatVector{50, 10, 10, 10, 0}},
		{"3h", 3, stats.StatVector{33.33, 10, 50, 30, 40}},
		{"12h", 3, stats.StatVector{33.33, 10, 50, 30, 40}},
		{"24h", 4, stats.StatVector{25, 10, 100, 53.33, 45}},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := view.Stats[tt.label]; got != tt.want {
				t.Errorf("Stats[%q] = %v, want %v", tt.label, got, tt.want)
			}
		})
	}
	if len(view.Stats) != len(Windows) {
		t.Errorf("view has %d windows, want %d", len(view.Stats), len(Windows))
	}
}

func TestBuildViewHistoryShape(t *testing.T) {
	tests := []struct {
		name    string
		samples []stats.Sample
	}{
		{"no samples", nil},
		{"one sample", samplesAt(testNow, time.Second, 1, 5)},
		{"dense", samplesAt(testNow, 0, 5, make([]float64, 1000)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := BuildView(testTarget, tt.samples, testNow, DefaultHistoryBuckets, DefaultBucketWidth)
			if len(view.History) != DefaultHistoryBuckets {
				t.Errorf("len(History) = %d, want %d", len(view.History), DefaultHistoryBuckets)
			}
			if len(view.Stats) != len(Windows) {
				t.Errorf("len(Stats) = %d, want %d", len(view.Stats), len(Windows))
			}
		})
	}
}

func TestBuildViewBucketBoundaries(t *testing.T) {
	samples := []stats.Sample{
		{Timestamp: testNow.Add(-2 * time.Minute).UnixMilli(), LatencyMs: 30}, // start of bucket 1
		{Timestamp: testNow.Add(-time.Minute).UnixMilli(), LatencyMs: 20},     // start of bucket 0
		{Timestamp: testNow.UnixMilli(), LatencyMs: 10},                       // outside every bucket
	}
	view := BuildView(testTarget, samples, testNow, 3, time.Minute)

	want := []stats.StatVector{
		{},
		{0, 30, 30, 30, 0},
		{0, 20, 20, 20, 0},
	}
	for i := range want {
		if view.History[i] != want[i] {
			t.Errorf("History[%d] = %v, want %v", i, view.History[i], want[i])
		}
	}
}

func TestViewJSON(t *testing.T) {
	samples := samplesAt(testNow, 5*time.Second, 5, 10, 12, 11, 13, 9)
	view := BuildView(testTarget, samples, testNow, DefaultHistoryBuckets, DefaultBucketWidth)

	data, err := json.Marshal(view)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"id", "address", "stats", "history"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("encoded view is missing %q", field)
		}
	}

	store := storage.NewMemoryStore()
	ctx := context.Background()
	if err := store.SetCache(ctx, storage.CacheKey("monitor", "a"), data); err != nil {
		t.Fatal(err)
	}
	decoded, err := ReadView(ctx, store, "monitor", "a")
	if err != nil {
		t.Fatalf("ReadView() error = %v", err)
	}
	again, err := json.Marshal(decoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Errorf("round trip changed the record:\n%s\n%s", data, again)
	}
}

func newTestEngine(store storage.Store, targets []target.Target, opts Options) *Engine {
	e := NewEngine(target.NewRegistry(targets), store, opts, nil)
	e.SetClock(func() time.Time { return testNow })
	return e
}

func appendAll(t *testing.T, store storage.Store, tgt target.Target, samples []stats.Sample) {
	t.Helper()
	for _, s := range samples {
		if _, err := store.Append(context.Background(), storage.StreamKey(tgt.Prefix, tgt.ID), s); err != nil {
			t.Fatal(err)
		}
	}
}

func TestEngineRunOnceWritesCache(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	b := target.Target{ID: "b", Address: "10.0.0.2", Prefix: "monitor"}
	appendAll(t, store, testTarget, samplesAt(testNow, 5*time.Second, 5, 10, 12, 11, 13, 9))

	e := newTestEngine(store, []target.Target{testTarget, b}, Options{})
	n, err := e.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 2 {
		t.Errorf("RunOnce() wrote %d views, want 2", n)
	}

	view, err := ReadView(ctx, store, "monitor", "a")
	if err != nil {
		t.Fatalf("ReadView(a) error = %v", err)
	}
	if got := view.Stats["1m"]; got != (stats.StatVector{0, 9, 13, 11, 2.25}) {
		t.Errorf(`Stats["1m"] = %v`, got)
	}

	empty, err := ReadView(ctx, store, "monitor", "b")
	if err != nil {
		t.Fatalf("ReadView(b) error = %v", err)
	}
	if len(empty.History) != DefaultHistoryBuckets || empty.Stats["24h"] != (stats.StatVector{}) {
		t.Errorf("view for target without samples = %+v", empty)
	}

	if latest := e.Latest(); len(latest) != 2 {
		t.Errorf("Latest() has %d views, want 2", len(latest))
	}
	if !e.LastRun().Equal(testNow) {
		t.Errorf("LastRun() = %v, want %v", e.LastRun(), testNow)
	}
}

func TestEngineLookback(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	appendAll(t, store, testTarget, []stats.Sample{
		{Timestamp: testNow.Add(-25 * time.Hour).UnixMilli(), LatencyMs: 999},
		{Timestamp: testNow.Add(-time.Hour).UnixMilli(), LatencyMs: 10},
	})

	e := newTestEngine(store, []target.Target{testTarget}, Options{})
	if _, err := e.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	view := e.Latest()[testTarget.Key()]
	if got := view.Stats["24h"]; got != (stats.StatVector{0, 10, 10, 10, 0}) {
		t.Errorf(`Stats["24h"] = %v, sample outside lookback counted`, got)
	}
}

// flakyStore fails reads of one stream
type flakyStore struct {
	storage.Store
	failKey string
	err     error
}

func (s *flakyStore) Range(ctx context.Context, key string, fromMs int64) ([]stats.Sample, error) {
	if key == s.failKey {
		return nil, s.err
	}
	return s.Store.Range(ctx, key, fromMs)
}

func TestEngineIsolatesTargetFailures(t *testing.T) {
	ctx := context.Background()
	b := target.Target{ID: "b", Address: "10.0.0.2", Prefix: "monitor"}
	store := &flakyStore{
		Store:   storage.NewMemoryStore(),
		failKey: storage.StreamKey("monitor", "a"),
		err:     errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"),
	}

	e := newTestEngine(store, []target.Target{testTarget, b}, Options{})
	n, err := e.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RunOnce() wrote %d views, want 1", n)
	}
	if _, err := ReadView(ctx, store, "monitor", "b"); err != nil {
		t.Errorf("ReadView(b) error = %v", err)
	}
	if _, err := ReadView(ctx, store, "monitor", "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ReadView(a) error = %v, want ErrNotFound", err)
	}
}

func TestEngineAbortsWhenStoreUnavailable(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Close()

	e := newTestEngine(store, []target.Target{testTarget}, Options{})
	if _, err := e.RunOnce(context.Background()); !storage.IsUnavailable(err) {
		t.Errorf("RunOnce() error = %v, want store unavailable", err)
	}
	if !e.LastRun().IsZero() {
		t.Error("aborted pass recorded a completion time")
	}
}

func TestEngineSkipsDeadTargets(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	iot := target.Target{ID: "aa:bb:cc:dd:ee:ff", Address: "192.168.1.50", Prefix: "iot"}
	appendAll(t, store, iot, samplesAt(testNow, time.Second, 5, stats.Ceiling, stats.Ceiling))
	appendAll(t, store, testTarget, samplesAt(testNow, time.Second, 5, stats.Ceiling, stats.Ceiling))

	e := newTestEngine(store, []target.Target{testTarget, iot}, Options{SkipDeadPrefixes: []string{"iot"}})
	n, err := e.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("RunOnce() wrote %d views, want 1", n)
	}
	if _, err := ReadView(ctx, store, "iot", iot.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("dead target was cached: %v", err)
	}
	if _, err := ReadView(ctx, store, "monitor", "a"); err != nil {
		t.Errorf("dead target outside skip list was not cached: %v", err)
	}
}

func TestEngineRun(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(store, []target.Target{testTarget}, Options{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for e.LastRun().IsZero() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if e.LastRun().IsZero() {
		t.Fatal("no pass completed")
	}
	if _, err := ReadView(context.Background(), store, "monitor", "a"); err != nil {
		t.Errorf("ReadView() error = %v", err)
	}
}

func TestEngineRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := storage.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	appendAll(t, store, testTarget, samplesAt(now, 5*time.Second, 5, 10, 12, 11, 13, 9))

	e := NewEngine(target.NewRegistry([]target.Target{testTarget}), store, Options{}, nil)
	e.SetClock(func() time.Time { return now })
	if _, err := e.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	raw, err := store.GetCache(ctx, storage.CacheKey("monitor", "a"))
	if err != nil {
		t.Fatalf("GetCache() error = %v", err)
	}
	var view AggregatedView
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatal(err)
	}
	if got := view.Stats["1m"]; got != (stats.StatVector{0, 9, 13, 11, 2.25}) {
		t.Errorf(`Stats["1m"] = %v`, got)
	}
	if len(view.History) != DefaultHistoryBuckets {
		t.Errorf("len(History) = %d", len(view.History))
	}
}

func TestEngineRedisNonFiniteLatency(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := storage.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	key := storage.StreamKey("monitor", "a")
	for _, entry := range [][]string{
		{"ts", strconv.FormatInt(now.Add(-10*time.Second).UnixMilli(), 10), "ms", "10"},
		{"ts", strconv.FormatInt(now.Add(-5*time.Second).UnixMilli(), 10), "ms", "-Inf"},
	} {
		if _, err := mr.XAdd(key, "*", entry); err != nil {
			t.Fatalf("XAdd() error = %v", err)
		}
	}

	e := NewEngine(target.NewRegistry([]target.Target{testTarget}), store, Options{}, nil)
	e.SetClock(func() time.Time { return now })
	written, err := e.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if written != 1 {
		t.Fatalf("RunOnce() wrote %d views, want 1", written)
	}

	view, err := ReadView(ctx, store, "monitor", "a")
	if err != nil {
		t.Fatalf("ReadView() error = %v", err)
	}
	if got := view.Stats["1m"]; got != (stats.StatVector{50, 10, 10, 10, 0}) {
		t.Errorf(`Stats["1m"] = %v, want the bad record counted as a failure`, got)
	}
}
