package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wellsgz/pingmon/internal/logging"
	"github.com/wellsgz/pingmon/internal/observability"
	"github.com/wellsgz/pingmon/internal/storage"
	"github.com/wellsgz/pingmon/internal/target"
)

const (
	DefaultInitialDelay = 5 * time.Second
	DefaultInterval     = 60 * time.Second
)

// Options tunes the engine schedule and view shape
type Options struct {
	InitialDelay   time.Duration
	Interval       time.Duration
	Lookback       time.Duration
	HistoryBuckets int
	BucketWidth    time.Duration

	// SkipDeadPrefixes lists prefixes whose targets get no cache write
	// while every sample in the lookback failed.
	SkipDeadPrefixes []string
}

func (o *Options) setDefaults() {
	if o.InitialDelay < 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.HistoryBuckets <= 0 {
		o.HistoryBuckets = DefaultHistoryBuckets
	}
	if o.BucketWidth <= 0 {
		o.BucketWidth = DefaultBucketWidth
	}
}

// Engine recomputes and caches the view of every registered target
type Engine struct {
	registry *target.Registry
	store    storage.Store
	opts     Options
	skipDead map[string]bool
	metrics  *observability.Metrics
	now      func() time.Time

	mu      sync.RWMutex
	latest  map[string]AggregatedView
	lastRun time.Time
}

// NewEngine creates an engine reading targets from registry
func NewEngine(registry *target.Registry, store storage.Store, opts Options, metrics *observability.Metrics) *Engine {
	opts.setDefaults()
	skip := make(map[string]bool, len(opts.SkipDeadPrefixes))
	for _, p := range opts.SkipDeadPrefixes {
		skip[p] = true
	}
	return &Engine{
		registry: registry,
		store:    store,
		opts:     opts,
		skipDead: skip,
		metrics:  metrics,
		now:      time.Now,
		latest:   make(map[string]AggregatedView),
	}
}

// SetClock replaces time.Now, for tests
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run waits for the initial delay, then aggregates on every interval until
// ctx is done. A failed pass is logged and retried on the next tick.
func (e *Engine) Run(ctx context.Context) error {
	logging.Info("Aggregator", fmt.Sprintf("Aggregating every %s after %s", e.opts.Interval, e.opts.InitialDelay), nil)

	delay := time.NewTimer(e.opts.InitialDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-delay.C:
	}

	e.runAndLog(ctx)

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("Aggregator", "Stopping aggregation", nil)
			return nil
		case <-ticker.C:
			e.runAndLog(ctx)
		}
	}
}

func (e *Engine) runAndLog(ctx context.Context) {
	n, err := e.RunOnce(ctx)
	if err != nil {
		logging.Error("Aggregator", fmt.Sprintf("Pass aborted after %d targets", n), err)
		return
	}
	logging.Debug("Aggregator", fmt.Sprintf("Aggregated %d targets", n))
}

// RunOnce aggregates every target in the current registry snapshot and
// returns how many cache entries were written.
//
// Per-target failures are logged and skipped. The pass stops early only
// when the store itself is unreachable.
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { e.metrics.AggregationDone(time.Since(start)) }()

	snapshot := e.registry.Snapshot()
	views := make(map[string]AggregatedView, len(snapshot.Targets))
	written := 0

	for _, t := range snapshot.Targets {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		view, cached, err := e.aggregate(ctx, t)
		if err != nil {
			if storage.IsUnavailable(err) {
				return written, err
			}
			logging.Warn("Aggregator", fmt.Sprintf("Skipping %s", t.Key()), err)
			continue
		}
		views[t.Key()] = view
		if cached {
			written++
		}
	}

	e.mu.Lock()
	e.latest = views
	e.lastRun = e.now()
	e.mu.Unlock()

	return written, nil
}

// aggregate builds and caches one target's view. cached is false when the
// write was skipped for a dead target.
func (e *Engine) aggregate(ctx context.Context, t target.Target) (view AggregatedView, cached bool, err error) {
	now := e.now()

	samples, err := e.store.Range(ctx, storage.StreamKey(t.Prefix, t.ID), now.Add(-e.opts.Lookback).UnixMilli())
	if err != nil {
		e.metrics.StoreError("range")
		return view, false, fmt.Errorf("failed to read samples: %w", err)
	}

	view = BuildView(t, samples, now, e.opts.HistoryBuckets, e.opts.BucketWidth)

	if e.skipDead[t.Prefix] && len(samples) > 0 && view.Stats[Windows[len(Windows)-1].Label].Loss() == 100 {
		logging.Debug("Aggregator", fmt.Sprintf("Not caching %s, no replies in lookback", t.Key()))
		return view, false, nil
	}

	data, err := json.Marshal(view)
	if err != nil {
		return view, false, fmt.Errorf("failed to encode view: %w", err)
	}
	if err := e.store.SetCache(ctx, storage.CacheKey(t.Prefix, t.ID), data); err != nil {
		e.metrics.StoreError("set")
		return view, false, fmt.Errorf("failed to write cache: %w", err)
	}
	return view, true, nil
}

// Latest returns the views computed by the last completed pass, keyed by
// target key
func (e *Engine) Latest() map[string]AggregatedView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]AggregatedView, len(e.latest))
	for k, v := range e.latest {
		out[k] = v
	}
	return out
}

// LastRun returns when the last pass completed, zero if none has
func (e *Engine) LastRun() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRun
}

// ReadView loads a cached view from the store
func ReadView(ctx context.Context, store storage.Store, prefix, id string) (AggregatedView, error) {
	var view AggregatedView
	data, err := store.GetCache(ctx, storage.CacheKey(prefix, id))
	if err != nil {
		return view, err
	}
	if err := json.Unmarshal(data, &view); err != nil {
		return view, fmt.Errorf("failed to decode view: %w", err)
	}
	return view, nil
}
