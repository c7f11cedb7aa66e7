// Package aggregate periodically turns each target's retained samples into
// windowed statistics and a short bucketed history, and caches the result.
package aggregate

import (
	"time"

	"github.com/wellsgz/pingmon/internal/stats"
	"github.com/wellsgz/pingmon/internal/target"
)

const (
	// DefaultHistoryBuckets is the number of history entries in every view
	DefaultHistoryBuckets = 30

	// DefaultBucketWidth is the span of one history entry
	DefaultBucketWidth = time.Minute

	// DefaultLookback is how far back samples are fetched
	DefaultLookback = 24 * time.Hour
)

// Window is a trailing span of time ending at the aggregation instant
type Window struct {
	Label    string
	Duration time.Duration
}

// Windows are the trailing windows every view carries, shortest first
var Windows = []Window{
	{"1m", time.Minute},
	{"5m", 5 * time.Minute},
	{"15m", 15 * time.Minute},
	{"1h", time.Hour},
	{"3h", 3 * time.Hour},
	{"12h", 12 * time.Hour},
	{"24h", 24 * time.Hour},
}

// AggregatedView is the cached per-target record
type AggregatedView struct {
	ID      string                      `json:"id"`
	Address string                      `json:"address"`
	Stats   map[string]stats.StatVector `json:"stats"`
	History []stats.StatVector          `json:"history"`
}

// BuildView computes the view for t at now. samples must be in
// chronological order.
//
// History entry i, counted back from now, covers
// [now-(i+1)*width, now-i*width). The returned history is oldest first and
// always has exactly buckets entries.
func BuildView(t target.Target, samples []stats.Sample, now time.Time, buckets int, width time.Duration) AggregatedView {
	if buckets <= 0 {
		buckets = DefaultHistoryBuckets
	}
	if width <= 0 {
		width = DefaultBucketWidth
	}
	nowMs := now.UnixMilli()

	view := AggregatedView{
		ID:      t.ID,
		Address: t.Address,
		Stats:   make(map[string]stats.StatVector, len(Windows)),
		History: make([]stats.StatVector, buckets),
	}

	for _, w := range Windows {
		view.Stats[w.Label] = stats.Calculate(since(samples, nowMs-w.Duration.Milliseconds()))
	}

	widthMs := width.Milliseconds()
	for i := 0; i < buckets; i++ {
		end := nowMs - int64(i)*widthMs
		start := end - widthMs
		view.History[buckets-1-i] = stats.Calculate(between(samples, start, end))
	}

	return view
}

// since returns the samples with timestamp >= fromMs
func since(samples []stats.Sample, fromMs int64) []stats.Sample {
	out := make([]stats.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp >= fromMs {
			out = append(out, s)
		}
	}
	return out
}

// between returns the samples in [fromMs, toMs)
func between(samples []stats.Sample, fromMs, toMs int64) []stats.Sample {
	var out []stats.Sample
	for _, s := range samples {
		if s.Timestamp >= fromMs && s.Timestamp < toMs {
			out = append(out, s)
		}
	}
	return out
}
