package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/wellsgz/pingmon/internal/observability"
	"github.com/wellsgz/pingmon/internal/stats"
	"github.com/wellsgz/pingmon/internal/storage"
	"github.com/wellsgz/pingmon/internal/target"
)

// Executor runs one probe against one target and records the sample
type Executor struct {
	resolver Resolver
	pinger   Pinger
	store    storage.Store
	timeout  time.Duration
	maxLen   int64
	metrics  *observability.Metrics
	sinks    []Sink
	now      func() time.Time
}

// ExecutorOption configures optional Executor collaborators
type ExecutorOption func(*Executor)

// WithMetrics attaches Prometheus instrumentation
func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithSinks adds receivers for every recorded result
func WithSinks(sinks ...Sink) ExecutorOption {
	return func(e *Executor) { e.sinks = append(e.sinks, sinks...) }
}

// WithClock replaces time.Now for sample timestamps
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor. timeout bounds each echo and maxLen is
// the stream retention applied after every append.
func NewExecutor(resolver Resolver, pinger Pinger, store storage.Store, timeout time.Duration, maxLen int64, opts ...ExecutorOption) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxLen <= 0 {
		maxLen = storage.DefaultMaxLen
	}
	e := &Executor{
		resolver: resolver,
		pinger:   pinger,
		store:    store,
		timeout:  timeout,
		maxLen:   maxLen,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute resolves the target, sends one echo tagged with seq and appends
// the sample to the target's stream, then trims the stream.
//
// A timed-out or failed echo is recorded at the ceiling latency and is not
// an error. Errors are returned only when the address does not resolve (no
// sample is written) or when the store rejects the append or trim.
func (e *Executor) Execute(ctx context.Context, t target.Target, seq uint16) (Result, error) {
	e.metrics.ProbeStarted()
	defer e.metrics.ProbeFinished()

	result := Result{Target: t, Seq: seq}

	ip, err := e.resolver.Resolve(ctx, t.Address)
	if err != nil {
		e.metrics.ResolveFailed()
		return result, err
	}

	timestamp := e.now()
	echoCtx, cancel := context.WithTimeout(ctx, e.timeout)
	rtt, echoErr := e.pinger.Echo(echoCtx, ip, seq)
	cancel()

	result.Sample = stats.Sample{
		Timestamp: timestamp.UnixMilli(),
		LatencyMs: LatencyMs(rtt, echoErr),
	}
	result.Success = result.Sample.Success()
	if result.Success {
		result.RTT = rtt
	} else if echoErr != nil {
		result.Error = echoErr.Error()
	} else {
		result.Error = fmt.Sprintf("round trip exceeded %.0fms", stats.Ceiling)
	}

	key := storage.StreamKey(t.Prefix, t.ID)
	if _, err := e.store.Append(ctx, key, result.Sample); err != nil {
		e.metrics.StoreError("append")
		return result, fmt.Errorf("failed to record sample: %w", err)
	}
	if err := e.store.Trim(ctx, key, e.maxLen); err != nil {
		e.metrics.StoreError("trim")
		return result, fmt.Errorf("failed to trim stream: %w", err)
	}

	e.metrics.ProbeRecorded(result.Success, result.RTT)
	for _, sink := range e.sinks {
		sink.Publish(result)
	}
	return result, nil
}
