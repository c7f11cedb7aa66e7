// Package collector wires the registry sync, probe scheduler and
// aggregation loops together and runs them until shutdown.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wellsgz/pingmon/internal/aggregate"
	"github.com/wellsgz/pingmon/internal/archive"
	"github.com/wellsgz/pingmon/internal/config"
	"github.com/wellsgz/pingmon/internal/logging"
	"github.com/wellsgz/pingmon/internal/observability"
	"github.com/wellsgz/pingmon/internal/probe"
	"github.com/wellsgz/pingmon/internal/storage"
	"github.com/wellsgz/pingmon/internal/target"
)

// Collector owns every periodic loop of the monitor
type Collector struct {
	config  *config.Config
	store   storage.Store
	metrics *observability.Metrics

	registry  *target.Registry
	syncer    *target.Syncer
	files     []*target.FileProvider
	scheduler *Scheduler
	engine    *aggregate.Engine
	hub       *Hub
	archive   *archive.RRDArchive

	instanceID string
	startedAt  time.Time
}

// Option overrides a collaborator, mainly for tests
type Option func(*options)

type options struct {
	pinger   probe.Pinger
	resolver probe.Resolver
}

// WithPinger replaces the configured echo transport
func WithPinger(p probe.Pinger) Option {
	return func(o *options) { o.pinger = p }
}

// WithResolver replaces the DNS resolver
func WithResolver(r probe.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// New builds a collector from cfg. metrics may be nil.
func New(cfg *config.Config, store storage.Store, metrics *observability.Metrics, opts ...Option) (*Collector, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.pinger == nil {
		o.pinger = newPinger(cfg.Probe)
	}
	if o.resolver == nil {
		o.resolver = probe.NewDNSResolver()
	}

	c := &Collector{
		config:     cfg,
		store:      store,
		metrics:    metrics,
		registry:   target.NewRegistry(nil),
		hub:        NewHub(),
		instanceID: uuid.NewString(),
		startedAt:  time.Now(),
	}

	providers := target.NewMulti(metrics, target.NewStoreProvider(store, cfg.Registry.Pattern))
	if len(cfg.Registry.Static) > 0 {
		providers.Add(target.NewStaticProvider(cfg.Registry.Static))
	}
	for _, f := range cfg.Registry.Files {
		fp, err := target.NewFileProvider(f.Path, f.Format, f.Prefix)
		if err != nil {
			return nil, fmt.Errorf("registry file %s: %w", f.Path, err)
		}
		providers.Add(fp)
		c.files = append(c.files, fp)
	}
	c.syncer = target.NewSyncer(c.registry, providers, cfg.Registry.Interval, metrics)

	sinks := []probe.Sink{c.hub}
	if cfg.Archive.Enabled {
		a, err := archive.NewRRDArchive(cfg.Archive.DataDir, cfg.Probe.Interval, cfg.Archive.Retention, cfg.Archive.XFF, cfg.Archive.Aggregation)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		c.archive = a
		sinks = append(sinks, a)
	}

	executor := probe.NewExecutor(o.resolver, o.pinger, store, cfg.Probe.Timeout, cfg.Storage.MaxLen,
		probe.WithMetrics(metrics),
		probe.WithSinks(sinks...),
	)
	c.scheduler = NewScheduler(c.registry, executor, cfg.Probe.Interval, cfg.Probe.MaxInFlight)

	c.engine = aggregate.NewEngine(c.registry, store, aggregate.Options{
		InitialDelay:     cfg.Aggregate.InitialDelay,
		Interval:         cfg.Aggregate.Interval,
		Lookback:         cfg.Aggregate.Lookback,
		HistoryBuckets:   cfg.Aggregate.HistoryBuckets,
		BucketWidth:      cfg.Aggregate.BucketWidth,
		SkipDeadPrefixes: cfg.Aggregate.SkipDeadPrefixes,
	}, metrics)

	return c, nil
}

func newPinger(cfg config.ProbeConfig) probe.Pinger {
	if cfg.Backend == "pro-bing" {
		return probe.NewProbingPinger(cfg.Privileged, cfg.PayloadSize)
	}
	return probe.NewICMPPinger(cfg.Privileged, cfg.PayloadSize)
}

// Run starts every loop and blocks until ctx is done, then waits for
// in-flight probes and closes live subscriptions
func (c *Collector) Run(ctx context.Context) error {
	logging.Info("Collector", "Starting", map[string]interface{}{
		"instance":       c.instanceID,
		"probe_interval": c.config.Probe.Interval.String(),
		"max_in_flight":  c.config.Probe.MaxInFlight,
		"archive":        c.archive != nil,
	})

	// Load targets before the first probe tick
	if err := c.syncer.Sync(ctx); err != nil {
		logging.Error("Collector", "Initial target sync failed", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.syncer.Run(gctx) })
	g.Go(func() error { return c.scheduler.Run(gctx) })
	g.Go(func() error { return c.engine.Run(gctx) })
	for _, fp := range c.files {
		g.Go(func() error {
			if err := fp.Watch(gctx, c.syncer.Trigger); err != nil {
				// The file is still re-read on every sync tick
				logging.Warn("Collector", fmt.Sprintf("Not watching %s", fp.Path()), err)
			}
			return nil
		})
	}

	err := g.Wait()

	c.scheduler.Wait()
	c.hub.Close()
	if c.archive != nil {
		c.archive.Close()
	}

	logging.Info("Collector", "Stopped", nil)
	return err
}

// Registry returns the live target registry
func (c *Collector) Registry() *target.Registry {
	return c.registry
}

// Engine returns the aggregation engine
func (c *Collector) Engine() *aggregate.Engine {
	return c.engine
}

// Archive returns the RRD archive, nil when disabled
func (c *Collector) Archive() *archive.RRDArchive {
	return c.archive
}

// Store returns the sample store
func (c *Collector) Store() storage.Store {
	return c.store
}

// Subscribe returns a channel that receives every recorded probe result
func (c *Collector) Subscribe() <-chan probe.Result {
	return c.hub.Subscribe()
}

// Unsubscribe removes a subscriber
func (c *Collector) Unsubscribe(ch <-chan probe.Result) {
	c.hub.Unsubscribe(ch)
}

// InstanceID identifies this process in status output
func (c *Collector) InstanceID() string {
	return c.instanceID
}

// StartedAt returns when the collector was created
func (c *Collector) StartedAt() time.Time {
	return c.startedAt
}
