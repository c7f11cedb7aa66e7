package target

import (
	"context"
	"fmt"
	"time"

	"github.com/wellsgz/pingmon/internal/logging"
	"github.com/wellsgz/pingmon/internal/observability"
)

// DefaultSyncInterval is how often the registry is refreshed
const DefaultSyncInterval = 10 * time.Second

// Syncer periodically replaces the registry contents with the provider's
// current list. A failed fetch leaves the previous set in place.
type Syncer struct {
	registry *Registry
	provider Provider
	interval time.Duration
	metrics  *observability.Metrics
	trigger  chan struct{}
}

// NewSyncer creates a syncer feeding registry from provider
func NewSyncer(registry *Registry, provider Provider, interval time.Duration, metrics *observability.Metrics) *Syncer {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Syncer{
		registry: registry,
		provider: provider,
		interval: interval,
		metrics:  metrics,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate sync. Requests made while one is pending
// are coalesced.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Sync fetches the target list once and swaps it in on success
func (s *Syncer) Sync(ctx context.Context) error {
	targets, err := s.provider.Fetch(ctx)
	if err != nil {
		s.metrics.RegistrySyncFailed()
		return fmt.Errorf("failed to fetch targets: %w", err)
	}

	targets = Dedupe(targets)
	previous := s.registry.Len()
	s.registry.Replace(targets)
	s.metrics.SetTargets(len(targets))

	if previous != len(targets) {
		logging.Info("Registry", fmt.Sprintf("Target set now has %d targets (was %d)", len(targets), previous), nil)
	}
	return nil
}

// Run syncs on every tick or trigger until ctx is done. Call Sync first to
// load targets before the first tick.
func (s *Syncer) Run(ctx context.Context) error {
	logging.Info("Registry", fmt.Sprintf("Syncing targets from %s every %s", s.provider.Name(), s.interval), nil)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Registry", "Stopping target sync", nil)
			return nil
		case <-ticker.C:
			s.syncAndLog(ctx)
		case <-s.trigger:
			s.syncAndLog(ctx)
		}
	}
}

func (s *Syncer) syncAndLog(ctx context.Context) {
	if err := s.Sync(ctx); err != nil {
		logging.Error("Registry", fmt.Sprintf("Sync failed, keeping %d previous targets", s.registry.Len()), err)
	}
}
