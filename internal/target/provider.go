package target

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wellsgz/pingmon/internal/logging"
	"github.com/wellsgz/pingmon/internal/observability"
	"github.com/wellsgz/pingmon/internal/storage"
)

// DefaultPattern matches the provider-side target lists in the store
const DefaultPattern = "monitor:targets:*"

// Provider supplies the full current target list
type Provider interface {
	// Name identifies the provider in logs
	Name() string

	// Fetch returns every target the provider currently knows.
	// Malformed entries are skipped; an error means the list is unknown.
	Fetch(ctx context.Context) ([]Target, error)
}

// StoreProvider reads targets from JSON records held in store lists whose
// keys match a pattern
type StoreProvider struct {
	store   storage.Store
	pattern string
}

// NewStoreProvider creates a provider scanning pattern in store
func NewStoreProvider(store storage.Store, pattern string) *StoreProvider {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &StoreProvider{store: store, pattern: pattern}
}

// Name returns "store"
func (p *StoreProvider) Name() string {
	return "store"
}

// Fetch scans for target lists and decodes every entry
func (p *StoreProvider) Fetch(ctx context.Context) ([]Target, error) {
	keys, err := p.store.Scan(ctx, p.pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list target keys: %w", err)
	}

	var targets []Target
	for _, key := range keys {
		records, err := p.store.ListRange(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read target list %s: %w", key, err)
		}
		for i, record := range records {
			t, err := Parse([]byte(record))
			if err != nil {
				logging.Warn("Registry", fmt.Sprintf("skipping entry %d of %s", i, key), err)
				continue
			}
			targets = append(targets, t)
		}
	}
	return targets, nil
}

// StaticProvider returns a fixed list, e.g. targets written in the config file
type StaticProvider struct {
	targets []Target
}

// NewStaticProvider creates a provider for a fixed list. Invalid entries
// are dropped at construction.
func NewStaticProvider(targets []Target) *StaticProvider {
	valid := make([]Target, 0, len(targets))
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			logging.Warn("Registry", "skipping static target", err)
			continue
		}
		valid = append(valid, t)
	}
	return &StaticProvider{targets: valid}
}

// Name returns "static"
func (p *StaticProvider) Name() string {
	return "static"
}

// Fetch returns a copy of the configured list
func (p *StaticProvider) Fetch(_ context.Context) ([]Target, error) {
	out := make([]Target, len(p.targets))
	copy(out, p.targets)
	return out, nil
}

// Multi merges several providers. A provider whose fetch fails contributes
// its last successful list instead, so one unreadable source never drops
// the targets of the others. The fetch fails only when every provider
// failed. Duplicate keys keep the first occurrence.
type Multi struct {
	providers []Provider
	metrics   *observability.Metrics

	mu       sync.Mutex
	lastGood map[int][]Target
}

// NewMulti creates a provider merging providers in order
func NewMulti(metrics *observability.Metrics, providers ...Provider) *Multi {
	return &Multi{
		providers: providers,
		metrics:   metrics,
		lastGood:  make(map[int][]Target),
	}
}

// Add appends a provider after the existing ones
func (m *Multi) Add(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, p)
}

// Name returns "multi"
func (m *Multi) Name() string {
	return "multi"
}

// Fetch queries each provider in order
func (m *Multi) Fetch(ctx context.Context) ([]Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		all      []Target
		failures []error
	)
	for i, p := range m.providers {
		targets, err := p.Fetch(ctx)
		if err != nil {
			m.metrics.ProviderFailed(p.Name())
			failures = append(failures, fmt.Errorf("provider %s: %w", p.Name(), err))

			stale, ok := m.lastGood[i]
			logging.Warn("Registry", fmt.Sprintf("Provider %s failed, reusing %d previous targets", p.Name(), len(stale)), err)
			if ok {
				all = append(all, stale...)
			}
			continue
		}
		m.lastGood[i] = targets
		all = append(all, targets...)
	}

	if len(m.providers) > 0 && len(failures) == len(m.providers) {
		return nil, errors.Join(failures...)
	}
	return Dedupe(all), nil
}
