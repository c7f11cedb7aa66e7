package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wellsgz/pingmon/internal/stats"
)

// MemoryStore implements Store in process memory. It backs tests and the
// "memory://" development URL; nothing survives a restart.
type MemoryStore struct {
	streams map[string]*stream
	cache   map[string][]byte
	lists   map[string][]string
	mu      sync.RWMutex

	seq    atomic.Uint64 // entry ID counter
	closed atomic.Bool
}

// stream holds the entries of one key, oldest first
type stream struct {
	entries []entry
	mu      sync.RWMutex
}

type entry struct {
	id     string
	sample stats.Sample
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[string]*stream),
		cache:   make(map[string][]byte),
		lists:   make(map[string][]string),
	}
}

// getStream returns the stream for key, creating it if create is set
func (m *MemoryStore) getStream(key string, create bool) *stream {
	m.mu.RLock()
	st, exists := m.streams[key]
	m.mu.RUnlock()

	if exists || !create {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Double-check after acquiring write lock
	if st, exists = m.streams[key]; !exists {
		st = &stream{}
		m.streams[key] = st
	}
	return st
}

func (m *MemoryStore) checkOpen() error {
	if m.closed.Load() {
		return ErrUnavailable
	}
	return nil
}

// Append adds a sample to the end of the stream
func (m *MemoryStore) Append(_ context.Context, key string, s stats.Sample) (string, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}

	st := m.getStream(key, true)
	id := fmt.Sprintf("%d-0", m.seq.Add(1))

	st.mu.Lock()
	st.entries = append(st.entries, entry{id: id, sample: s})
	st.mu.Unlock()

	return id, nil
}

// Trim drops entries from the head until at most maxLen remain
func (m *MemoryStore) Trim(_ context.Context, key string, maxLen int64) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if maxLen < 0 {
		return fmt.Errorf("trim %s: negative max length %d", key, maxLen)
	}

	st := m.getStream(key, false)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if excess := int64(len(st.entries)) - maxLen; excess > 0 {
		kept := make([]entry, maxLen)
		copy(kept, st.entries[excess:])
		st.entries = kept
	}
	return nil
}

// Range returns samples with timestamp >= fromMs in append order
func (m *MemoryStore) Range(_ context.Context, key string, fromMs int64) ([]stats.Sample, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	st := m.getStream(key, false)
	if st == nil {
		return []stats.Sample{}, nil
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	samples := make([]stats.Sample, 0, len(st.entries))
	for _, e := range st.entries {
		if e.sample.Timestamp >= fromMs {
			samples = append(samples, e.sample)
		}
	}
	return samples, nil
}

// Len returns the number of entries currently retained for key
func (m *MemoryStore) Len(key string) int {
	st := m.getStream(key, false)
	if st == nil {
		return 0
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.entries)
}

// SetCache overwrites a cached blob
func (m *MemoryStore) SetCache(_ context.Context, key string, value []byte) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	buf := make([]byte, len(value))
	copy(buf, value)

	m.mu.Lock()
	m.cache[key] = buf
	m.mu.Unlock()
	return nil
}

// GetCache returns a copy of a cached blob
func (m *MemoryStore) GetCache(_ context.Context, key string) ([]byte, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	value, ok := m.cache[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	return buf, nil
}

// SetList replaces a list; used to seed target registries
func (m *MemoryStore) SetList(key string, items []string) {
	m.mu.Lock()
	m.lists[key] = append([]string(nil), items...)
	m.mu.Unlock()
}

// Scan lists keys of every kind matching a glob pattern, sorted
func (m *MemoryStore) Scan(_ context.Context, pattern string) ([]string, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	match := func(key string) error {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
		if ok {
			keys = append(keys, key)
		}
		return nil
	}

	for key := range m.streams {
		if err := match(key); err != nil {
			return nil, err
		}
	}
	for key := range m.cache {
		if err := match(key); err != nil {
			return nil, err
		}
	}
	for key := range m.lists {
		if err := match(key); err != nil {
			return nil, err
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// ListRange returns every element of a list
func (m *MemoryStore) ListRange(_ context.Context, key string) ([]string, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.lists[key]...), nil
}

// Ping fails once the store is closed
func (m *MemoryStore) Ping(_ context.Context) error {
	return m.checkOpen()
}

// Close makes every later operation fail with ErrUnavailable
func (m *MemoryStore) Close() error {
	m.closed.Store(true)
	return nil
}

// IsMemoryURL reports whether url selects the in-memory store
func IsMemoryURL(url string) bool {
	return strings.HasPrefix(url, "memory://")
}
