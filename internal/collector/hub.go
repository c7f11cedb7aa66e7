package collector

import (
	"sync"

	"github.com/wellsgz/pingmon/internal/probe"
)

// subscriberBuffer is the per-subscriber backlog before results are dropped
const subscriberBuffer = 100

// Hub fans recorded probe results out to live subscribers. Slow subscribers
// miss results rather than stall probing.
type Hub struct {
	subscribers map[chan probe.Result]struct{}
	mu          sync.RWMutex
	closed      bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan probe.Result]struct{})}
}

// Subscribe returns a channel that receives probe results
func (h *Hub) Subscribe() <-chan probe.Result {
	ch := make(chan probe.Result, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel
func (h *Hub) Unsubscribe(ch <-chan probe.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for subCh := range h.subscribers {
		if subCh == ch {
			close(subCh)
			delete(h.subscribers, subCh)
			return
		}
	}
}

// Publish sends a result to all subscribers without blocking
func (h *Hub) Publish(result probe.Result) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- result:
		default:
			// Channel buffer full, skip to prevent blocking
		}
	}
}

// Subscribers returns the current subscriber count
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel; later subscriptions get a closed
// channel
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
	h.closed = true
}
