// Package monitoring - hub.go fans events out to live subscribers.
//
// DESIGN: Pub-sub for gateway events. Publish never blocks: a
// subscriber whose buffer is full simply misses the event, which keeps
// a stalled WebSocket client from backpressuring breaker transitions.
// Durable history is the audit log's job, not the hub's.
package monitoring

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Hub manages event subscribers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	buffer  int
	closed  bool
	dropped atomic.Int64
}

// NewHub creates a hub whose subscriber channels hold up to buffer
// undelivered events each.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
// The channel is closed on Unsubscribe or hub Close.
func (h *Hub) Subscribe() (int, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return -1, ch
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
			log.Debug().
				Str("kind", string(evt.Kind)).
				Str("service", evt.Service).
				Msg("Subscriber buffer full, event dropped")
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events were lost to full subscriber buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close shuts the hub; all subscriber channels are closed and further
// publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
