package events

import (
	"sync"
	"time"
)

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than ever blocking the emitter.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64
	closed      bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uint64]chan Event),
	}
}

// Subscribe registers a consumer. The returned cancel func must be called to
// release the subscription; the channel closes afterwards.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	subID := h.nextID
	h.subscribers[subID] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		sub, exists := h.subscribers[subID]
		if !exists {
			return
		}
		delete(h.subscribers, subID)
		close(sub)
	}

	return ch, cancel
}

// Emit delivers the event to every subscriber, dropping on full buffers.
func (h *Hub) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is behind; the run must not wait for it.
		}
	}
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}
