package gateway

import (
	"sync"

	"zora/internal/event"
	"zora/pkg/logger"
)

// subscriberBuffer bounds how far behind a dashboard client may fall
// before envelopes are dropped for it.
const subscriberBuffer = 64

// Hub fans broadcast envelopes out to SSE and WebSocket subscribers.
// Slow subscribers lose envelopes rather than stalling the pipeline.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan event.Envelope]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan event.Envelope]struct{})}
}

// Subscribe registers a new listener. The returned cancel func is
// idempotent and must be called when the client disconnects.
func (h *Hub) Subscribe() (<-chan event.Envelope, func()) {
	ch := make(chan event.Envelope, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Broadcast delivers env to every subscriber without blocking.
func (h *Hub) Broadcast(env event.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- env:
		default:
			logger.Debug().Str("type", env.Type).Msg("dropping envelope for slow subscriber")
		}
	}
}

// SubscriberCount reports the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
