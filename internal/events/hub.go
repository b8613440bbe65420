package events

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Hub fan-outs entry events to all active in-process subscribers (SSE clients).
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan EntryEvent
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan EntryEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan EntryEvent {
	ch := make(chan EntryEvent, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish never blocks; a slow subscriber misses events.
func (h *Hub) Publish(_ context.Context, evt EntryEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
