package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the channel buffer used when Subscribe is given a
// non-positive size.
const DefaultBufferSize = 64

// Hub fans events out to subscriber channels. Publishing never blocks: if a
// subscriber's channel is full the event is dropped for that subscriber.
type Hub struct {
	mu     sync.RWMutex
	subs   map[EventType][]chan Event
	global []chan Event

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[EventType][]chan Event),
	}
}

// Publish sends e to every subscriber of e.Type and to global subscribers.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)

	for _, ch := range h.subs[e.Type] {
		h.send(ch, e)
	}
	for _, ch := range h.global {
		h.send(ch, e)
	}
}

func (h *Hub) send(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		h.dropped.Add(1)
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when no type is given. The caller must drain the channel.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	ch := make(chan Event, bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(types) == 0 {
		h.global = append(h.global, ch)
		return ch
	}
	for _, t := range types {
		h.subs[t] = append(h.subs[t], ch)
	}
	return ch
}

// Unsubscribe removes ch from all subscriptions. The channel is not closed.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.global = removeFromSlice(h.global, ch)
	for t, subs := range h.subs {
		h.subs[t] = removeFromSlice(subs, ch)
	}
}

// Stats returns publish and drop counts.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

func removeFromSlice(slice []chan Event, target <-chan Event) []chan Event {
	result := make([]chan Event, 0, len(slice))
	for _, ch := range slice {
		if ch != target {
			result = append(result, ch)
		}
	}
	return result
}

// RequestReload publishes a RulesUpdate event.
func (h *Hub) RequestReload(source string) {
	h.Publish(Event{Type: RulesUpdate, Source: source})
}
