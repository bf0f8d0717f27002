package engine

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/octodash/dashconf/internal/log"
	"github.com/octodash/dashconf/internal/metrics"
	"github.com/octodash/dashconf/pkg/api"
)

// _subscriberBuffer is how many events a subscriber may lag behind before
// new ones are dropped for it.
const _subscriberBuffer = 16

// Hub fans events out to event-stream subscribers. Delivery never blocks:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu    sync.RWMutex
	subs  map[string]chan api.Event
	count atomic.Int64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan api.Event)}
}

// Subscribe registers a new subscriber. The returned cancel func removes it
// and closes its channel; calling it more than once is safe.
func (h *Hub) Subscribe() (string, <-chan api.Event, func()) {
	id := uuid.NewString()
	ch := make(chan api.Event, _subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	h.count.Inc()
	metrics.Subscribers.Inc()

	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
			h.count.Dec()
			metrics.Subscribers.Dec()
		})
	}
}

// Broadcast delivers ev to every subscriber except exclude.
func (h *Hub) Broadcast(ev api.Event, exclude string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		if id == exclude {
			continue
		}
		select {
		case ch <- ev:
		default:
			metrics.DroppedEvents.Inc()
			log.Warnf("engine: subscriber %s is not keeping up, dropped %s event", id, ev.Kind)
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int { return int(h.count.Load()) }
