package identity

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventKind identifies an auth-state change
type EventKind string

const (
	SignedIn  EventKind = "signed_in"
	SignedOut EventKind = "signed_out"
)

// Event is an auth-state change for one user
type Event struct {
	Kind   EventKind
	UserID string
	At     time.Time
}

// Listener receives auth-state events
type Listener func(Event)

// Hub fans auth-state events out to subscribers. Each subscription returns
// its own unsubscribe handle.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	next      uint64
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{listeners: make(map[uint64]Listener)}
}

// Subscribe registers fn and returns a function removing it. Calling the
// returned function more than once is a no-op.
func (h *Hub) Subscribe(fn Listener) (unsubscribe func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers e to every current subscriber synchronously
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	h.mu.RLock()
	listeners := make([]Listener, 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		h.deliver(fn, e)
	}
}

// Len returns the number of active subscriptions
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

func (h *Hub) deliver(fn Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(e.Kind)).Msg("auth listener panicked")
		}
	}()
	fn(e)
}
