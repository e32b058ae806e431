package service

import (
	"sync"

	"github.com/joeblew999/plat-incidents/internal/metrics"
)

// Event represents a change published to SSE subscribers.
type Event struct {
	Resource string         `json:"resource"`       // e.g. "preferences", "incidents"
	Action   string         `json:"action"`         // "created", "updated", or a client event name
	ID       string         `json:"id,omitempty"`   // resource ID
	Data     map[string]any `json:"data,omitempty"` // event payload
}

// Resources carried on the bus.
const (
	ResourceIncidents   = "incidents"
	ResourcePreferences = "preferences"
	ResourceCountries   = "countries"
	ResourceMap         = "map"
)

// EventBus fans events out to subscribers. A subscriber that falls behind
// loses events rather than blocking publishers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]map[string]bool // nil filter: every resource
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]map[string]bool)}
}

// Publish delivers e to every subscriber interested in e.Resource.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, filter := range b.subs {
		if filter != nil && !filter[e.Resource] {
			continue
		}
		select {
		case ch <- e:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(e.Resource).Inc()
		}
	}
}

// Emit publishes a map-session notification, so a bus can serve as the
// visibility controller's emitter.
func (b *EventBus) Emit(event string, data map[string]any) {
	b.Publish(Event{Resource: ResourceMap, Action: event, Data: data})
}

// Subscribe returns a buffered channel receiving events for resources, or
// for every resource when none are given.
func (b *EventBus) Subscribe(resources ...string) chan Event {
	var filter map[string]bool
	if len(resources) > 0 {
		filter = make(map[string]bool, len(resources))
		for _, r := range resources {
			filter[r] = true
		}
	}
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = filter
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown or
// already removed channels are ignored.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Subscribers reports the number of live subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// DefaultBus is the package-level event bus.
var DefaultBus = NewEventBus()
