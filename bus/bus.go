// Package bus provides the typed publish/subscribe backbone of the
// coordination core. Every state change in the core is announced here so
// other modules and observers can react without direct coupling.
//
// A Bus is an explicitly constructed instance passed by reference to every
// component that needs it; multiple independent cores can run in one process
// without cross-talk.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/internal/metrics"
)

// Event is the immutable envelope published on the bus. Timestamp is
// milliseconds since the Unix epoch so the envelope stays JSON-friendly.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Source    string    `json:"source"`
	Payload   Payload   `json:"payload"`
}

// Handler receives events. Handlers run on the publisher's goroutine in
// subscription order; a panicking handler is recovered and logged without
// affecting other handlers or the publisher.
type Handler func(Event)

// Filter optionally narrows a subscription. A subscriber only sees events for
// which every filter returns true.
type Filter func(Event) bool

type subscription struct {
	id      string
	typ     EventType
	handler Handler
	filters []Filter
}

// Bus is a synchronous, in-process event bus. Delivery to the subscribers of
// a type preserves publish order for each subscriber. No durability is
// provided; durable delivery belongs to an external persistence collaborator.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]*subscription
	byID    map[string]*subscription
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option customizes a Bus at construction time.
type Option func(*Bus)

// WithMetrics counts published events on the given collector. A nil collector
// leaves metrics off.
func WithMetrics(c *metrics.Collector) Option {
	return func(b *Bus) { b.metrics = c }
}

// New creates a new event bus. A nil logger falls back to zap.NewNop().
func New(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		subs:   make(map[EventType][]*subscription),
		byID:   make(map[string]*subscription),
		logger: logger.With(zap.String("component", "event_bus")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewEvent builds an envelope with a fresh ID and the current timestamp.
func NewEvent(typ EventType, source string, payload Payload) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now().UnixMilli(),
		Source:    source,
		Payload:   payload,
	}
}

// Publish delivers the event to all current subscribers of its type whose
// filters match. Missing ID or timestamp fields are filled in.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	b.metrics.RecordEventPublished(string(event.Type))

	b.mu.RLock()
	subs := make([]*subscription, len(b.subs[event.Type]))
	copy(subs, b.subs[event.Type])
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.matches(event) {
			continue
		}
		b.invoke(sub, event)
	}
}

// invoke runs one handler, isolating panics so a bad subscriber cannot stop
// delivery to the rest.
func (b *Bus) invoke(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("subscription_id", sub.id),
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.Any("recover", r),
			)
		}
	}()
	sub.handler(event)
}

func (s *subscription) matches(event Event) bool {
	for _, f := range s.filters {
		if !f(event) {
			return false
		}
	}
	return true
}

// Subscribe registers a handler for an event type and returns the
// subscription ID. Optional filters narrow which events are delivered.
func (b *Bus) Subscribe(typ EventType, handler Handler, filters ...Filter) string {
	sub := &subscription{
		id:      uuid.New().String(),
		typ:     typ,
		handler: handler,
		filters: filters,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[typ] = append(b.subs[typ], sub)
	b.byID[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription by ID. Unknown IDs are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)

	list := b.subs[sub.typ]
	for i, s := range list {
		if s.id == id {
			b.subs[sub.typ] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.typ]) == 0 {
		delete(b.subs, sub.typ)
	}
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[EventType][]*subscription)
	b.byID = make(map[string]*subscription)
}

// SubscriberCount returns the number of subscribers for a type.
func (b *Bus) SubscriberCount(typ EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[typ])
}

// SourceFilter keeps only events originating from the given source.
func SourceFilter(source string) Filter {
	return func(e Event) bool { return e.Source == source }
}
