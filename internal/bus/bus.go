// Package bus is the session-scoped change notification bus. Stages announce
// "my slice of the document changed" here, and derived-artifact producers
// subscribe. Delivery is synchronous best-effort fan-out: Publish runs every
// handler inline, in subscription order, and returns once all have completed.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SeanSwan/reportflow/internal/models"
)

// Topics. Field-change topics are built per field with TopicFieldChanged.
const (
	TopicNavigation = "navigation.requested"
	TopicRegenerate = "artifacts.regenerate"
	TopicArtifact   = "artifact.changed"

	topicFieldPrefix = "field.changed."
)

// TopicFieldChanged returns the topic announcing changes of one document field.
func TopicFieldChanged(f models.FieldName) string {
	return topicFieldPrefix + string(f)
}

// Event wraps a published payload with correlation metadata.
type Event struct {
	ID      string
	Topic   string
	At      time.Time
	Payload any
}

// Handler consumes one event. A panicking handler is recovered and logged;
// the remaining handlers still run.
type Handler func(Event)

type subscription struct {
	id int64
	fn Handler
}

// Bus is an in-process publish/subscribe hub. The zero value is not usable;
// construct with New.
type Bus struct {
	mu     sync.Mutex
	nextID int64
	subs   map[string][]subscription
	logger *slog.Logger
}

// New returns an empty bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for one topic and returns its unsubscribe
// function. Handlers fire in subscription order. Unsubscribing twice is a
// no-op.
func (b *Bus) Subscribe(topic string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		current := b.subs[topic]
		for i, sub := range current {
			if sub.id == id {
				b.subs[topic] = append(current[:i:i], current[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers payload to every handler currently subscribed to topic and
// returns after the last one completes. Handlers may publish further events;
// subscription changes made during delivery apply to subsequent publishes
// only.
func (b *Bus) Publish(topic string, payload any) {
	event := Event{
		ID:      uuid.NewString(),
		Topic:   topic,
		At:      time.Now(),
		Payload: payload,
	}

	b.mu.Lock()
	handlers := make([]subscription, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.Unlock()

	for _, sub := range handlers {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked",
				"topic", event.Topic,
				"eventId", event.ID,
				"panic", r)
		}
	}()
	sub.fn(event)
}
