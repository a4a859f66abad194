package events

import (
	"encoding/json"
	"sync"
	"time"

	"mozzafiato/internal/models"
)

// SyncCompletedPayload summarizes one drain-and-refresh invocation.
type SyncCompletedPayload struct {
	Trigger    string                     `json:"trigger"`
	Online     bool                       `json:"online"`
	Categories map[string]CategoryOutcome `json:"categories,omitempty"`
	Refreshed  []string                   `json:"refreshed,omitempty"`
	StartedAt  time.Time                  `json:"started_at"`
	Duration   time.Duration              `json:"duration"`
}

// CategoryOutcome is the Phase A result for one category.
type CategoryOutcome struct {
	Submitted int               `json:"submitted"`
	Result    models.SyncResult `json:"result"`
}

// RecordEnqueuedPayload is published after a write has been persisted locally.
type RecordEnqueuedPayload struct {
	RecordID string          `json:"record_id"`
	Category models.Category `json:"category"`
	Seq      int64           `json:"seq"`
}

// ConnectivityPayload accompanies connectivity transition events.
type ConnectivityPayload struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the event payload into out.
func (e *Event) Decode(out interface{}) error {
	return json.Unmarshal(e.Payload, out)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	onError     func(eventType string, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a callback for handler errors. Without one they are dropped.
func (b *EventBus) OnError(fn func(eventType string, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type in registration order.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event.Type, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
