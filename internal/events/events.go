package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventHoldAcquired     = "hold_acquired"
	EventHoldReleased     = "hold_released"
	EventHoldExpired      = "hold_expired"
	EventBookingFinalized = "booking_finalized"
	EventBookingCancelled = "booking_cancelled"
)

// HoldEventPayload describes a hold transition for event consumers.
type HoldEventPayload struct {
	HoldID    string    `json:"hold_id"`
	SlotID    string    `json:"slot_id"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BookingEventPayload is the minimal booking snapshot published on finalize and cancel.
type BookingEventPayload struct {
	BookingID   string    `json:"booking_id"`
	ServiceID   string    `json:"service_id"`
	ServiceName string    `json:"service_name"`
	SlotID      string    `json:"slot_id"`
	HoldID      string    `json:"hold_id"`
	ClientName  string    `json:"client_name"`
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	StartTime   time.Time `json:"start_time"`
}

type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	onError     func(event *Event, err error)
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a callback for handler failures. Handlers never stop delivery to the rest.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	b.onError = fn
	b.mu.Unlock()
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers synchronously in subscription order.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event. A nil bus is a no-op.
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
