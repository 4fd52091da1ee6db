package events

import (
	"encoding/json"
	"sync"
	"time"

	"shareit/internal/models"

	"github.com/rs/zerolog"
)

// BookingEventPayload is the booking snapshot sent to event consumers.
type BookingEventPayload struct {
	BookingID   int64     `json:"booking_id"`
	ItemID      int64     `json:"item_id"`
	ItemName    string    `json:"item_name,omitempty"`
	BookerID    int64     `json:"booker_id"`
	OwnerID     int64     `json:"owner_id"`
	Status      string    `json:"status"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Version     int64     `json:"version"`
	ChangedByID int64     `json:"changed_by_id,omitempty"`
}

func NewBookingPayload(b *models.Booking, changedByID int64) BookingEventPayload {
	return BookingEventPayload{
		BookingID:   b.ID,
		ItemID:      b.ItemID,
		ItemName:    b.ItemName,
		BookerID:    b.BookerID,
		OwnerID:     b.OwnerID,
		Status:      b.Status.String(),
		Start:       b.Start,
		End:         b.End,
		Version:     b.Version,
		ChangedByID: changedByID,
	}
}

// Booking rebuilds the booking fields carried by the payload.
func (p BookingEventPayload) Booking() *models.Booking {
	return &models.Booking{
		ID:       p.BookingID,
		ItemID:   p.ItemID,
		ItemName: p.ItemName,
		BookerID: p.BookerID,
		OwnerID:  p.OwnerID,
		Status:   models.Status(p.Status),
		Start:    p.Start,
		End:      p.End,
		Version:  p.Version,
	}
}

// BookingEventTypes lists every event the engine emits.
var BookingEventTypes = []string{
	models.EventBookingCreated,
	models.EventBookingApproved,
	models.EventBookingRejected,
	models.EventBookingCanceled,
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// DecodeBooking unmarshals a booking payload.
func (e *Event) DecodeBooking() (BookingEventPayload, error) {
	var p BookingEventPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged to logger when set.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for every type in eventTypes.
func (b *EventBus) SubscribeAll(eventTypes []string, handler EventHandler) {
	for _, t := range eventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type synchronously.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil && b.logger != nil {
			b.logger.Error().Err(err).Str("event_type", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
