package events

import (
	"sync"
	"time"

	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

// Type names a booking lifecycle event.
type Type string

const (
	BookingCreated   Type = "booking.created"
	BookingUpdated   Type = "booking.updated"
	BookingDeclined  Type = "booking.declined"
	BookingConfirmed Type = "booking.confirmed"
	BookingFinished  Type = "booking.finished"
	BookingPaid      Type = "booking.paid"
	BookingCancelled Type = "booking.cancelled"
)

// All matches every event type in Subscribe.
const All Type = "*"

// Event is published after the repository write for an operation commits.
// Booking is a snapshot; for cancellations it is the record before deletion.
// Previous is the record before an edit, when there was one.
type Event struct {
	Type       Type
	Booking    *models.Booking
	Previous   *models.Booking
	OwnerEmail string
	ActorEmail string
	CreatedAt  time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for lifecycle events.
type EventBus struct {
	subscribers map[Type][]EventHandler
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[Type][]EventHandler),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for a given event type, or All.
func (b *EventBus) Subscribe(eventType Type, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handler errors are logged
// and do not stop the remaining handlers.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[All]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; they must hand slow work off themselves.
		if err := handler(event); err != nil {
			ev := b.logger.Error().Err(err).Str("type", string(event.Type))
			if event.Booking != nil {
				ev = ev.Str("booking_id", event.Booking.ID)
			}
			ev.Msg("event handler failed")
		}
	}
}
