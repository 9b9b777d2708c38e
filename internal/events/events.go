// Package events is an in-process bus for login and booking lifecycle events.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types.
const (
	LoginCodeRequested = "login.code_requested"
	LoginVerified      = "login.verified"
	LoginFailed        = "login.failed"
	LoginExpired       = "login.expired"
	BookingCompleted   = "booking.completed"
	BookingFailed      = "booking.failed"
	AccountDeleted     = "account.deleted"
)

// AllTypes lists every event type the service publishes.
var AllTypes = []string{
	LoginCodeRequested,
	LoginVerified,
	LoginFailed,
	LoginExpired,
	BookingCompleted,
	BookingFailed,
	AccountDeleted,
}

// Event is a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Phone     string
	AttemptID string
	// Outcome is the result kind of the operation that produced the event.
	Outcome   string
	Message   string
	CreatedAt time.Time
}

// Handler reacts to an event.
type Handler func(Event) error

// Bus provides synchronous pub/sub.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	logger      zerolog.Logger
}

func NewBus(logger *zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]Handler),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers handler for the given event types.
func (b *Bus) Subscribe(handler Handler, types ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish delivers the event to its subscribers in registration order.
// Handler errors are logged and do not stop delivery.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Str("event_id", event.ID).Msg("event handler failed")
		}
	}
}
