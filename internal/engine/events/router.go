// Package events validates inbound domain events and routes them to their
// handlers.
package events

import (
	"context"
	"fmt"
	"time"

	"eventhub/internal/engine/webhooks"
	"eventhub/internal/platform/models"
)

// Event is an authenticated, validated envelope ready for dispatch.
type Event struct {
	Envelope   *webhooks.Envelope
	Key        *models.APIKey
	DeliveryID string
	ReceivedAt time.Time
}

const (
	StatusProcessed        = "processed"
	StatusAlreadyProcessed = "already_processed"
)

type Result struct {
	Status            string
	ListenersExecuted int
	NotificationsSent int
	WebsocketEvents   int
}

type Handler func(ctx context.Context, ev *Event) (*Result, error)

type Router struct {
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

func (r *Router) Register(event string, h Handler) {
	r.handlers[event] = h
}

func (r *Router) Has(event string) bool {
	_, ok := r.handlers[event]
	return ok
}

// Dispatch runs the handler registered for the exact event name. Unknown
// events are a processing error.
func (r *Router) Dispatch(ctx context.Context, ev *Event) (*Result, error) {
	h, ok := r.handlers[ev.Envelope.Event]
	if !ok {
		return nil, webhooks.ProcessingError(fmt.Sprintf("No handler registered for event %q", ev.Envelope.Event))
	}
	return h(ctx, ev)
}
