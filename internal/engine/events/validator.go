package events

import (
	"strings"

	"eventhub/internal/engine/notifications"
	"eventhub/internal/engine/webhooks"
	"eventhub/internal/platform/models"
)

const (
	OrderCreated         = "inspection_order.created"
	OrderAssigned        = "inspection_order.assigned"
	OrderScheduled       = "inspection_order.scheduled"
	OrderStarted         = "inspection_order.started"
	OrderProcessExisting = "inspection_order.process_existing"
)

var orderFields = []string{"inspection_order", "inspection_order.id"}

// requiredFields lists data paths per event type. Unknown types only need
// the envelope itself; the router rejects them later.
var requiredFields = map[string][]string{
	OrderCreated:         orderFields,
	OrderAssigned:        append(append([]string{}, orderFields...), "inspector"),
	OrderScheduled:       append(append([]string{}, orderFields...), "appointment", "appointment.scheduled_for"),
	OrderStarted:         orderFields,
	OrderProcessExisting: orderFields,
}

// Validate checks the envelope shape and the event's required data paths.
// Missing fields are reported as "event", "data" or "data.<path>".
func Validate(env *webhooks.Envelope) error {
	var missing []string
	if strings.TrimSpace(env.Event) == "" {
		missing = append(missing, "event")
	}
	if env.Data == nil {
		missing = append(missing, "data")
	}
	if len(missing) > 0 {
		return webhooks.ValidationError("Event envelope is incomplete", missing)
	}

	for _, path := range requiredFields[env.Event] {
		if _, ok := notifications.Lookup(env.Data, path); !ok {
			missing = append(missing, "data."+path)
		}
	}
	if len(missing) > 0 {
		return webhooks.ValidationError("Event data is missing required fields", missing)
	}
	return nil
}

// CheckPermission enforces the key's event allow-list. An empty list
// allows every event.
func CheckPermission(key *models.APIKey, event string) error {
	if !key.AllowsEvent(event) {
		return webhooks.PermissionError(event)
	}
	return nil
}
