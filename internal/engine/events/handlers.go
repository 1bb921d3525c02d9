package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventhub/internal/engine/notifications"
	"eventhub/internal/engine/realtime"
	"eventhub/internal/engine/webhooks"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Notifier is the notification engine entry point used by handlers.
type Notifier interface {
	CreateNotification(ctx context.Context, eventType string, data map[string]interface{}, opts notifications.Options) ([]*models.Notification, error)
}

type OrderStore interface {
	GetByID(ctx context.Context, id string) (*models.InspectionOrder, error)
	Upsert(ctx context.Context, o *models.InspectionOrder) error
	SetAccessLink(ctx context.Context, id, token, link string) (bool, error)
}

type Handlers struct {
	notifier    Notifier
	orders      OrderStore
	broadcaster realtime.Broadcaster
	appDomain   string
}

func NewHandlers(notifier Notifier, orders OrderStore, broadcaster realtime.Broadcaster, appDomain string) *Handlers {
	if broadcaster == nil {
		broadcaster = realtime.Noop{}
	}
	return &Handlers{notifier: notifier, orders: orders, broadcaster: broadcaster, appDomain: appDomain}
}

// Register wires every order event into r.
func (h *Handlers) Register(r *Router) {
	r.Register(OrderCreated, h.Created)
	r.Register(OrderAssigned, h.Assigned)
	r.Register(OrderScheduled, h.Scheduled)
	r.Register(OrderStarted, h.Started)
	r.Register(OrderProcessExisting, h.ProcessExisting)
}

// EventType maps a semantic action onto the notification config type.
func EventType(action string) string {
	return "inspection_order." + action
}

func (h *Handlers) Created(ctx context.Context, ev *Event) (*Result, error) {
	if _, err := h.recordOrder(ctx, ev); err != nil {
		return nil, err
	}
	return h.notify(ctx, ev, "created", enrich(ev), nil)
}

func (h *Handlers) Assigned(ctx context.Context, ev *Event) (*Result, error) {
	inspector, ok := ev.Envelope.Data["inspector"].(map[string]interface{})
	if !ok {
		return nil, webhooks.ValidationError("Inspector must be an object", []string{"data.inspector"})
	}
	if _, err := h.recordOrder(ctx, ev); err != nil {
		return nil, err
	}

	inspectorID := stringValue(inspector["id"])
	return h.notify(ctx, ev, "assigned", enrich(ev), []string{inspectorID})
}

func (h *Handlers) Scheduled(ctx context.Context, ev *Event) (*Result, error) {
	raw, _ := notifications.Lookup(ev.Envelope.Data, "appointment.scheduled_for")
	scheduledFor, err := time.Parse(time.RFC3339, stringValue(raw))
	if err != nil {
		return nil, webhooks.ValidationError("Appointment time must be RFC 3339", []string{"data.appointment.scheduled_for"})
	}
	if _, err := h.recordOrder(ctx, ev); err != nil {
		return nil, err
	}

	data := enrich(ev)
	data["appointment_date"] = scheduledFor.Format("2006-01-02")
	data["appointment_time"] = scheduledFor.Format("15:04")
	return h.notify(ctx, ev, "scheduled", data, nil)
}

func (h *Handlers) Started(ctx context.Context, ev *Event) (*Result, error) {
	if _, err := h.recordOrder(ctx, ev); err != nil {
		return nil, err
	}
	return h.notify(ctx, ev, "started", enrich(ev), nil)
}

// ProcessExisting generates the client access link for an order that was
// created before webhooks were enabled. An order that already has a link
// is reported as already processed and nothing is sent.
func (h *Handlers) ProcessExisting(ctx context.Context, ev *Event) (*Result, error) {
	order, err := orderSnapshot(ev)
	if err != nil {
		return nil, err
	}

	existing, err := h.orders.GetByID(ctx, order.ID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("load inspection order %s: %w", order.ID, err)
	}
	if existing != nil && existing.AccessLink != "" {
		return &Result{Status: StatusAlreadyProcessed, ListenersExecuted: 1}, nil
	}

	if err := h.orders.Upsert(ctx, order); err != nil {
		return nil, fmt.Errorf("store inspection order %s: %w", order.ID, err)
	}

	token := uuid.NewString()
	link := h.accessLink(token)
	applied, err := h.orders.SetAccessLink(ctx, order.ID, token, link)
	if err != nil {
		return nil, fmt.Errorf("store access link for %s: %w", order.ID, err)
	}
	if !applied {
		return &Result{Status: StatusAlreadyProcessed, ListenersExecuted: 1}, nil
	}

	data := enrich(ev)
	data["access_link"] = link
	return h.notify(ctx, ev, "created", data, nil)
}

func (h *Handlers) notify(ctx context.Context, ev *Event, action string, data map[string]interface{}, users []string) (*Result, error) {
	opts := ev.Envelope.Options
	created, err := h.notifier.CreateNotification(ctx, EventType(action), data, notifications.Options{
		RecipientUserID: opts.RecipientUserID,
		ScheduledAt:     opts.ScheduledAt,
		Context:         ev.Envelope.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("create notifications for %s: %w", action, err)
	}

	result := &Result{Status: StatusProcessed, ListenersExecuted: 1, NotificationsSent: len(created)}
	if opts.TriggerWebsockets {
		result.WebsocketEvents = h.broadcast(ctx, ev, action, data, append(users, opts.RecipientUserID))
	}
	return result, nil
}

// broadcast publishes the order event to the shared channel and to each
// named user, returning how many publishes succeeded.
func (h *Handlers) broadcast(ctx context.Context, ev *Event, action string, data map[string]interface{}, users []string) int {
	payload := map[string]interface{}{
		"event":       ev.Envelope.Event,
		"action":      action,
		"delivery_id": ev.DeliveryID,
		"data":        data,
	}

	channelNames := []string{realtime.OrdersChannel}
	seen := map[string]bool{}
	for _, id := range users {
		if id != "" && !seen[id] {
			seen[id] = true
			channelNames = append(channelNames, realtime.UserChannel(id))
		}
	}

	sent := 0
	for _, name := range channelNames {
		if err := h.broadcaster.Publish(ctx, name, EventType(action), payload); err != nil {
			log.Warn().Err(err).Str("channel", name).Str("delivery_id", ev.DeliveryID).Msg("Realtime publish failed")
			continue
		}
		sent++
	}
	return sent
}

// recordOrder stores the order snapshot tagged with webhook provenance.
func (h *Handlers) recordOrder(ctx context.Context, ev *Event) (*models.InspectionOrder, error) {
	order, err := orderSnapshot(ev)
	if err != nil {
		return nil, err
	}
	if err := h.orders.Upsert(ctx, order); err != nil {
		return nil, fmt.Errorf("store inspection order %s: %w", order.ID, err)
	}
	return order, nil
}

func orderSnapshot(ev *Event) (*models.InspectionOrder, error) {
	raw, ok := ev.Envelope.Data["inspection_order"].(map[string]interface{})
	if !ok {
		return nil, webhooks.ValidationError("Inspection order must be an object", []string{"data.inspection_order"})
	}
	id := stringValue(raw["id"])
	if id == "" {
		return nil, webhooks.ValidationError("Inspection order id is required", []string{"data.inspection_order.id"})
	}

	receivedAt := ev.ReceivedAt.Unix()
	order := &models.InspectionOrder{
		ID:                id,
		Number:            stringValue(raw["number"]),
		ClientName:        stringValue(raw["client_name"]),
		ClientEmail:       stringValue(raw["client_email"]),
		ClientPhone:       stringValue(raw["client_phone"]),
		WebhookDeliveryID: ev.DeliveryID,
		WebhookAPIKeyID:   ev.Key.ID,
		WebhookReceivedAt: &receivedAt,
	}
	if client, ok := raw["client"].(map[string]interface{}); ok {
		order.ClientName = firstNonEmpty(stringValue(client["name"]), order.ClientName)
		order.ClientEmail = firstNonEmpty(stringValue(client["email"]), order.ClientEmail)
		order.ClientPhone = firstNonEmpty(stringValue(client["phone"]), order.ClientPhone)
	}

	return order, nil
}

func (h *Handlers) accessLink(token string) string {
	base := h.appDomain
	if base == "" {
		base = "localhost"
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return strings.TrimSuffix(base, "/") + "/inspection/" + token
}

// enrich copies the event data and adds webhook provenance for templates.
func enrich(ev *Event) map[string]interface{} {
	data := make(map[string]interface{}, len(ev.Envelope.Data)+1)
	for k, v := range ev.Envelope.Data {
		data[k] = v
	}
	data["webhook"] = map[string]interface{}{
		"delivery_id": ev.DeliveryID,
		"api_key_id":  ev.Key.ID,
		"event":       ev.Envelope.Event,
		"received_at": ev.ReceivedAt.Unix(),
	}
	return data
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprint(val)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
