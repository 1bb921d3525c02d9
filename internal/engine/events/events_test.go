package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"eventhub/internal/engine/notifications"
	"eventhub/internal/engine/realtime"
	"eventhub/internal/engine/webhooks"
	apperrors "eventhub/internal/pkg/errors"
	"eventhub/internal/platform/database"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notifyCall struct {
	eventType string
	data      map[string]interface{}
	opts      notifications.Options
}

type fakeNotifier struct {
	calls []notifyCall
	count int
	err   error
}

func (n *fakeNotifier) CreateNotification(_ context.Context, eventType string, data map[string]interface{}, opts notifications.Options) ([]*models.Notification, error) {
	n.calls = append(n.calls, notifyCall{eventType: eventType, data: data, opts: opts})
	if n.err != nil {
		return nil, n.err
	}
	return make([]*models.Notification, n.count), nil
}

type recordingBroadcaster struct {
	channels []string
}

func (b *recordingBroadcaster) Publish(_ context.Context, channel, _ string, _ interface{}) error {
	b.channels = append(b.channels, channel)
	return nil
}

func (b *recordingBroadcaster) Close() {}

func parse(t *testing.T, body string) *webhooks.Envelope {
	env, err := webhooks.ParseEnvelope([]byte(body))
	require.NoError(t, err)
	return env
}

func validationFields(t *testing.T, err error) []string {
	var werr *webhooks.Error
	require.True(t, errors.As(err, &werr), "expected *webhooks.Error, got %v", err)
	require.Equal(t, apperrors.ErrCodeValidation, werr.Code)
	return werr.Details.(map[string]interface{})["missing_fields"].([]string)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		missing []string
	}{
		{"valid created", `{"event":"inspection_order.created","data":{"inspection_order":{"id":1}}}`, nil},
		{"missing event and data", `{}`, []string{"event", "data"}},
		{"missing order", `{"event":"inspection_order.created","data":{}}`, []string{"data.inspection_order", "data.inspection_order.id"}},
		{"missing order id", `{"event":"inspection_order.started","data":{"inspection_order":{}}}`, []string{"data.inspection_order.id"}},
		{"assigned without inspector", `{"event":"inspection_order.assigned","data":{"inspection_order":{"id":"io_1"}}}`, []string{"data.inspector"}},
		{
			"scheduled without time",
			`{"event":"inspection_order.scheduled","data":{"inspection_order":{"id":"io_1"},"appointment":{}}}`,
			[]string{"data.appointment.scheduled_for"},
		},
		{"unknown event passes shape check", `{"event":"inspection_order.deleted","data":{}}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(parse(t, tt.body))
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.missing, validationFields(t, err))
		})
	}
}

func TestCheckPermission(t *testing.T) {
	open := &models.APIKey{}
	assert.NoError(t, CheckPermission(open, OrderCreated))

	restricted := &models.APIKey{AllowedEvents: models.StringList{OrderCreated}}
	assert.NoError(t, CheckPermission(restricted, OrderCreated))

	err := CheckPermission(restricted, OrderStarted)
	var werr *webhooks.Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, apperrors.ErrCodePermission, werr.Code)
	assert.Equal(t, http.StatusForbidden, werr.Status)
}

type handlerFixture struct {
	notifier    *fakeNotifier
	broadcaster *recordingBroadcaster
	orders      *repositories.InspectionOrderRepository
	router      *Router
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	db, err := database.NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &handlerFixture{
		notifier:    &fakeNotifier{count: 2},
		broadcaster: &recordingBroadcaster{},
		orders:      repositories.NewInspectionOrderRepository(db),
		router:      NewRouter(),
	}
	NewHandlers(f.notifier, f.orders, f.broadcaster, "app.example.com").Register(f.router)
	return f
}

func (f *handlerFixture) dispatch(t *testing.T, body string) (*Result, error) {
	return f.dispatchDelivery(t, body, "wh_1", time.Unix(1700000000, 0))
}

func (f *handlerFixture) dispatchDelivery(t *testing.T, body, deliveryID string, receivedAt time.Time) (*Result, error) {
	env := parse(t, body)
	require.NoError(t, Validate(env))
	return f.router.Dispatch(context.Background(), &Event{
		Envelope:   env,
		Key:        &models.APIKey{ID: "key_1"},
		DeliveryID: deliveryID,
		ReceivedAt: receivedAt,
	})
}

func TestRouter_UnknownEventFailsClosed(t *testing.T) {
	f := newHandlerFixture(t)

	_, err := f.dispatch(t, `{"event":"inspection_order.deleted","data":{}}`)
	var werr *webhooks.Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, apperrors.ErrCodeProcessing, werr.Code)
	assert.Equal(t, http.StatusInternalServerError, werr.Status)
	assert.Empty(t, f.notifier.calls)
}

func TestHandlers_CreatedRecordsProvenance(t *testing.T) {
	f := newHandlerFixture(t)

	res, err := f.dispatch(t, `{"event":"inspection_order.created","data":{"inspection_order":{"id":42,"number":"IO-42","client":{"name":"Ana","email":"ana@example.com"}}}}`)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, 2, res.NotificationsSent)
	assert.Equal(t, 1, res.ListenersExecuted)
	assert.Equal(t, 0, res.WebsocketEvents)

	require.Len(t, f.notifier.calls, 1)
	call := f.notifier.calls[0]
	assert.Equal(t, "inspection_order.created", call.eventType)
	assert.Equal(t, "wh_1", call.data["webhook"].(map[string]interface{})["delivery_id"])

	order, err := f.orders.GetByID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "IO-42", order.Number)
	assert.Equal(t, "Ana", order.ClientName)
	assert.Equal(t, "wh_1", order.WebhookDeliveryID)
	assert.Equal(t, "key_1", order.WebhookAPIKeyID)
}

func TestHandlers_AssignedBroadcastsToInspector(t *testing.T) {
	f := newHandlerFixture(t)

	res, err := f.dispatch(t, `{
		"event":"inspection_order.assigned",
		"data":{"inspection_order":{"id":"io_1"},"inspector":{"id":"usr_7","name":"Luis"}},
		"options":{"trigger_websockets":true,"recipient_user_id":"usr_7"}
	}`)
	require.NoError(t, err)
	assert.Equal(t, 2, res.WebsocketEvents)
	assert.Equal(t, []string{realtime.OrdersChannel, "user.usr_7"}, f.broadcaster.channels)
	assert.Equal(t, "usr_7", f.notifier.calls[0].opts.RecipientUserID)
	assert.Equal(t, "inspection_order.assigned", f.notifier.calls[0].eventType)
}

func TestHandlers_AssignedRejectsScalarInspector(t *testing.T) {
	f := newHandlerFixture(t)

	_, err := f.dispatch(t, `{"event":"inspection_order.assigned","data":{"inspection_order":{"id":"io_1"},"inspector":"usr_7"}}`)
	assert.Equal(t, []string{"data.inspector"}, validationFields(t, err))
}

func TestHandlers_ScheduledFormatsAppointment(t *testing.T) {
	f := newHandlerFixture(t)

	_, err := f.dispatch(t, `{"event":"inspection_order.scheduled","data":{"inspection_order":{"id":"io_1"},"appointment":{"scheduled_for":"2026-05-02T10:30:00Z"}}}`)
	require.NoError(t, err)
	data := f.notifier.calls[0].data
	assert.Equal(t, "2026-05-02", data["appointment_date"])
	assert.Equal(t, "10:30", data["appointment_time"])

	_, err = f.dispatch(t, `{"event":"inspection_order.scheduled","data":{"inspection_order":{"id":"io_1"},"appointment":{"scheduled_for":"tomorrow"}}}`)
	assert.Equal(t, []string{"data.appointment.scheduled_for"}, validationFields(t, err))
}

func TestHandlers_ProcessExistingIsIdempotent(t *testing.T) {
	f := newHandlerFixture(t)
	body := `{"event":"inspection_order.process_existing","data":{"inspection_order":{"id":"io_9"}}}`

	first, err := f.dispatch(t, body)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, first.Status)
	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, "inspection_order.created", f.notifier.calls[0].eventType)

	link := f.notifier.calls[0].data["access_link"].(string)
	assert.Contains(t, link, "https://app.example.com/inspection/")

	second, err := f.dispatchDelivery(t, body, "wh_2", time.Unix(1700000600, 0))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyProcessed, second.Status)
	assert.Equal(t, 0, second.NotificationsSent)
	assert.Len(t, f.notifier.calls, 1, "already processed orders must not notify again")

	order, err := f.orders.GetByID(context.Background(), "io_9")
	require.NoError(t, err)
	assert.Equal(t, link, order.AccessLink)
	// The replay leaves the provenance of the delivery that issued the link.
	assert.Equal(t, "wh_1", order.WebhookDeliveryID)
	require.NotNil(t, order.WebhookReceivedAt)
	assert.Equal(t, int64(1700000000), *order.WebhookReceivedAt)
}

func TestHandlers_NotifierErrorPropagates(t *testing.T) {
	f := newHandlerFixture(t)
	f.notifier.err = errors.New("db locked")

	_, err := f.dispatch(t, `{"event":"inspection_order.started","data":{"inspection_order":{"id":"io_1"}}}`)
	assert.ErrorContains(t, err, "db locked")
}

func TestEnvelopeOptions(t *testing.T) {
	env := parse(t, `{"event":"x","data":{},"options":{"trigger_websockets":true,"scheduled_at":"2026-01-02T03:04:05Z"}}`)
	assert.True(t, env.Options.TriggerWebsockets)
	require.NotNil(t, env.Options.ScheduledAt)
	assert.Equal(t, int64(1767323045), env.Options.ScheduledAt.Unix())

	_, err := webhooks.ParseEnvelope([]byte(`not json`))
	assert.Error(t, err)

	b, _ := json.Marshal(env)
	assert.Contains(t, string(b), `"trigger_websockets":true`)
}
