package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"eventhub/internal/api/handlers"
	"eventhub/internal/api/middleware"
	"eventhub/internal/engine/channels"
	"eventhub/internal/engine/events"
	"eventhub/internal/engine/notifications"
	"eventhub/internal/engine/ratelimit"
	"eventhub/internal/engine/realtime"
	"eventhub/internal/engine/webhooks"
	"eventhub/internal/pkg/clock"
	"eventhub/internal/platform/audit"
	"eventhub/internal/platform/auth"
	"eventhub/internal/platform/config"
	"eventhub/internal/platform/database"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	db     *sql.DB
	clock  *clock.Fixed
	router *httprouter.Router
	events *events.Router
	keys   *repositories.APIKeyRepository
	tokens *auth.TokenService
}

func newTestServer(t *testing.T) *testServer {
	db, err := database.NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewFixed(time.Now().Truncate(time.Second))

	keys := repositories.NewAPIKeyRepository(db)
	configs := repositories.NewNotificationConfigRepository(db)
	notifs := repositories.NewNotificationRepository(db)
	queue := repositories.NewQueueRepository(db)
	logs := repositories.NewDeliveryLogRepository(db)
	auditLog := audit.NewLogger(db)
	tokens := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour})

	registry := channels.NewRegistry(channels.NewInAppAdapter(nil))
	engine := notifications.NewEngine(db, configs,
		notifications.NewRecipientResolver(repositories.NewUserRepository(db)), registry, clk)

	eventRouter := events.NewRouter()
	events.NewHandlers(engine, repositories.NewInspectionOrderRepository(db), realtime.Noop{}, "app.example.com").
		Register(eventRouter)

	limiter := ratelimit.NewMemoryLimiter(clk, time.Minute, 0)
	keyCache := webhooks.NewKeyCache(keys, clk, time.Minute)
	authenticator := webhooks.NewAuthenticator(keyCache, clk, webhooks.AuthOptions{VerifySignature: true, EnforceIPAllowlist: true})
	ips, err := webhooks.NewIPResolver([]string{"10.1.0.0/16"})
	require.NoError(t, err)

	router := NewRouter(&Dependencies{
		WebhookHandler: handlers.NewWebhookHandler(authenticator, limiter, logs, eventRouter, ips, clk,
			config.WebhooksConfig{MaxBodyBytes: 1 << 20, DefaultRateLimit: 60}),
		APIKeyHandler:             handlers.NewAPIKeyHandler(keys, auditLog, keyCache, 60),
		NotificationConfigHandler: handlers.NewNotificationConfigHandler(configs, auditLog),
		DeliveryLogHandler:        handlers.NewDeliveryLogHandler(logs),
		QueueHandler:              handlers.NewQueueHandler(queue, notifs, auditLog),
		InboxHandler:              handlers.NewInboxHandler(notifs),
		AuditHandler:              handlers.NewAuditHandler(auditLog),
		HealthHandler:             handlers.NewHealthHandler(db, registry),
		MetricsHandler:            handlers.NewMetricsHandler(notifs, queue),
		AuthMiddleware:            middleware.NewAuthMiddleware(tokens),
		Limiter:                   limiter,
		AdminRateLimit:            1000,
	})

	require.NoError(t, repositories.NewUserRepository(db).Create(context.Background(), &models.User{
		ID: "usr_coord", Name: "Coordinator", Email: "coord@example.com", Role: "coordinator", IsActive: true,
	}))

	return &testServer{db: db, clock: clk, router: router, events: eventRouter, keys: keys, tokens: tokens}
}

type rawKey struct {
	raw    string
	secret string
	model  *models.APIKey
}

func (s *testServer) addKey(t *testing.T, limit int, allowed ...string) rawKey {
	return s.addKeyFrom(t, nil, limit, allowed...)
}

func (s *testServer) addKeyFrom(t *testing.T, ips []string, limit int, allowed ...string) rawKey {
	gen, err := webhooks.GenerateKey()
	require.NoError(t, err)
	key := &models.APIKey{
		Name:               "crm",
		KeyHash:            gen.Hash,
		KeyPrefix:          gen.Prefix,
		Secret:             gen.Secret,
		AllowedEvents:      models.StringList(allowed),
		AllowedIPs:         models.StringList(append([]string{}, ips...)),
		RateLimitPerMinute: limit,
		IsActive:           true,
	}
	require.NoError(t, s.keys.Create(context.Background(), key))
	return rawKey{raw: gen.Raw, secret: gen.Secret, model: key}
}

func (s *testServer) send(key rawKey, body []byte) *httptest.ResponseRecorder {
	return s.sendFrom(key, body, "", "")
}

// sendFrom overrides the connection address and X-Forwarded-For when set.
func (s *testServer) sendFrom(key rawKey, body []byte, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	ts := strconv.FormatInt(s.clock.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key.raw != "" {
		req.Header.Set("Authorization", "Bearer "+key.raw)
	}
	req.Header.Set("X-Webhook-Timestamp", ts)
	req.Header.Set("X-Webhook-Signature", webhooks.SignRequest(key.secret, ts, body))
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) admin(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	return s.as(t, "usr_admin", auth.RoleAdmin, method, path, body)
}

func (s *testServer) as(t *testing.T, userID, role, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	token, err := s.tokens.GenerateAccessToken(userID, role)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type webhookResponse struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
	ProcessingTimeMs *int64 `json:"processing_time_ms"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) webhookResponse {
	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func envelope(event string, data map[string]interface{}) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"event":   event,
		"data":    data,
		"options": map[string]interface{}{"trigger_websockets": true},
	})
	return body
}

var orderData = map[string]interface{}{
	"inspection_order": map[string]interface{}{
		"id":     "io_1",
		"number": "IO-1",
		"client": map[string]interface{}{"name": "Ana", "email": "ana@example.com"},
	},
}

func TestWebhook_CreatedEventWithConfig(t *testing.T) {
	s := newTestServer(t)
	key := s.addKey(t, 60)

	rec := s.admin(t, http.MethodPost, "/api/v1/admin/notification-configs", map[string]interface{}{
		"name":             "new order",
		"type":             "inspection_order.created",
		"channel":          "in_app",
		"template_title":   "Nueva orden",
		"template_content": "Orden {{inspection_order.number}} para {{inspection_order.client.name}}",
		"target_roles":     []string{"coordinator"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.send(key, envelope(events.OrderCreated, orderData))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, float64(1), resp.Data["notifications_sent"])
	assert.Equal(t, float64(1), resp.Data["listeners_executed"])
	assert.Equal(t, float64(1), resp.Data["websocket_events"])
	assert.Equal(t, events.StatusProcessed, resp.Data["status"])
	assert.NotEmpty(t, resp.Data["event_id"])
	require.NotNil(t, resp.ProcessingTimeMs)

	webhookID, _ := resp.Data["webhook_id"].(string)
	entry, err := repositories.NewDeliveryLogRepository(s.db).GetByDeliveryID(context.Background(), webhookID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusSuccess, entry.Status)
	assert.Equal(t, events.OrderCreated, entry.Event)
	assert.Equal(t, 1, entry.NotificationsSent)
	assert.NotNil(t, entry.CompletedAt)

	// The coordinator now has the rendered message in their inbox.
	rec = s.as(t, "usr_coord", auth.RoleOperator, http.MethodGet, "/api/v1/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var inbox struct {
		Data []models.Notification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inbox))
	require.Len(t, inbox.Data, 1)
	assert.Equal(t, "Orden IO-1 para Ana", inbox.Data[0].Content)
	assert.Equal(t, models.NotificationDelivered, inbox.Data[0].Status)

	rec = s.as(t, "usr_coord", auth.RoleOperator, http.MethodPost, "/api/v1/notifications/read/"+inbox.Data[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.as(t, "usr_coord", auth.RoleOperator, http.MethodGet, "/api/v1/notifications/unread-count", nil)
	assert.JSONEq(t, `{"unread":0}`, rec.Body.String())
}

func TestWebhook_NoMatchingConfigIsNotAnError(t *testing.T) {
	s := newTestServer(t)
	key := s.addKey(t, 60)

	rec := s.send(key, envelope(events.OrderStarted, orderData))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, float64(0), resp.Data["notifications_sent"])
}

func TestWebhook_IdenticalPayloadsAreLoggedTwice(t *testing.T) {
	s := newTestServer(t)
	key := s.addKey(t, 60)
	body := envelope(events.OrderStarted, orderData)

	first := decode(t, s.send(key, body))
	second := decode(t, s.send(key, body))
	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.NotEqual(t, first.Data["webhook_id"], second.Data["webhook_id"])

	logs, err := repositories.NewDeliveryLogRepository(s.db).List(context.Background(), models.DeliveryLogFilter{})
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestWebhook_Rejections(t *testing.T) {
	s := newTestServer(t)
	key := s.addKey(t, 60)
	restricted := s.addKey(t, 60, events.OrderCreated)

	tests := []struct {
		name   string
		key    rawKey
		body   []byte
		status int
		code   string
	}{
		{"missing key", rawKey{secret: "x"}, envelope(events.OrderCreated, orderData), http.StatusUnauthorized, "MISSING_API_KEY"},
		{"unknown key", rawKey{raw: "whk_nope", secret: "x"}, envelope(events.OrderCreated, orderData), http.StatusUnauthorized, "INVALID_API_KEY"},
		{"bad signature", rawKey{raw: key.raw, secret: "wrong"}, envelope(events.OrderCreated, orderData), http.StatusUnauthorized, "INVALID_SIGNATURE"},
		{"missing data field", key, envelope(events.OrderCreated, map[string]interface{}{"other": 1}), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"malformed body", key, []byte(`{not json`), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"event not allowed", restricted, envelope(events.OrderStarted, orderData), http.StatusForbidden, "PERMISSION_ERROR"},
		{"unknown event", key, envelope("invoice.paid", orderData), http.StatusInternalServerError, "PROCESSING_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.send(tt.key, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			resp := decode(t, rec)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestWebhook_ValidationFailureIsLogged(t *testing.T) {
	s := newTestServer(t)
	key := s.addKey(t, 60)

	rec := s.send(key, envelope(events.OrderScheduled, orderData))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.ElementsMatch(t,
		[]interface{}{"data.appointment", "data.appointment.scheduled_for"},
		resp.Error.Details["missing_fields"])

	logs, err := repositories.NewDeliveryLogRepository(s.db).List(context.Background(), models.DeliveryLogFilter{
		Status: models.DeliveryStatusFailed,
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, http.StatusBadRequest, logs[0].ResponseStatus)
	assert.Equal(t, events.OrderScheduled, logs[0].Event)
}

func TestWebhook_IPAllowlist(t *testing.T) {
	s := newTestServer(t)
	key := s.addKeyFrom(t, []string{"10.0.0.5"}, 60)
	body := envelope(events.OrderStarted, orderData)

	tests := []struct {
		name      string
		remote    string
		forwarded string
		status    int
		sourceIP  string
	}{
		{"forged header from untrusted peer", "198.51.100.77:4444", "10.0.0.5", http.StatusForbidden, ""},
		{"direct connection from allowed ip", "10.0.0.5:4444", "", http.StatusOK, "10.0.0.5"},
		{"allowed ip behind trusted proxy", "10.1.0.2:80", "10.0.0.5", http.StatusOK, "10.0.0.5"},
		{"forged leftmost hop behind trusted proxy", "10.1.0.2:80", "10.0.0.5, 198.51.100.77", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.sendFrom(key, body, tt.remote, tt.forwarded)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			resp := decode(t, rec)
			if tt.status != http.StatusOK {
				require.NotNil(t, resp.Error)
				assert.Equal(t, "IP_NOT_ALLOWED", resp.Error.Code)
				return
			}

			webhookID, _ := resp.Data["webhook_id"].(string)
			entry, err := repositories.NewDeliveryLogRepository(s.db).GetByDeliveryID(context.Background(), webhookID)
			require.NoError(t, err)
			assert.Equal(t, tt.sourceIP, entry.SourceIP)
		})
	}
}

func TestWebhook_HandlerPanicIsContained(t *testing.T) {
	s := newTestServer(t)
	key := s.addKey(t, 60)
	s.events.Register("inspection_order.archived", func(context.Context, *events.Event) (*events.Result, error) {
		panic("archive store exploded: dsn=secret")
	})

	rec := s.send(key, envelope("inspection_order.archived", orderData))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "exploded")
	assert.NotContains(t, rec.Body.String(), "secret")

	resp := decode(t, rec)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PROCESSING_ERROR", resp.Error.Code)

	logs, err := repositories.NewDeliveryLogRepository(s.db).List(context.Background(), models.DeliveryLogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliveryStatusFailed, logs[0].Status)
	assert.Equal(t, http.StatusInternalServerError, logs[0].ResponseStatus)
	assert.Equal(t, "inspection_order.archived", logs[0].Event)
	assert.NotNil(t, logs[0].CompletedAt)
	assert.NotEmpty(t, logs[0].ErrorMessage)

	// The server keeps serving after the panic.
	assert.Equal(t, http.StatusOK, s.send(key, envelope(events.OrderStarted, orderData)).Code)
}

func TestWebhook_RateLimit(t *testing.T) {
	s := newTestServer(t)
	key := s.addKey(t, 2)
	body := envelope(events.OrderStarted, orderData)

	assert.Equal(t, http.StatusOK, s.send(key, body).Code)
	assert.Equal(t, http.StatusOK, s.send(key, body).Code)

	rec := s.send(key, body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", resp.Error.Code)

	s.clock.Advance(61 * time.Second)
	assert.Equal(t, http.StatusOK, s.send(key, body).Code)
}

func TestWebhook_StaleTimestampRejected(t *testing.T) {
	s := newTestServer(t)
	key := s.addKey(t, 60)
	body := envelope(events.OrderStarted, orderData)

	ts := strconv.FormatInt(s.clock.Now().Add(-10*time.Minute).Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/events", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+key.raw)
	req.Header.Set("X-Webhook-Timestamp", ts)
	req.Header.Set("X-Webhook-Signature", webhooks.SignRequest(key.secret, ts, body))

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/api-keys", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.as(t, "usr_op", auth.RoleOperator, http.MethodGet, "/api/v1/admin/api-keys", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_APIKeyLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.admin(t, http.MethodPost, "/api/v1/admin/api-keys", map[string]interface{}{
		"name":                  "partner",
		"allowed_events":        []string{events.OrderStarted},
		"rate_limit_per_minute": 5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID     string `json:"id"`
		Key    string `json:"key"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Key)
	assert.NotEmpty(t, created.Secret)

	// The fresh credentials work against the ingress endpoint.
	key := rawKey{raw: created.Key, secret: created.Secret}
	assert.Equal(t, http.StatusOK, s.send(key, envelope(events.OrderStarted, orderData)).Code)

	rec = s.admin(t, http.MethodPost, "/api/v1/admin/api-keys/"+created.ID+"/rotate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rotated struct {
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.NotEqual(t, created.Secret, rotated.Secret)

	assert.Equal(t, http.StatusUnauthorized, s.send(key, envelope(events.OrderStarted, orderData)).Code)
	key.secret = rotated.Secret
	assert.Equal(t, http.StatusOK, s.send(key, envelope(events.OrderStarted, orderData)).Code)

	rec = s.admin(t, http.MethodDelete, "/api/v1/admin/api-keys/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, s.send(key, envelope(events.OrderStarted, orderData)).Code)

	rec = s.admin(t, http.MethodGet, "/api/v1/admin/audit-logs?resource_type=api_key", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var audits struct {
		Data []audit.AuditLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &audits))
	assert.Len(t, audits.Data, 3)
}

func TestAdmin_NotificationConfigValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.admin(t, http.MethodPost, "/api/v1/admin/notification-configs", map[string]interface{}{
		"name":             "bad",
		"type":             "inspection_order.created",
		"channel":          "fax",
		"template_content": "x",
		"schedule_type":    "cron",
		"cron_expression":  "not a cron",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "INVALID_INPUT", errResp.Code)
	assert.Contains(t, errResp.Details, "channel")
	assert.Contains(t, errResp.Details, "cron_expression")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "eventhub_up 1")
}
