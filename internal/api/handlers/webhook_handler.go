package handlers

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"eventhub/internal/engine/events"
	"eventhub/internal/engine/ratelimit"
	"eventhub/internal/engine/webhooks"
	"eventhub/internal/pkg/clock"
	apperrors "eventhub/internal/pkg/errors"
	"eventhub/internal/platform/config"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WebhookHandler is the inbound event endpoint.
type WebhookHandler struct {
	auth    *webhooks.Authenticator
	limiter ratelimit.Limiter
	logs    *repositories.DeliveryLogRepository
	router  *events.Router
	ips     *webhooks.IPResolver
	clock   clock.Clock
	cfg     config.WebhooksConfig
}

func NewWebhookHandler(
	auth *webhooks.Authenticator,
	limiter ratelimit.Limiter,
	logs *repositories.DeliveryLogRepository,
	router *events.Router,
	ips *webhooks.IPResolver,
	clk clock.Clock,
	cfg config.WebhooksConfig,
) *WebhookHandler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.DefaultRateLimit <= 0 {
		cfg.DefaultRateLimit = 60
	}
	return &WebhookHandler{auth: auth, limiter: limiter, logs: logs, router: router, ips: ips, clock: clk, cfg: cfg}
}

type webhookResult struct {
	WebhookID         string `json:"webhook_id"`
	EventID           string `json:"event_id"`
	Event             string `json:"event"`
	Status            string `json:"status"`
	ProcessedAt       string `json:"processed_at"`
	ListenersExecuted int    `json:"listeners_executed"`
	NotificationsSent int    `json:"notifications_sent"`
	WebsocketEvents   int    `json:"websocket_events"`
}

// Receive authenticates, rate limits, logs, validates and dispatches one
// event. Every request that passes authentication and the rate limit gets
// exactly one delivery log row, completed with the response sent.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	start := h.clock.Now()
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		writeWebhookFailure(w, webhooks.ValidationError("Request body is unreadable or too large", []string{"body"}))
		return
	}

	creds := webhooks.CredentialsFromRequest(r, body, h.ips)
	authd, err := h.auth.Authenticate(ctx, creds)
	if err != nil {
		log.Warn().Err(err).Str("source_ip", creds.SourceIP).Msg("Webhook authentication failed")
		writeWebhookFailure(w, err)
		return
	}

	key := authd.Key
	logger := log.With().Str("delivery_id", authd.DeliveryID).Str("api_key_id", key.ID).Logger()

	if rejected := h.checkRateLimit(ctx, w, key, logger); rejected {
		return
	}

	entry := &models.DeliveryLog{
		DeliveryID: authd.DeliveryID,
		APIKeyID:   key.ID,
		Payload:    string(body),
		SourceIP:   creds.SourceIP,
		CreatedAt:  start.Unix(),
	}
	if err := h.logs.Create(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("Failed to create delivery log")
		writeWebhookFailure(w, webhooks.ProcessingError("Failed to record webhook delivery"))
		return
	}

	ev, result, err := h.process(ctx, body, authd)
	if ev != nil {
		entry.Event = ev.Envelope.Event
		logger = logger.With().Str("event", entry.Event).Logger()
	}

	elapsed := h.clock.Now().Sub(start).Milliseconds()
	entry.ProcessingTimeMs = elapsed

	if err != nil {
		var werr *webhooks.Error
		if !errors.As(err, &werr) || werr.Status >= http.StatusInternalServerError {
			logger.Error().Err(err).Msg("Webhook processing failed")
		} else {
			logger.Warn().Err(err).Msg("Webhook rejected")
		}
		entry.Status = models.DeliveryStatusFailed
		entry.ErrorMessage = err.Error()
		entry.ResponseStatus, entry.ResponseBody = writeWebhookFailure(w, err)
		h.complete(entry, logger)
		return
	}

	data := webhookResult{
		WebhookID:         authd.DeliveryID,
		EventID:           ulid.MustNew(ulid.Timestamp(start), rand.Reader).String(),
		Event:             ev.Envelope.Event,
		Status:            result.Status,
		ProcessedAt:       h.clock.Now().UTC().Format(time.RFC3339),
		ListenersExecuted: result.ListenersExecuted,
		NotificationsSent: result.NotificationsSent,
		WebsocketEvents:   result.WebsocketEvents,
	}

	entry.Status = models.DeliveryStatusSuccess
	entry.ResponseStatus = http.StatusOK
	entry.ListenersExecuted = result.ListenersExecuted
	entry.NotificationsSent = result.NotificationsSent
	entry.WebsocketEvents = result.WebsocketEvents
	entry.ResponseBody = string(apperrors.WriteWebhookSuccess(w, data, elapsed))
	h.complete(entry, logger)

	logger.Info().
		Int("notifications_sent", result.NotificationsSent).
		Int("websocket_events", result.WebsocketEvents).
		Int64("processing_time_ms", elapsed).
		Msg("Webhook processed")
}

func (h *WebhookHandler) checkRateLimit(ctx context.Context, w http.ResponseWriter, key *models.APIKey, logger zerolog.Logger) bool {
	limit := key.RateLimitPerMinute
	if limit <= 0 {
		limit = h.cfg.DefaultRateLimit
	}

	res, err := h.limiter.Allow(ctx, key.ID, limit)
	if err != nil {
		logger.Error().Err(err).Msg("Rate limiter unavailable, allowing request")
		return false
	}
	if res.Allowed {
		return false
	}

	retryAfter := res.RetryAfterSeconds()
	logger.Warn().Int("limit", limit).Int("retry_after", retryAfter).Msg("Webhook rate limit exceeded")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	apperrors.WriteWebhookError(w, http.StatusTooManyRequests, apperrors.ErrCodeRateLimitExceeded, "Rate limit exceeded",
		map[string]interface{}{"limit": limit, "retry_after": retryAfter})
	return true
}

// process parses, validates, authorises and dispatches the body. A panic in
// a handler becomes a processing error so the delivery log still completes.
func (h *WebhookHandler) process(ctx context.Context, body []byte, authd *webhooks.Authenticated) (ev *events.Event, result *events.Result, err error) {
	env, err := webhooks.ParseEnvelope(body)
	if err != nil {
		return nil, nil, err
	}
	ev = &events.Event{Envelope: env, Key: authd.Key, DeliveryID: authd.DeliveryID, ReceivedAt: h.clock.Now()}

	if err := events.Validate(env); err != nil {
		return ev, nil, err
	}
	if err := events.CheckPermission(authd.Key, env.Event); err != nil {
		return ev, nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).
				Str("delivery_id", authd.DeliveryID).Msg("Event handler panicked")
			err = webhooks.ProcessingError(fmt.Sprintf("Handler for %q failed", env.Event))
		}
	}()

	result, err = h.router.Dispatch(ctx, ev)
	return ev, result, err
}

// complete uses a detached context so a client disconnect cannot leave the
// row in processing.
func (h *WebhookHandler) complete(entry *models.DeliveryLog, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.logs.Complete(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("Failed to complete delivery log")
	}
}

// writeWebhookFailure maps err onto the webhook envelope. Anything that is
// not a *webhooks.Error is reported as a generic processing error.
func writeWebhookFailure(w http.ResponseWriter, err error) (int, string) {
	var werr *webhooks.Error
	if !errors.As(err, &werr) {
		werr = webhooks.ProcessingError("Internal processing error")
	}
	body := apperrors.WriteWebhookError(w, werr.Status, werr.Code, werr.Message, werr.Details)
	return werr.Status, string(body)
}
