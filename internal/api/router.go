package api

import (
	"context"
	"net/http"

	apiContext "eventhub/internal/api/context"
	"eventhub/internal/api/handlers"
	"eventhub/internal/api/middleware"
	"eventhub/internal/engine/ratelimit"
	"eventhub/internal/pkg/errors"
	"eventhub/internal/platform/auth"

	"github.com/julienschmidt/httprouter"
)

type Dependencies struct {
	WebhookHandler            *handlers.WebhookHandler
	APIKeyHandler             *handlers.APIKeyHandler
	NotificationConfigHandler *handlers.NotificationConfigHandler
	DeliveryLogHandler        *handlers.DeliveryLogHandler
	QueueHandler              *handlers.QueueHandler
	InboxHandler              *handlers.InboxHandler
	AuditHandler              *handlers.AuditHandler
	HealthHandler             *handlers.HealthHandler
	MetricsHandler            *handlers.MetricsHandler
	AuthMiddleware            *middleware.AuthMiddleware
	// Limiter and AdminRateLimit cap authenticated API calls per user.
	Limiter        ratelimit.Limiter
	AdminRateLimit int
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/health", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Webhook ingress authenticates with API keys inside the handler.
	router.POST("/api/v1/webhooks/events", chain(deps.WebhookHandler.Receive, middleware.RecoverWebhook))

	authMid := deps.AuthMiddleware
	admin := func(h http.HandlerFunc) httprouter.Handle {
		return chain(h, middleware.Recover, authMid.Handle, requireRole(auth.RoleAdmin),
			middleware.RateLimit(deps.Limiter, "admin", deps.AdminRateLimit))
	}
	user := func(h http.HandlerFunc) httprouter.Handle {
		return chain(h, middleware.Recover, authMid.Handle,
			middleware.RateLimit(deps.Limiter, "inbox", deps.AdminRateLimit))
	}

	// API keys
	router.POST("/api/v1/admin/api-keys", admin(deps.APIKeyHandler.Create))
	router.GET("/api/v1/admin/api-keys", admin(deps.APIKeyHandler.List))
	router.GET("/api/v1/admin/api-keys/:key_id", admin(deps.APIKeyHandler.Get))
	router.PATCH("/api/v1/admin/api-keys/:key_id", admin(deps.APIKeyHandler.Update))
	router.POST("/api/v1/admin/api-keys/:key_id/rotate", admin(deps.APIKeyHandler.Rotate))
	router.DELETE("/api/v1/admin/api-keys/:key_id", admin(deps.APIKeyHandler.Delete))

	// Notification configs
	router.POST("/api/v1/admin/notification-configs", admin(deps.NotificationConfigHandler.Create))
	router.GET("/api/v1/admin/notification-configs", admin(deps.NotificationConfigHandler.List))
	router.GET("/api/v1/admin/notification-configs/:config_id", admin(deps.NotificationConfigHandler.Get))
	router.PATCH("/api/v1/admin/notification-configs/:config_id", admin(deps.NotificationConfigHandler.Update))
	router.DELETE("/api/v1/admin/notification-configs/:config_id", admin(deps.NotificationConfigHandler.Delete))

	// Delivery logs, queue and audit
	router.GET("/api/v1/admin/webhook-logs", admin(deps.DeliveryLogHandler.List))
	router.GET("/api/v1/admin/webhook-logs/:delivery_id", admin(deps.DeliveryLogHandler.Get))
	router.GET("/api/v1/admin/queue", admin(deps.QueueHandler.List))
	router.POST("/api/v1/admin/queue/:item_id/cancel", admin(deps.QueueHandler.Cancel))
	router.GET("/api/v1/admin/stats", admin(deps.QueueHandler.Stats))
	router.GET("/api/v1/admin/audit-logs", admin(deps.AuditHandler.List))

	// Inbox
	router.GET("/api/v1/notifications", user(deps.InboxHandler.List))
	router.GET("/api/v1/notifications/unread-count", user(deps.InboxHandler.UnreadCount))
	router.POST("/api/v1/notifications/read-all", user(deps.InboxHandler.MarkAllRead))
	router.POST("/api/v1/notifications/read/:notification_id", user(deps.InboxHandler.MarkRead))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := middleware.ClaimsFrom(r)

			allowed := false
			for _, role := range roles {
				if claims != nil && claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
