package handlers

import (
	"errors"
	"net/http"

	"eventhub/internal/api/middleware"
	apperrors "eventhub/internal/pkg/errors"
	"eventhub/internal/platform/audit"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"
)

type QueueHandler struct {
	queue         *repositories.QueueRepository
	notifications *repositories.NotificationRepository
	audit         *audit.Logger
}

func NewQueueHandler(queue *repositories.QueueRepository, notifications *repositories.NotificationRepository, auditLog *audit.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, notifications: notifications, audit: auditLog}
}

func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	items, err := h.queue.List(r.Context(), repositories.QueueFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to list queue items", nil)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: items, Limit: limit, Offset: offset})
}

// Cancel only succeeds for items still pending; anything a worker has
// picked up runs to completion.
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)
	id := param(r, "item_id")

	if err := h.queue.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			apperrors.WriteError(w, http.StatusConflict, apperrors.ErrCodeConflict, "Queue item is not pending or does not exist", nil)
			return
		}
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to cancel queue item", nil)
		return
	}

	h.audit.Log(r.Context(), r, claims.UserID, "queue_item.cancel", "queue_item", id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": models.QueueCancelled})
}

func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	queueCounts, err := h.queue.CountByStatus(r.Context())
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to load queue stats", nil)
		return
	}
	notificationCounts, err := h.notifications.CountByStatus(r.Context())
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to load notification stats", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":         queueCounts,
		"notifications": notificationCounts,
	})
}
