package handlers

import (
	"errors"
	"net/http"

	"eventhub/internal/api/middleware"
	apperrors "eventhub/internal/pkg/errors"
	"eventhub/internal/platform/repositories"
)

// InboxHandler serves the caller's own in-app notifications.
type InboxHandler struct {
	repo *repositories.NotificationRepository
}

func NewInboxHandler(repo *repositories.NotificationRepository) *InboxHandler {
	return &InboxHandler{repo: repo}
}

func (h *InboxHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)
	limit, offset := page(r)

	list, err := h.repo.ListInbox(r.Context(), repositories.InboxFilter{
		UserID:     claims.UserID,
		UnreadOnly: r.URL.Query().Get("unread") == "true",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to list notifications", nil)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: list, Limit: limit, Offset: offset})
}

func (h *InboxHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)
	id := param(r, "notification_id")

	if err := h.repo.MarkRead(r.Context(), claims.UserID, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "Notification not found", nil)
			return
		}
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to mark notification read", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InboxHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)

	n, err := h.repo.MarkAllRead(r.Context(), claims.UserID)
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to mark notifications read", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *InboxHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)

	count, err := h.repo.UnreadCount(r.Context(), claims.UserID)
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to count notifications", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}
