package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	apperrors "eventhub/internal/pkg/errors"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"
)

type DeliveryLogHandler struct {
	repo *repositories.DeliveryLogRepository
}

func NewDeliveryLogHandler(repo *repositories.DeliveryLogRepository) *DeliveryLogHandler {
	return &DeliveryLogHandler{repo: repo}
}

// List filters by event, api_key_id, status and a from/to range given as
// unix seconds or RFC3339.
func (h *DeliveryLogHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := page(r)

	filter := models.DeliveryLogFilter{
		Event:    q.Get("event"),
		APIKeyID: q.Get("api_key_id"),
		Status:   q.Get("status"),
		Limit:    limit,
		Offset:   offset,
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid from parameter", nil)
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid to parameter", nil)
		return
	}

	logs, err := h.repo.List(r.Context(), filter)
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to list webhook logs", nil)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: logs, Limit: limit, Offset: offset})
}

func (h *DeliveryLogHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.repo.GetByDeliveryID(r.Context(), param(r, "delivery_id"))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "Webhook log not found", nil)
			return
		}
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to load webhook log", nil)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func parseTimeParam(v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return &secs, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	secs := t.Unix()
	return &secs, nil
}
