package handlers

import (
	"net/http"

	apperrors "eventhub/internal/pkg/errors"
	"eventhub/internal/platform/audit"
)

type AuditHandler struct {
	logger *audit.Logger
}

func NewAuditHandler(logger *audit.Logger) *AuditHandler {
	return &AuditHandler{logger: logger}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	logs, err := h.logger.List(r.Context(), audit.Filter{
		ResourceType: r.URL.Query().Get("resource_type"),
		ActorID:      r.URL.Query().Get("actor_id"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to list audit logs", nil)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: logs, Limit: limit, Offset: offset})
}
