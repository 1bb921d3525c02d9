package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"eventhub/internal/engine/channels"
)

type HealthHandler struct {
	db       *sql.DB
	channels *channels.Registry
}

func NewHealthHandler(db *sql.DB, registry *channels.Registry) *HealthHandler {
	return &HealthHandler{db: db, channels: registry}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
	} else {
		checks["database"] = "healthy"
	}

	active := h.channels.Active()
	if len(active) == 0 {
		checks["channels"] = "unhealthy: no active channels"
	} else {
		checks["channels"] = "healthy"
	}

	status := "healthy"
	for _, check := range checks {
		if len(check) >= 9 && check[:9] == "unhealthy" {
			status = "degraded"
			break
		}
	}

	response := struct {
		Status    string            `json:"status"`
		Timestamp int64             `json:"timestamp"`
		Checks    map[string]string `json:"checks"`
		Channels  []channels.Kind   `json:"channels"`
	}{
		Status:    status,
		Timestamp: time.Now().Unix(),
		Checks:    checks,
		Channels:  active,
	}

	statusCode := http.StatusOK
	if status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, response)
}
