package handlers

import (
	"fmt"
	"net/http"

	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"

	"github.com/rs/zerolog/log"
)

// MetricsHandler renders pipeline gauges in the Prometheus text format.
type MetricsHandler struct {
	notifications *repositories.NotificationRepository
	queue         *repositories.QueueRepository
}

func NewMetricsHandler(notifications *repositories.NotificationRepository, queue *repositories.QueueRepository) *MetricsHandler {
	return &MetricsHandler{notifications: notifications, queue: queue}
}

func (h *MetricsHandler) Export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP eventhub_up Is the server up\n")
	fmt.Fprintf(w, "# TYPE eventhub_up gauge\n")
	fmt.Fprintf(w, "eventhub_up 1\n")

	if counts, err := h.notifications.CountByStatus(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to collect notification metrics")
	} else {
		writeGauge(w, "eventhub_notifications", "Notifications by status", counts)
	}

	if counts, err := h.queue.CountByStatus(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to collect queue metrics")
	} else {
		writeGauge(w, "eventhub_queue_items", "Queue items by status", counts)
	}
}

func writeGauge(w http.ResponseWriter, name, help string, counts []models.StatusCount) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	for _, c := range counts {
		fmt.Fprintf(w, "%s{status=%q} %d\n", name, c.Status, c.Count)
	}
}
