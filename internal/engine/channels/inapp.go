package channels

import (
	"context"

	"eventhub/internal/engine/realtime"
	"eventhub/internal/platform/models"

	"github.com/rs/zerolog/log"
)

// InAppAdapter treats the stored row as the delivery. The live push is a
// courtesy and its failure does not fail the send.
type InAppAdapter struct {
	broadcaster realtime.Broadcaster
}

func NewInAppAdapter(b realtime.Broadcaster) *InAppAdapter {
	if b == nil {
		b = realtime.Noop{}
	}
	return &InAppAdapter{broadcaster: b}
}

func (a *InAppAdapter) Kind() Kind { return InApp }

func (a *InAppAdapter) Send(ctx context.Context, n *models.Notification) (*Result, error) {
	live := false
	if n.RecipientID != "" {
		err := a.broadcaster.Publish(ctx, realtime.UserChannel(n.RecipientID), "notification", map[string]interface{}{
			"id":         n.ID,
			"type":       n.Type,
			"title":      n.Title,
			"content":    n.Content,
			"priority":   n.Priority,
			"created_at": n.CreatedAt,
		})
		if err != nil {
			log.Warn().Err(err).Str("notification_id", n.ID).Msg("Live in-app push failed")
		} else {
			live = true
		}
	}

	return &Result{
		Success:    true,
		Delivered:  true,
		ExternalID: "inapp_" + n.ID,
		Response:   map[string]interface{}{"live_push": live},
	}, nil
}
