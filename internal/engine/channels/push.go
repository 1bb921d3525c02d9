package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"eventhub/internal/platform/config"
	"eventhub/internal/platform/models"
)

var ErrMissingPushToken = errors.New("recipient has no push token")

type PushAdapter struct {
	cfg       config.PushConfig
	appDomain string
	client    *providerClient
}

func NewPushAdapter(cfg config.PushConfig, appDomain string, client *providerClient) *PushAdapter {
	return &PushAdapter{cfg: cfg, appDomain: appDomain, client: client}
}

func (a *PushAdapter) Kind() Kind { return Push }

func (a *PushAdapter) Send(ctx context.Context, n *models.Notification) (*Result, error) {
	if n.RecipientToken == "" {
		return nil, ErrMissingPushToken
	}
	if a.cfg.ProviderURL == "" || a.cfg.ServerKey == "" {
		return simulated(Push, n), nil
	}

	reply, err := a.client.postJSON(ctx, a.cfg.ProviderURL, map[string]string{
		"Authorization": "key=" + a.cfg.ServerKey,
	}, map[string]interface{}{
		"to": n.RecipientToken,
		"notification": map[string]interface{}{
			"title":        n.Title,
			"body":         n.Content,
			"click_action": a.clickURL(n),
		},
		"data": map[string]interface{}{
			"notification_id": n.ID,
			"type":            n.Type,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("push provider: %w", err)
	}

	return &Result{
		Success:    true,
		ExternalID: pushMessageID(reply),
		Response:   reply,
	}, nil
}

// clickURL prefers an explicit action_url from metadata, then a link to the
// notification in the app.
func (a *PushAdapter) clickURL(n *models.Notification) string {
	if n.Metadata != nil {
		if u, ok := n.Metadata["action_url"].(string); ok && u != "" {
			return u
		}
	}
	if a.appDomain == "" {
		return ""
	}
	base := a.appDomain
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return strings.TrimSuffix(base, "/") + "/notifications/" + n.ID
}

func pushMessageID(reply map[string]interface{}) string {
	if id := stringField(reply, "message_id"); id != "" {
		return id
	}
	results, ok := reply["results"].([]interface{})
	if !ok || len(results) == 0 {
		return ""
	}
	if first, ok := results[0].(map[string]interface{}); ok {
		return stringField(first, "message_id")
	}
	return ""
}
