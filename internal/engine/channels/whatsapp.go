package channels

import (
	"context"
	"fmt"
	"strings"

	"eventhub/internal/pkg/validator"
	"eventhub/internal/platform/config"
	"eventhub/internal/platform/models"
)

type WhatsAppAdapter struct {
	cfg    config.WhatsAppConfig
	client *providerClient
}

func NewWhatsAppAdapter(cfg config.WhatsAppConfig, client *providerClient) *WhatsAppAdapter {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 4096
	}
	return &WhatsAppAdapter{cfg: cfg, client: client}
}

func (a *WhatsAppAdapter) Kind() Kind { return WhatsApp }

func (a *WhatsAppAdapter) Send(ctx context.Context, n *models.Notification) (*Result, error) {
	to, err := validator.NormalizePhone(n.RecipientPhone)
	if err != nil {
		return nil, fmt.Errorf("whatsapp recipient %q: %w", n.RecipientPhone, err)
	}
	if a.cfg.ProviderURL == "" || a.cfg.AccessToken == "" || a.cfg.PhoneNumberID == "" {
		return simulated(WhatsApp, n), nil
	}

	text := n.Content
	if n.Title != "" {
		text = "*" + n.Title + "*\n" + n.Content
	}

	url := strings.TrimSuffix(a.cfg.ProviderURL, "/") + "/" + a.cfg.PhoneNumberID + "/messages"
	reply, err := a.client.postJSON(ctx, url, map[string]string{
		"Authorization": "Bearer " + a.cfg.AccessToken,
	}, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(to, "+"),
		"type":              "text",
		"text":              map[string]interface{}{"body": truncate(text, a.cfg.MaxLength)},
	})
	if err != nil {
		return nil, fmt.Errorf("whatsapp provider: %w", err)
	}

	return &Result{
		Success:    true,
		ExternalID: whatsAppMessageID(reply),
		Response:   reply,
	}, nil
}

// whatsAppMessageID reads messages[0].id from a Cloud API reply.
func whatsAppMessageID(reply map[string]interface{}) string {
	messages, ok := reply["messages"].([]interface{})
	if !ok || len(messages) == 0 {
		return ""
	}
	first, ok := messages[0].(map[string]interface{})
	if !ok {
		return ""
	}
	return stringField(first, "id")
}
