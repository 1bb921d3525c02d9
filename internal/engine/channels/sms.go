package channels

import (
	"context"
	"fmt"

	"eventhub/internal/pkg/validator"
	"eventhub/internal/platform/config"
	"eventhub/internal/platform/models"
)

type SMSAdapter struct {
	cfg    config.SMSConfig
	client *providerClient
}

func NewSMSAdapter(cfg config.SMSConfig, client *providerClient) *SMSAdapter {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 160
	}
	return &SMSAdapter{cfg: cfg, client: client}
}

func (a *SMSAdapter) Kind() Kind { return SMS }

func (a *SMSAdapter) Send(ctx context.Context, n *models.Notification) (*Result, error) {
	to, err := validator.NormalizePhone(n.RecipientPhone)
	if err != nil {
		return nil, fmt.Errorf("sms recipient %q: %w", n.RecipientPhone, err)
	}
	if a.cfg.ProviderURL == "" || a.cfg.APIKey == "" {
		return simulated(SMS, n), nil
	}

	reply, err := a.client.postJSON(ctx, a.cfg.ProviderURL, map[string]string{
		"Authorization": "Bearer " + a.cfg.APIKey,
	}, map[string]interface{}{
		"to":   to,
		"from": a.cfg.From,
		"body": truncate(smsText(n), a.cfg.MaxLength),
	})
	if err != nil {
		return nil, fmt.Errorf("sms provider: %w", err)
	}

	return &Result{
		Success:    true,
		Delivered:  stringField(reply, "status") == "delivered",
		ExternalID: stringField(reply, "id"),
		Response:   reply,
	}, nil
}

func smsText(n *models.Notification) string {
	if n.Title == "" {
		return n.Content
	}
	return n.Title + ": " + n.Content
}
