package notifications

import (
	"context"
	"fmt"

	"eventhub/internal/platform/models"
)

type Recipient struct {
	Type      string
	ID        string
	Name      string
	Email     string
	Phone     string
	PushToken string
}

func (r Recipient) templateData() map[string]interface{} {
	return map[string]interface{}{
		"type":  r.Type,
		"id":    r.ID,
		"name":  r.Name,
		"email": r.Email,
		"phone": r.Phone,
	}
}

// UserDirectory looks up active users for targeting.
type UserDirectory interface {
	ListActiveByRoles(ctx context.Context, roles []string) ([]*models.User, error)
	ListActiveByIDs(ctx context.Context, ids []string) ([]*models.User, error)
}

type RecipientResolver struct {
	users UserDirectory
}

func NewRecipientResolver(users UserDirectory) *RecipientResolver {
	return &RecipientResolver{users: users}
}

// Resolve returns the union of role members, explicit target users, the
// option's recipient user and, for client configs, the embedded client.
// Duplicates are kept; configs are expected to target disjoint sets.
func (r *RecipientResolver) Resolve(ctx context.Context, cfg *models.NotificationConfig, data map[string]interface{}, recipientUserID string) ([]Recipient, error) {
	var recipients []Recipient

	if len(cfg.TargetRoles) > 0 {
		users, err := r.users.ListActiveByRoles(ctx, cfg.TargetRoles)
		if err != nil {
			return nil, fmt.Errorf("resolve roles: %w", err)
		}
		recipients = appendUsers(recipients, users)
	}

	if len(cfg.TargetUsers) > 0 {
		users, err := r.users.ListActiveByIDs(ctx, cfg.TargetUsers)
		if err != nil {
			return nil, fmt.Errorf("resolve target users: %w", err)
		}
		recipients = appendUsers(recipients, users)
	}

	if recipientUserID != "" {
		users, err := r.users.ListActiveByIDs(ctx, []string{recipientUserID})
		if err != nil {
			return nil, fmt.Errorf("resolve recipient user: %w", err)
		}
		recipients = appendUsers(recipients, users)
	}

	if cfg.ForClients {
		if client, ok := clientFromData(data); ok {
			recipients = append(recipients, client)
		}
	}

	return recipients, nil
}

func appendUsers(recipients []Recipient, users []*models.User) []Recipient {
	for _, u := range users {
		recipients = append(recipients, Recipient{
			Type:      models.RecipientUser,
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Phone:     u.Phone,
			PushToken: u.PushToken,
		})
	}
	return recipients
}

// clientFromData finds the client contact in data.client, then
// data.inspection_order.client, then the flat client_* order fields.
func clientFromData(data map[string]interface{}) (Recipient, bool) {
	for _, path := range []string{"client", "inspection_order.client"} {
		if v, ok := Lookup(data, path); ok {
			if m, ok := v.(map[string]interface{}); ok {
				c := Recipient{
					Type:  models.RecipientClient,
					ID:    stringAt(m, "id"),
					Name:  stringAt(m, "name"),
					Email: stringAt(m, "email"),
					Phone: stringAt(m, "phone"),
				}
				if c.Email != "" || c.Phone != "" {
					return c, true
				}
			}
		}
	}

	if v, ok := Lookup(data, "inspection_order"); ok {
		if order, ok := v.(map[string]interface{}); ok {
			c := Recipient{
				Type:  models.RecipientClient,
				Name:  stringAt(order, "client_name"),
				Email: stringAt(order, "client_email"),
				Phone: stringAt(order, "client_phone"),
			}
			if c.Email != "" || c.Phone != "" {
				return c, true
			}
		}
	}
	return Recipient{}, false
}

func stringAt(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return formatValue(v)
}
