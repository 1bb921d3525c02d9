package models

// User is a member of the back-office staff that can receive notifications.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role"`
	PushToken string `json:"-"`
	IsActive  bool   `json:"is_active"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// InspectionOrder is the snapshot of an order that webhook handlers enrich.
type InspectionOrder struct {
	ID                string `json:"id"`
	Number            string `json:"number"`
	ClientName        string `json:"client_name"`
	ClientEmail       string `json:"client_email"`
	ClientPhone       string `json:"client_phone"`
	AccessToken       string `json:"-"`
	AccessLink        string `json:"access_link,omitempty"`
	WebhookDeliveryID string `json:"webhook_delivery_id,omitempty"`
	WebhookAPIKeyID   string `json:"webhook_api_key_id,omitempty"`
	WebhookReceivedAt *int64 `json:"webhook_received_at,omitempty"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
}
