package models

// APIKey is a webhook credential. The raw key is shown once at creation and
// only its SHA-256 hash is stored; the secret is kept because HMAC
// verification needs it.
type APIKey struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	KeyHash            string     `json:"-"`
	KeyPrefix          string     `json:"key_prefix"`
	Secret             string     `json:"-"`
	AllowedEvents      StringList `json:"allowed_events"` // empty = unrestricted
	AllowedIPs         StringList `json:"allowed_ips"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	IsActive           bool       `json:"is_active"`
	ExpiresAt          *int64     `json:"expires_at,omitempty"`
	LastUsedAt         *int64     `json:"last_used_at,omitempty"`
	CreatedAt          int64      `json:"created_at"`
	UpdatedAt          int64      `json:"updated_at"`
	DeletedAt          *int64     `json:"deleted_at,omitempty"`
}

func (k *APIKey) IsExpired(now int64) bool {
	return k.ExpiresAt != nil && now > *k.ExpiresAt
}

// AllowsEvent reports whether the key may submit the event.
func (k *APIKey) AllowsEvent(event string) bool {
	return len(k.AllowedEvents) == 0 || k.AllowedEvents.Contains(event)
}
