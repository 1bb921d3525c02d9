package models

const (
	ScheduleImmediate = "immediate"
	ScheduleDelayed   = "delayed"
	ScheduleCron      = "cron"
)

// NotificationConfig binds an event type and a channel to templates and a
// targeting policy.
type NotificationConfig struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Type                 string     `json:"type"`
	Channel              string     `json:"channel"`
	TemplateTitle        string     `json:"template_title"`
	TemplateContent      string     `json:"template_content"`
	TargetRoles          StringList `json:"target_roles"`
	TargetUsers          StringList `json:"target_users"`
	ForClients           bool       `json:"for_clients"`
	ScheduleType         string     `json:"schedule_type"`
	ScheduleDelayMinutes int        `json:"schedule_delay_minutes"`
	CronExpression       string     `json:"cron_expression,omitempty"`
	Priority             int        `json:"priority"`
	MaxRetries           int        `json:"max_retries"`
	IsActive             bool       `json:"is_active"`
	CreatedAt            int64      `json:"created_at"`
	UpdatedAt            int64      `json:"updated_at"`
}

const (
	NotificationPending   = "pending"
	NotificationScheduled = "scheduled"
	NotificationSending   = "sending"
	NotificationSent      = "sent"
	NotificationDelivered = "delivered"
	NotificationFailed    = "failed"
	NotificationRead      = "read"
)

const (
	RecipientUser   = "user"
	RecipientClient = "client"
)

// Notification is one rendered message for one recipient on one channel.
type Notification struct {
	ID               string  `json:"id"`
	ConfigID         string  `json:"config_id,omitempty"`
	Type             string  `json:"type"`
	Channel          string  `json:"channel"`
	RecipientType    string  `json:"recipient_type"`
	RecipientID      string  `json:"recipient_id,omitempty"`
	RecipientName    string  `json:"recipient_name,omitempty"`
	RecipientEmail   string  `json:"recipient_email,omitempty"`
	RecipientPhone   string  `json:"recipient_phone,omitempty"`
	RecipientToken   string  `json:"-"`
	Title            string  `json:"title"`
	Content          string  `json:"content"`
	Priority         int     `json:"priority"`
	Status           string  `json:"status"`
	ScheduledAt      int64   `json:"scheduled_at"`
	SentAt           *int64  `json:"sent_at,omitempty"`
	DeliveredAt      *int64  `json:"delivered_at,omitempty"`
	FailedAt         *int64  `json:"failed_at,omitempty"`
	ReadAt           *int64  `json:"read_at,omitempty"`
	RetryCount       int     `json:"retry_count"`
	MaxRetries       int     `json:"max_retries"`
	ExternalID       string  `json:"external_id,omitempty"`
	ProviderResponse JSONMap `json:"provider_response,omitempty"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	Metadata         JSONMap `json:"metadata"`
	CreatedAt        int64   `json:"created_at"`
	UpdatedAt        int64   `json:"updated_at"`
}

// ChannelName returns the channel recorded in metadata, falling back to the column.
func (n *Notification) ChannelName() string {
	if n.Metadata != nil {
		if ch, ok := n.Metadata["channel"].(string); ok && ch != "" {
			return ch
		}
	}
	return n.Channel
}

const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueCompleted  = "completed"
	QueueFailed     = "failed"
	QueueCancelled  = "cancelled"
)

// QueueItem is a unit of deferred send work. LockedBy/LockedUntil give
// cooperative exclusivity between workers.
type QueueItem struct {
	ID             string `json:"id"`
	NotificationID string `json:"notification_id"`
	Priority       int    `json:"priority"`
	Status         string `json:"status"`
	ScheduledAt    int64  `json:"scheduled_at"`
	Attempts       int    `json:"attempts"`
	MaxAttempts    int    `json:"max_attempts"`
	NextAttemptAt  *int64 `json:"next_attempt_at,omitempty"`
	LockedBy       string `json:"locked_by,omitempty"`
	LockedUntil    *int64 `json:"locked_until,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	ProcessedAt    *int64 `json:"processed_at,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// StatusCount is one row of a per-status aggregate.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}
