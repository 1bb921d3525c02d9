package models

const (
	DeliveryStatusProcessing = "processing"
	DeliveryStatusSuccess    = "success"
	DeliveryStatusFailed     = "failed"
)

// DeliveryLog records one accepted webhook call. It is created before the
// event is dispatched and completed exactly once.
type DeliveryLog struct {
	ID                string `json:"id"`
	DeliveryID        string `json:"delivery_id"`
	APIKeyID          string `json:"api_key_id"`
	Event             string `json:"event"`
	Payload           string `json:"payload"`
	SourceIP          string `json:"source_ip"`
	Status            string `json:"status"`
	ResponseStatus    int    `json:"response_status"`
	ResponseBody      string `json:"response_body,omitempty"`
	ProcessingTimeMs  int64  `json:"processing_time_ms"`
	ListenersExecuted int    `json:"listeners_executed"`
	NotificationsSent int    `json:"notifications_sent"`
	WebsocketEvents   int    `json:"websocket_events"`
	ErrorMessage      string `json:"error_message,omitempty"`
	CreatedAt         int64  `json:"created_at"`
	CompletedAt       *int64 `json:"completed_at,omitempty"`
}

type DeliveryLogFilter struct {
	Event    string
	APIKeyID string
	Status   string
	From     *int64
	To       *int64
	Limit    int
	Offset   int
}
