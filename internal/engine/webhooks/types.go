package webhooks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "eventhub/internal/pkg/errors"
)

// Envelope is the body accepted by the ingress endpoint.
type Envelope struct {
	Event   string                 `json:"event"`
	Data    map[string]interface{} `json:"data"`
	Context map[string]interface{} `json:"context,omitempty"`
	Options Options                `json:"options"`
}

type Options struct {
	TriggerWebsockets bool       `json:"trigger_websockets"`
	RecipientUserID   string     `json:"recipient_user_id,omitempty"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
}

// ParseEnvelope decodes body. Shape checks beyond JSON syntax belong to the
// event validator.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, ValidationError("Request body is not a valid event envelope", []string{"body"})
	}
	return &env, nil
}

// Error is a failure that maps onto a webhook error response.
type Error struct {
	Status  int
	Code    string
	Message string
	Details interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(status int, code, message string, details interface{}) *Error {
	return &Error{Status: status, Code: code, Message: message, Details: details}
}

// ValidationError lists the missing or malformed fields in details.
func ValidationError(message string, fields []string) *Error {
	return NewError(http.StatusBadRequest, apperrors.ErrCodeValidation, message, map[string]interface{}{"missing_fields": fields})
}

func PermissionError(event string) *Error {
	return NewError(http.StatusForbidden, apperrors.ErrCodePermission,
		fmt.Sprintf("API key is not allowed to send %q events", event), nil)
}

func ProcessingError(message string) *Error {
	return NewError(http.StatusInternalServerError, apperrors.ErrCodeProcessing, message, nil)
}
