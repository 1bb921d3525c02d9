package errors

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// Codes returned by the webhook ingress.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodePermission       = "PERMISSION_ERROR"
	ErrCodeMissingAPIKey    = "MISSING_API_KEY"
	ErrCodeInvalidAPIKey    = "INVALID_API_KEY"
	ErrCodeExpiredAPIKey    = "EXPIRED_API_KEY"
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeIPNotAllowed     = "IP_NOT_ALLOWED"
	ErrCodeProcessing       = "PROCESSING_ERROR"
)

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Details: details,
	})
}

// WebhookError is the error body of a webhook response.
type WebhookError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type WebhookResponse struct {
	Success          bool          `json:"success"`
	Data             interface{}   `json:"data,omitempty"`
	Error            *WebhookError `json:"error,omitempty"`
	ProcessingTimeMs *int64        `json:"processing_time_ms,omitempty"`
}

// WriteWebhookError writes {success:false, error:{code,message,details}} and
// returns the encoded body so callers can keep it in the delivery log.
func WriteWebhookError(w http.ResponseWriter, status int, code, message string, details interface{}) []byte {
	return writeWebhook(w, status, WebhookResponse{
		Error: &WebhookError{Code: code, Message: message, Details: details},
	})
}

func WriteWebhookSuccess(w http.ResponseWriter, data interface{}, processingTimeMs int64) []byte {
	return writeWebhook(w, http.StatusOK, WebhookResponse{
		Success:          true,
		Data:             data,
		ProcessingTimeMs: &processingTimeMs,
	})
}

func writeWebhook(w http.ResponseWriter, status int, resp WebhookResponse) []byte {
	body, err := json.Marshal(resp)
	if err != nil {
		body = []byte(`{"success":false,"error":{"code":"PROCESSING_ERROR","message":"Failed to encode response"}}`)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
	return body
}
