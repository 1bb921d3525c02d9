package middleware

import (
	"net/http"
	"runtime/debug"

	"eventhub/internal/pkg/errors"

	"github.com/rs/zerolog/log"
)

// Recover turns a panic into a 500 using the admin error envelope.
func Recover(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).Msg("Recovered from panic")
				errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
			}
		}()
		next(w, r)
	}
}

// RecoverWebhook is Recover for the ingress route, answering in the
// webhook envelope.
func RecoverWebhook(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).Msg("Recovered from panic in webhook ingress")
				errors.WriteWebhookError(w, http.StatusInternalServerError, errors.ErrCodeProcessing, "Internal processing error", nil)
			}
		}()
		next(w, r)
	}
}
