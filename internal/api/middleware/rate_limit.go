package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"eventhub/internal/engine/ratelimit"
	"eventhub/internal/engine/webhooks"
	"eventhub/internal/pkg/errors"

	"github.com/rs/zerolog/log"
)

// RateLimit caps admin and inbox calls per authenticated user, falling back
// to the client IP. scope separates budgets between route groups.
func RateLimit(limiter ratelimit.Limiter, scope string, limit int) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("%s:ip:%s", scope, webhooks.RemoteIP(r))
			if claims := ClaimsFrom(r); claims != nil {
				key = fmt.Sprintf("%s:user:%s", scope, claims.UserID)
			}

			res, err := limiter.Allow(r.Context(), key, limit)
			if err != nil {
				// The limiter store being down should not take the admin API with it.
				log.Error().Err(err).Str("key", key).Msg("Rate limiter unavailable, allowing request")
				next(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
				errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded",
					map[string]int{"retry_after": res.RetryAfterSeconds()})
				return
			}

			next(w, r)
		}
	}
}
