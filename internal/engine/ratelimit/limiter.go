// Package ratelimit bounds webhook calls per API key over a sliding window.
package ratelimit

import (
	"context"
	"time"
)

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds up so clients never retry early.
func (r Result) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	secs := int(r.RetryAfter / time.Second)
	if r.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

type Limiter interface {
	// Allow records one call for key when it fits under limit within the
	// window. A rejected call is not recorded.
	Allow(ctx context.Context, key string, limit int) (Result, error)
}
