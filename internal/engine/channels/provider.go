package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// providerClient posts JSON to channel providers. Network errors, 429 and
// 5xx responses are retried with exponential backoff; other 4xx are not.
type providerClient struct {
	http       *http.Client
	timeout    time.Duration
	newBackOff func() backoff.BackOff
}

func newProviderClient(timeout time.Duration) *providerClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &providerClient{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.Multiplier = 2.0
			b.RandomizationFactor = 0.5
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

// postJSON sends payload and decodes the JSON reply into a map. The whole
// exchange, retries included, is bounded by the client timeout.
func (c *providerClient) postJSON(ctx context.Context, url string, headers map[string]string, payload interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provider payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reply map[string]interface{}
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to perform request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &ProviderError{StatusCode: resp.StatusCode, Body: string(raw)}
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(&ProviderError{StatusCode: resp.StatusCode, Body: string(raw)})
		}

		reply = map[string]interface{}{}
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &reply); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode provider response: %w", err))
			}
		}
		return nil
	}

	attempt := 0
	notify := func(err error, next time.Duration) {
		attempt++
		log.Warn().Err(err).Str("url", url).Int("attempt", attempt).Dur("next_retry_in", next).Msg("Provider call failed, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return reply, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
