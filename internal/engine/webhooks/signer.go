package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

const signaturePrefix = "sha256="

var (
	ErrMissingSignature  = errors.New("missing signature or timestamp")
	ErrInvalidTimestamp  = errors.New("timestamp is not unix seconds")
	ErrTimestampExpired  = errors.New("timestamp outside tolerance window")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SignRequest signs "<timestamp>.<body>", the string senders must sign.
func SignRequest(secret, timestamp string, body []byte) string {
	payload := make([]byte, 0, len(timestamp)+1+len(body))
	payload = append(payload, timestamp...)
	payload = append(payload, '.')
	payload = append(payload, body...)
	return Sign(secret, payload)
}

// Verify checks signature against SignRequest(secret, timestamp, body).
// The signature may carry a "sha256=" prefix. A timestamp further than
// tolerance from now fails regardless of the signature.
func Verify(secret, signature, timestamp string, body []byte, now time.Time, tolerance time.Duration) error {
	signature = strings.TrimSpace(signature)
	timestamp = strings.TrimSpace(timestamp)
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	skew := math.Abs(float64(now.Unix() - ts))
	if skew > tolerance.Seconds() {
		return ErrTimestampExpired
	}

	expected := SignRequest(secret, timestamp, body)
	given := strings.ToLower(strings.TrimPrefix(signature, signaturePrefix))
	if !hmac.Equal([]byte(expected), []byte(given)) {
		return ErrSignatureMismatch
	}
	return nil
}
