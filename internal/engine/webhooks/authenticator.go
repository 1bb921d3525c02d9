package webhooks

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"eventhub/internal/pkg/clock"
	apperrors "eventhub/internal/pkg/errors"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

const (
	KeyPrefix    = "whk_"
	SecretPrefix = "whs_"
)

// KeyStore is the subset of the API key repository the authenticator needs.
type KeyStore interface {
	GetActiveByHash(ctx context.Context, hash string) (*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id string, at int64) error
}

type AuthOptions struct {
	VerifySignature    bool
	Tolerance          time.Duration
	EnforceIPAllowlist bool
}

// Credentials are the authentication inputs of one ingress request.
type Credentials struct {
	APIKey    string
	Signature string
	Timestamp string
	SourceIP  string
	Body      []byte
}

type Authenticated struct {
	Key        *models.APIKey
	DeliveryID string
}

type Authenticator struct {
	keys  KeyStore
	clock clock.Clock
	opts  AuthOptions
}

func NewAuthenticator(keys KeyStore, clk clock.Clock, opts AuthOptions) *Authenticator {
	if opts.Tolerance <= 0 {
		opts.Tolerance = 300 * time.Second
	}
	return &Authenticator{keys: keys, clock: clk, opts: opts}
}

// CredentialsFromRequest extracts the bearer key, signature headers and
// source IP. body must already be read. A nil resolver uses the connection
// address only.
func CredentialsFromRequest(r *http.Request, body []byte, ips *IPResolver) Credentials {
	creds := Credentials{
		Signature: r.Header.Get("X-Webhook-Signature"),
		Timestamp: r.Header.Get("X-Webhook-Timestamp"),
		SourceIP:  ips.ClientIP(r),
		Body:      body,
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		creds.APIKey = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return creds
}

// Authenticate runs the key, expiry, IP and signature checks in that order
// and stamps a fresh delivery id on success.
func (a *Authenticator) Authenticate(ctx context.Context, c Credentials) (*Authenticated, error) {
	if c.APIKey == "" {
		return nil, NewError(http.StatusUnauthorized, apperrors.ErrCodeMissingAPIKey, "Missing API key", nil)
	}

	key, err := a.keys.GetActiveByHash(ctx, HashKey(c.APIKey))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, NewError(http.StatusUnauthorized, apperrors.ErrCodeInvalidAPIKey, "Invalid API key", nil)
		}
		return nil, err
	}

	now := a.clock.Now()
	if key.IsExpired(now.Unix()) {
		return nil, NewError(http.StatusUnauthorized, apperrors.ErrCodeExpiredAPIKey, "API key has expired", nil)
	}

	if a.opts.EnforceIPAllowlist && len(key.AllowedIPs) > 0 && !ipAllowed(key.AllowedIPs, c.SourceIP) {
		log.Warn().Str("api_key_id", key.ID).Str("source_ip", c.SourceIP).Msg("Webhook from disallowed IP")
		return nil, NewError(http.StatusForbidden, apperrors.ErrCodeIPNotAllowed, "Source IP is not allowed for this API key", nil)
	}

	if a.opts.VerifySignature {
		if err := Verify(key.Secret, c.Signature, c.Timestamp, c.Body, now, a.opts.Tolerance); err != nil {
			log.Warn().Err(err).Str("api_key_id", key.ID).Msg("Webhook signature rejected")
			return nil, NewError(http.StatusUnauthorized, apperrors.ErrCodeInvalidSignature, "Invalid webhook signature", nil)
		}
	}

	if err := a.keys.UpdateLastUsed(ctx, key.ID, now.Unix()); err != nil {
		log.Error().Err(err).Str("api_key_id", key.ID).Msg("Failed to update API key last_used_at")
	}

	return &Authenticated{Key: key, DeliveryID: NewDeliveryID(now)}, nil
}

func NewDeliveryID(now time.Time) string {
	return "wh_" + strings.ToLower(ulid.MustNew(ulid.Timestamp(now), rand.Reader).String())
}

// ipAllowed matches exact addresses and CIDR ranges.
func ipAllowed(allowed []string, source string) bool {
	ip := net.ParseIP(source)
	for _, entry := range allowed {
		if entry == source {
			return true
		}
		if _, network, err := net.ParseCIDR(entry); err == nil && ip != nil && network.Contains(ip) {
			return true
		}
	}
	return false
}

func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GeneratedKey holds freshly minted credentials. Raw and Secret are only
// ever returned to the administrator once.
type GeneratedKey struct {
	Raw    string
	Hash   string
	Prefix string
	Secret string
}

func GenerateKey() (*GeneratedKey, error) {
	raw, err := randomToken(KeyPrefix, 24)
	if err != nil {
		return nil, err
	}
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	return &GeneratedKey{
		Raw:    raw,
		Hash:   HashKey(raw),
		Prefix: raw[:len(KeyPrefix)+8],
		Secret: secret,
	}, nil
}

func GenerateSecret() (string, error) {
	return randomToken(SecretPrefix, 32)
}

func randomToken(prefix string, n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(b), nil
}
