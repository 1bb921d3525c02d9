package webhooks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"eventhub/internal/pkg/clock"
	apperrors "eventhub/internal/pkg/errors"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeyStore struct {
	keys     map[string]*models.APIKey
	lastUsed map[string]int64
}

func newFakeKeyStore(raw string, key *models.APIKey) *fakeKeyStore {
	return &fakeKeyStore{
		keys:     map[string]*models.APIKey{HashKey(raw): key},
		lastUsed: map[string]int64{},
	}
}

func (s *fakeKeyStore) GetActiveByHash(_ context.Context, hash string) (*models.APIKey, error) {
	key, ok := s.keys[hash]
	if !ok || !key.IsActive {
		return nil, repositories.ErrNotFound
	}
	return key, nil
}

func (s *fakeKeyStore) UpdateLastUsed(_ context.Context, id string, at int64) error {
	s.lastUsed[id] = at
	return nil
}

func signedCredentials(raw, secret string, now time.Time, body []byte) Credentials {
	ts := strconv.FormatInt(now.Unix(), 10)
	return Credentials{
		APIKey:    raw,
		Signature: "sha256=" + SignRequest(secret, ts, body),
		Timestamp: ts,
		SourceIP:  "203.0.113.9",
		Body:      body,
	}
}

func TestAuthenticator_Authenticate(t *testing.T) {
	now := time.Unix(1700000000, 0)
	past := now.Add(-time.Hour).Unix()
	body := []byte(`{"event":"inspection_order.created"}`)

	tests := []struct {
		name     string
		key      models.APIKey
		opts     AuthOptions
		mutate   func(c *Credentials)
		wantCode string
	}{
		{name: "accepted", key: models.APIKey{IsActive: true}, opts: AuthOptions{VerifySignature: true}},
		{name: "missing key", key: models.APIKey{IsActive: true}, mutate: func(c *Credentials) { c.APIKey = "" }, wantCode: apperrors.ErrCodeMissingAPIKey},
		{name: "unknown key", key: models.APIKey{IsActive: true}, mutate: func(c *Credentials) { c.APIKey = "whk_other" }, wantCode: apperrors.ErrCodeInvalidAPIKey},
		{name: "disabled key", key: models.APIKey{IsActive: false}, wantCode: apperrors.ErrCodeInvalidAPIKey},
		{name: "expired key", key: models.APIKey{IsActive: true, ExpiresAt: &past}, wantCode: apperrors.ErrCodeExpiredAPIKey},
		{
			name:     "ip not allowed",
			key:      models.APIKey{IsActive: true, AllowedIPs: models.StringList{"10.0.0.0/8"}},
			opts:     AuthOptions{EnforceIPAllowlist: true},
			wantCode: apperrors.ErrCodeIPNotAllowed,
		},
		{
			name: "ip allowed by cidr",
			key:  models.APIKey{IsActive: true, AllowedIPs: models.StringList{"203.0.113.0/24"}},
			opts: AuthOptions{EnforceIPAllowlist: true},
		},
		{
			name: "ip list ignored when not enforced",
			key:  models.APIKey{IsActive: true, AllowedIPs: models.StringList{"10.0.0.1"}},
		},
		{
			name:     "bad signature",
			key:      models.APIKey{IsActive: true},
			opts:     AuthOptions{VerifySignature: true},
			mutate:   func(c *Credentials) { c.Signature = "sha256=deadbeef" },
			wantCode: apperrors.ErrCodeInvalidSignature,
		},
		{
			name:   "bad signature ignored when verification disabled",
			key:    models.APIKey{IsActive: true},
			mutate: func(c *Credentials) { c.Signature = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := tt.key
			key.ID = "key_1"
			key.Secret = "whs_secret"
			store := newFakeKeyStore("whk_valid", &key)
			auth := NewAuthenticator(store, clock.NewFixed(now), tt.opts)

			creds := signedCredentials("whk_valid", "whs_secret", now, body)
			if tt.mutate != nil {
				tt.mutate(&creds)
			}

			result, err := auth.Authenticate(context.Background(), creds)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, "key_1", result.Key.ID)
				assert.NotEmpty(t, result.DeliveryID)
				assert.Equal(t, now.Unix(), store.lastUsed["key_1"])
				return
			}

			var werr *Error
			require.True(t, errors.As(err, &werr), "expected *Error, got %v", err)
			assert.Equal(t, tt.wantCode, werr.Code)
			assert.Empty(t, store.lastUsed)
		})
	}
}

func TestAuthenticator_StaleTimestampRejected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clk := clock.NewFixed(now)
	key := &models.APIKey{ID: "key_1", Secret: "whs_secret", IsActive: true}
	auth := NewAuthenticator(newFakeKeyStore("whk_valid", key), clk, AuthOptions{VerifySignature: true})

	creds := signedCredentials("whk_valid", "whs_secret", now, []byte(`{}`))
	clk.Advance(301 * time.Second)

	_, err := auth.Authenticate(context.Background(), creds)
	var werr *Error
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, apperrors.ErrCodeInvalidSignature, werr.Code)
	assert.Equal(t, http.StatusUnauthorized, werr.Status)
}

func TestAuthenticator_DeliveryIDsAreUnique(t *testing.T) {
	now := time.Unix(1700000000, 0)
	key := &models.APIKey{ID: "key_1", Secret: "s", IsActive: true}
	auth := NewAuthenticator(newFakeKeyStore("whk_valid", key), clock.NewFixed(now), AuthOptions{})

	creds := signedCredentials("whk_valid", "s", now, []byte(`{}`))
	first, err := auth.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	second, err := auth.Authenticate(context.Background(), creds)
	require.NoError(t, err)
	assert.NotEqual(t, first.DeliveryID, second.DeliveryID)
}

func TestCredentialsFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/events", nil)
	req.RemoteAddr = "203.0.113.20:51000"
	req.Header.Set("Authorization", "Bearer whk_abc")
	req.Header.Set("X-Webhook-Signature", "sha256=ff")
	req.Header.Set("X-Webhook-Timestamp", "1700000000")
	req.Header.Set("X-Forwarded-For", "198.51.100.4")

	creds := CredentialsFromRequest(req, []byte("{}"), nil)
	assert.Equal(t, "whk_abc", creds.APIKey)
	assert.Equal(t, "sha256=ff", creds.Signature)
	assert.Equal(t, "1700000000", creds.Timestamp)
	assert.Equal(t, "203.0.113.20", creds.SourceIP)

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, CredentialsFromRequest(req, nil, nil).APIKey)
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Equal(t, HashKey(key.Raw), key.Hash)
	assert.True(t, len(key.Prefix) == len(KeyPrefix)+8)
	assert.Contains(t, key.Raw, key.Prefix)
	assert.Contains(t, key.Secret, SecretPrefix)
}
