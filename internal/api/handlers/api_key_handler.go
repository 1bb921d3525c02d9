package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"eventhub/internal/api/middleware"
	"eventhub/internal/engine/webhooks"
	apperrors "eventhub/internal/pkg/errors"
	"eventhub/internal/platform/audit"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"
)

// KeyInvalidator is notified after any key change so cached lookups on the
// ingress path do not outlive the edit.
type KeyInvalidator interface {
	Invalidate()
}

type APIKeyHandler struct {
	repo             *repositories.APIKeyRepository
	audit            *audit.Logger
	cache            KeyInvalidator
	defaultRateLimit int
}

func NewAPIKeyHandler(repo *repositories.APIKeyRepository, auditLog *audit.Logger, cache KeyInvalidator, defaultRateLimit int) *APIKeyHandler {
	return &APIKeyHandler{repo: repo, audit: auditLog, cache: cache, defaultRateLimit: defaultRateLimit}
}

type apiKeyRequest struct {
	Name               *string  `json:"name"`
	AllowedEvents      []string `json:"allowed_events"`
	AllowedIPs         []string `json:"allowed_ips"`
	RateLimitPerMinute *int     `json:"rate_limit_per_minute"`
	IsActive           *bool    `json:"is_active"`
	ExpiresInDays      *int     `json:"expires_in_days"`
}

func (req *apiKeyRequest) validate() map[string]string {
	problems := map[string]string{}
	if req.Name != nil && *req.Name == "" {
		problems["name"] = "must not be empty"
	}
	if req.RateLimitPerMinute != nil && *req.RateLimitPerMinute < 1 {
		problems["rate_limit_per_minute"] = "must be at least 1"
	}
	if req.ExpiresInDays != nil && *req.ExpiresInDays < 0 {
		problems["expires_in_days"] = "must not be negative"
	}
	for _, entry := range req.AllowedIPs {
		if net.ParseIP(entry) == nil {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				problems["allowed_ips"] = "entries must be IP addresses or CIDR ranges"
				break
			}
		}
	}
	return problems
}

func (req *apiKeyRequest) apply(key *models.APIKey) {
	if req.Name != nil {
		key.Name = *req.Name
	}
	if req.AllowedEvents != nil {
		key.AllowedEvents = req.AllowedEvents
	}
	if req.AllowedIPs != nil {
		key.AllowedIPs = req.AllowedIPs
	}
	if req.RateLimitPerMinute != nil {
		key.RateLimitPerMinute = *req.RateLimitPerMinute
	}
	if req.IsActive != nil {
		key.IsActive = *req.IsActive
	}
	if req.ExpiresInDays != nil {
		if *req.ExpiresInDays == 0 {
			key.ExpiresAt = nil
		} else {
			exp := time.Now().Add(time.Duration(*req.ExpiresInDays) * 24 * time.Hour).Unix()
			key.ExpiresAt = &exp
		}
	}
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)

	var req apiKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	problems := req.validate()
	if req.Name == nil {
		problems["name"] = "is required"
	}
	if len(problems) > 0 {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid API key", problems)
		return
	}

	generated, err := webhooks.GenerateKey()
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to generate key", nil)
		return
	}

	key := &models.APIKey{
		KeyHash:            generated.Hash,
		KeyPrefix:          generated.Prefix,
		Secret:             generated.Secret,
		AllowedEvents:      models.StringList{},
		AllowedIPs:         models.StringList{},
		RateLimitPerMinute: h.defaultRateLimit,
		IsActive:           true,
	}
	req.apply(key)

	if err := h.repo.Create(r.Context(), key); err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to create API key", nil)
		return
	}

	h.audit.Log(r.Context(), r, claims.UserID, "api_key.create", "api_key", key.ID, map[string]interface{}{"name": key.Name})

	// The raw key and secret are only ever returned here.
	writeJSON(w, http.StatusCreated, struct {
		*models.APIKey
		Key    string `json:"key"`
		Secret string `json:"secret"`
	}{APIKey: key, Key: generated.Raw, Secret: generated.Secret})
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.repo.List(r.Context())
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to list API keys", nil)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *APIKeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *APIKeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)

	var req apiKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if problems := req.validate(); len(problems) > 0 {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid API key", problems)
		return
	}

	key, ok := h.load(w, r)
	if !ok {
		return
	}
	req.apply(key)

	if err := h.repo.Update(r.Context(), key); err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to update API key", nil)
		return
	}

	h.invalidate()
	h.audit.Log(r.Context(), r, claims.UserID, "api_key.update", "api_key", key.ID, nil)
	writeJSON(w, http.StatusOK, key)
}

// Rotate replaces the signing secret. The key itself stays valid.
func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)
	id := param(r, "key_id")

	secret, err := webhooks.GenerateSecret()
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to generate secret", nil)
		return
	}

	if err := h.repo.RotateSecret(r.Context(), id, secret); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "API key not found", nil)
			return
		}
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to rotate secret", nil)
		return
	}

	h.invalidate()
	h.audit.Log(r.Context(), r, claims.UserID, "api_key.rotate_secret", "api_key", id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "secret": secret})
}

func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)
	id := param(r, "key_id")

	if err := h.repo.SoftDelete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "API key not found", nil)
			return
		}
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to delete API key", nil)
		return
	}

	h.invalidate()
	h.audit.Log(r.Context(), r, claims.UserID, "api_key.delete", "api_key", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIKeyHandler) load(w http.ResponseWriter, r *http.Request) (*models.APIKey, bool) {
	key, err := h.repo.GetByID(r.Context(), param(r, "key_id"))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "API key not found", nil)
			return nil, false
		}
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to load API key", nil)
		return nil, false
	}
	return key, true
}

func (h *APIKeyHandler) invalidate() {
	if h.cache != nil {
		h.cache.Invalidate()
	}
}
