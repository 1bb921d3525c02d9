package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"eventhub/internal/api/middleware"
	"eventhub/internal/engine/channels"
	"eventhub/internal/engine/notifications"
	apperrors "eventhub/internal/pkg/errors"
	"eventhub/internal/platform/audit"
	"eventhub/internal/platform/models"
	"eventhub/internal/platform/repositories"
)

type NotificationConfigHandler struct {
	repo  *repositories.NotificationConfigRepository
	audit *audit.Logger
}

func NewNotificationConfigHandler(repo *repositories.NotificationConfigRepository, auditLog *audit.Logger) *NotificationConfigHandler {
	return &NotificationConfigHandler{repo: repo, audit: auditLog}
}

type configRequest struct {
	Name                 *string  `json:"name"`
	Type                 *string  `json:"type"`
	Channel              *string  `json:"channel"`
	TemplateTitle        *string  `json:"template_title"`
	TemplateContent      *string  `json:"template_content"`
	TargetRoles          []string `json:"target_roles"`
	TargetUsers          []string `json:"target_users"`
	ForClients           *bool    `json:"for_clients"`
	ScheduleType         *string  `json:"schedule_type"`
	ScheduleDelayMinutes *int     `json:"schedule_delay_minutes"`
	CronExpression       *string  `json:"cron_expression"`
	Priority             *int     `json:"priority"`
	MaxRetries           *int     `json:"max_retries"`
	IsActive             *bool    `json:"is_active"`
}

func (req *configRequest) apply(c *models.NotificationConfig) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&c.Name, req.Name)
	setString(&c.Type, req.Type)
	setString(&c.Channel, req.Channel)
	setString(&c.ScheduleType, req.ScheduleType)
	setString(&c.CronExpression, req.CronExpression)
	if req.TemplateTitle != nil {
		c.TemplateTitle = *req.TemplateTitle
	}
	if req.TemplateContent != nil {
		c.TemplateContent = *req.TemplateContent
	}
	if req.TargetRoles != nil {
		c.TargetRoles = req.TargetRoles
	}
	if req.TargetUsers != nil {
		c.TargetUsers = req.TargetUsers
	}
	if req.ForClients != nil {
		c.ForClients = *req.ForClients
	}
	if req.ScheduleDelayMinutes != nil {
		c.ScheduleDelayMinutes = *req.ScheduleDelayMinutes
	}
	if req.Priority != nil {
		c.Priority = *req.Priority
	}
	if req.MaxRetries != nil {
		c.MaxRetries = *req.MaxRetries
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
}

// validateConfig returns field problems keyed by JSON name.
func validateConfig(c *models.NotificationConfig) map[string]string {
	problems := map[string]string{}
	if c.Name == "" {
		problems["name"] = "is required"
	}
	if c.Type == "" {
		problems["type"] = "is required"
	}
	if _, ok := channels.ParseKind(c.Channel); !ok {
		problems["channel"] = "must be one of email, sms, whatsapp, push, in_app"
	}
	if c.TemplateContent == "" {
		problems["template_content"] = "is required"
	}
	switch c.ScheduleType {
	case models.ScheduleImmediate:
	case models.ScheduleDelayed:
		if c.ScheduleDelayMinutes < 0 {
			problems["schedule_delay_minutes"] = "must not be negative"
		}
	case models.ScheduleCron:
		if err := notifications.ValidateCron(c.CronExpression); err != nil {
			problems["cron_expression"] = "is not a valid cron expression"
		}
	default:
		problems["schedule_type"] = "must be one of immediate, delayed, cron"
	}
	if c.MaxRetries < 0 {
		problems["max_retries"] = "must not be negative"
	}
	return problems
}

func (h *NotificationConfigHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	cfg := &models.NotificationConfig{
		TargetRoles:  models.StringList{},
		TargetUsers:  models.StringList{},
		ScheduleType: models.ScheduleImmediate,
		MaxRetries:   3,
		IsActive:     true,
	}
	req.apply(cfg)

	if problems := validateConfig(cfg); len(problems) > 0 {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid notification config", problems)
		return
	}

	if err := h.repo.Create(r.Context(), cfg); err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to create notification config", nil)
		return
	}

	h.audit.Log(r.Context(), r, claims.UserID, "notification_config.create", "notification_config", cfg.ID,
		map[string]interface{}{"type": cfg.Type, "channel": cfg.Channel})
	writeJSON(w, http.StatusCreated, cfg)
}

func (h *NotificationConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.repo.List(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to list notification configs", nil)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (h *NotificationConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *NotificationConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	cfg, ok := h.load(w, r)
	if !ok {
		return
	}
	req.apply(cfg)

	if problems := validateConfig(cfg); len(problems) > 0 {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid notification config", problems)
		return
	}

	if err := h.repo.Update(r.Context(), cfg); err != nil {
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to update notification config", nil)
		return
	}

	h.audit.Log(r.Context(), r, claims.UserID, "notification_config.update", "notification_config", cfg.ID, nil)
	writeJSON(w, http.StatusOK, cfg)
}

// Delete deactivates the config so existing notifications keep their reference.
func (h *NotificationConfigHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r)
	id := param(r, "config_id")

	if err := h.repo.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "Notification config not found", nil)
			return
		}
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to delete notification config", nil)
		return
	}

	h.audit.Log(r.Context(), r, claims.UserID, "notification_config.delete", "notification_config", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationConfigHandler) load(w http.ResponseWriter, r *http.Request) (*models.NotificationConfig, bool) {
	cfg, err := h.repo.GetByID(r.Context(), param(r, "config_id"))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "Notification config not found", nil)
			return nil, false
		}
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "Failed to load notification config", nil)
		return nil, false
	}
	return cfg, true
}
