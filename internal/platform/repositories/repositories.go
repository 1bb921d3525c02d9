package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"eventhub/internal/platform/models"

	"github.com/google/uuid"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, name, email, phone, role, push_token, is_active, created_at, updated_at`

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = "usr_" + uuid.New().String()
	}
	now := time.Now().Unix()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, phone, role, push_token, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, user.ID, user.Name, user.Email, user.Phone, user.Role, user.PushToken, user.IsActive, user.CreatedAt, user.UpdatedAt)
	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// ListActiveByRoles returns active users holding any of the roles.
func (r *UserRepository) ListActiveByRoles(ctx context.Context, roles []string) ([]*models.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE is_active = 1 AND role IN (` + placeholders(len(roles)) + `) ORDER BY id`
	return r.list(ctx, query, toArgs(roles)...)
}

// ListActiveByIDs returns active users among ids, in id order.
func (r *UserRepository) ListActiveByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE is_active = 1 AND id IN (` + placeholders(len(ids)) + `) ORDER BY id`
	return r.list(ctx, query, toArgs(ids)...)
}

func (r *UserRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(s scanner) (*models.User, error) {
	var u models.User
	err := s.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &u.PushToken, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

type InspectionOrderRepository struct {
	db DBTX
}

func NewInspectionOrderRepository(db DBTX) *InspectionOrderRepository {
	return &InspectionOrderRepository{db: db}
}

const inspectionOrderColumns = `id, number, client_name, client_email, client_phone, access_token, access_link,
	webhook_delivery_id, webhook_api_key_id, webhook_received_at, created_at, updated_at`

func (r *InspectionOrderRepository) GetByID(ctx context.Context, id string) (*models.InspectionOrder, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+inspectionOrderColumns+` FROM inspection_orders WHERE id = ?`, id)

	var o models.InspectionOrder
	var receivedAt sql.NullInt64
	err := row.Scan(&o.ID, &o.Number, &o.ClientName, &o.ClientEmail, &o.ClientPhone, &o.AccessToken, &o.AccessLink,
		&o.WebhookDeliveryID, &o.WebhookAPIKeyID, &receivedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.WebhookReceivedAt = nullInt64Ptr(receivedAt)
	return &o, nil
}

// Upsert stores the order snapshot together with its webhook provenance.
// The access link is never overwritten here.
func (r *InspectionOrderRepository) Upsert(ctx context.Context, o *models.InspectionOrder) error {
	now := time.Now().Unix()
	if o.CreatedAt == 0 {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inspection_orders (id, number, client_name, client_email, client_phone,
			webhook_delivery_id, webhook_api_key_id, webhook_received_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = CASE WHEN excluded.number != '' THEN excluded.number ELSE inspection_orders.number END,
			client_name = CASE WHEN excluded.client_name != '' THEN excluded.client_name ELSE inspection_orders.client_name END,
			client_email = CASE WHEN excluded.client_email != '' THEN excluded.client_email ELSE inspection_orders.client_email END,
			client_phone = CASE WHEN excluded.client_phone != '' THEN excluded.client_phone ELSE inspection_orders.client_phone END,
			webhook_delivery_id = excluded.webhook_delivery_id,
			webhook_api_key_id = excluded.webhook_api_key_id,
			webhook_received_at = excluded.webhook_received_at,
			updated_at = excluded.updated_at
	`, o.ID, o.Number, o.ClientName, o.ClientEmail, o.ClientPhone,
		o.WebhookDeliveryID, o.WebhookAPIKeyID, o.WebhookReceivedAt, o.CreatedAt, o.UpdatedAt)
	return err
}

// SetAccessLink stores the link only if none exists yet and reports
// whether this call set it.
func (r *InspectionOrderRepository) SetAccessLink(ctx context.Context, id, token, link string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE inspection_orders SET access_token = ?, access_link = ?, updated_at = ?
		WHERE id = ? AND access_link = ''
	`, token, link, time.Now().Unix(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
