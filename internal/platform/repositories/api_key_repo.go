package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"eventhub/internal/platform/models"

	"github.com/google/uuid"
)

type APIKeyRepository struct {
	db DBTX
}

func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, name, key_hash, key_prefix, secret, allowed_events, allowed_ips,
	rate_limit_per_minute, is_active, expires_at, last_used_at, created_at, updated_at, deleted_at`

func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = "key_" + uuid.New().String()
	}
	now := time.Now().Unix()
	key.CreatedAt = now
	key.UpdatedAt = now

	query := `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, secret, allowed_events, allowed_ips,
			rate_limit_per_minute, is_active, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Secret,
		key.AllowedEvents, key.AllowedIPs, key.RateLimitPerMinute, key.IsActive, key.ExpiresAt,
		key.CreatedAt, key.UpdatedAt)
	return err
}

// GetActiveByHash returns the non-deleted, active key with the given hash,
// or ErrNotFound.
func (r *APIKeyRepository) GetActiveByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = ? AND is_active = 1 AND deleted_at IS NULL`
	return scanAPIKey(r.db.QueryRowContext(ctx, query, hash))
}

func (r *APIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = ? AND deleted_at IS NULL`
	return scanAPIKey(r.db.QueryRowContext(ctx, query, id))
}

func (r *APIKeyRepository) List(ctx context.Context) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) Update(ctx context.Context, key *models.APIKey) error {
	key.UpdatedAt = time.Now().Unix()
	query := `
		UPDATE api_keys
		SET name = ?, allowed_events = ?, allowed_ips = ?, rate_limit_per_minute = ?, is_active = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, key.Name, key.AllowedEvents, key.AllowedIPs,
		key.RateLimitPerMinute, key.IsActive, key.ExpiresAt, key.UpdatedAt, key.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *APIKeyRepository) RotateSecret(ctx context.Context, id, secret string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET secret = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		secret, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// SoftDelete disables and hides the key; rows are kept for delivery log history.
func (r *APIKeyRepository) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET is_active = 0, deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id string, at int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, at, id)
	return err
}

func scanAPIKey(s scanner) (*models.APIKey, error) {
	var k models.APIKey
	var expiresAt, lastUsedAt, deletedAt sql.NullInt64

	err := s.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Secret, &k.AllowedEvents, &k.AllowedIPs,
		&k.RateLimitPerMinute, &k.IsActive, &expiresAt, &lastUsedAt, &k.CreatedAt, &k.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	k.ExpiresAt = nullInt64Ptr(expiresAt)
	k.LastUsedAt = nullInt64Ptr(lastUsedAt)
	k.DeletedAt = nullInt64Ptr(deletedAt)
	return &k, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
