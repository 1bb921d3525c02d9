package audit

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"eventhub/internal/platform/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type AuditLog struct {
	ID           string         `json:"id"`
	ActorID      string         `json:"actor_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Metadata     models.JSONMap `json:"metadata"`
	IPAddress    string         `json:"ip_address"`
	UserAgent    string         `json:"user_agent"`
	CreatedAt    int64          `json:"created_at"`
}

type Logger struct {
	db *sql.DB
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

// Log records an administrative action. Failures are logged and never
// surfaced to the caller.
func (l *Logger) Log(ctx context.Context, r *http.Request, actorID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	entry := &AuditLog{
		ID:           "audit_" + uuid.New().String(),
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		IPAddress:    "unknown",
		UserAgent:    "unknown",
		CreatedAt:    time.Now().Unix(),
	}

	if r != nil {
		entry.IPAddress = remoteHost(r.RemoteAddr)
		entry.UserAgent = r.UserAgent()
	}

	query := `
		INSERT INTO audit_logs (id, actor_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, query, entry.ID, entry.ActorID, entry.Action, entry.ResourceType,
		entry.ResourceID, entry.Metadata, entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		log.Error().Err(err).Str("action", action).Str("resource_id", resourceID).Msg("Failed to write audit log")
	}
}

type Filter struct {
	ResourceType string
	ActorID      string
	Limit        int
	Offset       int
}

func (l *Logger) List(ctx context.Context, f Filter) ([]*AuditLog, error) {
	query := `SELECT id, actor_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs WHERE 1=1`
	args := []interface{}{}
	if f.ResourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, f.ResourceType)
	}
	if f.ActorID != "" {
		query += ` AND actor_id = ?`
		args = append(args, f.ActorID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*AuditLog{}
	for rows.Next() {
		var e AuditLog
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Metadata,
			&e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, &e)
	}
	return logs, rows.Err()
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
