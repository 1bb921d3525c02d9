package audit

import (
	"context"
	"net/http/httptest"
	"testing"

	"eventhub/internal/platform/database"
)

func TestLogger_LogAndList(t *testing.T) {
	db, err := database.NewMemoryDB()
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	defer db.Close()

	logger := NewLogger(db)
	req := httptest.NewRequest("POST", "/api/v1/admin/api-keys", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	req.Header.Set("User-Agent", "curl/8")

	logger.Log(context.Background(), req, "usr_1", "api_key.create", "api_key", "key_1", map[string]interface{}{"name": "crm"})
	logger.Log(context.Background(), nil, "usr_2", "queue.cancel", "queue_item", "q_1", nil)

	logs, err := logger.List(context.Background(), Filter{ResourceType: "api_key"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected 1 log, got %d", len(logs))
	}
	if logs[0].IPAddress != "10.0.0.7" || logs[0].UserAgent != "curl/8" {
		t.Errorf("Unexpected request info: %+v", logs[0])
	}
	if logs[0].Metadata["name"] != "crm" {
		t.Errorf("Expected metadata to round trip, got %v", logs[0].Metadata)
	}
}
