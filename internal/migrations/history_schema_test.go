package migrations

import (
	"strings"
	"testing"
)

func TestQueryHistoryMigrationContainsTableAndIndexes(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_query_history.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	sql := string(body)
	for _, snippet := range []string{
		"CREATE TABLE query_history",
		"connection_name TEXT NOT NULL",
		"favorite BOOLEAN NOT NULL DEFAULT FALSE",
		"created_by TEXT",
		"CREATE INDEX idx_query_history_connection_created",
		"CREATE INDEX idx_query_history_favorites",
	} {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("migration missing required snippet: %s", snippet)
		}
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) == 0 || items[0].Version != 1 {
		t.Fatalf("items = %+v", items)
	}
	if !strings.Contains(items[0].DownSQL, "DROP TABLE IF EXISTS query_history") {
		t.Fatalf("down SQL = %q", items[0].DownSQL)
	}
}
