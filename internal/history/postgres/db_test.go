package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), DBConfig{}); err == nil || !strings.Contains(err.Error(), "dsn is required") {
		t.Fatalf("Open() error = %v", err)
	}
}

func TestApplyPoolSetsLimits(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	DBConfig{MaxOpenConns: 7, MaxIdleConns: 3, ConnMaxLifetime: time.Minute}.applyPool(db)
	if got := db.Stats().MaxOpenConnections; got != 7 {
		t.Fatalf("MaxOpenConnections = %d, want 7", got)
	}
}
