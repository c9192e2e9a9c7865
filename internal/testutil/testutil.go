package testutil

import (
	"testing"

	"github.com/pratik-mahalle/wsaudit/internal/config"
	"github.com/pratik-mahalle/wsaudit/internal/repository/sqlstore"
)

// NewTestDB creates a migrated in-memory SQLite database for testing
func NewTestDB(t *testing.T) *sqlstore.DB {
	t.Helper()

	db, err := sqlstore.New(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { CleanupDB(db) })

	if err := sqlstore.Migrate(db, nil); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	return db
}

// CleanupDB closes the test database
func CleanupDB(db *sqlstore.DB) {
	if db != nil {
		db.Close()
	}
}
