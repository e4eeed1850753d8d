package store

import (
	"context"
	"os"
	"testing"
)

// TestPostgresStore runs the shared suite against a live database. Set
// LEDGER_TEST_DB to a disposable database URL to enable it.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_DB")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DB not set")
	}

	runStoreSuite(t, func(t *testing.T) Store {
		t.Helper()
		ctx := context.Background()
		s, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		if _, err := s.Db.Exec(ctx, "TRUNCATE TABLE offline_intents, transactions, accounts CASCADE"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
