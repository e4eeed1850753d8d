package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/walletops/internal/domain"
)

// Migrator is implemented by backends with an on-disk schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// BulkLoader is implemented by backends with a fast path for seeding accounts.
type BulkLoader interface {
	BulkCreateAccounts(ctx context.Context, accounts []domain.Account) (int64, error)
}

// Open connects to the configured backend. SQLite migrates itself on open;
// Postgres is migrated by the caller.
func Open(ctx context.Context, driver, source string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgresStore(ctx, source)
	case "sqlite":
		return NewSQLiteStore(ctx, source)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", driver)
}

// BulkCreateAccounts loads accounts with COPY. Existing owners make the whole
// batch fail.
func (s *PostgresStore) BulkCreateAccounts(ctx context.Context, accounts []domain.Account) (int64, error) {
	rows := make([][]interface{}, 0, len(accounts))
	now := time.Now().UTC()
	for _, acc := range accounts {
		created := acc.CreatedAt
		if created.IsZero() {
			created = now
		}
		// COPY uses the binary protocol; strings are parsed into numeric by pgx.
		rows = append(rows, []interface{}{acc.ID, acc.Owner, acc.Balance.String(), created})
	}

	n, err := s.Db.CopyFrom(
		ctx,
		pgx.Identifier{"accounts"},
		[]string{"id", "owner", "balance", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk insert failed: %w", mapPgError(err))
	}
	return n, nil
}

var _ BulkLoader = (*PostgresStore)(nil)
