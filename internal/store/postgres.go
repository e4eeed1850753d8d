package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/shopspring/decimal"
)

type PostgresStore struct {
	Db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{Db: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.Db.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return mapPgError(s.Db.Ping(ctx))
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts, err := statements("postgres.sql")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.Db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateAccount creates a new account. Registration passes a zero opening balance.
func (s *PostgresStore) CreateAccount(ctx context.Context, owner string, opening decimal.Decimal) (*domain.Account, error) {
	if opening.IsNegative() {
		return nil, &domain.ValidationError{Field: "opening balance", Err: domain.ErrInvalidAmount}
	}
	acc := domain.Account{ID: uuid.New(), Owner: owner, Balance: opening}
	err := s.Db.QueryRow(ctx,
		"INSERT INTO accounts (id, owner, balance) VALUES ($1, $2, $3) RETURNING created_at",
		acc.ID, owner, opening,
	).Scan(&acc.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &acc, nil
}

// GetAccount retrieves a single account by ID.
func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.scanAccount(s.Db.QueryRow(ctx,
		"SELECT id, owner, balance, created_at FROM accounts WHERE id = $1", id))
}

func (s *PostgresStore) GetAccountByOwner(ctx context.Context, owner string) (*domain.Account, error) {
	return s.scanAccount(s.Db.QueryRow(ctx,
		"SELECT id, owner, balance, created_at FROM accounts WHERE owner = $1", owner))
}

func (s *PostgresStore) scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Owner, &a.Balance, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, mapPgError(err)
	}
	return &a, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.Db.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1", id).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, domain.ErrAccountNotFound
		}
		return decimal.Zero, mapPgError(err)
	}
	return balance, nil
}

// Transfer executes the double-entry movement within a transaction with deterministic locking.
func (s *PostgresStore) Transfer(ctx context.Context, p TransferParams) (*domain.Transaction, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	// Row locks plus a conditional debit make READ COMMITTED sufficient: a
	// blocked writer re-reads the committed balance once the lock is released.
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, mapPgError(fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback(ctx)

	// 1. Deterministic Locking (Deadlock Prevention)
	first, second := lockOrder(p.SenderID, p.ReceiverID)
	for _, id := range []uuid.UUID{first, second} {
		var locked uuid.UUID
		err = tx.QueryRow(ctx, "SELECT id FROM accounts WHERE id = $1 FOR UPDATE", id).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				if id == p.ReceiverID {
					return nil, domain.ErrReceiverNotFound
				}
				return nil, domain.ErrAccountNotFound
			}
			return nil, mapPgError(fmt.Errorf("lock acquisition failed: %w", err))
		}
	}

	// 2. Conditional debit: the balance check and the write are one statement.
	tag, err := tx.Exec(ctx,
		"UPDATE accounts SET balance = balance - $1 WHERE id = $2 AND balance >= $1",
		p.Amount, p.SenderID,
	)
	if err != nil {
		return nil, mapPgError(fmt.Errorf("debit failed: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrInsufficientFunds
	}

	// 3. Credit
	if _, err = tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1 WHERE id = $2", p.Amount, p.ReceiverID); err != nil {
		return nil, mapPgError(fmt.Errorf("credit failed: %w", err))
	}

	// 4. Ledger record
	rec := p.record()
	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, sender_id, receiver_id, amount, status, kind, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SenderID, rec.ReceiverID, rec.Amount, string(rec.Status), string(rec.Kind), rec.Description, rec.CreatedAt,
	)
	if err != nil {
		return nil, mapPgError(fmt.Errorf("transfer insert failed: %w", err))
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, mapPgError(fmt.Errorf("tx commit failed: %w", err))
	}
	return rec, nil
}

const transactionColumns = "id, sender_id, receiver_id, amount, status, kind, description, created_at"

// GetTransaction retrieves transfer details.
func (s *PostgresStore) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	t, err := scanTransaction(s.Db.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, mapPgError(err)
	}
	return t, nil
}

// ListTransactions returns one page of the account's records, newest first.
func (s *PostgresStore) ListTransactions(ctx context.Context, q domain.ListQuery) (*domain.TransactionPage, error) {
	const where = ` FROM transactions
		WHERE (sender_id = $1 OR receiver_id = $1)
		  AND ($2::text = '' OR status = $2::text)
		  AND ($3::text = '' OR kind = $3::text)`

	var total int
	err := s.Db.QueryRow(ctx, "SELECT COUNT(*)"+where, q.AccountID, string(q.Status), string(q.Kind)).Scan(&total)
	if err != nil {
		return nil, mapPgError(err)
	}

	rows, err := s.Db.Query(ctx,
		"SELECT "+transactionColumns+where+" ORDER BY created_at DESC, id LIMIT $4 OFFSET $5",
		q.AccountID, string(q.Status), string(q.Kind), q.PerPage, q.Offset(),
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, mapPgError(err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return domain.NewTransactionPage(q, txs, total), nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var status, kind string
	if err := row.Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount, &status, &kind, &t.Description, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Status = domain.TransactionStatus(status)
	t.Kind = domain.TransactionKind(kind)
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (s *PostgresStore) EnqueueIntent(ctx context.Context, intent *domain.OfflineIntent) error {
	newIntent(intent)
	_, err := s.Db.Exec(ctx,
		`INSERT INTO offline_intents (id, sender_id, receiver_id, amount, description, reference, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		intent.ID, intent.SenderID, intent.ReceiverID, intent.Amount, intent.Description, intent.Reference,
		string(intent.Status), intent.CreatedAt,
	)
	return mapPgError(err)
}

const intentColumns = "id, sender_id, receiver_id, amount, description, reference, status, failure_reason, created_at"

func (s *PostgresStore) GetIntent(ctx context.Context, id uuid.UUID) (*domain.OfflineIntent, error) {
	in, err := scanIntent(s.Db.QueryRow(ctx, "SELECT "+intentColumns+" FROM offline_intents WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIntentNotFound
		}
		return nil, mapPgError(err)
	}
	return in, nil
}

func (s *PostgresStore) ListIntents(ctx context.Context, sender uuid.UUID, status domain.IntentStatus) ([]domain.OfflineIntent, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+intentColumns+` FROM offline_intents
		 WHERE sender_id = $1 AND ($2::text = '' OR status = $2::text)
		 ORDER BY seq`,
		sender, string(status),
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var intents []domain.OfflineIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, mapPgError(err)
		}
		intents = append(intents, *in)
	}
	return intents, mapPgError(rows.Err())
}

func scanIntent(row pgx.Row) (*domain.OfflineIntent, error) {
	var in domain.OfflineIntent
	var status string
	err := row.Scan(&in.ID, &in.SenderID, &in.ReceiverID, &in.Amount, &in.Description, &in.Reference,
		&status, &in.FailureReason, &in.CreatedAt)
	if err != nil {
		return nil, err
	}
	in.Status = domain.IntentStatus(status)
	in.CreatedAt = in.CreatedAt.UTC()
	return &in, nil
}

func (s *PostgresStore) ClaimIntent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.Db.Exec(ctx,
		"UPDATE offline_intents SET status = 'processing' WHERE id = $1 AND status = 'queued'", id)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) DeleteIntent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Db.Exec(ctx, "DELETE FROM offline_intents WHERE id = $1", id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIntentNotFound
	}
	return nil
}

func (s *PostgresStore) FailIntent(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE offline_intents SET status = 'failed', failure_reason = $2 WHERE id = $1", id, reason)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIntentNotFound
	}
	return nil
}

// mapPgError folds driver errors into the domain taxonomy.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		case "23505": // unique_violation
			if pgErr.ConstraintName == "accounts_owner_key" {
				return domain.ErrDuplicateOwner
			}
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		case "23514": // check_violation (balance >= 0)
			return domain.ErrInsufficientFunds
		case "23503": // foreign_key_violation
			return domain.ErrAccountNotFound
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}

var _ Store = (*PostgresStore)(nil)
