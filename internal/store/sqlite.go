package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/shopspring/decimal"
)

// sqliteTime is fixed width so that text ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a single-node backend. Every write transaction starts with
// BEGIN IMMEDIATE, so the database write lock serializes balance mutations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database file at path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// One writer at a time; readers share the same connection to avoid SQLITE_BUSY storms.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	stmts, err := statements("sqlite.sql")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return mapSQLiteError(s.db.PingContext(ctx))
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, owner string, opening decimal.Decimal) (*domain.Account, error) {
	if opening.IsNegative() {
		return nil, &domain.ValidationError{Field: "opening balance", Err: domain.ErrInvalidAmount}
	}
	acc := domain.Account{ID: uuid.New(), Owner: owner, Balance: opening, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, owner, balance, created_at) VALUES (?, ?, ?, ?)",
		acc.ID.String(), owner, opening.String(), acc.CreatedAt.Format(sqliteTime),
	)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	return &acc, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return scanSQLiteAccount(s.db.QueryRowContext(ctx,
		"SELECT id, owner, balance, created_at FROM accounts WHERE id = ?", id.String()))
}

func (s *SQLiteStore) GetAccountByOwner(ctx context.Context, owner string) (*domain.Account, error) {
	return scanSQLiteAccount(s.db.QueryRowContext(ctx,
		"SELECT id, owner, balance, created_at FROM accounts WHERE owner = ?", owner))
}

func scanSQLiteAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	var created string
	if err := row.Scan(&a.ID, &a.Owner, &a.Balance, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, mapSQLiteError(err)
	}
	a.CreatedAt = parseSQLiteTime(created)
	return &a, nil
}

func (s *SQLiteStore) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	acc, err := s.GetAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

func (s *SQLiteStore) Transfer(ctx context.Context, p TransferParams) (*domain.Transaction, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSQLiteError(fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback()

	senderBal, err := sqliteBalance(ctx, tx, p.SenderID)
	if err != nil {
		return nil, err
	}
	receiverBal, err := sqliteBalance(ctx, tx, p.ReceiverID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, domain.ErrReceiverNotFound
	}
	if err != nil {
		return nil, err
	}

	if senderBal.LessThan(p.Amount) {
		return nil, domain.ErrInsufficientFunds
	}

	// The write lock is held since BEGIN, but the guard on the old value keeps
	// the update a compare-and-swap even if the DSN drops _txlock=immediate.
	res, err := tx.ExecContext(ctx, "UPDATE accounts SET balance = ? WHERE id = ? AND balance = ?",
		senderBal.Sub(p.Amount).String(), p.SenderID.String(), senderBal.String())
	if err != nil {
		return nil, mapSQLiteError(fmt.Errorf("debit failed: %w", err))
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, domain.ErrConflict
	}
	if _, err := tx.ExecContext(ctx, "UPDATE accounts SET balance = ? WHERE id = ?",
		receiverBal.Add(p.Amount).String(), p.ReceiverID.String()); err != nil {
		return nil, mapSQLiteError(fmt.Errorf("credit failed: %w", err))
	}

	rec := p.record()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, sender_id, receiver_id, amount, status, kind, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.SenderID.String(), rec.ReceiverID.String(), rec.Amount.String(),
		string(rec.Status), string(rec.Kind), rec.Description, rec.CreatedAt.Format(sqliteTime),
	)
	if err != nil {
		return nil, mapSQLiteError(fmt.Errorf("transfer insert failed: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSQLiteError(fmt.Errorf("tx commit failed: %w", err))
	}
	return rec, nil
}

func sqliteBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := tx.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE id = ?", id.String()).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, domain.ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, mapSQLiteError(err)
	}
	return bal, nil
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	t, err := scanSQLiteTransaction(s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransferNotFound
	}
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, q domain.ListQuery) (*domain.TransactionPage, error) {
	const where = ` FROM transactions
		WHERE (sender_id = ?1 OR receiver_id = ?1)
		  AND (?2 = '' OR status = ?2)
		  AND (?3 = '' OR kind = ?3)`
	args := []any{q.AccountID.String(), string(q.Status), string(q.Kind)}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*)"+where, args...).Scan(&total); err != nil {
		return nil, mapSQLiteError(err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+transactionColumns+where+" ORDER BY created_at DESC, rowid DESC LIMIT ?4 OFFSET ?5",
		append(args, q.PerPage, q.Offset())...)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanSQLiteTransaction(rows)
		if err != nil {
			return nil, mapSQLiteError(err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteError(err)
	}
	return domain.NewTransactionPage(q, txs, total), nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTransaction(row sqliteScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var status, kind, created string
	if err := row.Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount, &status, &kind, &t.Description, &created); err != nil {
		return nil, err
	}
	t.Status = domain.TransactionStatus(status)
	t.Kind = domain.TransactionKind(kind)
	t.CreatedAt = parseSQLiteTime(created)
	return &t, nil
}

func (s *SQLiteStore) EnqueueIntent(ctx context.Context, intent *domain.OfflineIntent) error {
	newIntent(intent)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO offline_intents (id, sender_id, receiver_id, amount, description, reference, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID.String(), intent.SenderID.String(), intent.ReceiverID.String(), intent.Amount.String(),
		intent.Description, intent.Reference, string(intent.Status), intent.CreatedAt.Format(sqliteTime),
	)
	return mapSQLiteError(err)
}

func (s *SQLiteStore) GetIntent(ctx context.Context, id uuid.UUID) (*domain.OfflineIntent, error) {
	in, err := scanSQLiteIntent(s.db.QueryRowContext(ctx,
		"SELECT "+intentColumns+" FROM offline_intents WHERE id = ?", id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrIntentNotFound
	}
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	return in, nil
}

func (s *SQLiteStore) ListIntents(ctx context.Context, sender uuid.UUID, status domain.IntentStatus) ([]domain.OfflineIntent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+intentColumns+" FROM offline_intents WHERE sender_id = ?1 AND (?2 = '' OR status = ?2) ORDER BY seq",
		sender.String(), string(status))
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	var intents []domain.OfflineIntent
	for rows.Next() {
		in, err := scanSQLiteIntent(rows)
		if err != nil {
			return nil, mapSQLiteError(err)
		}
		intents = append(intents, *in)
	}
	return intents, mapSQLiteError(rows.Err())
}

func scanSQLiteIntent(row sqliteScanner) (*domain.OfflineIntent, error) {
	var in domain.OfflineIntent
	var status, created string
	err := row.Scan(&in.ID, &in.SenderID, &in.ReceiverID, &in.Amount, &in.Description, &in.Reference,
		&status, &in.FailureReason, &created)
	if err != nil {
		return nil, err
	}
	in.Status = domain.IntentStatus(status)
	in.CreatedAt = parseSQLiteTime(created)
	return &in, nil
}

func (s *SQLiteStore) ClaimIntent(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE offline_intents SET status = 'processing' WHERE id = ? AND status = 'queued'", id.String())
	if err != nil {
		return false, mapSQLiteError(err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteStore) DeleteIntent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM offline_intents WHERE id = ?", id.String())
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrIntentNotFound
	}
	return nil
}

func (s *SQLiteStore) FailIntent(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE offline_intents SET status = 'failed', failure_reason = ? WHERE id = ?", reason, id.String())
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrIntentNotFound
	}
	return nil
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		case sqlite3.ErrConstraint:
			if sqErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(err.Error(), "accounts.owner") {
				return domain.ErrDuplicateOwner
			}
			if sqErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
				return domain.ErrAccountNotFound
			}
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
	}
	return err
}

var _ Store = (*SQLiteStore)(nil)
