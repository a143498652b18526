/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.TxStore using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  accounts:     Balance aggregates with a version column for optimistic
                concurrency; external_id carries a unique index
  transactions: Request/outcome records; reference_id carries the unique
                index that backs idempotency; account_id is a foreign key
                with restrict-on-delete

OPTIMISTIC CONCURRENCY:
  UpdateAccount issues
    UPDATE accounts SET ..., version = version + 1
    WHERE id = ? AND version = ?
  Zero affected rows with an existing account means a stale read:
  ledger.ErrConcurrentModification.

IDEMPOTENCY:
  The unique index on transactions.reference_id turns a duplicate insert
  into ledger.ErrDuplicateReference; the engine re-reads the winner.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time, better crash
  recovery. A process-level write mutex avoids SQLITE_BUSY churn.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/ledger-engine/ledger"
)

// timeFormat pads nanoseconds to a fixed width so TEXT timestamps sort
// and compare chronologically (RFC3339Nano drops trailing zeros, which
// breaks lexicographic ordering at sub-second granularity).
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers; readers go through WAL
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and sidesteps
	// writer contention for file databases.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		external_id TEXT,
		balance INTEGER NOT NULL DEFAULT 0,
		reserved_balance INTEGER NOT NULL DEFAULT 0,
		credit_limit INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_external
		ON accounts(external_id) WHERE external_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		reference_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
		target_account_id TEXT,
		original_transaction_id TEXT,
		metadata TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: backs the idempotency contract; exactly one insert per
	-- client reference ever succeeds
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_target
		ON transactions(target_account_id) WHERE target_account_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_status
		ON transactions(status, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// executor abstracts *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAccount(ctx, s.db, a)
}

func createAccount(ctx context.Context, db executor, a *ledger.Account) error {
	query := `
		INSERT INTO accounts
		(id, external_id, balance, reserved_balance, credit_limit, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		a.ID,
		nullString(a.ExternalID),
		int64(a.Balance),
		int64(a.ReservedBalance),
		int64(a.CreditLimit),
		a.Status,
		a.CreatedAt.UTC().Format(timeFormat),
		a.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReference
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	a.Version = 1
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccount(ctx, s.db, "id = ?", string(id))
}

func (s *Store) GetAccountByExternalID(ctx context.Context, externalID string) (*ledger.Account, error) {
	return getAccount(ctx, s.db, "external_id = ?", externalID)
}

func getAccount(ctx context.Context, db executor, where string, arg any) (*ledger.Account, error) {
	query := `
		SELECT id, external_id, balance, reserved_balance, credit_limit, status, version, created_at, updated_at
		FROM accounts WHERE ` + where
	row := db.QueryRowContext(ctx, query, arg)

	var (
		a          ledger.Account
		externalID sql.NullString
		balance    int64
		reserved   int64
		limit      int64
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&a.ID, &externalID, &balance, &reserved, &limit, &a.Status, &a.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.ExternalID = externalID.String
	a.Balance = ledger.Money(balance)
	a.ReservedBalance = ledger.Money(reserved)
	a.CreditLimit = ledger.Money(limit)
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &a, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAccount(ctx, s.db, a)
}

func updateAccount(ctx context.Context, db executor, a *ledger.Account) error {
	query := `
		UPDATE accounts
		SET balance = ?, reserved_balance = ?, credit_limit = ?, status = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := db.ExecContext(ctx, query,
		int64(a.Balance),
		int64(a.ReservedBalance),
		int64(a.CreditLimit),
		a.Status,
		a.UpdatedAt.UTC().Format(timeFormat),
		a.ID,
		a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Missing row or stale version; disambiguate for the caller.
		var exists int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts WHERE id = ?", a.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ledger.ErrAccountNotFound
		}
		return ledger.ErrConcurrentModification
	}
	a.Version++
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createTransaction(ctx, s.db, t)
}

func createTransaction(ctx context.Context, db executor, t *ledger.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, reference_id, operation, amount, currency, account_id, target_account_id,
		 original_transaction_id, metadata, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		t.ID,
		t.ReferenceID,
		t.Operation,
		int64(t.Amount),
		nullString(t.Currency),
		t.AccountID,
		nullString(string(t.TargetAccountID)),
		nullString(string(t.OriginalTransactionID)),
		nullString(t.Metadata),
		t.Status,
		nullString(t.ErrorMessage),
		t.CreatedAt.UTC().Format(timeFormat),
		t.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReference
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, reference_id, operation, amount, currency, account_id,
	target_account_id, original_transaction_id, metadata, status, error_message, created_at, updated_at`

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, s.db, "id = ?", string(id))
}

func (s *Store) GetTransactionByReference(ctx context.Context, referenceID string) (*ledger.Transaction, error) {
	return getTransaction(ctx, s.db, "reference_id = ?", referenceID)
}

func getTransaction(ctx context.Context, db executor, where string, arg any) (*ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE "+where, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ledger.ErrTransactionNotFound
	}
	return scanTransaction(rows)
}

func (s *Store) UpdateTransaction(ctx context.Context, t *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTransaction(ctx, s.db, t)
}

func updateTransaction(ctx context.Context, db executor, t *ledger.Transaction) error {
	query := `
		UPDATE transactions
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := db.ExecContext(ctx, query,
		t.Status,
		nullString(t.ErrorMessage),
		t.UpdatedAt.UTC().Format(timeFormat),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID ledger.AccountID) ([]*ledger.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = ? OR target_account_id = ?
		ORDER BY created_at DESC, id
	`
	return queryTransactions(ctx, s.db, query, accountID, accountID)
}

func (s *Store) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*ledger.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending' AND created_at < ?
		ORDER BY created_at
	`
	return queryTransactions(ctx, s.db, query, cutoff.UTC().Format(timeFormat))
}

func queryTransactions(ctx context.Context, db executor, query string, args ...any) ([]*ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var result []*ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanTransaction(rows *sql.Rows) (*ledger.Transaction, error) {
	var (
		t          ledger.Transaction
		amount     int64
		currency   sql.NullString
		target     sql.NullString
		original   sql.NullString
		metadata   sql.NullString
		errMessage sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := rows.Scan(
		&t.ID, &t.ReferenceID, &t.Operation, &amount, &currency, &t.AccountID,
		&target, &original, &metadata, &t.Status, &errMessage, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	t.Amount = ledger.Money(amount)
	t.Currency = currency.String
	t.TargetAccountID = ledger.AccountID(target.String)
	t.OriginalTransactionID = ledger.TransactionID(original.String)
	t.Metadata = metadata.String
	t.ErrorMessage = errMessage.String
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &t, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateAccount(ctx context.Context, a *ledger.Account) error {
	return createAccount(ctx, ts.tx, a)
}

func (ts *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, "id = ?", string(id))
}

func (ts *txStore) GetAccountByExternalID(ctx context.Context, externalID string) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, "external_id = ?", externalID)
}

func (ts *txStore) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	return updateAccount(ctx, ts.tx, a)
}

func (ts *txStore) CreateTransaction(ctx context.Context, t *ledger.Transaction) error {
	return createTransaction(ctx, ts.tx, t)
}

func (ts *txStore) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, "id = ?", string(id))
}

func (ts *txStore) GetTransactionByReference(ctx context.Context, referenceID string) (*ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, "reference_id = ?", referenceID)
}

func (ts *txStore) UpdateTransaction(ctx context.Context, t *ledger.Transaction) error {
	return updateTransaction(ctx, ts.tx, t)
}

func (ts *txStore) ListTransactions(ctx context.Context, accountID ledger.AccountID) ([]*ledger.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = ? OR target_account_id = ?
		ORDER BY created_at DESC, id
	`
	return queryTransactions(ctx, ts.tx, query, accountID, accountID)
}

func (ts *txStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*ledger.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending' AND created_at < ?
		ORDER BY created_at
	`
	return queryTransactions(ctx, ts.tx, query, cutoff.UTC().Format(timeFormat))
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
