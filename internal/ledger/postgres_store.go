package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
)

// validTableName restricts configurable table names to safe identifiers,
// since the table name is interpolated into SQL text.
var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db        *sql.DB
	ownsDB    bool
	tableName string
}

// NewPostgresStore creates a PostgreSQL-backed store and ensures the
// attempts table exists.
func NewPostgresStore(connectionString, tableName string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// Close error during init cleanup is not actionable; the
		// connection failure is the error that matters.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db, ownsDB: true, tableName: tableName}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB creates a store over an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB, tableName string) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false, tableName: tableName}
	if err := store.init(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) init() error {
	if s.tableName == "" {
		s.tableName = "payment_attempts"
	}
	if !validTableName.MatchString(s.tableName) {
		return fmt.Errorf("invalid table name: %s", s.tableName)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			idempotency_key TEXT PRIMARY KEY,
			invoice TEXT NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status);
	`, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create attempts table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, attempt PaymentAttempt) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (idempotency_key, invoice, amount, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, s.tableName)

	_, err := s.db.ExecContext(ctx, query,
		attempt.IdempotencyKey, attempt.Invoice, attempt.Amount,
		attempt.Description, string(attempt.Status),
		attempt.CreatedAt, attempt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (PaymentAttempt, error) {
	query := fmt.Sprintf(`
		SELECT idempotency_key, invoice, amount, description, status, created_at, updated_at
		FROM %s WHERE idempotency_key = $1
	`, s.tableName)

	var attempt PaymentAttempt
	var status string
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&attempt.IdempotencyKey, &attempt.Invoice, &attempt.Amount,
		&attempt.Description, &status, &attempt.CreatedAt, &attempt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentAttempt{}, ErrNotFound
	}
	if err != nil {
		return PaymentAttempt{}, fmt.Errorf("query attempt: %w", err)
	}
	attempt.Status = Status(status)
	return attempt, nil
}

func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE idempotency_key = $1`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]PaymentAttempt, error) {
	query := fmt.Sprintf(`
		SELECT idempotency_key, invoice, amount, description, status, created_at, updated_at
		FROM %s WHERE status IN ('submitted', 'pending')
		ORDER BY created_at
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pending attempts: %w", err)
	}
	defer rows.Close()

	var out []PaymentAttempt
	for rows.Next() {
		var attempt PaymentAttempt
		var status string
		if err := rows.Scan(
			&attempt.IdempotencyKey, &attempt.Invoice, &attempt.Amount,
			&attempt.Description, &status, &attempt.CreatedAt, &attempt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempt.Status = Status(status)
		out = append(out, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
