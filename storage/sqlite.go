package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite implements storage using SQLite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite storage.
// dsn is the data source name, e.g., "vapid.db" or ":memory:".
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS issued_tokens (
			id TEXT PRIMARY KEY,
			key_id TEXT NOT NULL,
			variant TEXT NOT NULL,
			audience TEXT NOT NULL,
			subject TEXT NOT NULL,
			issued_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_key_id ON issued_tokens(key_id);
		CREATE INDEX IF NOT EXISTS idx_expires_at ON issued_tokens(expires_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Save stores or replaces a record.
func (s *SQLite) Save(ctx context.Context, record *Record) error {
	if record.IssuedAt.IsZero() {
		record.IssuedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issued_tokens (id, key_id, variant, audience, subject, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			key_id = excluded.key_id,
			variant = excluded.variant,
			audience = excluded.audience,
			subject = excluded.subject,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at
	`,
		record.ID,
		record.KeyID,
		record.Variant,
		record.Audience,
		record.Subject,
		record.IssuedAt.Unix(),
		record.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving record: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *SQLite) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key_id, variant, audience, subject, issued_at, expires_at
		FROM issued_tokens WHERE id = ?
	`, id)
	return scanRecord(row)
}

// ListByKey returns all records issued under a key, newest first.
func (s *SQLite) ListByKey(ctx context.Context, keyID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key_id, variant, audience, subject, issued_at, expires_at
		FROM issued_tokens WHERE key_id = ?
		ORDER BY issued_at DESC, id ASC
	`, keyID)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CountActiveByKey counts unexpired records issued under a key.
func (s *SQLite) CountActiveByKey(ctx context.Context, keyID string, at time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM issued_tokens WHERE key_id = ? AND expires_at > ?
	`, keyID, at.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// DeleteExpired removes records whose expiry is not after at.
func (s *SQLite) DeleteExpired(ctx context.Context, at time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM issued_tokens WHERE expires_at <= ?", at.Unix())
	if err != nil {
		return 0, fmt.Errorf("deleting expired records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// List returns records, newest first, with pagination.
func (s *SQLite) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key_id, variant, audience, subject, issued_at, expires_at
		FROM issued_tokens
		ORDER BY issued_at DESC, id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r                   Record
		issuedAt, expiresAt int64
	)
	err := row.Scan(&r.ID, &r.KeyID, &r.Variant, &r.Audience, &r.Subject, &issuedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}
	r.IssuedAt = time.Unix(issuedAt, 0)
	r.ExpiresAt = time.Unix(expiresAt, 0)
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return records, nil
}
