// Package storage provides interfaces and implementations for recording
// issued VAPID tokens.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// Record describes one issued token. The token itself is not stored.
type Record struct {
	ID        string    `json:"id"`
	KeyID     string    `json:"key_id"` // base64url public key, the header's k= value
	Variant   string    `json:"variant"`
	Audience  string    `json:"aud"`
	Subject   string    `json:"sub"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Storage defines the interface for the issuance ledger.
type Storage interface {
	// Save stores or replaces a record.
	Save(ctx context.Context, record *Record) error

	// Get retrieves a record by ID.
	Get(ctx context.Context, id string) (*Record, error)

	// ListByKey returns all records issued under a key.
	ListByKey(ctx context.Context, keyID string) ([]*Record, error)

	// CountActiveByKey returns the number of records issued under a key
	// that have not expired at the given time.
	CountActiveByKey(ctx context.Context, keyID string, at time.Time) (int, error)

	// DeleteExpired removes records that expired before the given time and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, at time.Time) (int, error)

	// List returns records, newest first, with pagination.
	List(ctx context.Context, limit, offset int) ([]*Record, error)

	// Close closes the storage connection.
	Close() error
}
