// Package postgres is the Store adapter's Postgres-backed implementation.
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config holds Postgres connection settings.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens a pgx-backed *sql.DB and verifies connectivity.
func Open(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// Store implements store.Store against Postgres.
type Store struct {
	db        *sql.DB
	secretKey []byte
}

// New wraps an already-open *sql.DB. secretKey encrypts OAuth client
// secrets at rest; it is padded or truncated to 32 bytes for AES-256.
func New(db *sql.DB, secretKey string) *Store {
	key := []byte(secretKey)
	if len(key) < 32 {
		padded := make([]byte, 32)
		copy(padded, key)
		key = padded
	}
	return &Store{db: db, secretKey: key[:32]}
}
