// Package postgres implements the engine's persistence contracts on
// PostgreSQL using database/sql and lib/pq.
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store provides all database access for the engine. One Store is shared by
// the API and the workers; *sql.DB pools connections underneath.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres, configures the pool, and verifies the
// connection with a ping.
func Open(url string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for advisory locks and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }
