// Package db provides the Postgres-backed session store.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store answers session-validity questions against the shared user database.
type Store struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// New connects a pgx pool to the given database URL.
func New(ctx context.Context, databaseURL string, queryTimeout time.Duration) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, queryTimeout: queryTimeout}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

// IsValidUserAndSession reports whether the user exists and holds at least
// one unexpired session.
func (s *Store) IsValidUserAndSession(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM "User" u
			JOIN "Session" s ON s."userId" = u.id
			WHERE u.id = $1 AND s.expires > NOW()
		)`, userID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// IsValidUserAndSessionByEmail resolves an email to a user id, requiring an
// unexpired session. The returned id is empty when the check fails.
func (s *Store) IsValidUserAndSessionByEmail(ctx context.Context, email string) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT u.id
		FROM "User" u
		JOIN "Session" s ON s."userId" = u.id
		WHERE u.email = $1 AND s.expires > NOW()
		LIMIT 1`, email).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, id, nil
}
