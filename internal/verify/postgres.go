package verify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/veritas-audit/veritas/internal/ledger"
)

// PostgresRunStore persists the verification progress marker to PostgreSQL.
// A single row keyed by a fixed slot keeps at most one run in flight.
type PostgresRunStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRunStore creates a PostgresRunStore backed by the given pool.
func NewPostgresRunStore(pool *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{pool: pool}
}

// Save implements RunStore.
func (s *PostgresRunStore) Save(ctx context.Context, run *Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO verification_runs (slot, id, started_at, cursor, updated_at)
		 VALUES (1, $1, $2, $3, now())
		 ON CONFLICT (slot) DO UPDATE SET id = $1, started_at = $2, cursor = $3, updated_at = now()`,
		run.ID, run.StartedAt, run.Cursor)
	if err != nil {
		return &ledger.StorageError{Op: "save verification run", Err: err}
	}
	return nil
}

// Load implements RunStore.
func (s *PostgresRunStore) Load(ctx context.Context) (*Run, error) {
	var run Run
	err := s.pool.QueryRow(ctx,
		"SELECT id, started_at, cursor FROM verification_runs WHERE slot = 1",
	).Scan(&run.ID, &run.StartedAt, &run.Cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, &ledger.StorageError{Op: "load verification run", Err: err}
	}
	return &run, nil
}

// Clear implements RunStore.
func (s *PostgresRunStore) Clear(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM verification_runs WHERE slot = 1 AND id = $1", id)
	if err != nil {
		return &ledger.StorageError{Op: "clear verification run", Err: err}
	}
	return nil
}
