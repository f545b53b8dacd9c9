package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/veritas-audit/veritas/internal/ledger"
	"go.uber.org/zap"
)

const checkpointColumns = `id, created_at, first_seq, last_seq, merkle_root,
	prev_hash, checkpoint_hash, algorithm, signature, status, details, verified_at`

// PostgresStore persists checkpoints to PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Create implements Store. The contiguity re-check and the insert share one
// transaction; UNIQUE(first_seq) backstops racing builders.
func (s *PostgresStore) Create(ctx context.Context, cp *Checkpoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &ledger.StorageError{Op: "begin checkpoint tx", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var lastSealed int64
	err = tx.QueryRow(ctx,
		"SELECT last_seq FROM audit_checkpoints ORDER BY last_seq DESC LIMIT 1",
	).Scan(&lastSealed)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return &ledger.StorageError{Op: "read latest checkpoint", Err: err}
	}
	if cp.FirstSeq != lastSealed+1 {
		return &ledger.RangeError{From: cp.FirstSeq, To: cp.LastSeq,
			Msg: fmt.Sprintf("not contiguous: next checkpoint must start at %d", lastSealed+1)}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_checkpoints (`+checkpointColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		cp.ID, cp.CreatedAt, cp.FirstSeq, cp.LastSeq, cp.MerkleRoot,
		cp.PrevHash, cp.Hash, cp.Algorithm, cp.Signature, cp.Status, cp.Details, cp.VerifiedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &ledger.RangeError{From: cp.FirstSeq, To: cp.LastSeq,
				Msg: "range already sealed by a concurrent builder"}
		}
		return &ledger.StorageError{Op: "insert checkpoint", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &ledger.StorageError{Op: "commit checkpoint tx", Err: err}
	}

	s.logger.Debug("checkpoint persisted",
		zap.String("id", cp.ID.String()),
		zap.Int64("first_seq", cp.FirstSeq),
		zap.Int64("last_seq", cp.LastSeq),
	)
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Checkpoint, error) {
	return s.scanOne(ctx,
		"SELECT "+checkpointColumns+" FROM audit_checkpoints WHERE id = $1", id)
}

// Latest implements Store.
func (s *PostgresStore) Latest(ctx context.Context) (*Checkpoint, error) {
	return s.scanOne(ctx,
		"SELECT "+checkpointColumns+" FROM audit_checkpoints ORDER BY last_seq DESC LIMIT 1")
}

// Before implements Store.
func (s *PostgresStore) Before(ctx context.Context, firstSeq int64) (*Checkpoint, error) {
	return s.scanOne(ctx,
		"SELECT "+checkpointColumns+" FROM audit_checkpoints WHERE last_seq = $1", firstSeq-1)
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+checkpointColumns+" FROM audit_checkpoints ORDER BY first_seq ASC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, &ledger.StorageError{Op: "list checkpoints", Err: err}
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.StorageError{Op: "list checkpoints", Err: err}
	}
	return out, nil
}

// UpdateVerification implements Store.
func (s *PostgresStore) UpdateVerification(ctx context.Context, id uuid.UUID, status Status, details string, verifiedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audit_checkpoints SET status = $2, details = $3, verified_at = $4 WHERE id = $1`,
		id, status, details, verifiedAt)
	if err != nil {
		return &ledger.StorageError{Op: "update verification", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*Checkpoint, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &ledger.StorageError{Op: "get checkpoint", Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, &ledger.StorageError{Op: "get checkpoint", Err: err}
		}
		return nil, ledger.ErrNotFound
	}
	return scanCheckpoint(rows)
}

func scanCheckpoint(rows pgx.Rows) (*Checkpoint, error) {
	var cp Checkpoint
	err := rows.Scan(
		&cp.ID, &cp.CreatedAt, &cp.FirstSeq, &cp.LastSeq, &cp.MerkleRoot,
		&cp.PrevHash, &cp.Hash, &cp.Algorithm, &cp.Signature, &cp.Status, &cp.Details, &cp.VerifiedAt,
	)
	if err != nil {
		return nil, &ledger.StorageError{Op: "scan checkpoint row", Err: err}
	}
	return &cp, nil
}
