package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// appendLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across every process writing to the same ledger.
const appendLockKey = int64(7_421_530_019)

const entryColumns = `seq, ts, monotonic_ns, event_type, event_category, severity,
	actor_id, actor_name, session_id, source_ip, client_info, location,
	event_data, sensitive, prev_hash, entry_hash`

// PostgresLedger persists the audit chain to PostgreSQL. It implements the
// Ledger interface.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Append implements Ledger. It acquires a transaction-scoped advisory lock,
// reads the chain tail, computes the new entry hash, and inserts — all in a
// single transaction, so a failure at any point consumes no sequence id and
// leaves the tail untouched. The lock is released on commit or rollback.
func (l *PostgresLedger) Append(ctx context.Context, e *LogEntry, payload []byte) (*LogEntry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, &StorageError{Op: "begin append tx", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", appendLockKey); err != nil {
		return nil, &StorageError{Op: "acquire append lock", Err: err}
	}

	var prevSeq int64
	prevHash := GenesisHash
	err = tx.QueryRow(ctx,
		"SELECT seq, entry_hash FROM audit_entries ORDER BY seq DESC LIMIT 1",
	).Scan(&prevSeq, &prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, &StorageError{Op: "read ledger tail", Err: err}
	}

	e.Seq = prevSeq + 1
	e.PrevHash = prevHash
	e.Hash = hashEntry(e, payload)

	eventData, err := json.Marshal(e.EventData)
	if err != nil {
		return nil, &StorageError{Op: "marshal event data", Err: err}
	}

	var actorID *uuid.UUID
	var actorName string
	if e.Actor != nil {
		actorID = e.Actor.UserID
		actorName = e.Actor.DisplayName
	}
	var srcIP, srcClient, srcLocation string
	if e.Source != nil {
		srcIP = e.Source.IPAddress
		srcClient = e.Source.Client
		srcLocation = e.Source.Location
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_entries (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.Seq, e.Timestamp, e.Monotonic, e.EventType, e.EventCategory, e.Severity,
		actorID, actorName, e.SessionID, srcIP, srcClient, srcLocation,
		eventData, e.Sensitive, e.PrevHash, e.Hash,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Duplicate seq or entry_hash: another writer won the race, or a
			// hash collision surfaced. Either way nothing was committed.
			return nil, ErrConflict
		}
		return nil, &StorageError{Op: "insert ledger entry", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &StorageError{Op: "commit append tx", Err: err}
	}

	l.logger.Debug("audit entry appended",
		zap.Int64("seq", e.Seq),
		zap.String("event_type", e.EventType),
	)
	return e, nil
}

// Entry implements Reader.
func (l *PostgresLedger) Entry(ctx context.Context, seq int64) (*LogEntry, error) {
	rows, err := l.pool.Query(ctx,
		"SELECT "+entryColumns+" FROM audit_entries WHERE seq = $1", seq)
	if err != nil {
		return nil, &StorageError{Op: fmt.Sprintf("get entry %d", seq), Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, &StorageError{Op: fmt.Sprintf("get entry %d", seq), Err: err}
		}
		return nil, ErrNotFound
	}
	return scanEntry(rows)
}

// Range implements Reader. Every id in [from, to] must exist.
func (l *PostgresLedger) Range(ctx context.Context, from, to int64) ([]*LogEntry, error) {
	if from < 1 || to < from {
		return nil, ErrNotFound
	}
	rows, err := l.pool.Query(ctx,
		"SELECT "+entryColumns+" FROM audit_entries WHERE seq BETWEEN $1 AND $2 ORDER BY seq ASC",
		from, to)
	if err != nil {
		return nil, &StorageError{Op: "query entry range", Err: err}
	}
	defer rows.Close()

	out := make([]*LogEntry, 0, to-from+1)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "query entry range", Err: err}
	}
	if int64(len(out)) != to-from+1 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Tail implements Reader.
func (l *PostgresLedger) Tail(ctx context.Context) (int64, string, error) {
	var seq int64
	var hash string
	err := l.pool.QueryRow(ctx,
		"SELECT seq, entry_hash FROM audit_entries ORDER BY seq DESC LIMIT 1",
	).Scan(&seq, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, GenesisHash, nil
	}
	if err != nil {
		return 0, "", &StorageError{Op: "read ledger tail", Err: err}
	}
	return seq, hash, nil
}

// Len implements Reader.
func (l *PostgresLedger) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries").Scan(&n); err != nil {
		return 0, &StorageError{Op: "count entries", Err: err}
	}
	return n, nil
}

// scanEntry reads a single entry from a pgx.Rows cursor. Column order
// matches entryColumns.
func scanEntry(rows pgx.Rows) (*LogEntry, error) {
	var e LogEntry
	var actorID *uuid.UUID
	var actorName, srcIP, srcClient, srcLocation string
	var eventData []byte

	err := rows.Scan(
		&e.Seq, &e.Timestamp, &e.Monotonic, &e.EventType, &e.EventCategory, &e.Severity,
		&actorID, &actorName, &e.SessionID, &srcIP, &srcClient, &srcLocation,
		&eventData, &e.Sensitive, &e.PrevHash, &e.Hash,
	)
	if err != nil {
		return nil, &StorageError{Op: "scan entry row", Err: err}
	}

	if actorID != nil || actorName != "" {
		e.Actor = &Actor{UserID: actorID, DisplayName: actorName}
	}
	if srcIP != "" || srcClient != "" || srcLocation != "" {
		e.Source = &Source{IPAddress: srcIP, Client: srcClient, Location: srcLocation}
	}
	if len(eventData) > 0 {
		if err := json.Unmarshal(eventData, &e.EventData); err != nil {
			return nil, &StorageError{Op: "unmarshal event data", Err: err}
		}
	}
	return &e, nil
}
