package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore provides Postgres-based record storage using a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Ensure PostgresStore implements Store interface
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres record store and initializes the schema.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_records (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT '',
		payload JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_session_records_state ON session_records(state);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Create persists a new record.
func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_records (id, status, state, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, string(rec.Status), string(rec.Payload.State), payload, rec.CreatedAt, rec.UpdatedAt)

	return err
}

// Get retrieves a record by session identifier.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	return s.get(ctx, s.pool, id)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) get(ctx context.Context, q queryRower, id string) (*Record, error) {
	rec := &Record{}
	var status string
	var payload []byte

	err := q.QueryRow(ctx, `
		SELECT id, status, payload, created_at, updated_at
		FROM session_records WHERE id = $1
	`, id).Scan(&rec.ID, &status, &payload, &rec.CreatedAt, &rec.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return rec, nil
}

// Patch applies a partial update inside a transaction and returns the updated
// record. The row is locked for the read-modify-write.
func (s *PostgresStore) Patch(ctx context.Context, id string, patch Patch) (*Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec := &Record{}
	var status string
	var payload []byte

	err = tx.QueryRow(ctx, `
		SELECT id, status, payload, created_at, updated_at
		FROM session_records WHERE id = $1
		FOR UPDATE
	`, id).Scan(&rec.ID, &status, &payload, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	rec.Apply(patch)

	updated, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE session_records SET status = $1, state = $2, payload = $3, updated_at = $4
		WHERE id = $5
	`, string(rec.Status), string(rec.Payload.State), updated, rec.UpdatedAt, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByStates returns all records whose payload state is one of the given states.
func (s *PostgresStore) ListByStates(ctx context.Context, states ...State) ([]*Record, error) {
	if len(states) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, st := range states {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, status, payload, created_at, updated_at
		FROM session_records WHERE state IN (%s)
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec := &Record{}
		var status string
		var payload []byte
		if err := rows.Scan(&rec.ID, &status, &payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for %s: %w", rec.ID, err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
