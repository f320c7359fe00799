package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore provides SQLite-based record storage. The payload is stored as
// an opaque JSON column; only id, status, and the state tag are queryable.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite record store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_records (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_session_records_state ON session_records(state);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create persists a new record.
func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_records (id, status, state, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.Status), string(rec.Payload.State), string(payload), rec.CreatedAt, rec.UpdatedAt)

	return err
}

// Get retrieves a record by session identifier.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	rec := &Record{}
	var status, payload string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, payload, created_at, updated_at
		FROM session_records WHERE id = ?
	`, id).Scan(&rec.ID, &status, &payload, &rec.CreatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return rec, nil
}

// Patch applies a partial update and returns the updated record.
// Read-modify-write is safe here: SQLite is configured with a single
// connection, so patches serialize on the pool.
func (s *SQLiteStore) Patch(ctx context.Context, id string, patch Patch) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.Apply(patch)

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE session_records SET status = ?, state = ?, payload = ?, updated_at = ?
		WHERE id = ?
	`, string(rec.Status), string(rec.Payload.State), string(payload), rec.UpdatedAt, id)
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// ListByStates returns all records whose payload state is one of the given states.
func (s *SQLiteStore) ListByStates(ctx context.Context, states ...State) ([]*Record, error) {
	if len(states) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]interface{}, len(states))
	for i, st := range states {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, status, payload, created_at, updated_at
		FROM session_records WHERE state IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec := &Record{}
		var status, payload string
		if err := rows.Scan(&rec.ID, &status, &payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for %s: %w", rec.ID, err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
