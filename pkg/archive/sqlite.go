package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/fault"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewSQLite opens (creating if needed) the database at dbPath and initializes
// its schema.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("archive: create database directory: %w", err)
		}
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open database: %w", err)
	}

	if dbPath == MemoryPath {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: ping database: %w", err)
	}

	store := &SQLiteStore{db: db, nowFunc: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: initialize schema: %w", err)
	}

	return store, nil
}

// SetNowFunc overrides the clock used for timestamps (for testing).
func (s *SQLiteStore) SetNowFunc(fn func() time.Time) { s.nowFunc = fn }

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		turns INTEGER NOT NULL,
		final_text TEXT NOT NULL,
		failure_json TEXT,
		messages_json TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save creates or replaces a session record.
func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	if r.ID == "" {
		return errors.New("archive: record id is empty")
	}

	msgs := r.Messages
	if msgs == nil {
		msgs = []message.Message{}
	}
	messagesJSON, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("archive: encode messages: %w", err)
	}

	var failureJSON any
	if r.Failure != nil {
		data, err := json.Marshal(r.Failure)
		if err != nil {
			return fmt.Errorf("archive: encode failure: %w", err)
		}
		failureJSON = string(data)
	}

	now := s.nowFunc()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	query := `
	INSERT INTO sessions (id, status, turns, final_text, failure_json, messages_json, input_tokens, output_tokens, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		turns = excluded.turns,
		final_text = excluded.final_text,
		failure_json = excluded.failure_json,
		messages_json = excluded.messages_json,
		input_tokens = excluded.input_tokens,
		output_tokens = excluded.output_tokens,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.Status, r.Turns, r.FinalText, failureJSON, string(messagesJSON),
		r.Usage.InputTokens, r.Usage.OutputTokens,
		r.CreatedAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("archive: save session %q: %w", r.ID, err)
	}

	return nil
}

const selectColumns = `SELECT id, status, turns, final_text, failure_json, messages_json, input_tokens, output_tokens, created_at, updated_at FROM sessions`

// Get retrieves a session record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("archive: get session %q: %w", id, err)
	}

	return r, nil
}

// List returns session records, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	query := selectColumns + ` ORDER BY created_at DESC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("archive: list sessions: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: list sessions: %w", err)
	}

	return out, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                    Record
		failureJSON          sql.NullString
		messagesJSON         string
		createdAt, updatedAt int64
	)

	if err := sc.Scan(&r.ID, &r.Status, &r.Turns, &r.FinalText, &failureJSON, &messagesJSON,
		&r.Usage.InputTokens, &r.Usage.OutputTokens, &createdAt, &updatedAt); err != nil {
		return Record{}, err
	}

	if err := json.Unmarshal([]byte(messagesJSON), &r.Messages); err != nil {
		return Record{}, fmt.Errorf("decode messages: %w", err)
	}

	if failureJSON.Valid {
		var d fault.Descriptor
		if err := json.Unmarshal([]byte(failureJSON.String), &d); err != nil {
			return Record{}, fmt.Errorf("decode failure: %w", err)
		}
		r.Failure = &d
	}

	r.CreatedAt = time.UnixMilli(createdAt)
	r.UpdatedAt = time.UnixMilli(updatedAt)

	return r, nil
}
