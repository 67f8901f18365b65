package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	v1 "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/v1"
)

// SQLiteStore provides SQLite-based transcript storage.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite transcript store.
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

// initSchema creates the database tables if they don't exist.
// The rowid ordering doubles as the per-session sequence.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcript_session_id ON transcript_entries(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append persists one entry and assigns its sequence ID.
func (s *SQLiteStore) Append(ctx context.Context, entry *v1.TranscriptEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_entries (session_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, entry.SessionID, entry.EventType, string(payload), entry.CreatedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// List returns all entries for a session in append order.
func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]*v1.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, event_type, payload, created_at
		FROM transcript_entries WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*v1.TranscriptEntry
	for rows.Next() {
		entry := &v1.TranscriptEntry{}
		var payload string
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.EventType, &payload, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Payload = []byte(payload)
		result = append(result, entry)
	}
	return result, rows.Err()
}

// Clear removes all entries for a session.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcript_entries WHERE session_id = ?`, sessionID)
	return err
}
