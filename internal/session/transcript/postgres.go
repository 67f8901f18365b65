package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/config"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
	v1 "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/v1"
)

// PostgresStore provides PostgreSQL-based transcript storage for
// deployments where session history must survive relay restarts.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// Ensure PostgresStore implements Store interface
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to PostgreSQL and prepares the schema.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool, logger: log}

	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info("Connected to PostgreSQL transcript store",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName))

	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript_entries (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcript_session_id ON transcript_entries(session_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Append persists one entry and assigns its sequence ID.
func (s *PostgresStore) Append(ctx context.Context, entry *v1.TranscriptEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	return s.pool.QueryRow(ctx, `
		INSERT INTO transcript_entries (session_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, entry.SessionID, entry.EventType, payload, entry.CreatedAt).Scan(&entry.ID)
}

// List returns all entries for a session in append order.
func (s *PostgresStore) List(ctx context.Context, sessionID string) ([]*v1.TranscriptEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, event_type, payload, created_at
		FROM transcript_entries WHERE session_id = $1 ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*v1.TranscriptEntry
	for rows.Next() {
		entry := &v1.TranscriptEntry{}
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.EventType, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// Clear removes all entries for a session.
func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM transcript_entries WHERE session_id = $1`, sessionID)
	return err
}
