// Package transcript stores the ordered event history of relay sessions.
//
// Every event published to clients is appended here first, so subscribers
// that connect late or reconnect can replay exactly what they missed, in
// the order the engine produced it.
package transcript

import (
	"context"
	"fmt"
	"strings"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/config"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
	v1 "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/v1"
)

// Store defines transcript storage operations.
type Store interface {
	// Append persists one entry and assigns its per-session sequence ID.
	Append(ctx context.Context, entry *v1.TranscriptEntry) error

	// List returns all entries for a session in append order.
	List(ctx context.Context, sessionID string) ([]*v1.TranscriptEntry, error)

	// Clear removes all entries for a session.
	Clear(ctx context.Context, sessionID string) error

	// Close closes the store (for database connections).
	Close() error
}

// NewStore builds the transcript store selected by cfg.Transcript.Backend.
func NewStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	switch strings.ToLower(cfg.Transcript.Backend) {
	case "", "memory":
		return NewMemoryStore(cfg.Transcript.MaxEventsPerSession), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Transcript.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Database, log)
	default:
		return nil, fmt.Errorf("unknown transcript backend: %s", cfg.Transcript.Backend)
	}
}
