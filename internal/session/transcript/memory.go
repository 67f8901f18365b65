package transcript

import (
	"context"
	"sync"
	"time"

	v1 "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/v1"
)

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	entries       map[string][]*v1.TranscriptEntry
	nextID        map[string]int64
	mu            sync.RWMutex
	maxPerSession int
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory transcript store. maxPerSession
// caps retained entries per session; zero or negative means 1000.
func NewMemoryStore(maxPerSession int) *MemoryStore {
	if maxPerSession <= 0 {
		maxPerSession = 1000
	}
	return &MemoryStore{
		entries:       make(map[string][]*v1.TranscriptEntry),
		nextID:        make(map[string]int64),
		maxPerSession: maxPerSession,
	}
}

// Append saves one entry, assigning the next sequence ID for the session.
func (s *MemoryStore) Append(ctx context.Context, entry *v1.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID[entry.SessionID]++
	entry.ID = s.nextID[entry.SessionID]
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	entries := append(s.entries[entry.SessionID], entry)

	// Trim if exceeding max
	if len(entries) > s.maxPerSession {
		entries = entries[len(entries)-s.maxPerSession:]
	}

	s.entries[entry.SessionID] = entries
	return nil
}

// List returns all entries for a session in append order.
func (s *MemoryStore) List(ctx context.Context, sessionID string) ([]*v1.TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[sessionID]
	result := make([]*v1.TranscriptEntry, len(entries))
	copy(result, entries)
	return result, nil
}

// Clear removes all entries for a session.
func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	delete(s.nextID, sessionID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
