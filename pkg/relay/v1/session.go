package v1

import (
	"encoding/json"
	"time"
)

// Phase represents the stage a relay session is in. A session starts in
// PhaseProfile and moves forward only; PhaseComplete and PhaseError are
// terminal.
type Phase string

const (
	PhaseProfile   Phase = "profile"
	PhaseGathering Phase = "gathering"
	PhaseMatching  Phase = "matching"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
)

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// ResultItem is one scored recommendation from the engine's result artifact.
// PropertyID is kept as raw JSON so string and numeric identifiers survive
// the relay unchanged.
type ResultItem struct {
	PropertyID json.RawMessage `json:"property_id"`
	Score      float64         `json:"score"`
	Rationale  string          `json:"rationale"`
}

// SessionInfo describes a relay session to API and websocket clients.
type SessionInfo struct {
	ID           string     `json:"id"`
	Phase        Phase      `json:"phase"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// TranscriptEntry is one relayed event in a session's ordered history.
type TranscriptEntry struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
