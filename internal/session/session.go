// Package session owns relay sessions: one engine process per session, the
// phase state machine, and the fan-out of parsed engine events to the bus
// and transcript store.
package session

import (
	"sync"
	"time"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/engine/parser"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/engine/process"
	v1 "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/v1"
)

// Session tracks one engine process and its relay state.
//
// Phase moves forward only: profile -> gathering -> matching, ending in
// complete or error. The mutex guards the mutable fields; the process
// adapter and parser are wired once at start and never replaced.
type Session struct {
	id string

	mu           sync.Mutex
	phase        v1.Phase
	createdAt    time.Time
	updatedAt    time.Time
	endedAt      *time.Time
	exitCode     *int
	errorMessage *string
	lastActivity time.Time

	completedSeen bool
	resultsSent   bool
	results       []v1.ResultItem
	lastSeq       int64

	workDir      string
	artifactPath string

	proc   *process.Adapter
	parser *parser.Parser
}

// phaseRank orders phases so transitions can only move forward. Out-of-order
// banners from the engine (a repeated "Phase 1" late in the run) are ignored.
var phaseRank = map[v1.Phase]int{
	v1.PhaseProfile:   1,
	v1.PhaseGathering: 2,
	v1.PhaseMatching:  3,
	v1.PhaseComplete:  4,
	v1.PhaseError:     4,
}

// Info returns a point-in-time snapshot for API and websocket clients.
func (s *Session) Info() *v1.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := &v1.SessionInfo{
		ID:        s.id,
		Phase:     s.phase,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if s.endedAt != nil {
		ended := *s.endedAt
		info.EndedAt = &ended
	}
	if s.exitCode != nil {
		code := *s.exitCode
		info.ExitCode = &code
	}
	if s.errorMessage != nil {
		msg := *s.errorMessage
		info.ErrorMessage = &msg
	}
	return info
}

// Phase returns the current phase.
func (s *Session) Phase() v1.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Results returns delivered result items, or nil before completion.
func (s *Session) Results() []v1.ResultItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resultsSent {
		return nil
	}
	out := make([]v1.ResultItem, len(s.results))
	copy(out, s.results)
	return out
}

// sequenceFor returns the sequence number a live event should carry. When
// the transcript store assigned one, it becomes the new high-water mark.
// When the append failed, the next number past the high-water mark keeps
// the event deliverable: subscribers drop anything at or below their
// replay floor, so a zero sequence would never reach them.
func (s *Session) sequenceFor(stored int64, appended bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if appended {
		if stored > s.lastSeq {
			s.lastSeq = stored
		}
		return stored
	}
	s.lastSeq++
	return s.lastSeq
}

// touch records client activity for the idle reaper.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

// idleSince returns the last activity timestamp.
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// notePhase applies a parsed phase marker. State only moves forward; a
// marker for the current phase is relayed but not reapplied, and markers
// that would move backwards or out of a terminal phase are dropped.
// Returns whether the event should be relayed to clients.
func (s *Session) notePhase(phase v1.Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() {
		return false
	}
	if phaseRank[phase] < phaseRank[s.phase] {
		return false
	}
	if phaseRank[phase] > phaseRank[s.phase] {
		s.phase = phase
		s.updatedAt = time.Now().UTC()
	}
	return true
}

// markComplete records successful completion with its results.
// Returns false if the session was already terminal.
func (s *Session) markComplete(items []v1.ResultItem, exitCode *int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() || s.resultsSent {
		return false
	}
	now := time.Now().UTC()
	s.phase = v1.PhaseComplete
	s.results = items
	s.resultsSent = true
	s.updatedAt = now
	s.endedAt = &now
	if exitCode != nil {
		s.exitCode = exitCode
	}
	return true
}

// markError records terminal failure. Returns false if already terminal.
func (s *Session) markError(reason string, exitCode *int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() {
		return false
	}
	now := time.Now().UTC()
	s.phase = v1.PhaseError
	s.errorMessage = &reason
	s.updatedAt = now
	s.endedAt = &now
	if exitCode != nil {
		s.exitCode = exitCode
	}
	return true
}
