package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/config"
	apperrors "github.com/PeterSaffarian/replit-propertyrecommender/internal/common/errors"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/engine/parser"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/engine/process"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/engine/results"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/events"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/events/bus"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/session/transcript"
	v1 "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/v1"
)

// greetingText is the only client-visible text not derived from engine
// output. It acknowledges the connection before the engine's first line.
const greetingText = "Welcome! I'm your property recommendation assistant. " +
	"I'll help you find the perfect property by understanding your preferences " +
	"and searching for the best matches."

const eventSource = "session-manager"

// Manager owns the session registry. It spawns one engine process per
// session, consumes its parsed output, and relays events through the bus
// and transcript store. Transports never talk to an engine directly.
type Manager struct {
	engineCfg  config.EngineConfig
	sessionCfg config.SessionConfig
	bus        bus.EventBus
	store      transcript.Store
	logger     *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// NewManager creates a session manager. Call Start to launch the idle
// reaper and Shutdown to stop everything.
func NewManager(cfg *config.Config, eventBus bus.EventBus, store transcript.Store, log *logger.Logger) *Manager {
	return &Manager{
		engineCfg:  cfg.Engine,
		sessionCfg: cfg.Session,
		bus:        eventBus,
		store:      store,
		logger:     log.WithFields(zap.String("component", "session-manager")),
		sessions:   make(map[string]*Session),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
}

// Start launches the idle session reaper. No-op when the idle timeout is zero.
func (m *Manager) Start() {
	if m.sessionCfg.IdleTimeout <= 0 {
		close(m.reaperDone)
		return
	}
	go m.reapIdleSessions()
}

// StartSession creates a session, spawns its engine process, and emits the
// greeting. An empty id is replaced with a generated UUID. A spawn failure
// leaves the session registered in the error phase so clients can observe
// the failure, and is returned to the caller once.
//
// The session is fully constructed, working directory and process adapter
// included, before it is inserted into the registry. Once a session is
// visible to RouteUserText or StopSession its proc field never changes.
func (m *Manager) StartSession(ctx context.Context, id string) (*v1.SessionInfo, error) {
	if id == "" {
		id = uuid.New().String()
	}

	log := m.logger.WithSessionID(id)

	workDir, err := os.MkdirTemp(m.engineCfg.WorkDir, "relay-session-")
	if err != nil {
		return nil, apperrors.InternalError("failed to create session working directory", err)
	}

	now := time.Now().UTC()
	sess := &Session{
		id:           id,
		phase:        v1.PhaseProfile,
		createdAt:    now,
		updatedAt:    now,
		lastActivity: now,
		parser:       parser.New(),
		workDir:      workDir,
		artifactPath: filepath.Join(workDir, m.engineCfg.ArtifactName),
	}

	env := make(map[string]string, len(m.engineCfg.Env))
	for _, pair := range m.engineCfg.Env {
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			env[pair[:eq]] = pair[eq+1:]
		}
	}

	sess.proc = process.NewAdapter(process.Options{
		SessionID:       id,
		Command:         m.engineCfg.Command,
		Args:            m.engineCfg.Args,
		WorkDir:         workDir,
		Env:             env,
		TerminateGrace:  m.engineCfg.TerminateGraceDuration(),
		StderrTailBytes: m.engineCfg.StderrTailBytes,
	}, process.Callbacks{
		OnStdout: func(chunk []byte) { m.handleStdout(sess, chunk) },
		OnStderr: nil, // retained by the adapter's tail buffer only
		OnExit:   func(code int) { m.handleExit(sess, code) },
	}, log)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		os.RemoveAll(workDir)
		return nil, apperrors.ServiceUnavailable("session manager")
	}
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		os.RemoveAll(workDir)
		return nil, apperrors.Conflict(fmt.Sprintf("session '%s' already exists", id))
	}
	if m.sessionCfg.MaxSessions > 0 && m.activeCountLocked() >= m.sessionCfg.MaxSessions {
		m.mu.Unlock()
		os.RemoveAll(workDir)
		return nil, apperrors.ServiceUnavailable("session capacity")
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	// Publishing before Start pins the greeting ahead of any engine output.
	m.publish(sess, events.PipelineGreeting, map[string]interface{}{
		"text": greetingText,
	})

	// The process must outlive the start request.
	if err := sess.proc.Start(context.Background()); err != nil {
		reason := fmt.Sprintf("failed to spawn engine: %v", err)
		sess.markError(reason, nil)
		m.publish(sess, events.PipelineError, map[string]interface{}{"error": reason})
		log.WithError(err).Error("engine spawn failed")
		return nil, err
	}

	log.Info("session started",
		zap.String("command", m.engineCfg.Command),
		zap.String("work_dir", workDir))

	return sess.Info(), nil
}

// RouteUserText forwards client text verbatim to the session's engine.
// Unknown and terminal sessions both fail with SESSION_NOT_FOUND, so
// clients cannot tell a finished session from a missing one.
func (m *Manager) RouteUserText(sessionID, text string) error {
	sess, ok := m.get(sessionID)
	if !ok {
		return apperrors.SessionNotFound(sessionID)
	}
	if sess.Phase().Terminal() {
		return apperrors.SessionNotFound(sessionID)
	}

	sess.touch()
	if err := sess.proc.Write(text); err != nil {
		return err
	}
	return nil
}

// StopSession terminates the engine and marks the session as stopped
// unless it already reached a terminal phase.
func (m *Manager) StopSession(ctx context.Context, sessionID string) error {
	sess, ok := m.get(sessionID)
	if !ok {
		return apperrors.SessionNotFound(sessionID)
	}

	// Mark terminal before terminating so the exit handler does not race
	// in a failure reason of its own.
	if sess.markError("session stopped by client", nil) {
		m.publish(sess, events.PipelineError, map[string]interface{}{
			"error": "session stopped by client",
		})
	}

	if sess.proc != nil {
		if err := sess.proc.Terminate(ctx); err != nil {
			m.logger.WithSessionID(sessionID).WithError(err).Warn("engine terminate did not complete")
		}
	}
	return nil
}

// GetSession returns a snapshot of one session.
func (m *Manager) GetSession(sessionID string) (*v1.SessionInfo, error) {
	sess, ok := m.get(sessionID)
	if !ok {
		return nil, apperrors.SessionNotFound(sessionID)
	}
	return sess.Info(), nil
}

// ListSessions returns snapshots of all registered sessions.
func (m *Manager) ListSessions() []*v1.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]*v1.SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, sess.Info())
	}
	return infos
}

// Results returns the delivered result items for a completed session.
func (m *Manager) Results(sessionID string) ([]v1.ResultItem, error) {
	sess, ok := m.get(sessionID)
	if !ok {
		return nil, apperrors.SessionNotFound(sessionID)
	}
	items := sess.Results()
	if items == nil {
		return nil, apperrors.ResultNotFound(sessionID)
	}
	return items, nil
}

// Transcript returns the stored event history for a session.
func (m *Manager) Transcript(ctx context.Context, sessionID string) ([]*v1.TranscriptEntry, error) {
	if _, ok := m.get(sessionID); !ok {
		return nil, apperrors.SessionNotFound(sessionID)
	}
	return m.store.List(ctx, sessionID)
}

// Touch records client activity, deferring the idle reaper.
func (m *Manager) Touch(sessionID string) {
	if sess, ok := m.get(sessionID); ok {
		sess.touch()
	}
}

// Shutdown terminates all engines and stops the reaper.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	close(m.reaperStop)

	var wg sync.WaitGroup
	for _, sess := range sessions {
		if sess.proc == nil || !sess.proc.Running() {
			continue
		}
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.proc.Terminate(ctx); err != nil {
				m.logger.WithSessionID(s.id).WithError(err).Warn("engine terminate did not complete")
			}
		}(sess)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-m.reaperDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// handleStdout runs on the adapter's stdout goroutine, so event handling is
// single-threaded per session and preserves engine output order.
func (m *Manager) handleStdout(sess *Session, chunk []byte) {
	for _, event := range sess.parser.Feed(chunk) {
		m.applyEngineEvent(sess, event)
	}
}

// handleExit runs after both output streams have drained. It flushes the
// parser, then resolves the session's terminal phase from the exit code.
func (m *Manager) handleExit(sess *Session, exitCode int) {
	for _, event := range sess.parser.Flush() {
		m.applyEngineEvent(sess, event)
	}

	if sess.Phase().Terminal() {
		return
	}

	if exitCode == 0 {
		m.finalizeSuccess(sess, &exitCode)
		return
	}

	reason := sess.proc.StderrTail()
	if reason == "" {
		reason = fmt.Sprintf("engine exited unexpectedly with code %d", exitCode)
	}
	m.failSession(sess, reason, &exitCode)
}

// applyEngineEvent relays one parsed engine event.
func (m *Manager) applyEngineEvent(sess *Session, event parser.Event) {
	switch event.Kind {
	case parser.KindNarration:
		if sess.Phase().Terminal() {
			return
		}
		m.publish(sess, events.PipelineNarration, map[string]interface{}{
			"text": event.Text,
		})

	case parser.KindPhaseChange:
		if sess.notePhase(event.Phase) {
			m.publish(sess, events.PipelinePhase, map[string]interface{}{
				"phase": string(event.Phase),
			})
		}

	case parser.KindCompleted:
		m.finalizeSuccess(sess, nil)
	}
}

// finalizeSuccess loads and validates the result artifact, then emits the
// results event. The session's resultsSent flag makes this at most once:
// the completion banner and a clean exit both funnel here, whichever lands
// first wins.
func (m *Manager) finalizeSuccess(sess *Session, exitCode *int) {
	if sess.Phase().Terminal() {
		return
	}

	items, err := results.Load(sess.artifactPath)
	if err != nil {
		m.failSession(sess, err.Error(), exitCode)
		return
	}

	if !sess.markComplete(items, exitCode) {
		return
	}

	m.publish(sess, events.PipelineResults, map[string]interface{}{
		"items": items,
	})
	m.logger.WithSessionID(sess.id).Info("session completed",
		zap.Int("result_count", len(items)))
}

// failSession moves the session to the error phase and reports the reason
// once.
func (m *Manager) failSession(sess *Session, reason string, exitCode *int) {
	if !sess.markError(reason, exitCode) {
		return
	}

	data := map[string]interface{}{"error": reason}
	if exitCode != nil {
		data["exit_code"] = *exitCode
	}
	m.publish(sess, events.PipelineError, data)
	m.logger.WithSessionID(sess.id).Warn("session failed", zap.String("reason", reason))
}

// publish appends the event to the transcript, then puts it on the bus.
// Transcript first: a subscriber that replays history and then receives
// live events can drop duplicates by sequence, never miss one.
func (m *Manager) publish(sess *Session, eventType string, data map[string]interface{}) {
	data["session_id"] = sess.id

	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	entry := &v1.TranscriptEntry{
		SessionID: sess.id,
		EventType: eventType,
		Payload:   payload,
	}
	ctx := context.Background()
	appendErr := m.store.Append(ctx, entry)
	if appendErr != nil {
		m.logger.WithSessionID(sess.id).WithError(appendErr).Error("failed to append transcript entry")
	}
	data["sequence"] = sess.sequenceFor(entry.ID, appendErr == nil)

	event := bus.NewEvent(eventType, eventSource, data)
	if err := m.bus.Publish(ctx, events.SubjectForSession(sess.id), event); err != nil {
		m.logger.WithSessionID(sess.id).WithError(err).Error("failed to publish event")
	}
}

func (m *Manager) get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

func (m *Manager) activeCountLocked() int {
	count := 0
	for _, sess := range m.sessions {
		if !sess.Phase().Terminal() {
			count++
		}
	}
	return count
}

// reapIdleSessions stops sessions without client activity past the idle
// timeout and unregisters terminal sessions once their retention window
// (the same timeout) has passed, reclaiming their working directories.
func (m *Manager) reapIdleSessions() {
	defer close(m.reaperDone)

	interval := m.sessionCfg.IdleTimeoutDuration() / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.reaperStop:
			return
		case <-ticker.C:
			m.reapOnce()
		}
	}
}

func (m *Manager) reapOnce() {
	cutoff := time.Now().UTC().Add(-m.sessionCfg.IdleTimeoutDuration())

	m.mu.RLock()
	stale := make([]*Session, 0)
	for _, sess := range m.sessions {
		if sess.idleSince().Before(cutoff) {
			stale = append(stale, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range stale {
		log := m.logger.WithSessionID(sess.id)

		if !sess.Phase().Terminal() {
			log.Info("stopping idle session")
			ctx, cancel := context.WithTimeout(context.Background(), 2*m.engineCfg.TerminateGraceDuration())
			if err := sess.proc.Terminate(ctx); err != nil {
				log.WithError(err).Warn("engine terminate did not complete")
			}
			cancel()
			if sess.markError("session idle timeout", nil) {
				m.publish(sess, events.PipelineError, map[string]interface{}{
					"error": "session idle timeout",
				})
			}
			// Keep the terminal event cached for one more window.
			sess.touch()
			continue
		}

		log.Info("removing expired session")
		m.mu.Lock()
		delete(m.sessions, sess.id)
		m.mu.Unlock()
		if err := m.store.Clear(context.Background(), sess.id); err != nil {
			log.WithError(err).Warn("failed to clear transcript")
		}
		if sess.workDir != "" {
			_ = os.RemoveAll(sess.workDir)
		}
	}
}
