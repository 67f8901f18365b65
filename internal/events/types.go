// Package events provides event types and utilities for the relay event system.
package events

// Event types for pipeline output relayed to clients.
const (
	PipelineGreeting  = "pipeline.greeting"
	PipelineNarration = "pipeline.narration"
	PipelinePhase     = "pipeline.phase"
	PipelineResults   = "pipeline.results"
	PipelineError     = "pipeline.error"
)

// SubjectPrefix is the root of all session event subjects.
const SubjectPrefix = "relay.session"

// SubjectAll matches events for every session.
const SubjectAll = SubjectPrefix + ".>"

// SubjectForSession returns the bus subject carrying events for one session.
func SubjectForSession(sessionID string) string {
	return SubjectPrefix + "." + sessionID
}
