package ws

// Session actions requested by clients
const (
	ActionSessionStart       = "session.start"
	ActionSessionSend        = "session.send"
	ActionSessionSubscribe   = "session.subscribe"
	ActionSessionUnsubscribe = "session.unsubscribe"
	ActionSessionStatus      = "session.status"
	ActionSessionStop        = "session.stop"
)

// Notification actions pushed to subscribed clients. They mirror the
// pipeline event types published on the internal bus.
const (
	ActionPipelineGreeting  = "pipeline.greeting"
	ActionPipelineNarration = "pipeline.narration"
	ActionPipelinePhase     = "pipeline.phase"
	ActionPipelineResults   = "pipeline.results"
	ActionPipelineError     = "pipeline.error"
)

// Error codes returned in error payloads
const (
	ErrCodeInvalidMessage  = "INVALID_MESSAGE"
	ErrCodeInvalidPayload  = "INVALID_PAYLOAD"
	ErrCodeUnknownAction   = "UNKNOWN_ACTION"
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)
