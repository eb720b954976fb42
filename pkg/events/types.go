// Package events owns the per-session append-only event journal and its two
// delivery paths: the events.jsonl file on disk (the sole persistent record
// of a session) and a live WebSocket stream for observing UIs.
package events

// Event types the simulation core emits. The journal holds one JSON-encoded
// models.Event per line; event_type is the primary filter key.
const (
	EventTypeWorkspaceInitialized = "workspace_initialized"
	EventTypePhaseTransition      = "phase_transition"
	EventTypeTickAdvanced         = "tick_advanced"
	EventTypeMessageSent          = "message_sent"
	EventTypeMessageBlocked       = "message_blocked_by_graph"
	EventTypeTaskDispatched       = "task_dispatched"
	EventTypeAgentResponse        = "agent_response"
	EventTypeAgentError           = "agent_error"
	EventTypeLLMFailure           = "llm_failure"
	EventTypeCostTracking         = "cost_tracking"
	EventTypeSimulationConfigured = "simulation_configured"
	EventTypeSimulationStarted    = "simulation_started"
	EventTypeSimulationReset      = "simulation_reset"
	EventTypeSimulationPaused     = "simulation_paused"
	EventTypeSimulationStopped    = "simulation_stopped"
	EventTypeSessionFailed        = "session_failed"
)

// Event types the pre-simulation pipeline emits.
const (
	EventTypeQuestionnaireSubmitted = "questionnaire_submitted"
	EventTypeBuildSpecGenerated     = "build_spec_generated"
	EventTypeIdeaGenerated          = "idea_generated"
	EventTypePlanGenerated          = "plan_generated"
	EventTypePlanReviewed           = "plan_reviewed"
	EventTypeTaskExecuted           = "task_executed"
)

// ClientMessage is the JSON structure for observer → server WebSocket
// messages on the event stream endpoint.
type ClientMessage struct {
	Type      string `json:"type"`                 // "subscribe", "unsubscribe", "catchup", "ping"
	SessionID string `json:"session_id,omitempty"` // required for all but "ping"
}
