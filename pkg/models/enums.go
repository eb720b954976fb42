package models

// Phase identifies where a session is in its lifecycle. Transitions between
// phases are governed by the phase package.
type Phase string

const (
	PhaseQuestionnaire Phase = "QUESTIONNAIRE"
	PhaseBuildSpec     Phase = "BUILD_SPEC"
	PhaseIdea          Phase = "IDEA"
	PhasePlanReview    Phase = "PLAN_REVIEW"
	PhaseExecution     Phase = "EXECUTION"
	PhaseClarification Phase = "CLARIFICATION"
	PhaseVerification  Phase = "VERIFICATION"
	PhaseComplete      Phase = "COMPLETE"
	PhaseFailed        Phase = "FAILED"
)

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// TickStatus tracks the simulation run state within a session.
type TickStatus string

const (
	TickStatusIdle      TickStatus = "idle"
	TickStatusRunning   TickStatus = "running"
	TickStatusPaused    TickStatus = "paused"
	TickStatusCompleted TickStatus = "completed"
)

// AgentRole is the behavioral role assigned to a roster agent.
type AgentRole string

const (
	RoleOrchestrator AgentRole = "orchestrator"
	RoleForeman      AgentRole = "foreman"
	RoleWorker       AgentRole = "worker"
	RoleReviewer     AgentRole = "reviewer"
	RoleFixer        AgentRole = "fixer"
)

// ValidRole reports whether r is one of the known agent roles.
func ValidRole(r AgentRole) bool {
	switch r {
	case RoleOrchestrator, RoleForeman, RoleWorker, RoleReviewer, RoleFixer:
		return true
	}
	return false
}

// AgentType distinguishes in-process simulated agents from agents connected
// over the remote duplex channel.
type AgentType string

const (
	AgentTypeLocal  AgentType = "local"
	AgentTypeRemote AgentType = "remote"
)

// SimulationMode selects manual (API-driven) or automatic tick advancement.
type SimulationMode string

const (
	SimulationModeManual SimulationMode = "manual"
	SimulationModeAuto   SimulationMode = "auto"
)

// UserAgentID is the reserved sender id for user-originated messages (the
// initial prompt) and the recipient of the orchestrator's final answer. It is
// never a roster member.
const UserAgentID = "user"
