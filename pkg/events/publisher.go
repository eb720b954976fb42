package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vibeforge/vibeforge/pkg/metrics"
	"github.com/vibeforge/vibeforge/pkg/models"
)

// Broadcaster pushes a serialized event to live observers of a session.
// Implemented by the observer hub; nil is accepted and means no observers.
type Broadcaster interface {
	Broadcast(sessionID string, payload []byte)
}

// Publisher is the single write path for the event log. Each public method
// builds one typed event, appends it to the store, mirrors counters to the
// metrics registry and broadcasts the serialized event to the observer hub.
//
// Append failures are logged and swallowed: the log is an observability
// surface and must never fail the operation that produced the event. The
// built event is returned either way so callers can collect it into tick
// results.
type Publisher struct {
	store   *Store
	hub     Broadcaster
	metrics *metrics.Metrics
}

// NewPublisher creates a Publisher writing through store. hub may be nil.
func NewPublisher(store *Store, hub Broadcaster, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.Default()
	}
	return &Publisher{store: store, hub: hub, metrics: m}
}

// --- Session lifecycle ---

// WorkspaceInitialized records the creation of a session's workspace.
func (p *Publisher) WorkspaceInitialized(ctx context.Context, s *models.Session, path string) *models.Event {
	e := models.NewEvent(EventTypeWorkspaceInitialized, s.ID, fmt.Sprintf("Workspace initialized at %s", path)).
		WithPhase(s.Phase).
		WithMeta("path", path)
	return p.Emit(ctx, e)
}

// PhaseTransition records a phase change. The event is stamped with the new
// phase.
func (p *Publisher) PhaseTransition(ctx context.Context, s *models.Session, from, to models.Phase) *models.Event {
	e := models.NewEvent(EventTypePhaseTransition, s.ID, fmt.Sprintf("Phase transition: %s -> %s", from, to)).
		WithPhase(to).
		WithMeta("from_phase", string(from)).
		WithMeta("to_phase", string(to))
	return p.Emit(ctx, e)
}

// SessionFailed records a forced failure with its reason.
func (p *Publisher) SessionFailed(ctx context.Context, s *models.Session, reason string) *models.Event {
	e := models.NewEvent(EventTypeSessionFailed, s.ID, fmt.Sprintf("Session failed: %s", reason)).
		WithPhase(s.Phase).
		WithMeta("reason", reason)
	return p.Emit(ctx, e)
}

// --- Pre-simulation pipeline ---

// QuestionnaireSubmitted records an accepted questionnaire submission.
func (p *Publisher) QuestionnaireSubmitted(ctx context.Context, s *models.Session, answers int) *models.Event {
	e := models.NewEvent(EventTypeQuestionnaireSubmitted, s.ID, fmt.Sprintf("Questionnaire submitted with %d answers", answers)).
		WithPhase(s.Phase).
		WithMeta("answer_count", answers)
	return p.Emit(ctx, e)
}

// BuildSpecGenerated records a generated build spec artifact.
func (p *Publisher) BuildSpecGenerated(ctx context.Context, s *models.Session, artifact, model string) *models.Event {
	return p.artifactGenerated(ctx, s, EventTypeBuildSpecGenerated, "Build spec generated", artifact, model)
}

// IdeaGenerated records a generated concept artifact.
func (p *Publisher) IdeaGenerated(ctx context.Context, s *models.Session, artifact, model string) *models.Event {
	return p.artifactGenerated(ctx, s, EventTypeIdeaGenerated, "Concept generated", artifact, model)
}

// PlanGenerated records a generated task graph artifact.
func (p *Publisher) PlanGenerated(ctx context.Context, s *models.Session, artifact, model string) *models.Event {
	return p.artifactGenerated(ctx, s, EventTypePlanGenerated, "Plan generated", artifact, model)
}

func (p *Publisher) artifactGenerated(ctx context.Context, s *models.Session, eventType, message, artifact, model string) *models.Event {
	e := models.NewEvent(eventType, s.ID, fmt.Sprintf("%s (%s)", message, artifact)).
		WithPhase(s.Phase).
		WithMeta("artifact", artifact)
	if model != "" {
		e.WithMeta("model", model)
	}
	return p.Emit(ctx, e)
}

// PlanReviewed records the outcome of a plan review.
func (p *Publisher) PlanReviewed(ctx context.Context, s *models.Session, accepted bool) *models.Event {
	verdict := "rejected"
	if accepted {
		verdict = "accepted"
	}
	e := models.NewEvent(EventTypePlanReviewed, s.ID, fmt.Sprintf("Plan %s", verdict)).
		WithPhase(s.Phase).
		WithMeta("accepted", accepted)
	return p.Emit(ctx, e)
}

// TaskExecuted records one planned task handed to the orchestrator.
func (p *Publisher) TaskExecuted(ctx context.Context, s *models.Session, taskIndex int, description string) *models.Event {
	e := models.NewEvent(EventTypeTaskExecuted, s.ID, fmt.Sprintf("Executing planned task %d", taskIndex)).
		WithPhase(s.Phase).
		WithMeta("task_index", taskIndex).
		WithMeta("description", description)
	return p.Emit(ctx, e)
}

// --- Simulation control ---

// SimulationConfigured records the applied simulation configuration.
func (p *Publisher) SimulationConfigured(ctx context.Context, s *models.Session) *models.Event {
	e := models.NewEvent(EventTypeSimulationConfigured, s.ID, "Simulation configured").
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex).
		WithMeta("mode", string(s.SimulationMode)).
		WithMeta("tick_budget", s.TickBudget).
		WithMeta("auto_delay_ms", s.AutoDelayMS).
		WithMeta("use_real_llm", s.UseRealLLM).
		WithMeta("max_cost_usd", s.MaxCostUSD).
		WithMeta("tick_rate_limit_ms", s.TickRateLimitMS)
	return p.Emit(ctx, e)
}

// SimulationStarted records a simulation start.
func (p *Publisher) SimulationStarted(ctx context.Context, s *models.Session) *models.Event {
	e := models.NewEvent(EventTypeSimulationStarted, s.ID, fmt.Sprintf("Simulation started with first agent %s", s.FirstAgentID)).
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex).
		WithMeta("mode", string(s.SimulationMode)).
		WithMeta("first_agent_id", s.FirstAgentID)
	return p.Emit(ctx, e)
}

// SimulationReset records a reset and whether the workflow survived it.
func (p *Publisher) SimulationReset(ctx context.Context, s *models.Session, preserveWorkflow bool) *models.Event {
	e := models.NewEvent(EventTypeSimulationReset, s.ID, "Simulation reset").
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex).
		WithMeta("preserve_workflow", preserveWorkflow)
	return p.Emit(ctx, e)
}

// SimulationPaused records a pause with its trigger.
func (p *Publisher) SimulationPaused(ctx context.Context, s *models.Session, reason string) *models.Event {
	e := models.NewEvent(EventTypeSimulationPaused, s.ID, fmt.Sprintf("Simulation paused: %s", reason)).
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex).
		WithMeta("reason", reason)
	return p.Emit(ctx, e)
}

// SimulationStopped records a stop.
func (p *Publisher) SimulationStopped(ctx context.Context, s *models.Session) *models.Event {
	e := models.NewEvent(EventTypeSimulationStopped, s.ID, "Simulation stopped").
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex)
	return p.Emit(ctx, e)
}

// --- Tick engine ---

// TickAdvanced records one completed tick with its delivery counters.
func (p *Publisher) TickAdvanced(ctx context.Context, s *models.Session, oldTick, newTick, delivered, sent, blocked int) *models.Event {
	e := models.NewEvent(EventTypeTickAdvanced, s.ID, fmt.Sprintf("Tick advanced: %d -> %d", oldTick, newTick)).
		WithPhase(s.Phase).
		WithMeta("tick_index", newTick).
		WithMeta("old_tick_index", oldTick).
		WithMeta("new_tick_index", newTick).
		WithMeta("messages_delivered", delivered).
		WithMeta("messages_sent", sent).
		WithMeta("messages_blocked", blocked)
	p.metrics.TicksTotal.Inc()
	p.metrics.MessagesDelivered.Add(float64(delivered))
	return p.Emit(ctx, e)
}

// MessageSent records a message accepted onto the queue.
func (p *Publisher) MessageSent(ctx context.Context, s *models.Session, m *models.Message, bypass bool) *models.Event {
	e := models.NewEvent(EventTypeMessageSent, s.ID, fmt.Sprintf("Message sent: %s -> %s", m.From, m.To)).
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex).
		WithMeta("message_id", m.ID).
		WithMeta("from_agent", m.From).
		WithMeta("to_agent", m.To).
		WithMeta("content", m.Content.Map())
	if bypass {
		e.WithMeta("bypass_validation", true)
	}
	return p.Emit(ctx, e)
}

// MessageBlocked records a send rejected by the communication graph.
func (p *Publisher) MessageBlocked(ctx context.Context, s *models.Session, from, to, reason string) *models.Event {
	e := models.NewEvent(EventTypeMessageBlocked, s.ID, fmt.Sprintf("Message blocked: %s -> %s", from, to)).
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex).
		WithMeta("from", from).
		WithMeta("to", to).
		WithMeta("reason", reason)
	p.metrics.MessagesBlocked.Inc()
	return p.Emit(ctx, e)
}

// TaskDispatched records a message handed to a connected remote agent.
func (p *Publisher) TaskDispatched(ctx context.Context, s *models.Session, agentID, messageID, preview string) *models.Event {
	e := models.NewEvent(EventTypeTaskDispatched, s.ID, fmt.Sprintf("Task dispatched to remote agent %s", agentID)).
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex).
		WithMeta("agent_id", agentID).
		WithMeta("message_id", messageID).
		WithMeta("content_preview", preview)
	return p.Emit(ctx, e)
}

// AgentResponse records a remote agent response integrated into the session.
func (p *Publisher) AgentResponse(ctx context.Context, s *models.Session, agentID, messageID, preview string) *models.Event {
	e := models.NewEvent(EventTypeAgentResponse, s.ID, fmt.Sprintf("Agent response from %s", agentID)).
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex).
		WithMeta("agent_id", agentID).
		WithMeta("message_id", messageID).
		WithMeta("content_preview", preview)
	return p.Emit(ctx, e)
}

// AgentError records a failed or timed-out remote dispatch.
func (p *Publisher) AgentError(ctx context.Context, s *models.Session, agentID, messageID, errText string) *models.Event {
	e := models.NewEvent(EventTypeAgentError, s.ID, fmt.Sprintf("Agent error from %s: %s", agentID, errText)).
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex).
		WithMeta("agent_id", agentID).
		WithMeta("message_id", messageID).
		WithMeta("error", errText)
	return p.Emit(ctx, e)
}

// LLMFailure records a provider error that triggered the stub fallback.
func (p *Publisher) LLMFailure(ctx context.Context, s *models.Session, agentID, errText string) *models.Event {
	e := models.NewEvent(EventTypeLLMFailure, s.ID, fmt.Sprintf("LLM failure for %s, falling back to stub", agentID)).
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex).
		WithMeta("agent_id", agentID).
		WithMeta("error", errText)
	return p.Emit(ctx, e)
}

// CostTracking records token usage and accrued cost for one LLM call.
// Dry-run calls keep the event trail but stay out of the spend metric.
func (p *Publisher) CostTracking(ctx context.Context, s *models.Session, agentID, model string, promptTokens, completionTokens int, costUSD float64, dryRun bool) *models.Event {
	e := models.NewEvent(EventTypeCostTracking, s.ID, fmt.Sprintf("LLM call for %s cost $%.6f", agentID, costUSD)).
		WithPhase(s.Phase).
		WithMeta("tick_index", s.TickIndex).
		WithMeta("agent_id", agentID).
		WithMeta("model", model).
		WithMeta("prompt_tokens", promptTokens).
		WithMeta("completion_tokens", completionTokens).
		WithMeta("cost_usd", costUSD)
	if dryRun {
		e = e.WithMeta("dry_run", true)
	} else {
		p.metrics.LLMCostUSD.Add(costUSD)
	}
	return p.Emit(ctx, e)
}

// Emit appends a prebuilt event, mirrors the appended-events counter and
// broadcasts to observers. Used directly for events outside the typed set,
// such as agent-session records written by the control plane.
func (p *Publisher) Emit(ctx context.Context, e *models.Event) *models.Event {
	if err := p.store.Append(ctx, e); err != nil {
		slog.Warn("Failed to append event",
			"event_type", e.EventType, "session_id", e.SessionID, "error", err)
	}
	p.metrics.EventsAppended.WithLabelValues(e.EventType).Inc()
	p.broadcast(e)
	return e
}

func (p *Publisher) broadcast(e *models.Event) {
	if p.hub == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Warn("Failed to marshal event for broadcast",
			"event_type", e.EventType, "session_id", e.SessionID, "error", err)
		return
	}
	p.hub.Broadcast(e.SessionID, payload)
}
