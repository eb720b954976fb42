// Package sim advances multi-agent simulations tick by tick. The Engine
// owns the semantics of a single tick; the Controller wraps it with
// lifecycle checks, guardrails and per-session locking; the Runner drives
// auto-mode sessions on a timer.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vibeforge/vibeforge/pkg/bus"
	"github.com/vibeforge/vibeforge/pkg/events"
	"github.com/vibeforge/vibeforge/pkg/llm"
	"github.com/vibeforge/vibeforge/pkg/models"
	"github.com/vibeforge/vibeforge/pkg/remote"
)

const previewLen = 100

// Dispatcher is the remote-agent surface the engine needs. *remote.Manager
// satisfies it; tests substitute fakes.
type Dispatcher interface {
	Connected(agentID string) bool
	Dispatch(agentID, messageID, content string, taskCtx map[string]any, sessionID string, progress remote.ProgressFunc) (*remote.PendingDispatch, error)
	DrainResponses(sessionID string) []remote.DispatchOutcome
	SweepStale(olderThan time.Duration) int
}

// TickResult summarizes one completed tick.
type TickResult struct {
	SessionID          string            `json:"session_id"`
	OldTickIndex       int               `json:"old_tick_index"`
	NewTickIndex       int               `json:"new_tick_index"`
	DeliveredMessageID string            `json:"delivered_message_id,omitempty"`
	MessagesDelivered  int               `json:"messages_delivered"`
	MessagesSent       int               `json:"messages_sent"`
	MessagesBlocked    int               `json:"messages_blocked"`
	TickStatus         models.TickStatus `json:"tick_status"`
	FinalAnswer        string            `json:"final_answer,omitempty"`
	Events             []models.Event    `json:"events"`
}

// Engine advances sessions one tick at a time. It is stateless across
// ticks; everything lives on the session. Not goroutine-safe per session,
// callers serialize through the Controller's locker.
type Engine struct {
	log             *events.Publisher
	remote          Dispatcher
	gen             *llm.Generator
	dispatchTimeout time.Duration
}

// NewEngine wires the tick engine. dispatchTimeout bounds how long a remote
// dispatch may stay pending before it is swept as timed out.
func NewEngine(log *events.Publisher, dispatcher Dispatcher, gen *llm.Generator, dispatchTimeout time.Duration) *Engine {
	if dispatchTimeout <= 0 {
		dispatchTimeout = 5 * time.Minute
	}
	return &Engine{log: log, remote: dispatcher, gen: gen, dispatchTimeout: dispatchTimeout}
}

// AdvanceTick runs one tick against the session: integrate remote results,
// deliver at most one queued message, trigger the recipient's response
// strategy, and settle delegation bookkeeping. The caller holds the session
// lock and has already checked tick status and guardrails.
func (e *Engine) AdvanceTick(ctx context.Context, s *models.Session) (*TickResult, error) {
	b := bus.New(s, e.log)
	acted := make(map[string]bool)
	var collected []models.Event
	record := func(ev *models.Event) {
		if ev != nil {
			collected = append(collected, *ev)
		}
	}
	drain := func() {
		collected = append(collected, b.DrainEvents()...)
	}

	oldTick := s.TickIndex
	newTick := oldTick + 1
	s.TickIndex = newTick
	now := time.Now().UTC()
	s.LastTickAt = &now

	delivered := 0

	// Remote results first, so a response that arrived between ticks is
	// visible to this tick's delegation bookkeeping.
	e.remote.SweepStale(e.dispatchTimeout)
	var integrated []*models.Message
	for _, o := range e.remote.DrainResponses(s.ID) {
		replyTo := ""
		if orig := findQueued(s, o.MessageID); orig != nil {
			replyTo = orig.From
		}
		if o.Result.Failed() {
			record(e.log.AgentError(ctx, s, o.AgentID, o.MessageID, o.Result.Error))
			if replyTo == "" {
				slog.Warn("remote error without originating message",
					"session_id", s.ID, "agent_id", o.AgentID, "message_id", o.MessageID)
				continue
			}
			text := fmt.Sprintf("ERROR: %s", o.Result.Error)
			content := models.MessageContent{Text: text, InResponseTo: o.MessageID}
			if ok, reply := b.Send(ctx, o.AgentID, replyTo, content, true); ok {
				b.Deliver(reply, newTick)
				delivered++
				integrated = append(integrated, reply)
				s.AppendHistory(o.AgentID, "assistant", text)
				s.AppendHistory(replyTo, "user", text)
			}
			drain()
		} else {
			if replyTo == "" {
				slog.Warn("remote response without originating message",
					"session_id", s.ID, "agent_id", o.AgentID, "message_id", o.MessageID)
				record(e.log.AgentResponse(ctx, s, o.AgentID, o.MessageID, preview(o.Result.Content)))
				continue
			}
			content := models.MessageContent{Text: o.Result.Content, InResponseTo: o.MessageID}
			if ok, reply := b.Send(ctx, o.AgentID, replyTo, content, true); ok {
				b.Deliver(reply, newTick)
				delivered++
				integrated = append(integrated, reply)
				s.AppendHistory(o.AgentID, "assistant", o.Result.Content)
				s.AppendHistory(replyTo, "user", o.Result.Content)
			}
			drain()
			record(e.log.AgentResponse(ctx, s, o.AgentID, o.MessageID, preview(o.Result.Content)))
		}
		acted[o.AgentID] = true
	}

	// Deliver at most one message whose sender has not acted this tick.
	chosen := b.NextDeliverable(acted)
	var priorHistory []models.HistoryEntry
	if chosen != nil {
		priorHistory = append(priorHistory, s.History[chosen.To]...)
		b.Deliver(chosen, newTick)
		delivered++
		acted[chosen.From] = true
		s.AppendHistory(chosen.To, "user", historyText(chosen.Content))
	}

	// Recipient's response strategy.
	if chosen != nil {
		recipient := s.Agent(chosen.To)
		handled := false

		if e.isDelegationTrigger(s, chosen, recipient) {
			e.fanOutDelegations(ctx, s, b, recipient.AgentID, chosen.Content.Text)
			drain()
			handled = true
		}

		if !handled && recipient != nil && recipient.AgentType == models.AgentTypeRemote && e.remote.Connected(recipient.AgentID) {
			taskCtx := map[string]any{
				"from_agent": chosen.From,
				"tick_index": newTick,
				"main_task":  s.MainTask,
			}
			if chosen.Content.Delegation {
				taskCtx["delegation"] = true
			}
			if _, err := e.remote.Dispatch(recipient.AgentID, chosen.ID, chosen.Content.Text, taskCtx, s.ID, nil); err != nil {
				slog.Warn("remote dispatch failed, falling back to local response",
					"session_id", s.ID, "agent_id", recipient.AgentID, "error", err)
			} else {
				record(e.log.TaskDispatched(ctx, s, recipient.AgentID, chosen.ID, preview(chosen.Content.Text)))
				handled = true
			}
		}

		if !handled && chosen.Content.ExpectResponse {
			e.respond(ctx, s, b, chosen, priorHistory, record)
			drain()
		}
	}

	// Delegation settlement. A reply counts when it reached an orchestrator
	// from an agent still owing a response, whether it was delivered from
	// the queue this tick or integrated from a remote result.
	settled := integrated
	if chosen != nil {
		settled = append(settled, chosen)
	}
	removedAny := false
	orchestratorID := ""
	for _, m := range settled {
		if len(s.ExpectedResponses) == 0 {
			break
		}
		recipient := s.Agent(m.To)
		if recipient == nil || recipient.Role != models.RoleOrchestrator {
			continue
		}
		if _, owing := s.ExpectedResponses[m.From]; owing {
			delete(s.ExpectedResponses, m.From)
			removedAny = true
			orchestratorID = recipient.AgentID
		}
	}
	if removedAny && len(s.ExpectedResponses) == 0 {
		e.finalAnswer(ctx, s, b, orchestratorID, record, &delivered)
		drain()
	}

	record(e.log.TickAdvanced(ctx, s, oldTick, newTick, delivered, b.SentCount(), b.BlockedCount()))

	res := &TickResult{
		SessionID:         s.ID,
		OldTickIndex:      oldTick,
		NewTickIndex:      newTick,
		MessagesDelivered: delivered,
		MessagesSent:      b.SentCount(),
		MessagesBlocked:   b.BlockedCount(),
		TickStatus:        s.TickStatus,
		FinalAnswer:       s.FinalAnswer,
		Events:            collected,
	}
	if chosen != nil {
		res.DeliveredMessageID = chosen.ID
	}
	return res, nil
}

// isDelegationTrigger reports whether delivering m should fan the task out:
// a user prompt expecting a response just reached an orchestrator with no
// delegation in flight and at least one agent to delegate to.
func (e *Engine) isDelegationTrigger(s *models.Session, m *models.Message, recipient *models.AgentRecord) bool {
	if recipient == nil || recipient.Role != models.RoleOrchestrator {
		return false
	}
	if m.From != models.UserAgentID || !m.Content.ExpectResponse {
		return false
	}
	if len(s.ExpectedResponses) > 0 {
		return false
	}
	for _, a := range s.Agents {
		if a.Role != models.RoleOrchestrator {
			return true
		}
	}
	return false
}

// fanOutDelegations sends the task to every non-orchestrator agent through
// graph validation and records who owes a response. Blocked sends simply
// never enter the expectation set.
func (e *Engine) fanOutDelegations(ctx context.Context, s *models.Session, b *bus.Bus, orchestratorID, task string) {
	expected := make(map[string]struct{})
	for _, a := range s.Agents {
		if a.Role == models.RoleOrchestrator {
			continue
		}
		content := models.MessageContent{Text: task, ExpectResponse: true, Delegation: true}
		if ok, _ := b.Send(ctx, orchestratorID, a.AgentID, content, false); ok {
			expected[a.AgentID] = struct{}{}
		}
	}
	s.ExpectedResponses = expected
}

// respond generates the recipient's reply to the chosen message and
// enqueues it for delivery on a later tick. Real-LLM sessions call the
// generator and fall back to the stub on failure; everything else goes
// straight to the stub.
func (e *Engine) respond(ctx context.Context, s *models.Session, b *bus.Bus, chosen *models.Message, history []models.HistoryEntry, record func(*models.Event)) {
	recipientID := chosen.To
	var text string

	if s.UseRealLLM && e.gen != nil {
		reply, usage, err := e.gen.Respond(ctx, s, recipientID, history, chosen.Content)
		if err != nil {
			record(e.log.LLMFailure(ctx, s, recipientID, err.Error()))
		} else {
			text = reply
			e.trackCost(ctx, s, recipientID, usage, record)
		}
	}

	payload := models.MessageContent{Text: text, InResponseTo: chosen.ID}
	if text == "" {
		trigger := chosen.Content.Map()
		payload.Text = llm.StubText(recipientID, chosen.From, s.TickIndex, trigger)
		payload.IsStub = true
		payload.StubHash = llm.ContentHash(trigger)
	}

	if ok, _ := b.Send(ctx, recipientID, chosen.From, payload, true); ok {
		s.AppendHistory(recipientID, "assistant", payload.Text)
	}
}

// finalAnswer synthesizes the orchestrator's answer to the originating user
// once every delegated response is in, delivers it immediately and
// completes the simulation.
func (e *Engine) finalAnswer(ctx context.Context, s *models.Session, b *bus.Bus, orchestratorID string, record func(*models.Event), delivered *int) {
	trigger := models.MessageContent{
		Text: fmt.Sprintf("All delegated responses received. Produce the final answer for: %s", s.MainTask),
	}
	var text string

	if s.UseRealLLM && e.gen != nil {
		history := append([]models.HistoryEntry(nil), s.History[orchestratorID]...)
		reply, usage, err := e.gen.Respond(ctx, s, orchestratorID, history, trigger)
		if err != nil {
			record(e.log.LLMFailure(ctx, s, orchestratorID, err.Error()))
		} else {
			text = reply
			e.trackCost(ctx, s, orchestratorID, usage, record)
		}
	}

	payload := models.MessageContent{FinalAnswer: true}
	if text == "" {
		m := trigger.Map()
		payload.Text = llm.StubText(orchestratorID, models.UserAgentID, s.TickIndex, m)
		payload.IsStub = true
		payload.StubHash = llm.ContentHash(m)
	} else {
		payload.Text = text
	}

	if ok, reply := b.Send(ctx, orchestratorID, models.UserAgentID, payload, true); ok {
		b.Deliver(reply, s.TickIndex)
		*delivered++
	}
	s.AppendHistory(orchestratorID, "assistant", payload.Text)
	s.FinalAnswer = payload.Text
	s.TickStatus = models.TickStatusCompleted
}

// trackCost accrues the cost of one generator call against the session.
// Dry-run clients report estimated usage but never move cost_usd.
func (e *Engine) trackCost(ctx context.Context, s *models.Session, agentID string, usage llm.Usage, record func(*models.Event)) {
	model := e.gen.ModelFor(s, agentID)
	cost := e.gen.Pricing().Cost(model, usage)
	dryRun := e.gen.ClientName() == llm.DryRunClientName
	if !dryRun {
		s.CostUSD += cost
	}
	record(e.log.CostTracking(ctx, s, agentID, model, usage.PromptTokens, usage.CompletionTokens, cost, dryRun))
}

func findQueued(s *models.Session, messageID string) *models.Message {
	for _, m := range s.Queue {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

// historyText is what lands in the recipient's conversation history for a
// delivered message. Plain text when present, the rendered content map
// otherwise.
func historyText(c models.MessageContent) string {
	if c.Text != "" {
		return c.Text
	}
	return llm.RenderContent(c)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen])
}
