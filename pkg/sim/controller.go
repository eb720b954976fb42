package sim

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vibeforge/vibeforge/pkg/bus"
	"github.com/vibeforge/vibeforge/pkg/events"
	"github.com/vibeforge/vibeforge/pkg/models"
	"github.com/vibeforge/vibeforge/pkg/session"
)

// maxBatchTicks bounds one advance-ticks request.
const maxBatchTicks = 1000

// SimulationConfig carries the tunable simulation settings. Nil fields are
// left unchanged, so a request may update a single knob.
type SimulationConfig struct {
	Mode            *models.SimulationMode `json:"mode,omitempty"`
	AutoDelayMS     *int                   `json:"auto_delay_ms,omitempty"`
	TickBudget      *int                   `json:"tick_budget,omitempty"`
	UseRealLLM      *bool                  `json:"use_real_llm,omitempty"`
	DefaultModel    *string                `json:"default_model,omitempty"`
	MaxHistoryDepth *int                   `json:"max_history_depth,omitempty"`
	MaxCostUSD      *float64               `json:"max_cost_usd,omitempty"`
	TickRateLimitMS *int                   `json:"tick_rate_limit_ms,omitempty"`
}

// SimulationState is the read-only projection returned by State.
type SimulationState struct {
	SessionID         string                `json:"session_id"`
	Phase             models.Phase          `json:"phase"`
	TickIndex         int                   `json:"tick_index"`
	TickStatus        models.TickStatus     `json:"tick_status"`
	Mode              models.SimulationMode `json:"mode"`
	AutoDelayMS       int                   `json:"auto_delay_ms"`
	TickBudget        int                   `json:"tick_budget"`
	UseRealLLM        bool                  `json:"use_real_llm"`
	DefaultModel      string                `json:"default_model"`
	CostUSD           float64               `json:"cost_usd"`
	MaxCostUSD        float64               `json:"max_cost_usd"`
	TickRateLimitMS   int                   `json:"tick_rate_limit_ms"`
	MainTask          string                `json:"main_task"`
	InitialPrompt     string                `json:"initial_prompt"`
	FirstAgentID      string                `json:"first_agent_id"`
	FinalAnswer       string                `json:"final_answer,omitempty"`
	Agents            []models.AgentRecord  `json:"agents"`
	Graph             []models.GraphEdge    `json:"graph"`
	QueueLength       int                   `json:"queue_length"`
	ExpectedResponses []string              `json:"expected_responses"`
	LastTickAt        *time.Time            `json:"last_tick_at,omitempty"`
}

// Controller is the stateless facade over per-session simulation state.
// Every operation resolves the session, takes its lock and applies the
// lifecycle rules before touching the engine.
type Controller struct {
	sessions   *session.Store
	locker     *session.Locker
	engine     *Engine
	log        *events.Publisher
	events     *events.Store
	dispatcher Dispatcher
	runner     *Runner
}

// NewController wires the controller. The runner is attached afterwards via
// SetRunner because it needs the controller to advance ticks.
func NewController(sessions *session.Store, locker *session.Locker, engine *Engine, log *events.Publisher, store *events.Store, dispatcher Dispatcher) *Controller {
	return &Controller{
		sessions:   sessions,
		locker:     locker,
		engine:     engine,
		log:        log,
		events:     store,
		dispatcher: dispatcher,
	}
}

// SetRunner attaches the auto-mode runner.
func (c *Controller) SetRunner(r *Runner) {
	c.runner = r
}

// Configure applies the supplied settings. Rejected in a terminal phase or
// while the simulation is running. Validation happens before any field is
// touched, so a rejected request changes nothing.
func (c *Controller) Configure(ctx context.Context, sessionID string, cfg SimulationConfig) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase.Terminal() {
		return nil, models.NewValidationError("phase", "cannot configure simulation in terminal phase %s", s.Phase)
	}
	if s.TickStatus == models.TickStatusRunning {
		return nil, models.NewValidationError("tick_status", "cannot configure while the simulation is running")
	}
	if cfg.Mode != nil && *cfg.Mode != models.SimulationModeManual && *cfg.Mode != models.SimulationModeAuto {
		return nil, models.NewValidationError("mode", "unknown simulation mode %q", *cfg.Mode)
	}
	if cfg.AutoDelayMS != nil && *cfg.AutoDelayMS < 0 {
		return nil, models.NewValidationError("auto_delay_ms", "must not be negative")
	}
	if cfg.TickBudget != nil && *cfg.TickBudget < 0 {
		return nil, models.NewValidationError("tick_budget", "must not be negative")
	}
	if cfg.MaxHistoryDepth != nil && *cfg.MaxHistoryDepth < 0 {
		return nil, models.NewValidationError("max_history_depth", "must not be negative")
	}
	if cfg.MaxCostUSD != nil && *cfg.MaxCostUSD < 0 {
		return nil, models.NewValidationError("max_cost_usd", "must not be negative")
	}
	if cfg.TickRateLimitMS != nil && *cfg.TickRateLimitMS < 0 {
		return nil, models.NewValidationError("tick_rate_limit_ms", "must not be negative")
	}

	if cfg.Mode != nil {
		s.SimulationMode = *cfg.Mode
	}
	if cfg.AutoDelayMS != nil {
		s.AutoDelayMS = *cfg.AutoDelayMS
	}
	if cfg.TickBudget != nil {
		s.TickBudget = *cfg.TickBudget
	}
	if cfg.UseRealLLM != nil {
		s.UseRealLLM = *cfg.UseRealLLM
	}
	if cfg.DefaultModel != nil {
		s.DefaultModel = *cfg.DefaultModel
	}
	if cfg.MaxHistoryDepth != nil {
		s.MaxHistoryDepth = *cfg.MaxHistoryDepth
	}
	if cfg.MaxCostUSD != nil {
		s.MaxCostUSD = *cfg.MaxCostUSD
	}
	if cfg.TickRateLimitMS != nil {
		s.TickRateLimitMS = *cfg.TickRateLimitMS
	}

	c.log.SimulationConfigured(ctx, s)
	return s, nil
}

// Start arms the simulation: validates the workflow is complete, records
// the initial prompt and first recipient, and moves tick status to running.
// Auto-mode sessions begin ticking immediately.
func (c *Controller) Start(ctx context.Context, sessionID, initialPrompt, firstAgentID string) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase.Terminal() {
		return nil, models.NewValidationError("phase", "cannot start simulation in terminal phase %s", s.Phase)
	}
	if s.TickStatus == models.TickStatusRunning {
		return nil, models.NewValidationError("tick_status", "simulation is already running")
	}
	if len(s.Agents) == 0 {
		return nil, models.NewValidationError("agents", "agent roster is empty")
	}
	for _, a := range s.Agents {
		if !models.ValidRole(a.Role) {
			return nil, models.NewValidationError("agents", "agent %s has no valid role", a.AgentID)
		}
	}
	if len(s.Graph) == 0 {
		return nil, models.NewValidationError("graph", "communication graph is empty")
	}
	if strings.TrimSpace(s.MainTask) == "" {
		return nil, models.NewValidationError("main_task", "main task is not set")
	}
	if strings.TrimSpace(initialPrompt) == "" {
		return nil, models.NewValidationError("initial_prompt", "initial prompt must not be empty")
	}
	if firstAgentID == "" {
		return nil, models.NewValidationError("first_agent_id", "first agent id must not be empty")
	}
	if !s.HasAgent(firstAgentID) {
		return nil, models.NewValidationError("first_agent_id", "agent %s not in roster", firstAgentID)
	}

	s.InitialPrompt = initialPrompt
	s.FirstAgentID = firstAgentID
	s.TickIndex = 0
	s.TickStatus = models.TickStatusRunning
	s.ExpectedResponses = make(map[string]struct{})
	s.FinalAnswer = ""

	c.log.SimulationStarted(ctx, s)

	if s.SimulationMode == models.SimulationModeAuto && c.runner != nil {
		c.runner.Start(s.ID, time.Duration(s.AutoDelayMS)*time.Millisecond)
	}
	return s, nil
}

// AdvanceTick advances the session by one tick.
func (c *Controller) AdvanceTick(ctx context.Context, sessionID string) (*TickResult, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()
	return c.advanceLocked(ctx, s)
}

// AdvanceTicks advances up to n ticks under one lock acquisition. The batch
// ends early when the simulation completes; a guardrail or validation error
// mid-batch returns the results produced so far along with the error.
func (c *Controller) AdvanceTicks(ctx context.Context, sessionID string, n int) ([]*TickResult, error) {
	if n <= 0 {
		return nil, models.NewValidationError("count", "tick count must be positive")
	}
	if n > maxBatchTicks {
		return nil, models.NewValidationError("count", "tick count must not exceed %d", maxBatchTicks)
	}
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	out := make([]*TickResult, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && s.TickStatus != models.TickStatusRunning {
			break
		}
		res, err := c.advanceLocked(ctx, s)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (c *Controller) advanceLocked(ctx context.Context, s *models.Session) (*TickResult, error) {
	if s.TickStatus != models.TickStatusRunning {
		return nil, models.NewValidationError("tick_status", "simulation is not running")
	}
	if err := checkGuardrails(s); err != nil {
		return nil, err
	}

	// Seed the queue with the initial prompt on the very first tick.
	var seeded []models.Event
	if s.TickIndex == 0 && len(s.Queue) == 0 && s.InitialPrompt != "" && s.FirstAgentID != "" {
		b := bus.New(s, c.log)
		content := models.MessageContent{Text: s.InitialPrompt, ExpectResponse: true}
		b.Send(ctx, models.UserAgentID, s.FirstAgentID, content, true)
		seeded = b.DrainEvents()
	}

	res, err := c.engine.AdvanceTick(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(seeded) > 0 {
		res.Events = append(seeded, res.Events...)
	}
	return res, nil
}

// checkGuardrails enforces the cost cap and the real-LLM tick rate limit
// before any tick state changes. A zero cap or zero interval disables the
// corresponding check.
func checkGuardrails(s *models.Session) error {
	if s.MaxCostUSD > 0 && s.CostUSD >= s.MaxCostUSD {
		return errCostBudget()
	}
	if s.UseRealLLM && s.TickRateLimitMS > 0 && s.LastTickAt != nil {
		interval := time.Duration(s.TickRateLimitMS) * time.Millisecond
		if time.Since(*s.LastTickAt) < interval {
			return errRateLimit()
		}
	}
	return nil
}

// Pause suspends a running simulation. The reason lands in the event log;
// auto-run uses it to surface why ticking stopped.
func (c *Controller) Pause(ctx context.Context, sessionID, reason string) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.TickStatus != models.TickStatusRunning {
		return nil, models.NewValidationError("tick_status", "simulation is not running")
	}
	s.TickStatus = models.TickStatusPaused
	c.log.SimulationPaused(ctx, s, reason)
	if c.runner != nil {
		c.runner.Stop(sessionID)
	}
	return s, nil
}

// Stop ends a running or paused simulation.
func (c *Controller) Stop(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.TickStatus != models.TickStatusRunning && s.TickStatus != models.TickStatusPaused {
		return nil, models.NewValidationError("tick_status", "simulation is not running or paused")
	}
	s.TickStatus = models.TickStatusCompleted
	c.log.SimulationStopped(ctx, s)
	if c.runner != nil {
		c.runner.Stop(sessionID)
	}
	return s, nil
}

// Reset returns the session to a pristine simulation state: tick counters,
// queue, histories, cost and the event log are all cleared. With
// preserveWorkflow false the roster, graph and main task go too.
func (c *Controller) Reset(ctx context.Context, sessionID string, preserveWorkflow bool) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase.Terminal() {
		return nil, models.NewValidationError("phase", "cannot reset simulation in terminal phase %s", s.Phase)
	}
	if c.runner != nil {
		c.runner.Stop(sessionID)
	}

	s.TickIndex = 0
	s.TickStatus = models.TickStatusIdle
	s.LastTickAt = nil
	s.Queue = nil
	s.MessageCounter = 0
	s.History = make(map[string][]models.HistoryEntry)
	s.ExpectedResponses = make(map[string]struct{})
	s.FinalAnswer = ""
	s.CostUSD = 0

	if !preserveWorkflow {
		s.Agents = nil
		s.Graph = nil
		s.MainTask = ""
		s.InitialPrompt = ""
		s.FirstAgentID = ""
	}

	// Stale remote outcomes from the previous run must not leak into the
	// fresh one.
	if c.dispatcher != nil {
		c.dispatcher.DrainResponses(s.ID)
	}
	if err := c.events.Truncate(s.ID); err != nil {
		slog.Warn("event log truncate failed", "session_id", s.ID, "error", err)
	}
	c.log.SimulationReset(ctx, s, preserveWorkflow)
	return s, nil
}

// State returns a consistent snapshot of the session's simulation state.
func (c *Controller) State(_ context.Context, sessionID string) (*SimulationState, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	st := &SimulationState{
		SessionID:         s.ID,
		Phase:             s.Phase,
		TickIndex:         s.TickIndex,
		TickStatus:        s.TickStatus,
		Mode:              s.SimulationMode,
		AutoDelayMS:       s.AutoDelayMS,
		TickBudget:        s.TickBudget,
		UseRealLLM:        s.UseRealLLM,
		DefaultModel:      s.DefaultModel,
		CostUSD:           s.CostUSD,
		MaxCostUSD:        s.MaxCostUSD,
		TickRateLimitMS:   s.TickRateLimitMS,
		MainTask:          s.MainTask,
		InitialPrompt:     s.InitialPrompt,
		FirstAgentID:      s.FirstAgentID,
		FinalAnswer:       s.FinalAnswer,
		Agents:            append([]models.AgentRecord(nil), s.Agents...),
		Graph:             append([]models.GraphEdge(nil), s.Graph...),
		QueueLength:       len(s.Queue),
		ExpectedResponses: s.ExpectedResponseIDs(),
	}
	if s.LastTickAt != nil {
		t := *s.LastTickAt
		st.LastTickAt = &t
	}
	return st, nil
}
