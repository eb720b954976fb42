package models

import (
	"encoding/json"
	"sort"
	"time"
)

// Session is the aggregate root for one simulation. It lives in memory for
// the lifetime of the process; only its event log is persisted. All mutation
// happens under the per-session lock held by the simulation controller or
// the session coordinator.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Phase     Phase     `json:"phase"`

	// Roster and communication graph. Immutable while TickStatus is running.
	Agents []AgentRecord `json:"agents"`
	Graph  []GraphEdge   `json:"graph"`

	// Tick state.
	TickIndex  int        `json:"tick_index"`
	TickStatus TickStatus `json:"tick_status"`
	LastTickAt *time.Time `json:"last_tick_at,omitempty"`

	// Message queue, carried across ticks. Ordered by insertion.
	Queue []*Message `json:"-"`

	// Per-agent conversation history, FIFO-bounded by MaxHistoryDepth.
	History map[string][]HistoryEntry `json:"-"`

	// Delegation tracking.
	ExpectedResponses map[string]struct{} `json:"-"`
	FinalAnswer       string              `json:"final_answer,omitempty"`

	// Cost and rate guardrails.
	CostUSD         float64 `json:"cost_usd"`
	MaxCostUSD      float64 `json:"max_cost_usd"`
	TickRateLimitMS int     `json:"tick_rate_limit_ms"`

	// Simulation inputs.
	MainTask       string         `json:"main_task,omitempty"`
	InitialPrompt  string         `json:"initial_prompt,omitempty"`
	FirstAgentID   string         `json:"first_agent_id,omitempty"`
	SimulationMode SimulationMode `json:"simulation_mode"`
	AutoDelayMS    int            `json:"auto_delay_ms,omitempty"`
	TickBudget     int            `json:"tick_budget,omitempty"`

	// LLM settings.
	UseRealLLM      bool   `json:"use_real_llm"`
	DefaultModel    string `json:"default_model,omitempty"`
	MaxHistoryDepth int    `json:"max_history_depth"`

	// Per-session message id counter (monotonic, embedded in message ids).
	MessageCounter int `json:"-"`

	// Pre-simulation artifacts. Opaque to the simulation core.
	Questionnaire []QuestionnaireAnswer `json:"-"`
	BuildSpec     json.RawMessage       `json:"-"`
	Concept       json.RawMessage       `json:"-"`
	TaskGraph     json.RawMessage       `json:"-"`
	TaskCursor    int                   `json:"-"`
}

// AgentRecord describes one roster member.
type AgentRecord struct {
	AgentID     string    `json:"agent_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        AgentRole `json:"role,omitempty"`
	ModelID     string    `json:"model_id,omitempty"`
	AgentType   AgentType `json:"agent_type"`
}

// GraphEdge is one directed communication edge. Bidirectional edges permit
// traffic both ways. Cycles are allowed.
type GraphEdge struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Label         string `json:"label,omitempty"`
	Bidirectional bool   `json:"bidirectional,omitempty"`
}

// HistoryEntry is one turn in an agent's conversation history.
type HistoryEntry struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

// QuestionnaireAnswer is one recorded answer from the intake questionnaire.
type QuestionnaireAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// NewSession returns a session in the QUESTIONNAIRE phase with empty state.
func NewSession(id string) *Session {
	return &Session{
		ID:                id,
		CreatedAt:         time.Now().UTC(),
		Phase:             PhaseQuestionnaire,
		TickStatus:        TickStatusIdle,
		SimulationMode:    SimulationModeManual,
		History:           make(map[string][]HistoryEntry),
		ExpectedResponses: make(map[string]struct{}),
	}
}

// Agent returns the roster record for id, or nil when absent.
func (s *Session) Agent(id string) *AgentRecord {
	for i := range s.Agents {
		if s.Agents[i].AgentID == id {
			return &s.Agents[i]
		}
	}
	return nil
}

// HasAgent reports whether id is a roster member.
func (s *Session) HasAgent(id string) bool {
	return s.Agent(id) != nil
}

// AgentIDs returns the roster ids in order.
func (s *Session) AgentIDs() []string {
	ids := make([]string, len(s.Agents))
	for i, a := range s.Agents {
		ids[i] = a.AgentID
	}
	return ids
}

// NextMessageCounter increments and returns the per-session message counter.
func (s *Session) NextMessageCounter() int {
	s.MessageCounter++
	return s.MessageCounter
}

// AppendHistory records one conversation turn for agent id, evicting the
// oldest entries beyond the configured depth. A depth of zero or less means
// unbounded.
func (s *Session) AppendHistory(id, role, content string) {
	if s.History == nil {
		s.History = make(map[string][]HistoryEntry)
	}
	entries := append(s.History[id], HistoryEntry{Role: role, Content: content})
	if s.MaxHistoryDepth > 0 && len(entries) > s.MaxHistoryDepth {
		entries = entries[len(entries)-s.MaxHistoryDepth:]
	}
	s.History[id] = entries
}

// ExpectedResponseIDs returns the outstanding delegation responders, sorted
// for stable output.
func (s *Session) ExpectedResponseIDs() []string {
	ids := make([]string, 0, len(s.ExpectedResponses))
	for id := range s.ExpectedResponses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
