// Package services hosts the session coordinator, the pre-simulation half of
// the control plane: it creates sessions, shapes the workflow (roster, graph,
// main task) and walks each session through the questionnaire, build spec,
// concept and plan phases until the simulation can start.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vibeforge/vibeforge/pkg/bus"
	"github.com/vibeforge/vibeforge/pkg/config"
	"github.com/vibeforge/vibeforge/pkg/events"
	"github.com/vibeforge/vibeforge/pkg/graph"
	"github.com/vibeforge/vibeforge/pkg/llm"
	"github.com/vibeforge/vibeforge/pkg/metrics"
	"github.com/vibeforge/vibeforge/pkg/models"
	"github.com/vibeforge/vibeforge/pkg/phase"
	"github.com/vibeforge/vibeforge/pkg/session"
	"github.com/vibeforge/vibeforge/pkg/workspace"
)

// Artifact blob names under the session's artifacts directory.
const (
	artifactQuestionnaire = "questionnaire.json"
	artifactBuildSpec     = "build_spec.json"
	artifactConcept       = "concept.json"
	artifactTaskGraph     = "task_graph.json"
)

const buildSpecPrompt = `## Build Spec Instructions

You are a requirements analyst preparing a build specification from an intake
questionnaire. Turn the answers below into a concrete specification: project
goals, functional requirements, constraints, and acceptance criteria.

Write the specification only, no preamble.`

const conceptPrompt = `## Concept Instructions

You are a software architect. From the build specification you receive,
produce a concept for the solution: overall shape, main components, how they
interact, and the key technical choices.

Write the concept only, no preamble.`

const planPrompt = `## Planning Instructions

You are a planner decomposing a project into an ordered task list for a team
of software agents. Using the main task and the concept you receive, produce
the smallest set of concrete tasks that completes the project.

Respond with a JSON array of task description strings, nothing else.`

// generatedArtifact is the stored form of a build spec or concept blob.
type generatedArtifact struct {
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Content     string    `json:"content"`
}

// planArtifact is the stored form of the task graph blob.
type planArtifact struct {
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Tasks       []string  `json:"tasks"`
}

// AgentAssignment is a partial update for one roster agent. Empty fields are
// left unchanged.
type AgentAssignment struct {
	DisplayName string           `json:"display_name,omitempty"`
	Role        models.AgentRole `json:"role,omitempty"`
	ModelID     string           `json:"model_id,omitempty"`
}

// WorkflowSnapshot is the read-only workflow projection returned by Workflow.
type WorkflowSnapshot struct {
	SessionID            string               `json:"session_id"`
	Phase                models.Phase         `json:"phase"`
	MainTask             string               `json:"main_task,omitempty"`
	Agents               []models.AgentRecord `json:"agents"`
	Graph                []models.GraphEdge   `json:"graph"`
	QuestionnaireAnswers int                  `json:"questionnaire_answers"`
	HasBuildSpec         bool                 `json:"has_build_spec"`
	HasConcept           bool                 `json:"has_concept"`
	HasPlan              bool                 `json:"has_plan"`
	PlannedTasks         int                  `json:"planned_tasks"`
	TasksExecuted        int                  `json:"tasks_executed"`
}

// TaskExecution reports one planned task handed to the orchestrator.
type TaskExecution struct {
	TaskIndex   int    `json:"task_index"`
	Description string `json:"description"`
	MessageID   string `json:"message_id"`
	Remaining   int    `json:"remaining"`
}

// Coordinator manages session creation, workflow setup and the pre-simulation
// pipeline. Simulation-time behavior lives in the sim package; the coordinator
// only ever touches sessions outside a running tick, under the session lock.
type Coordinator struct {
	sessions *session.Store
	locker   *session.Locker
	layout   *workspace.Layout
	log      *events.Publisher
	gen      *llm.Generator
	metrics  *metrics.Metrics
	defaults config.SimulationConfig
}

// NewCoordinator wires a Coordinator. defaults seeds the guardrail and
// simulation settings of every new session.
func NewCoordinator(sessions *session.Store, locker *session.Locker, layout *workspace.Layout, log *events.Publisher, gen *llm.Generator, m *metrics.Metrics, defaults config.SimulationConfig) *Coordinator {
	if m == nil {
		m = metrics.Default()
	}
	return &Coordinator{
		sessions: sessions,
		locker:   locker,
		layout:   layout,
		log:      log,
		gen:      gen,
		metrics:  m,
		defaults: defaults,
	}
}

// CreateSession allocates a new session in the QUESTIONNAIRE phase, creates
// its workspace directories and records the workspace_initialized event.
func (c *Coordinator) CreateSession(ctx context.Context) (*models.Session, error) {
	id := uuid.New().String()
	s := models.NewSession(id)
	s.MaxCostUSD = c.defaults.MaxCostUSD
	s.TickRateLimitMS = c.defaults.TickRateLimitMS
	s.MaxHistoryDepth = c.defaults.MaxHistoryDepth
	s.AutoDelayMS = c.defaults.AutoDelayMS

	if err := c.layout.Init(id); err != nil {
		return nil, fmt.Errorf("failed to initialize workspace: %w", err)
	}
	if err := c.sessions.Create(s); err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}
	c.metrics.SessionsActive.Inc()
	c.log.WorkspaceInitialized(ctx, s, c.layout.SessionDir(id))
	return s, nil
}

// GetSession returns the live session for id.
func (c *Coordinator) GetSession(sessionID string) (*models.Session, error) {
	return c.sessions.Get(sessionID)
}

// ListSessions returns all live sessions ordered by creation time.
func (c *Coordinator) ListSessions() []*models.Session {
	out := c.sessions.List()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeleteSession removes the session from memory. The on-disk workspace,
// including the event log, stays behind as the session's record.
func (c *Coordinator) DeleteSession(sessionID string) error {
	unlock := c.locker.Lock(sessionID)
	defer unlock()
	if err := c.sessions.Delete(sessionID); err != nil {
		return err
	}
	c.metrics.SessionsActive.Dec()
	return nil
}

// InitAgents replaces the session's roster. Agents default to the local type;
// roles may be left unset here and assigned later. Replacing the roster
// clears any previously configured graph.
func (c *Coordinator) InitAgents(_ context.Context, sessionID string, agents []models.AgentRecord) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase.Terminal() {
		return nil, models.NewValidationError("phase", "cannot modify roster in terminal phase %s", s.Phase)
	}
	if s.TickStatus == models.TickStatusRunning {
		return nil, models.NewValidationError("tick_status", "cannot modify roster while the simulation is running")
	}
	if len(agents) == 0 {
		return nil, models.NewValidationError("agents", "agent roster must not be empty")
	}

	seen := make(map[string]struct{}, len(agents))
	roster := make([]models.AgentRecord, 0, len(agents))
	for _, a := range agents {
		if a.AgentID == "" {
			return nil, models.NewValidationError("agents", "agent id must not be empty")
		}
		if a.AgentID == models.UserAgentID {
			return nil, models.NewValidationError("agents", "agent id %q is reserved", models.UserAgentID)
		}
		if _, dup := seen[a.AgentID]; dup {
			return nil, models.NewValidationError("agents", "duplicate agent id %q", a.AgentID)
		}
		seen[a.AgentID] = struct{}{}
		if a.Role != "" && !models.ValidRole(a.Role) {
			return nil, models.NewValidationError("agents", "unknown role %q for agent %s", a.Role, a.AgentID)
		}
		if a.AgentType == "" {
			a.AgentType = models.AgentTypeLocal
		}
		if a.AgentType != models.AgentTypeLocal && a.AgentType != models.AgentTypeRemote {
			return nil, models.NewValidationError("agents", "unknown agent type %q for agent %s", a.AgentType, a.AgentID)
		}
		roster = append(roster, a)
	}

	s.Agents = roster
	s.Graph = nil
	return s, nil
}

// AssignAgent applies a partial update to one roster agent.
func (c *Coordinator) AssignAgent(_ context.Context, sessionID, agentID string, a AgentAssignment) (*models.AgentRecord, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase.Terminal() {
		return nil, models.NewValidationError("phase", "cannot modify roster in terminal phase %s", s.Phase)
	}
	if s.TickStatus == models.TickStatusRunning {
		return nil, models.NewValidationError("tick_status", "cannot modify roster while the simulation is running")
	}
	rec := s.Agent(agentID)
	if rec == nil {
		return nil, models.NewValidationError("agent_id", "agent %s not in roster", agentID)
	}
	if a.Role != "" && !models.ValidRole(a.Role) {
		return nil, models.NewValidationError("role", "unknown role %q", a.Role)
	}

	if a.DisplayName != "" {
		rec.DisplayName = a.DisplayName
	}
	if a.Role != "" {
		rec.Role = a.Role
	}
	if a.ModelID != "" {
		rec.ModelID = a.ModelID
	}
	return rec, nil
}

// SetTask records the session's main task.
func (c *Coordinator) SetTask(_ context.Context, sessionID, task string) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase.Terminal() {
		return nil, models.NewValidationError("phase", "cannot set task in terminal phase %s", s.Phase)
	}
	if s.TickStatus == models.TickStatusRunning {
		return nil, models.NewValidationError("tick_status", "cannot set task while the simulation is running")
	}
	if strings.TrimSpace(task) == "" {
		return nil, models.NewValidationError("main_task", "must not be empty")
	}
	s.MainTask = task
	return s, nil
}

// SetFlows replaces the communication graph after validating every edge
// endpoint against the roster. An empty edge list clears the graph.
func (c *Coordinator) SetFlows(_ context.Context, sessionID string, edges []models.GraphEdge) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase.Terminal() {
		return nil, models.NewValidationError("phase", "cannot set flows in terminal phase %s", s.Phase)
	}
	if s.TickStatus == models.TickStatusRunning {
		return nil, models.NewValidationError("tick_status", "cannot set flows while the simulation is running")
	}
	if err := graph.Validate(edges, s.AgentIDs()); err != nil {
		return nil, err
	}
	s.Graph = edges
	return s, nil
}

// Workflow returns a consistent snapshot of the session's workflow and
// pipeline progress.
func (c *Coordinator) Workflow(sessionID string) (*WorkflowSnapshot, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	w := &WorkflowSnapshot{
		SessionID:            s.ID,
		Phase:                s.Phase,
		MainTask:             s.MainTask,
		Agents:               append([]models.AgentRecord(nil), s.Agents...),
		Graph:                append([]models.GraphEdge(nil), s.Graph...),
		QuestionnaireAnswers: len(s.Questionnaire),
		HasBuildSpec:         len(s.BuildSpec) > 0,
		HasConcept:           len(s.Concept) > 0,
		HasPlan:              len(s.TaskGraph) > 0,
		TasksExecuted:        s.TaskCursor,
	}
	if len(s.TaskGraph) > 0 {
		var plan planArtifact
		if json.Unmarshal(s.TaskGraph, &plan) == nil {
			w.PlannedTasks = len(plan.Tasks)
		}
	}
	return w, nil
}

// SubmitQuestionnaire records the intake answers. Resubmission replaces
// earlier answers; the session stays in QUESTIONNAIRE until the build spec
// is generated.
func (c *Coordinator) SubmitQuestionnaire(ctx context.Context, sessionID string, answers []models.QuestionnaireAnswer) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase != models.PhaseQuestionnaire {
		return nil, models.NewValidationError("phase", "questionnaire can only be submitted in phase %s (current: %s)", models.PhaseQuestionnaire, s.Phase)
	}
	if len(answers) == 0 {
		return nil, models.NewValidationError("answers", "must not be empty")
	}
	for i, qa := range answers {
		if strings.TrimSpace(qa.Question) == "" {
			return nil, models.NewValidationError("answers", "question %d must not be empty", i)
		}
	}

	if _, err := c.writeArtifact(s, artifactQuestionnaire, answers); err != nil {
		return nil, err
	}
	s.Questionnaire = answers
	c.log.QuestionnaireSubmitted(ctx, s, len(answers))
	return s, nil
}

// GenerateBuildSpec turns the questionnaire into a build specification,
// stores it as an artifact and advances the session to BUILD_SPEC.
func (c *Coordinator) GenerateBuildSpec(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase != models.PhaseQuestionnaire {
		return nil, models.NewValidationError("phase", "build spec can only be generated in phase %s (current: %s)", models.PhaseQuestionnaire, s.Phase)
	}
	if len(s.Questionnaire) == 0 {
		return nil, models.NewValidationError("answers", "no questionnaire answers recorded")
	}

	text, model, err := c.generate(ctx, s, buildSpecPrompt, renderQuestionnaire(s.Questionnaire))
	if err != nil {
		return nil, fmt.Errorf("failed to generate build spec: %w", err)
	}
	blob, err := c.writeArtifact(s, artifactBuildSpec, generatedArtifact{
		Model:       model,
		GeneratedAt: time.Now().UTC(),
		Content:     text,
	})
	if err != nil {
		return nil, err
	}

	s.BuildSpec = blob
	c.log.BuildSpecGenerated(ctx, s, artifactBuildSpec, model)
	if err := c.transition(ctx, s, models.PhaseBuildSpec); err != nil {
		return nil, err
	}
	return s, nil
}

// GenerateIdea turns the build specification into a solution concept, stores
// it as an artifact and advances the session to IDEA.
func (c *Coordinator) GenerateIdea(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase != models.PhaseBuildSpec {
		return nil, models.NewValidationError("phase", "concept can only be generated in phase %s (current: %s)", models.PhaseBuildSpec, s.Phase)
	}
	if len(s.BuildSpec) == 0 {
		return nil, models.NewValidationError("build_spec", "build spec not populated")
	}
	var spec generatedArtifact
	if err := json.Unmarshal(s.BuildSpec, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode build spec artifact: %w", err)
	}

	text, model, err := c.generate(ctx, s, conceptPrompt, spec.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to generate concept: %w", err)
	}
	blob, err := c.writeArtifact(s, artifactConcept, generatedArtifact{
		Model:       model,
		GeneratedAt: time.Now().UTC(),
		Content:     text,
	})
	if err != nil {
		return nil, err
	}

	s.Concept = blob
	c.log.IdeaGenerated(ctx, s, artifactConcept, model)
	if err := c.transition(ctx, s, models.PhaseIdea); err != nil {
		return nil, err
	}
	return s, nil
}

// GeneratePlan decomposes the main task into an ordered task list using the
// concept, stores it as the task graph artifact and advances the session to
// PLAN_REVIEW. Completions that are not a JSON task array, the stub's always,
// fall back to a single-task plan covering the main task.
func (c *Coordinator) GeneratePlan(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase != models.PhaseIdea {
		return nil, models.NewValidationError("phase", "plan can only be generated in phase %s (current: %s)", models.PhaseIdea, s.Phase)
	}
	if len(s.Concept) == 0 {
		return nil, models.NewValidationError("concept", "concept not populated")
	}
	if strings.TrimSpace(s.MainTask) == "" {
		return nil, models.NewValidationError("main_task", "main task is not set")
	}
	var concept generatedArtifact
	if err := json.Unmarshal(s.Concept, &concept); err != nil {
		return nil, fmt.Errorf("failed to decode concept artifact: %w", err)
	}

	userPrompt := fmt.Sprintf("Main task: %s\n\nConcept:\n%s", s.MainTask, concept.Content)
	text, model, err := c.generate(ctx, s, planPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}
	tasks := parseTasks(text)
	if len(tasks) == 0 {
		tasks = []string{s.MainTask}
	}
	blob, err := c.writeArtifact(s, artifactTaskGraph, planArtifact{
		Model:       model,
		GeneratedAt: time.Now().UTC(),
		Tasks:       tasks,
	})
	if err != nil {
		return nil, err
	}

	s.TaskGraph = blob
	s.TaskCursor = 0
	c.log.PlanGenerated(ctx, s, artifactTaskGraph, model)
	if err := c.transition(ctx, s, models.PhasePlanReview); err != nil {
		return nil, err
	}
	return s, nil
}

// ReviewPlan records the review verdict. Acceptance advances the session to
// EXECUTION; rejection returns it to IDEA and discards the plan so a fresh
// one can be generated.
func (c *Coordinator) ReviewPlan(ctx context.Context, sessionID string, accepted bool) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase != models.PhasePlanReview {
		return nil, models.NewValidationError("phase", "plan can only be reviewed in phase %s (current: %s)", models.PhasePlanReview, s.Phase)
	}
	if len(s.TaskGraph) == 0 {
		return nil, models.NewValidationError("task_graph", "task graph not populated")
	}

	c.log.PlanReviewed(ctx, s, accepted)
	if accepted {
		if err := c.transition(ctx, s, models.PhaseExecution); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := c.transition(ctx, s, models.PhaseIdea); err != nil {
		return nil, err
	}
	s.TaskGraph = nil
	s.TaskCursor = 0
	return s, nil
}

// FailSession force-fails a non-terminal session: the simulation halts, the
// session_failed event is recorded and the phase moves to FAILED bypassing
// exit criteria.
func (c *Coordinator) FailSession(ctx context.Context, sessionID, reason string) (*models.Session, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if strings.TrimSpace(reason) == "" {
		return nil, models.NewValidationError("reason", "must not be empty")
	}
	if s.Phase.Terminal() {
		return nil, &phase.TransitionError{From: s.Phase, To: models.PhaseFailed}
	}

	if s.TickStatus == models.TickStatusRunning || s.TickStatus == models.TickStatusPaused {
		s.TickStatus = models.TickStatusCompleted
	}
	c.log.SessionFailed(ctx, s, reason)
	if err := c.transition(ctx, s, models.PhaseFailed); err != nil {
		return nil, err
	}
	return s, nil
}

// ExecuteNextTask pops the next planned task and hands it to the orchestrator
// as a bypass-enqueued message expecting a response. Legal only in EXECUTION.
func (c *Coordinator) ExecuteNextTask(ctx context.Context, sessionID string) (*TaskExecution, error) {
	s, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	unlock := c.locker.Lock(sessionID)
	defer unlock()

	if s.Phase != models.PhaseExecution {
		return nil, models.NewValidationError("phase", "tasks can only be executed in phase %s (current: %s)", models.PhaseExecution, s.Phase)
	}
	if len(s.TaskGraph) == 0 {
		return nil, models.NewValidationError("tasks", "no task plan generated")
	}
	var plan planArtifact
	if err := json.Unmarshal(s.TaskGraph, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode task plan: %w", err)
	}
	if s.TaskCursor >= len(plan.Tasks) {
		return nil, models.NewValidationError("tasks", "all %d planned tasks have been executed", len(plan.Tasks))
	}
	orchestrator := firstOrchestrator(s)
	if orchestrator == nil {
		return nil, models.NewValidationError("agents", "no orchestrator in roster")
	}

	task := plan.Tasks[s.TaskCursor]
	b := bus.New(s, c.log)
	_, m := b.Send(ctx, models.UserAgentID, orchestrator.AgentID, models.MessageContent{
		Text:           task,
		ExpectResponse: true,
	}, true)

	idx := s.TaskCursor
	s.TaskCursor++
	c.log.TaskExecuted(ctx, s, idx, task)
	return &TaskExecution{
		TaskIndex:   idx,
		Description: task,
		MessageID:   m.ID,
		Remaining:   len(plan.Tasks) - s.TaskCursor,
	}, nil
}

// transition moves the session's phase and records the phase_transition
// event. Callers validate phase and criteria beforehand so the move cannot
// partially apply.
func (c *Coordinator) transition(ctx context.Context, s *models.Session, to models.Phase) error {
	from := s.Phase
	if err := phase.Transition(s, to); err != nil {
		return err
	}
	c.log.PhaseTransition(ctx, s, from, to)
	return nil
}

// generate runs one pipeline completion using the session's default model,
// falling back to the generator's.
func (c *Coordinator) generate(ctx context.Context, s *models.Session, systemPrompt, userPrompt string) (text, model string, err error) {
	model = s.DefaultModel
	if model == "" {
		model = c.gen.DefaultModel()
	}
	text, _, err = c.gen.Generate(ctx, model, systemPrompt, userPrompt)
	if err != nil {
		return "", "", err
	}
	return text, model, nil
}

// writeArtifact encodes v and stores it under the session's artifacts
// directory, returning the stored blob.
func (c *Coordinator) writeArtifact(s *models.Session, name string, v any) (json.RawMessage, error) {
	blob, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact %s: %w", name, err)
	}
	if err := c.layout.WriteArtifact(s.ID, name, blob); err != nil {
		return nil, fmt.Errorf("failed to store artifact %s: %w", name, err)
	}
	return blob, nil
}

func firstOrchestrator(s *models.Session) *models.AgentRecord {
	for i := range s.Agents {
		if s.Agents[i].Role == models.RoleOrchestrator {
			return &s.Agents[i]
		}
	}
	return nil
}

func renderQuestionnaire(answers []models.QuestionnaireAnswer) string {
	var b strings.Builder
	for i, qa := range answers {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Q: %s\nA: %s", qa.Question, qa.Answer)
	}
	return b.String()
}

// parseTasks reads a completion as a JSON array of task descriptions.
// Returns nil when the text is not such an array.
func parseTasks(text string) []string {
	var tasks []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &tasks); err != nil {
		return nil
	}
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
