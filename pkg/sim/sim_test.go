package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vibeforge/vibeforge/pkg/config"
	"github.com/vibeforge/vibeforge/pkg/events"
	"github.com/vibeforge/vibeforge/pkg/llm"
	"github.com/vibeforge/vibeforge/pkg/metrics"
	"github.com/vibeforge/vibeforge/pkg/models"
	"github.com/vibeforge/vibeforge/pkg/remote"
	"github.com/vibeforge/vibeforge/pkg/session"
	"github.com/vibeforge/vibeforge/pkg/workspace"
)

type dispatchCall struct {
	agentID   string
	messageID string
	content   string
	taskCtx   map[string]any
	sessionID string
}

// fakeDispatcher satisfies Dispatcher without a network. Outcomes queued by
// the test surface on the next DrainResponses, mirroring how the real
// manager buffers completed dispatches between ticks.
type fakeDispatcher struct {
	mu          sync.Mutex
	connected   map[string]bool
	calls       []dispatchCall
	outcomes    map[string][]remote.DispatchOutcome
	dispatchErr error
	sweeps      int
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		connected: make(map[string]bool),
		outcomes:  make(map[string][]remote.DispatchOutcome),
	}
}

func (f *fakeDispatcher) Connected(agentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[agentID]
}

func (f *fakeDispatcher) Dispatch(agentID, messageID, content string, taskCtx map[string]any, sessionID string, _ remote.ProgressFunc) (*remote.PendingDispatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		return nil, f.dispatchErr
	}
	f.calls = append(f.calls, dispatchCall{
		agentID:   agentID,
		messageID: messageID,
		content:   content,
		taskCtx:   taskCtx,
		sessionID: sessionID,
	})
	return nil, nil
}

func (f *fakeDispatcher) DrainResponses(sessionID string) []remote.DispatchOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.outcomes[sessionID]
	delete(f.outcomes, sessionID)
	return out
}

func (f *fakeDispatcher) SweepStale(time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0
}

func (f *fakeDispatcher) queueOutcome(sessionID string, o remote.DispatchOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[sessionID] = append(f.outcomes[sessionID], o)
}

func (f *fakeDispatcher) dispatchCalls() []dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatchCall(nil), f.calls...)
}

func (f *fakeDispatcher) bufferedOutcomes(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outcomes[sessionID])
}

// rig bundles a controller stack over a temp workspace, a stub generator
// and a fake dispatcher.
type rig struct {
	ctrl     *Controller
	engine   *Engine
	runner   *Runner
	sessions *session.Store
	events   *events.Store
	log      *events.Publisher
	fake     *fakeDispatcher
}

func newRig(t *testing.T) *rig {
	t.Helper()
	return newRigWithClient(t, llm.StubClient{}, nil)
}

func newRigWithClient(t *testing.T, client llm.Client, pricing map[string]config.ModelPrice) *rig {
	t.Helper()
	store, err := events.NewStore(workspace.NewLayout(t.TempDir()))
	require.NoError(t, err)
	m := metrics.MustNew(prometheus.NewRegistry())
	pub := events.NewPublisher(store, nil, m)
	gen := llm.NewGenerator(client, "gpt-4o-mini", llm.NewPricing(pricing))
	fake := newFakeDispatcher()
	eng := NewEngine(pub, fake, gen, time.Minute)
	sessions := session.NewStore()
	ctrl := NewController(sessions, session.NewLocker(), eng, pub, store, fake)
	runner := NewRunner(ctrl)
	ctrl.SetRunner(runner)
	t.Cleanup(runner.Shutdown)
	return &rig{
		ctrl:     ctrl,
		engine:   eng,
		runner:   runner,
		sessions: sessions,
		events:   store,
		log:      pub,
		fake:     fake,
	}
}

// seedDelegation creates a started-ready session with an orchestrator and
// two local workers.
func (r *rig) seedDelegation(t *testing.T, id string) *models.Session {
	t.Helper()
	s := models.NewSession(id)
	s.Agents = []models.AgentRecord{
		{AgentID: "orch", Role: models.RoleOrchestrator, AgentType: models.AgentTypeLocal},
		{AgentID: "w1", Role: models.RoleWorker, AgentType: models.AgentTypeLocal},
		{AgentID: "w2", Role: models.RoleWorker, AgentType: models.AgentTypeLocal},
	}
	s.Graph = []models.GraphEdge{
		{From: "orch", To: "w1", Bidirectional: true},
		{From: "orch", To: "w2", Bidirectional: true},
	}
	s.MainTask = "build the widget"
	require.NoError(t, r.sessions.Create(s))
	return s
}

// seedPair creates a session with one local and one remote worker joined by
// a bidirectional edge.
func (r *rig) seedPair(t *testing.T, id string) *models.Session {
	t.Helper()
	s := models.NewSession(id)
	s.Agents = []models.AgentRecord{
		{AgentID: "a", Role: models.RoleWorker, AgentType: models.AgentTypeLocal},
		{AgentID: "r", Role: models.RoleWorker, AgentType: models.AgentTypeRemote},
	}
	s.Graph = []models.GraphEdge{
		{From: "a", To: "r", Bidirectional: true},
	}
	s.MainTask = "compile the kernel"
	require.NoError(t, r.sessions.Create(s))
	return s
}

func findQueuedMessage(s *models.Session, from, to string) *models.Message {
	for _, m := range s.Queue {
		if m.From == from && m.To == to {
			return m
		}
	}
	return nil
}

func eventTypes(evts []models.Event) []string {
	out := make([]string, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.EventType)
	}
	return out
}

func findEvent(evts []models.Event, eventType string) *models.Event {
	for i := range evts {
		if evts[i].EventType == eventType {
			return &evts[i]
		}
	}
	return nil
}

func mustState(t *testing.T, r *rig, id string) *SimulationState {
	t.Helper()
	st, err := r.ctrl.State(context.Background(), id)
	require.NoError(t, err)
	return st
}
