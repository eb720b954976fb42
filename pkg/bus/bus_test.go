package bus

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeforge/vibeforge/pkg/events"
	"github.com/vibeforge/vibeforge/pkg/metrics"
	"github.com/vibeforge/vibeforge/pkg/models"
	"github.com/vibeforge/vibeforge/pkg/workspace"
)

func newTestBus(t *testing.T, s *models.Session) (*Bus, *events.Store) {
	t.Helper()
	store, err := events.NewStore(workspace.NewLayout(t.TempDir()))
	require.NoError(t, err)
	pub := events.NewPublisher(store, nil, metrics.MustNew(prometheus.NewRegistry()))
	return New(s, pub), store
}

func gatedSession() *models.Session {
	s := models.NewSession("s-1")
	s.Agents = []models.AgentRecord{
		{AgentID: "A", Role: models.RoleWorker, AgentType: models.AgentTypeLocal},
		{AgentID: "B", Role: models.RoleWorker, AgentType: models.AgentTypeLocal},
		{AgentID: "C", Role: models.RoleWorker, AgentType: models.AgentTypeLocal},
	}
	s.Graph = []models.GraphEdge{{From: "A", To: "B"}}
	return s
}

func TestValidate(t *testing.T) {
	s := gatedSession()
	s.Agents = append(s.Agents, models.AgentRecord{AgentID: "O", Role: models.RoleOrchestrator})
	b, _ := newTestBus(t, s)

	tests := []struct {
		name       string
		from, to   string
		allowed    bool
		wantReason string
	}{
		{"edge allows", "A", "B", true, ""},
		{"reverse of directed edge blocks", "B", "A", false, "B ↛ A not allowed"},
		{"no edge blocks", "A", "C", false, "A ↛ C not allowed"},
		{"self-message always allowed", "C", "C", true, ""},
		{"orchestrator reaches anyone", "O", "C", true, ""},
		{"unknown source", "ghost", "A", false, ReasonNotConfigured},
		{"unknown target", "A", "ghost", false, ReasonNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, reason := b.Validate(tt.from, tt.to)
			assert.Equal(t, tt.allowed, allowed)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestValidateBidirectionalReverse(t *testing.T) {
	s := gatedSession()
	s.Graph = []models.GraphEdge{{From: "A", To: "B", Bidirectional: true}}
	b, _ := newTestBus(t, s)

	allowed, _ := b.Validate("B", "A")
	assert.True(t, allowed)
}

func TestSendBlockedByGraph(t *testing.T) {
	s := gatedSession()
	b, store := newTestBus(t, s)

	ok, msg := b.Send(context.Background(), "A", "C", models.MessageContent{Text: "psst"}, false)
	assert.False(t, ok)
	assert.Nil(t, msg)
	assert.Empty(t, s.Queue)
	assert.Equal(t, 1, b.BlockedCount())
	assert.Zero(t, b.SentCount())

	logged, err := store.Read(context.Background(), "s-1", events.Filter{EventType: events.EventTypeMessageBlocked})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "A", logged[0].MetaString("from"))
	assert.Equal(t, "C", logged[0].MetaString("to"))
	assert.Equal(t, "A ↛ C not allowed", logged[0].MetaString("reason"))
	tick, okTick := logged[0].TickIndex()
	require.True(t, okTick)
	assert.Zero(t, tick)

	drained := b.DrainEvents()
	require.Len(t, drained, 1)
	assert.Equal(t, events.EventTypeMessageBlocked, drained[0].EventType)
	assert.Empty(t, b.DrainEvents())
}

func TestSendSuccess(t *testing.T) {
	s := gatedSession()
	s.TickIndex = 4
	b, store := newTestBus(t, s)

	ok, msg := b.Send(context.Background(), "A", "B", models.MessageContent{Text: "hello", ExpectResponse: true}, false)
	require.True(t, ok)
	require.NotNil(t, msg)

	assert.Equal(t, "msg-4-1", msg.ID)
	assert.Equal(t, 4, msg.TickCreated)
	assert.False(t, msg.Delivered)
	require.Len(t, s.Queue, 1)
	assert.Same(t, msg, s.Queue[0])
	assert.Equal(t, 1, b.SentCount())

	logged, err := store.Read(context.Background(), "s-1", events.Filter{EventType: events.EventTypeMessageSent})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "msg-4-1", logged[0].MetaString("message_id"))
	content, castOK := logged[0].Metadata["content"].(map[string]any)
	require.True(t, castOK)
	assert.Equal(t, "hello", content["text"])
}

func TestSendBypassSkipsValidation(t *testing.T) {
	s := gatedSession()
	b, store := newTestBus(t, s)

	ok, msg := b.Send(context.Background(), models.UserAgentID, "C", models.MessageContent{Text: "start"}, true)
	require.True(t, ok)
	assert.Equal(t, models.UserAgentID, msg.From)

	logged, err := store.Read(context.Background(), "s-1", events.Filter{EventType: events.EventTypeMessageSent})
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, true, logged[0].Metadata["bypass_validation"])
}

func TestMessageCounterMonotonic(t *testing.T) {
	s := gatedSession()
	b, _ := newTestBus(t, s)
	ctx := context.Background()

	_, m1 := b.Send(ctx, "A", "B", models.MessageContent{Text: "one"}, false)
	_, m2 := b.Send(ctx, "A", "B", models.MessageContent{Text: "two"}, false)
	require.NotNil(t, m1)
	require.NotNil(t, m2)
	assert.Equal(t, "msg-0-1", m1.ID)
	assert.Equal(t, "msg-0-2", m2.ID)
}

func TestPendingFor(t *testing.T) {
	s := gatedSession()
	b, _ := newTestBus(t, s)
	ctx := context.Background()

	b.Send(ctx, "A", "B", models.MessageContent{Text: "first"}, false)
	b.Send(ctx, "A", "B", models.MessageContent{Text: "second"}, false)
	b.Send(ctx, "A", "A", models.MessageContent{Text: "note to self"}, false)

	pending := b.PendingFor("B")
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].Content.Text)
	assert.Equal(t, "second", pending[1].Content.Text)

	b.Deliver(pending[0], 1)
	assert.Len(t, b.PendingFor("B"), 1)
}

func TestDeliverMonotone(t *testing.T) {
	s := gatedSession()
	b, _ := newTestBus(t, s)

	_, m := b.Send(context.Background(), "A", "B", models.MessageContent{Text: "x"}, false)
	require.NotNil(t, m)

	b.Deliver(m, 3)
	require.NotNil(t, m.TickDelivered)
	first := *m.TickDelivered

	b.Deliver(m, 9)
	assert.True(t, m.Delivered)
	assert.Equal(t, first, *m.TickDelivered)
}

func TestClearDelivered(t *testing.T) {
	s := gatedSession()
	b, _ := newTestBus(t, s)
	ctx := context.Background()

	_, m1 := b.Send(ctx, "A", "B", models.MessageContent{Text: "one"}, false)
	b.Send(ctx, "A", "B", models.MessageContent{Text: "two"}, false)
	_, m3 := b.Send(ctx, "A", "B", models.MessageContent{Text: "three"}, false)

	b.Deliver(m1, 1)
	b.Deliver(m3, 2)

	removed := b.ClearDelivered()
	assert.Equal(t, 2, removed)
	require.Len(t, s.Queue, 1)
	assert.Equal(t, "two", s.Queue[0].Content.Text)

	assert.Zero(t, b.ClearDelivered())
}

func TestNextDeliverable(t *testing.T) {
	s := gatedSession()
	b, _ := newTestBus(t, s)
	ctx := context.Background()

	_, m1 := b.Send(ctx, "A", "B", models.MessageContent{Text: "from A"}, false)
	s.Graph = append(s.Graph, models.GraphEdge{From: "C", To: "B"})
	_, m2 := b.Send(ctx, "C", "B", models.MessageContent{Text: "from C"}, false)

	// FIFO: the oldest undelivered message wins.
	assert.Same(t, m1, b.NextDeliverable(map[string]bool{}))

	// A sender that already acted this tick is skipped.
	assert.Same(t, m2, b.NextDeliverable(map[string]bool{"A": true}))

	// Delivered messages are never picked again.
	b.Deliver(m1, 1)
	b.Deliver(m2, 1)
	assert.Nil(t, b.NextDeliverable(map[string]bool{}))
}
