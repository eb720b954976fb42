package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession("s-1")

	assert.Equal(t, "s-1", s.ID)
	assert.Equal(t, PhaseQuestionnaire, s.Phase)
	assert.Equal(t, TickStatusIdle, s.TickStatus)
	assert.Equal(t, SimulationModeManual, s.SimulationMode)
	assert.NotNil(t, s.History)
	assert.NotNil(t, s.ExpectedResponses)
}

func TestSessionAgentLookup(t *testing.T) {
	s := NewSession("s-1")
	s.Agents = []AgentRecord{
		{AgentID: "orc", Role: RoleOrchestrator, AgentType: AgentTypeLocal},
		{AgentID: "w1", Role: RoleWorker, AgentType: AgentTypeLocal},
	}

	require.NotNil(t, s.Agent("orc"))
	assert.Equal(t, RoleOrchestrator, s.Agent("orc").Role)
	assert.Nil(t, s.Agent("missing"))
	assert.True(t, s.HasAgent("w1"))
	assert.Equal(t, []string{"orc", "w1"}, s.AgentIDs())
}

func TestAppendHistoryEvictsFIFO(t *testing.T) {
	s := NewSession("s-1")
	s.MaxHistoryDepth = 3

	for _, c := range []string{"a", "b", "c", "d", "e"} {
		s.AppendHistory("w1", "user", c)
	}

	entries := s.History["w1"]
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Content)
	assert.Equal(t, "e", entries[2].Content)
}

func TestAppendHistoryUnboundedWhenDepthUnset(t *testing.T) {
	s := NewSession("s-1")

	for i := 0; i < 100; i++ {
		s.AppendHistory("w1", "user", "x")
	}
	assert.Len(t, s.History["w1"], 100)
}

func TestMessageIDFormat(t *testing.T) {
	assert.Equal(t, "msg-3-7", MessageID(3, 7))
}

func TestMarkDeliveredIsMonotone(t *testing.T) {
	m := NewMessage(2, 1, "a", "b", MessageContent{Text: "hi"})
	require.False(t, m.Delivered)

	m.MarkDelivered(5)
	require.True(t, m.Delivered)
	require.NotNil(t, m.TickDelivered)
	assert.Equal(t, 5, *m.TickDelivered)

	// A second delivery attempt must not change the recorded tick.
	m.MarkDelivered(9)
	assert.Equal(t, 5, *m.TickDelivered)
}

func TestContentMapOmitsUnsetFlags(t *testing.T) {
	c := MessageContent{Text: "hello", ExpectResponse: true}
	m := c.Map()

	assert.Equal(t, "hello", m["text"])
	assert.Equal(t, true, m["expect_response"])
	assert.NotContains(t, m, "is_stub")
	assert.NotContains(t, m, "final_answer")
	assert.NotContains(t, m, "in_response_to")
}

func TestEventJSONRoundTrip(t *testing.T) {
	e := NewEvent("tick_advanced", "s-1", "Tick advanced: 0 -> 1").
		WithPhase(PhaseExecution).
		WithMeta("old_tick_index", 0).
		WithMeta("new_tick_index", 1)
	e.Timestamp = time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, e.EventType, back.EventType)
	assert.Equal(t, e.SessionID, back.SessionID)
	assert.Equal(t, e.Message, back.Message)
	require.NotNil(t, back.Phase)
	assert.Equal(t, "EXECUTION", *back.Phase)
	assert.Nil(t, back.TaskID)
	assert.True(t, e.Timestamp.Equal(back.Timestamp))

	// Numbers decode as float64; TickIndex must still resolve.
	tick, ok := back.metaInt("new_tick_index")
	require.True(t, ok)
	assert.Equal(t, 1, tick)
}

func TestEventTickIndexAbsent(t *testing.T) {
	e := NewEvent("message_sent", "s-1", "m")
	_, ok := e.TickIndex()
	assert.False(t, ok)
}

func TestPhaseTerminal(t *testing.T) {
	assert.True(t, PhaseComplete.Terminal())
	assert.True(t, PhaseFailed.Terminal())
	assert.False(t, PhaseExecution.Terminal())
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleOrchestrator))
	assert.True(t, ValidRole(RoleFixer))
	assert.False(t, ValidRole(AgentRole("manager")))
}

func TestExpectedResponseIDsSorted(t *testing.T) {
	s := NewSession("s-1")
	s.ExpectedResponses["w2"] = struct{}{}
	s.ExpectedResponses["w1"] = struct{}{}
	s.ExpectedResponses["a9"] = struct{}{}

	assert.Equal(t, []string{"a9", "w1", "w2"}, s.ExpectedResponseIDs())
}
