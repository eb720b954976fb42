package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeforge/vibeforge/pkg/config"
	"github.com/vibeforge/vibeforge/pkg/metrics"
)

func testRemoteConfig() config.RemoteConfig {
	return config.RemoteConfig{
		HeartbeatTimeout:  time.Minute,
		HeartbeatInterval: 25 * time.Millisecond,
		DispatchTimeout:   5 * time.Minute,
		WriteTimeout:      2 * time.Second,
	}
}

// newRemoteServer starts an httptest server that upgrades every request and
// hands the socket to a Handler over a fresh Manager.
func newRemoteServer(t *testing.T, cfg config.RemoteConfig, cb Callbacks, tokens map[string]struct{}) (*Manager, string) {
	t.Helper()
	m := NewManager(cfg, cb, metrics.MustNew(prometheus.NewRegistry()))
	h := NewHandler(m, tokens)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { m.Shutdown("test teardown") })

	return m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialAgent(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

// registerAgent performs the register handshake and returns the acked
// session id.
func registerAgent(t *testing.T, conn *websocket.Conn, agentID string, metadata map[string]any) string {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Frame{
		Type:         FrameTypeRegister,
		AgentID:      agentID,
		Capabilities: []string{"code"},
		Workdir:      "/tmp/" + agentID,
		Metadata:     metadata,
	}))
	ack := readFrame(t, conn)
	require.Equal(t, FrameTypeRegistered, ack.Type)
	require.Equal(t, agentID, ack.AgentID)
	require.NotEmpty(t, ack.SessionID)
	require.Equal(t, "registered", ack.Message)
	return ack.SessionID
}

func TestRegisterHandshake(t *testing.T) {
	connectedCh := make(chan [2]string, 1)
	m, url := newRemoteServer(t, testRemoteConfig(), Callbacks{
		OnConnected: func(agentID, sessionID string) { connectedCh <- [2]string{agentID, sessionID} },
	}, nil)

	conn := dialAgent(t, url)
	sessionID := registerAgent(t, conn, "builder-1", nil)

	require.Eventually(t, func() bool { return m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)

	select {
	case got := <-connectedCh:
		assert.Equal(t, "builder-1", got[0])
		assert.Equal(t, sessionID, got[1])
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnected never fired")
	}

	infos := m.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "builder-1", infos[0].AgentID)
	assert.Equal(t, sessionID, infos[0].SessionID)
	assert.Equal(t, []string{"code"}, infos[0].Capabilities)
	assert.Equal(t, "/tmp/builder-1", infos[0].Workdir)
	assert.False(t, infos[0].LastHeartbeat.IsZero())
	assert.InDelta(t, 1, testutil.ToFloat64(m.metrics.AgentConnections), 0.01)
}

func TestRegisterKeepsMetadataSessionID(t *testing.T) {
	_, url := newRemoteServer(t, testRemoteConfig(), Callbacks{}, nil)

	conn := dialAgent(t, url)
	sessionID := registerAgent(t, conn, "builder-1", map[string]any{"session_id": "agent-sess-7"})
	assert.Equal(t, "agent-sess-7", sessionID)
}

func TestFirstFrameMustBeRegister(t *testing.T) {
	m, url := newRemoteServer(t, testRemoteConfig(), Callbacks{}, nil)

	conn := dialAgent(t, url)
	require.NoError(t, conn.WriteJSON(Frame{Type: FrameTypeHeartbeat, AgentID: "builder-1"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, CloseNotRegistered), "got %v", err)
	assert.False(t, m.Connected("builder-1"))
}

func TestRegisterRequiresAgentID(t *testing.T) {
	_, url := newRemoteServer(t, testRemoteConfig(), Callbacks{}, nil)

	conn := dialAgent(t, url)
	require.NoError(t, conn.WriteJSON(Frame{Type: FrameTypeRegister}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, CloseNotRegistered), "got %v", err)
}

func TestRegisterAuthToken(t *testing.T) {
	tokens := map[string]struct{}{"secret-1": {}}

	t.Run("wrong token rejected", func(t *testing.T) {
		_, url := newRemoteServer(t, testRemoteConfig(), Callbacks{}, tokens)
		conn := dialAgent(t, url)
		require.NoError(t, conn.WriteJSON(Frame{Type: FrameTypeRegister, AgentID: "builder-1", AuthToken: "nope"}))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	})

	t.Run("valid token accepted", func(t *testing.T) {
		m, url := newRemoteServer(t, testRemoteConfig(), Callbacks{}, tokens)
		conn := dialAgent(t, url)
		require.NoError(t, conn.WriteJSON(Frame{Type: FrameTypeRegister, AgentID: "builder-1", AuthToken: "secret-1"}))
		ack := readFrame(t, conn)
		assert.Equal(t, FrameTypeRegistered, ack.Type)
		require.Eventually(t, func() bool { return m.Connected("builder-1") },
			2*time.Second, 10*time.Millisecond)
	})
}

func TestDispatchRoundTrip(t *testing.T) {
	dispatchedCh := make(chan string, 1)
	respondedCh := make(chan string, 1)
	m, url := newRemoteServer(t, testRemoteConfig(), Callbacks{
		OnDispatched: func(agentID, messageID, preview string) {
			dispatchedCh <- agentID + "/" + messageID + "/" + preview
		},
		OnResponse: func(agentID, messageID, errText string) {
			respondedCh <- agentID + "/" + messageID + "/" + errText
		},
	}, nil)

	conn := dialAgent(t, url)
	registerAgent(t, conn, "builder-1", nil)
	require.Eventually(t, func() bool { return m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)

	progressCh := make(chan string, 4)
	handle, err := m.Dispatch("builder-1", "msg-3-1", "implement the parser",
		map[string]any{"tick": 3}, "sim-1",
		func(status, text string, _ map[string]any) { progressCh <- status + ":" + text })
	require.NoError(t, err)
	require.Equal(t, 1, m.PendingCount())

	// Agent sees the dispatch frame.
	df := readFrame(t, conn)
	assert.Equal(t, FrameTypeDispatch, df.Type)
	assert.Equal(t, "msg-3-1", df.MessageID)
	assert.Equal(t, "builder-1", df.AgentID)
	assert.Equal(t, "implement the parser", df.Content)
	assert.Equal(t, "sim-1", df.SessionID)
	require.NotNil(t, df.Context)
	assert.Equal(t, float64(3), df.Context["tick"])

	// Progress does not resolve the handle.
	require.NoError(t, conn.WriteJSON(Frame{
		Type: FrameTypeProgress, MessageID: "msg-3-1", AgentID: "builder-1",
		Status: "working", ProgressText: "half done",
	}))
	select {
	case p := <-progressCh:
		assert.Equal(t, "working:half done", p)
	case <-time.After(2 * time.Second):
		t.Fatal("progress callback never fired")
	}
	assert.Equal(t, 1, m.PendingCount())

	// Response resolves it.
	require.NoError(t, conn.WriteJSON(Frame{
		Type: FrameTypeResponse, MessageID: "msg-3-1", AgentID: "builder-1",
		Content: "parser done", Usage: &UsagePayload{PromptTokens: 12, CompletionTokens: 34},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := handle.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "parser done", res.Content)
	assert.False(t, res.Failed())
	require.NotNil(t, res.Usage)
	assert.Equal(t, 12, res.Usage.PromptTokens)
	assert.Equal(t, 34, res.Usage.CompletionTokens)
	assert.Zero(t, m.PendingCount())

	// The outcome is buffered for the dispatching session, once.
	outcomes := m.DrainResponses("sim-1")
	require.Len(t, outcomes, 1)
	assert.Equal(t, "msg-3-1", outcomes[0].MessageID)
	assert.Equal(t, "builder-1", outcomes[0].AgentID)
	assert.Equal(t, "parser done", outcomes[0].Result.Content)
	assert.Empty(t, m.DrainResponses("sim-1"))

	select {
	case got := <-dispatchedCh:
		assert.Equal(t, "builder-1/msg-3-1/implement the parser", got)
	case <-time.After(2 * time.Second):
		t.Fatal("OnDispatched never fired")
	}
	select {
	case got := <-respondedCh:
		assert.Equal(t, "builder-1/msg-3-1/", got)
	case <-time.After(2 * time.Second):
		t.Fatal("OnResponse never fired")
	}
}

func TestDispatchNotConnected(t *testing.T) {
	m, _ := newRemoteServer(t, testRemoteConfig(), Callbacks{}, nil)

	_, err := m.Dispatch("ghost", "msg-1-1", "anything", nil, "sim-1", nil)
	require.ErrorIs(t, err, ErrAgentNotConnected)
}

func TestDispatchPreviewTruncated(t *testing.T) {
	var preview string
	m, url := newRemoteServer(t, testRemoteConfig(), Callbacks{
		OnDispatched: func(_, _, p string) { preview = p },
	}, nil)

	conn := dialAgent(t, url)
	registerAgent(t, conn, "builder-1", nil)
	require.Eventually(t, func() bool { return m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)

	long := strings.Repeat("x", 300)
	_, err := m.Dispatch("builder-1", "msg-1-1", long, nil, "sim-1", nil)
	require.NoError(t, err)
	assert.Len(t, preview, dispatchPreviewLen)
}

func TestResponseAgentMismatchReinserts(t *testing.T) {
	m, url := newRemoteServer(t, testRemoteConfig(), Callbacks{}, nil)

	conn := dialAgent(t, url)
	registerAgent(t, conn, "builder-1", nil)
	require.Eventually(t, func() bool { return m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)

	handle, err := m.Dispatch("builder-1", "msg-1-1", "task", nil, "sim-1", nil)
	require.NoError(t, err)

	m.HandleResponse(Frame{Type: FrameTypeResponse, MessageID: "msg-1-1", AgentID: "impostor", Content: "stolen"})
	assert.Equal(t, 1, m.PendingCount())

	m.HandleResponse(Frame{Type: FrameTypeResponse, MessageID: "msg-1-1", AgentID: "builder-1", Content: "legit"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := handle.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legit", res.Content)
}

func TestResponseForUnknownDispatchIgnored(t *testing.T) {
	m, _ := newRemoteServer(t, testRemoteConfig(), Callbacks{}, nil)

	m.HandleResponse(Frame{Type: FrameTypeResponse, MessageID: "msg-9-9", AgentID: "builder-1", Content: "late"})
	assert.Empty(t, m.DrainResponses("sim-1"))
}

func TestRegisterReplacesExistingConnection(t *testing.T) {
	m, url := newRemoteServer(t, testRemoteConfig(), Callbacks{}, nil)

	first := dialAgent(t, url)
	registerAgent(t, first, "builder-1", nil)
	require.Eventually(t, func() bool { return m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)

	// A dispatch in flight on the first connection gets cancelled on replace.
	handle, err := m.Dispatch("builder-1", "msg-1-1", "task", nil, "sim-1", nil)
	require.NoError(t, err)
	readFrame(t, first) // consume the dispatch frame

	second := dialAgent(t, url)
	registerAgent(t, second, "builder-1", nil)

	// The old connection is told it was replaced.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, CloseReplaced), "got %v", err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := handle.Await(ctx)
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "replaced")

	outcomes := m.DrainResponses("sim-1")
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Result.Failed())

	// The replacement stays registered even after the stale socket dies.
	require.Never(t, func() bool { return !m.Connected("builder-1") },
		300*time.Millisecond, 25*time.Millisecond)

	// New dispatches flow to the replacement connection.
	_, err = m.Dispatch("builder-1", "msg-1-2", "task two", nil, "sim-1", nil)
	require.NoError(t, err)
	df := readFrame(t, second)
	assert.Equal(t, "msg-1-2", df.MessageID)
}

func TestHeartbeatTimeout(t *testing.T) {
	cfg := testRemoteConfig()
	cfg.HeartbeatTimeout = 150 * time.Millisecond

	lostCh := make(chan string, 1)
	reasonCh := make(chan string, 1)
	m, url := newRemoteServer(t, cfg, Callbacks{
		OnHeartbeatLost: func(agentID string) { lostCh <- agentID },
		OnDisconnected:  func(_, reason string) { reasonCh <- reason },
	}, nil)

	conn := dialAgent(t, url)
	registerAgent(t, conn, "builder-1", nil)
	require.Eventually(t, func() bool { return m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)

	handle, err := m.Dispatch("builder-1", "msg-1-1", "task", nil, "sim-1", nil)
	require.NoError(t, err)
	readFrame(t, conn) // consume the dispatch frame

	// No heartbeats: the monitor closes the connection with 4003.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, CloseHeartbeatTimeout), "got %v", err)

	select {
	case id := <-lostCh:
		assert.Equal(t, "builder-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("OnHeartbeatLost never fired")
	}

	require.Eventually(t, func() bool { return !m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)
	select {
	case reason := <-reasonCh:
		assert.Equal(t, "heartbeat_timeout", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnected never fired")
	}

	// The in-flight dispatch resolved as an error outcome.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := handle.Await(ctx)
	require.NoError(t, err)
	assert.True(t, res.Failed())
	outcomes := m.DrainResponses("sim-1")
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Result.Failed())
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	cfg := testRemoteConfig()
	cfg.HeartbeatTimeout = 150 * time.Millisecond

	m, url := newRemoteServer(t, cfg, Callbacks{}, nil)

	conn := dialAgent(t, url)
	registerAgent(t, conn, "builder-1", nil)
	require.Eventually(t, func() bool { return m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)

	for i := 0; i < 8; i++ {
		require.NoError(t, conn.WriteJSON(Frame{
			Type: FrameTypeHeartbeat, AgentID: "builder-1",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}))
		time.Sleep(50 * time.Millisecond)
	}
	assert.True(t, m.Connected("builder-1"))
}

func TestSweepStale(t *testing.T) {
	m, url := newRemoteServer(t, testRemoteConfig(), Callbacks{}, nil)

	conn := dialAgent(t, url)
	registerAgent(t, conn, "builder-1", nil)
	require.Eventually(t, func() bool { return m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)

	handle, err := m.Dispatch("builder-1", "msg-2-1", "slow task", nil, "sim-1", nil)
	require.NoError(t, err)

	// Nothing is stale yet.
	assert.Zero(t, m.SweepStale(5*time.Minute))

	m.pendingMu.Lock()
	m.pending["msg-2-1"].DispatchedAt = time.Now().UTC().Add(-10 * time.Minute)
	m.pendingMu.Unlock()

	assert.Equal(t, 1, m.SweepStale(5*time.Minute))
	assert.Zero(t, m.PendingCount())
	assert.InDelta(t, 1, testutil.ToFloat64(m.metrics.DispatchTimeouts), 0.01)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := handle.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dispatch timed out", res.Error)

	outcomes := m.DrainResponses("sim-1")
	require.Len(t, outcomes, 1)
	assert.Equal(t, "msg-2-1", outcomes[0].MessageID)
	assert.Equal(t, "dispatch timed out", outcomes[0].Result.Error)
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	m, url := newRemoteServer(t, testRemoteConfig(), Callbacks{}, nil)

	conn := dialAgent(t, url)
	registerAgent(t, conn, "builder-1", nil)
	require.Eventually(t, func() bool { return m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseProtocolError), "got %v", err)
	require.Eventually(t, func() bool { return !m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)
}

func TestUnregisterOnClientDisconnect(t *testing.T) {
	reasonCh := make(chan string, 1)
	m, url := newRemoteServer(t, testRemoteConfig(), Callbacks{
		OnDisconnected: func(_, r string) { reasonCh <- r },
	}, nil)

	conn := dialAgent(t, url)
	registerAgent(t, conn, "builder-1", nil)
	require.Eventually(t, func() bool { return m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !m.Connected("builder-1") },
		2*time.Second, 10*time.Millisecond)
	select {
	case reason := <-reasonCh:
		assert.Equal(t, "connection closed", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnected never fired")
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	m, url := newRemoteServer(t, testRemoteConfig(), Callbacks{}, nil)

	a := dialAgent(t, url)
	registerAgent(t, a, "builder-1", nil)
	b := dialAgent(t, url)
	registerAgent(t, b, "builder-2", nil)
	require.Eventually(t, func() bool { return m.Connected("builder-1") && m.Connected("builder-2") },
		2*time.Second, 10*time.Millisecond)

	handle, err := m.Dispatch("builder-1", "msg-1-1", "task", nil, "sim-1", nil)
	require.NoError(t, err)
	readFrame(t, a)

	m.Shutdown("server shutdown")

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	}
	assert.False(t, m.Connected("builder-1"))
	assert.False(t, m.Connected("builder-2"))
	assert.Zero(t, m.PendingCount())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := handle.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "server shutdown", res.Error)
}

func TestAwaitHonorsContext(t *testing.T) {
	p := newPendingDispatch("builder-1", "msg-1-1", "task", nil, "sim-1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A later resolution still lands for the next awaiter.
	p.resolve(DispatchResult{Content: "late"})
	res, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", res.Content)
}

func TestResolveAtMostOnce(t *testing.T) {
	p := newPendingDispatch("builder-1", "msg-1-1", "task", nil, "sim-1", nil)
	p.resolve(DispatchResult{Content: "first"})
	p.cancel("second")

	res, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", res.Content)
	assert.False(t, res.Failed())
}
