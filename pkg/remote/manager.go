package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vibeforge/vibeforge/pkg/config"
	"github.com/vibeforge/vibeforge/pkg/metrics"
)

var (
	// ErrAgentNotConnected is returned by Dispatch when the target agent has
	// no live connection.
	ErrAgentNotConnected = errors.New("agent not connected")

	// ErrDispatchTimeout is returned by callers that bound a dispatch await
	// with a deadline.
	ErrDispatchTimeout = errors.New("dispatch timed out")
)

// dispatchPreviewLen caps the content preview passed to OnDispatched.
const dispatchPreviewLen = 100

// Callbacks are optional hooks fired on connection and dispatch lifecycle
// transitions. Nil members are skipped. Hooks run on manager goroutines and
// must not block.
type Callbacks struct {
	OnConnected     func(agentID, sessionID string)
	OnDisconnected  func(agentID, reason string)
	OnDispatched    func(agentID, messageID, preview string)
	OnProgress      func(agentID, messageID, status, text string)
	OnResponse      func(agentID, messageID, errText string)
	OnHeartbeatLost func(agentID string)
}

// Manager is the process-wide remote agent registry. It owns every agent
// connection, every pending dispatch, and the heartbeat monitor.
type Manager struct {
	heartbeatTimeout time.Duration
	checkInterval    time.Duration
	writeTimeout     time.Duration
	callbacks        Callbacks
	metrics          *metrics.Metrics

	mu    sync.RWMutex
	conns map[string]*AgentConnection

	// pendingMu guards both pending and arrived. Resolved outcomes are
	// buffered in arrived until the owning session's tick drains them.
	pendingMu sync.Mutex
	pending   map[string]*PendingDispatch
	arrived   map[string][]DispatchOutcome

	monitorMu   sync.Mutex
	monitorStop chan struct{}
	monitorDone chan struct{}
}

// NewManager builds a Manager from the remote section of the config.
func NewManager(cfg config.RemoteConfig, cb Callbacks, m *metrics.Metrics) *Manager {
	if m == nil {
		m = metrics.Default()
	}
	return &Manager{
		heartbeatTimeout: cfg.HeartbeatTimeout,
		checkInterval:    cfg.HeartbeatInterval,
		writeTimeout:     cfg.WriteTimeout,
		callbacks:        cb,
		metrics:          m,
		conns:            make(map[string]*AgentConnection),
		pending:          make(map[string]*PendingDispatch),
		arrived:          make(map[string][]DispatchOutcome),
	}
}

// Register installs a new agent connection. An existing connection under the
// same agent id is closed with code 4002 and its pending dispatches are
// cancelled. The agent's session id comes from the register frame metadata
// when present, otherwise a fresh one is generated.
func (m *Manager) Register(agentID string, conn *websocket.Conn, reg Frame) (*AgentConnection, error) {
	if agentID == "" {
		return nil, fmt.Errorf("register: agent_id is required")
	}

	sessionID := ""
	if v, ok := reg.Metadata["session_id"].(string); ok {
		sessionID = v
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	ac := newAgentConnection(agentID, sessionID, conn, reg, m.writeTimeout)

	m.mu.Lock()
	old := m.conns[agentID]
	m.conns[agentID] = ac
	count := len(m.conns)
	m.mu.Unlock()

	if old != nil {
		old.close(CloseReplaced, "replaced")
		m.cancelPendingFor(agentID, "replaced by new registration")
	}

	m.monitorMu.Lock()
	m.startMonitorLocked()
	m.monitorMu.Unlock()

	m.metrics.AgentConnections.Set(float64(count))
	slog.Info("Remote agent registered",
		"agent_id", agentID, "session_id", sessionID, "replaced", old != nil)
	if cb := m.callbacks.OnConnected; cb != nil {
		cb(agentID, sessionID)
	}
	return ac, nil
}

// Unregister removes the agent's connection, cancels its pending dispatches
// and stops the heartbeat monitor when no connections remain. The socket
// itself is closed by the caller. Unknown agents are a no-op.
func (m *Manager) Unregister(agentID, reason string) {
	m.mu.RLock()
	c := m.conns[agentID]
	m.mu.RUnlock()
	if c != nil {
		m.unregisterConn(c, reason)
	}
}

// unregisterConn removes exactly this connection. A connection that was
// already replaced by a newer registration is left alone, so a stale read
// loop exiting late cannot evict its successor.
func (m *Manager) unregisterConn(c *AgentConnection, reason string) {
	m.mu.Lock()
	cur, ok := m.conns[c.AgentID]
	if !ok || cur != c {
		m.mu.Unlock()
		return
	}
	delete(m.conns, c.AgentID)
	remaining := len(m.conns)
	m.mu.Unlock()

	m.cancelPendingFor(c.AgentID, "agent disconnected: "+reason)

	if remaining == 0 {
		m.monitorMu.Lock()
		m.stopMonitorLocked()
		m.monitorMu.Unlock()
	}

	m.metrics.AgentConnections.Set(float64(remaining))
	slog.Info("Remote agent unregistered", "agent_id", c.AgentID, "reason", reason)
	if cb := m.callbacks.OnDisconnected; cb != nil {
		cb(c.AgentID, reason)
	}
}

// Dispatch sends a task to a connected agent and returns a handle the caller
// may await. The response is also buffered for DrainResponses under the
// dispatch's session id.
func (m *Manager) Dispatch(agentID, messageID, content string, taskCtx map[string]any, sessionID string, progress ProgressFunc) (*PendingDispatch, error) {
	m.mu.RLock()
	c := m.conns[agentID]
	m.mu.RUnlock()
	if c == nil {
		return nil, fmt.Errorf("dispatch %s to %s: %w", messageID, agentID, ErrAgentNotConnected)
	}

	p := newPendingDispatch(agentID, messageID, content, taskCtx, sessionID, progress)
	m.pendingMu.Lock()
	m.pending[messageID] = p
	m.pendingMu.Unlock()

	frame := Frame{
		Type:      FrameTypeDispatch,
		MessageID: messageID,
		AgentID:   agentID,
		Content:   content,
		Context:   taskCtx,
		SessionID: sessionID,
	}
	if err := c.send(frame); err != nil {
		m.pendingMu.Lock()
		delete(m.pending, messageID)
		m.pendingMu.Unlock()
		return nil, fmt.Errorf("send dispatch %s to %s: %w", messageID, agentID, err)
	}

	slog.Info("Task dispatched to remote agent",
		"agent_id", agentID, "message_id", messageID, "session_id", sessionID)
	if cb := m.callbacks.OnDispatched; cb != nil {
		cb(agentID, messageID, truncate(content, dispatchPreviewLen))
	}
	return p, nil
}

// HandleProgress forwards a progress frame to the dispatch's progress
// callback. Frames for unknown dispatches or with a mismatched agent id are
// dropped.
func (m *Manager) HandleProgress(f Frame) {
	m.pendingMu.Lock()
	p := m.pending[f.MessageID]
	m.pendingMu.Unlock()
	if p == nil || p.AgentID != f.AgentID {
		return
	}
	if p.progress != nil {
		p.progress(f.Status, f.ProgressText, f.Metadata)
	}
	if cb := m.callbacks.OnProgress; cb != nil {
		cb(f.AgentID, f.MessageID, f.Status, f.ProgressText)
	}
}

// HandleResponse resolves the matching pending dispatch. A response whose
// agent id does not match the recorded dispatch is reinserted and ignored.
func (m *Manager) HandleResponse(f Frame) {
	m.pendingMu.Lock()
	p, ok := m.pending[f.MessageID]
	if ok {
		delete(m.pending, f.MessageID)
	}
	m.pendingMu.Unlock()
	if !ok {
		slog.Warn("Response for unknown dispatch",
			"agent_id", f.AgentID, "message_id", f.MessageID)
		return
	}
	if p.AgentID != f.AgentID {
		slog.Warn("Response agent mismatch",
			"message_id", f.MessageID, "want", p.AgentID, "got", f.AgentID)
		m.pendingMu.Lock()
		m.pending[f.MessageID] = p
		m.pendingMu.Unlock()
		return
	}

	// Buffer before resolving, so a caller that drains as soon as Await
	// returns finds the outcome already present.
	res := DispatchResult{Content: f.Content, Usage: f.Usage, Error: f.Error}
	m.pushOutcome(p.outcome(res))
	p.resolve(res)

	slog.Info("Remote agent responded",
		"agent_id", f.AgentID, "message_id", f.MessageID, "errored", f.Error != "")
	if cb := m.callbacks.OnResponse; cb != nil {
		cb(f.AgentID, f.MessageID, f.Error)
	}
}

// HandleHeartbeat refreshes the agent's heartbeat clock. Unknown agents are
// ignored without logging.
func (m *Manager) HandleHeartbeat(agentID string) {
	m.mu.RLock()
	c := m.conns[agentID]
	m.mu.RUnlock()
	if c != nil {
		c.touch()
	}
}

// DrainResponses returns and clears the resolved outcomes buffered for a
// session. The tick engine calls this at the start of every tick.
func (m *Manager) DrainResponses(sessionID string) []DispatchOutcome {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	out := m.arrived[sessionID]
	delete(m.arrived, sessionID)
	return out
}

// SweepStale cancels every pending dispatch older than olderThan, buffering
// an error outcome for the owning session. Returns the number swept.
func (m *Manager) SweepStale(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)

	m.pendingMu.Lock()
	var stale []*PendingDispatch
	for id, p := range m.pending {
		if p.DispatchedAt.Before(cutoff) {
			stale = append(stale, p)
			delete(m.pending, id)
		}
	}
	for _, p := range stale {
		res := DispatchResult{Error: "dispatch timed out"}
		p.resolve(res)
		m.arrived[p.SessionID] = append(m.arrived[p.SessionID], p.outcome(res))
	}
	m.pendingMu.Unlock()

	for _, p := range stale {
		m.metrics.DispatchTimeouts.Inc()
		slog.Warn("Stale dispatch swept",
			"agent_id", p.AgentID, "message_id", p.MessageID, "dispatched_at", p.DispatchedAt)
	}
	return len(stale)
}

// Connected reports whether the agent currently has a live connection.
func (m *Manager) Connected(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[agentID]
	return ok
}

// Connection returns the live connection for an agent id.
func (m *Manager) Connection(agentID string) (*AgentConnection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[agentID]
	return c, ok
}

// AgentInfo is the read-only projection of a live connection.
type AgentInfo struct {
	AgentID       string    `json:"agent_id"`
	SessionID     string    `json:"session_id"`
	Capabilities  []string  `json:"capabilities,omitempty"`
	Workdir       string    `json:"workdir,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// List returns a snapshot of all live connections, ordered by agent id.
func (m *Manager) List() []AgentInfo {
	m.mu.RLock()
	out := make([]AgentInfo, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, AgentInfo{
			AgentID:       c.AgentID,
			SessionID:     c.SessionID,
			Capabilities:  c.Capabilities,
			Workdir:       c.Workdir,
			ConnectedAt:   c.ConnectedAt,
			LastHeartbeat: c.LastHeartbeat(),
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// PendingCount returns the number of unresolved dispatches.
func (m *Manager) PendingCount() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}

// Shutdown stops the heartbeat monitor, closes every connection with a
// going-away frame and cancels all pending dispatches.
func (m *Manager) Shutdown(reason string) {
	m.monitorMu.Lock()
	stop, done := m.monitorStop, m.monitorDone
	m.monitorStop, m.monitorDone = nil, nil
	m.monitorMu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}

	m.mu.Lock()
	conns := make([]*AgentConnection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*AgentConnection)
	m.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, reason)
	}

	m.pendingMu.Lock()
	for id, p := range m.pending {
		delete(m.pending, id)
		p.cancel(reason)
	}
	m.arrived = make(map[string][]DispatchOutcome)
	m.pendingMu.Unlock()

	m.metrics.AgentConnections.Set(0)
	slog.Info("Remote manager shut down", "reason", reason, "connections_closed", len(conns))
}

// cancelPendingFor resolves every pending dispatch addressed to agentID with
// an error result and buffers the outcomes for their sessions.
func (m *Manager) cancelPendingFor(agentID, reason string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	for id, p := range m.pending {
		if p.AgentID != agentID {
			continue
		}
		delete(m.pending, id)
		res := DispatchResult{Error: reason}
		p.resolve(res)
		m.arrived[p.SessionID] = append(m.arrived[p.SessionID], p.outcome(res))
	}
}

func (m *Manager) pushOutcome(o DispatchOutcome) {
	m.pendingMu.Lock()
	m.arrived[o.SessionID] = append(m.arrived[o.SessionID], o)
	m.pendingMu.Unlock()
}

// startMonitorLocked launches the heartbeat monitor goroutine if it is not
// already running. Caller holds monitorMu.
func (m *Manager) startMonitorLocked() {
	if m.monitorStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.monitorStop, m.monitorDone = stop, done
	go m.monitorLoop(stop, done)
}

// stopMonitorLocked signals the monitor to exit without waiting for it.
// Caller holds monitorMu. The monitor itself reaches here via unregisterConn
// when it evicts the last connection, so waiting would deadlock.
func (m *Manager) stopMonitorLocked() {
	if m.monitorStop == nil {
		return
	}
	close(m.monitorStop)
	m.monitorStop, m.monitorDone = nil, nil
}

func (m *Manager) monitorLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sweepHeartbeats()
		}
	}
}

// sweepHeartbeats closes and unregisters every connection whose last
// heartbeat is older than the timeout.
func (m *Manager) sweepHeartbeats() {
	cutoff := time.Now().UTC().Add(-m.heartbeatTimeout)

	m.mu.RLock()
	var expired []*AgentConnection
	for _, c := range m.conns {
		if c.LastHeartbeat().Before(cutoff) {
			expired = append(expired, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range expired {
		slog.Warn("Agent heartbeat lost",
			"agent_id", c.AgentID, "last_heartbeat", c.LastHeartbeat())
		c.close(CloseHeartbeatTimeout, "heartbeat timeout")
		if cb := m.callbacks.OnHeartbeatLost; cb != nil {
			cb(c.AgentID)
		}
		m.unregisterConn(c, "heartbeat_timeout")
	}
}

// truncate caps s at n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
