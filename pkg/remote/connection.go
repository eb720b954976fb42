package remote

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AgentConnection is one registered remote agent. The manager owns the
// lifecycle; the per-connection write mutex serializes every frame sent on
// the socket, including close frames.
type AgentConnection struct {
	AgentID      string
	SessionID    string
	Capabilities []string
	Workdir      string
	Metadata     map[string]any
	ConnectedAt  time.Time

	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration

	hbMu          sync.Mutex
	lastHeartbeat time.Time
}

func newAgentConnection(agentID, sessionID string, conn *websocket.Conn, reg Frame, writeTimeout time.Duration) *AgentConnection {
	now := time.Now().UTC()
	return &AgentConnection{
		AgentID:       agentID,
		SessionID:     sessionID,
		Capabilities:  reg.Capabilities,
		Workdir:       reg.Workdir,
		Metadata:      reg.Metadata,
		ConnectedAt:   now,
		conn:          conn,
		writeTimeout:  writeTimeout,
		lastHeartbeat: now,
	}
}

// send marshals v and writes it as one text frame, holding the write mutex
// for the duration so concurrent dispatchers never interleave frames.
func (c *AgentConnection) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame with the given code and reason, then tears down
// the socket. Errors are ignored; the peer may already be gone.
func (c *AgentConnection) close(code int, reason string) {
	c.writeMu.Lock()
	deadline := time.Now().Add(c.writeTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

// touch records a heartbeat arrival.
func (c *AgentConnection) touch() {
	c.hbMu.Lock()
	c.lastHeartbeat = time.Now().UTC()
	c.hbMu.Unlock()
}

// LastHeartbeat returns the time of the most recent heartbeat (or the
// registration time if none arrived yet).
func (c *AgentConnection) LastHeartbeat() time.Time {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	return c.lastHeartbeat
}
