package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// registerDeadline bounds how long a fresh connection may take to send its
// register frame before the server hangs up.
const registerDeadline = 10 * time.Second

// Handler runs the agent side of the duplex protocol on upgraded WebSocket
// connections. When tokens is non-empty, register frames must carry one of
// them as auth_token.
type Handler struct {
	manager *Manager
	tokens  map[string]struct{}
}

// NewHandler builds a Handler over the manager. tokens may be nil to disable
// registration auth.
func NewHandler(manager *Manager, tokens map[string]struct{}) *Handler {
	return &Handler{manager: manager, tokens: tokens}
}

// HandleConnection drives one agent connection to completion: register
// handshake, registered ack, then the frame read loop. Blocks until the
// connection closes.
func (h *Handler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(registerDeadline))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return
	}

	var reg Frame
	if err := json.Unmarshal(data, &reg); err != nil || reg.Type != FrameTypeRegister || reg.AgentID == "" {
		closeWith(conn, CloseNotRegistered, "first frame must be register with agent_id")
		return
	}
	if len(h.tokens) > 0 {
		if _, ok := h.tokens[reg.AuthToken]; !ok {
			slog.Warn("Agent registration rejected", "agent_id", reg.AgentID, "reason", "invalid auth token")
			closeWith(conn, websocket.ClosePolicyViolation, "invalid auth token")
			return
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	ac, err := h.manager.Register(reg.AgentID, conn, reg)
	if err != nil {
		closeWith(conn, CloseNotRegistered, err.Error())
		return
	}

	ack := Frame{
		Type:      FrameTypeRegistered,
		SessionID: ac.SessionID,
		AgentID:   ac.AgentID,
		Message:   "registered",
	}
	if err := ac.send(ack); err != nil {
		h.manager.unregisterConn(ac, "registered ack failed")
		_ = conn.Close()
		return
	}

	h.readLoop(ctx, ac)
}

// readLoop processes inbound frames until the socket dies or the agent sends
// something unparseable. The connection identity is authoritative for
// heartbeat attribution; the frame agent_id only matters for dispatches.
func (h *Handler) readLoop(ctx context.Context, ac *AgentConnection) {
	defer func() {
		h.manager.unregisterConn(ac, "connection closed")
		_ = ac.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := ac.conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("Malformed frame from agent", "agent_id", ac.AgentID, "error", err)
			ac.close(websocket.CloseProtocolError, "malformed frame")
			return
		}

		switch f.Type {
		case FrameTypeHeartbeat:
			h.manager.HandleHeartbeat(ac.AgentID)
		case FrameTypeProgress:
			h.manager.HandleProgress(f)
		case FrameTypeResponse:
			h.manager.HandleResponse(f)
		case FrameTypeRegister:
			slog.Warn("Duplicate register frame ignored", "agent_id", ac.AgentID)
		default:
			slog.Debug("Unknown frame type ignored", "agent_id", ac.AgentID, "type", f.Type)
		}
	}
}

// closeWith sends a close frame on a connection that never completed
// registration, then closes the socket.
func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(registerDeadline)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
