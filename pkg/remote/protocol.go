// Package remote maintains duplex WebSocket channels to remote agents: a
// process-wide connection registry, pending task dispatches with at-most-once
// resolution, and a heartbeat monitor that evicts silent connections.
package remote

// Frame types exchanged on the agent channel. A single envelope carries all
// frame kinds; Type selects which fields are meaningful.
const (
	FrameTypeRegister   = "register"
	FrameTypeRegistered = "registered"
	FrameTypeDispatch   = "dispatch"
	FrameTypeProgress   = "progress"
	FrameTypeResponse   = "response"
	FrameTypeHeartbeat  = "heartbeat"
)

// Close codes sent by the server, in the private-use WebSocket range.
const (
	CloseNotRegistered    = 4001 // first frame was not a valid register
	CloseReplaced         = 4002 // a new registration took over this agent id
	CloseHeartbeatTimeout = 4003 // no heartbeat within the configured timeout
)

// Frame is the wire envelope for every message on the agent channel.
//
//   - register (client→server): type, agent_id, auth_token, capabilities,
//     workdir?, metadata?
//   - registered (server→client): type, session_id, agent_id, message
//   - dispatch (server→client): type, message_id, agent_id, content, context,
//     session_id?
//   - progress (client→server): type, message_id, agent_id, status,
//     progress_text, metadata?
//   - response (client→server): type, message_id, agent_id, content, usage?,
//     error?
//   - heartbeat (either side): type, agent_id, timestamp
type Frame struct {
	Type         string         `json:"type"`
	AgentID      string         `json:"agent_id,omitempty"`
	AuthToken    string         `json:"auth_token,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Workdir      string         `json:"workdir,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Message      string         `json:"message,omitempty"`
	MessageID    string         `json:"message_id,omitempty"`
	Content      string         `json:"content,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Status       string         `json:"status,omitempty"`
	ProgressText string         `json:"progress_text,omitempty"`
	Usage        *UsagePayload  `json:"usage,omitempty"`
	Error        string         `json:"error,omitempty"`
	Timestamp    string         `json:"timestamp,omitempty"`
}

// UsagePayload is the token usage a remote agent reports with its response.
type UsagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
