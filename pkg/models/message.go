package models

import "fmt"

// Message is one queued inter-agent message. IDs embed the creation tick and
// a per-session counter ("msg-<tick>-<counter>") so insertion order is
// reconstructable from the id alone.
type Message struct {
	ID            string         `json:"message_id"`
	From          string         `json:"from_agent"`
	To            string         `json:"to_agent"`
	Content       MessageContent `json:"content"`
	TickCreated   int            `json:"tick_created"`
	TickDelivered *int           `json:"tick_delivered,omitempty"`
	Delivered     bool           `json:"is_delivered"`
	Blocked       bool           `json:"is_blocked"`
	BlockedReason string         `json:"blocked_reason,omitempty"`
}

// MessageContent is the structured message payload.
type MessageContent struct {
	Text           string `json:"text"`
	ExpectResponse bool   `json:"expect_response,omitempty"`
	IsStub         bool   `json:"is_stub,omitempty"`
	Delegation     bool   `json:"delegation,omitempty"`
	FinalAnswer    bool   `json:"final_answer,omitempty"`
	StubHash       string `json:"stub_hash,omitempty"`
	InResponseTo   string `json:"in_response_to,omitempty"`
}

// MessageID builds the canonical message id for a tick and counter value.
func MessageID(tick, counter int) string {
	return fmt.Sprintf("msg-%d-%d", tick, counter)
}

// NewMessage constructs an undelivered, unblocked message created at tick.
func NewMessage(tick, counter int, from, to string, content MessageContent) *Message {
	return &Message{
		ID:          MessageID(tick, counter),
		From:        from,
		To:          to,
		Content:     content,
		TickCreated: tick,
	}
}

// MarkDelivered flags the message as delivered at tick. Delivery is
// monotone: a delivered message is never reverted.
func (m *Message) MarkDelivered(tick int) {
	if m.Delivered {
		return
	}
	m.Delivered = true
	t := tick
	m.TickDelivered = &t
}

// Map returns the content as a metadata-friendly map, holding only the
// populated fields. Used for event metadata and for stub hashing.
func (c MessageContent) Map() map[string]any {
	out := map[string]any{"text": c.Text}
	if c.ExpectResponse {
		out["expect_response"] = true
	}
	if c.IsStub {
		out["is_stub"] = true
	}
	if c.Delegation {
		out["delegation"] = true
	}
	if c.FinalAnswer {
		out["final_answer"] = true
	}
	if c.StubHash != "" {
		out["stub_hash"] = c.StubHash
	}
	if c.InResponseTo != "" {
		out["in_response_to"] = c.InResponseTo
	}
	return out
}
