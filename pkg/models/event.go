package models

import "time"

// Event is one line of a session's append-only event log. Values round-trip
// through JSON unchanged; the log file holds one serialized Event per line.
type Event struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Phase     *string        `json:"phase"`
	TaskID    *string        `json:"task_id"`
	Metadata  map[string]any `json:"metadata"`
}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(eventType, sessionID, message string) *Event {
	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Message:   message,
		Metadata:  make(map[string]any),
	}
}

// WithPhase attaches the session phase to the event.
func (e *Event) WithPhase(p Phase) *Event {
	s := string(p)
	e.Phase = &s
	return e
}

// WithTaskID attaches a task id to the event.
func (e *Event) WithTaskID(taskID string) *Event {
	e.TaskID = &taskID
	return e
}

// WithMeta sets one metadata key.
func (e *Event) WithMeta(key string, value any) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// TickIndex extracts metadata.tick_index when present. JSON decoding turns
// numbers into float64, so both int and float64 are accepted.
func (e *Event) TickIndex() (int, bool) {
	return e.metaInt("tick_index")
}

func (e *Event) metaInt(key string) (int, bool) {
	v, ok := e.Metadata[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// MetaString extracts a string metadata value, or "" when absent.
func (e *Event) MetaString(key string) string {
	if v, ok := e.Metadata[key].(string); ok {
		return v
	}
	return ""
}
