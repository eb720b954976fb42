package events

import "github.com/vibeforge/vibeforge/pkg/models"

// Filter selects a slice of a session's event log. All set fields must match
// (conjunction); zero values mean "any".
type Filter struct {
	// EventType matches the event_type field exactly.
	EventType string
	// TickIndex matches metadata.tick_index exactly.
	TickIndex *int
	// TickMin / TickMax bound metadata.tick_index inclusively. Events
	// without a tick_index never match a bound.
	TickMin *int
	TickMax *int
	// AgentID matches metadata.agent_id, metadata.from_agent or
	// metadata.sender.
	AgentID string
	// Limit retains only the most recent N events after filtering.
	Limit int
}

// Apply returns the events matching the filter, preserving order.
func (f Filter) Apply(all []models.Event) []models.Event {
	out := make([]models.Event, 0, len(all))
	for _, e := range all {
		if f.matches(&e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func (f Filter) matches(e *models.Event) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.TickIndex != nil || f.TickMin != nil || f.TickMax != nil {
		tick, ok := e.TickIndex()
		if !ok {
			return false
		}
		if f.TickIndex != nil && tick != *f.TickIndex {
			return false
		}
		if f.TickMin != nil && tick < *f.TickMin {
			return false
		}
		if f.TickMax != nil && tick > *f.TickMax {
			return false
		}
	}
	if f.AgentID != "" {
		if e.MetaString("agent_id") != f.AgentID &&
			e.MetaString("from_agent") != f.AgentID &&
			e.MetaString("sender") != f.AgentID {
			return false
		}
	}
	return true
}
