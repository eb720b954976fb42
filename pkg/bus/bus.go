// Package bus gates and queues inter-agent messages for one session. The
// communication graph decides who may talk to whom; everything the bus does
// lands in the session's event log.
package bus

import (
	"context"
	"fmt"

	"github.com/vibeforge/vibeforge/pkg/events"
	"github.com/vibeforge/vibeforge/pkg/graph"
	"github.com/vibeforge/vibeforge/pkg/models"
)

// ReasonNotConfigured is the blocked reason when an endpoint is not a
// roster member.
const ReasonNotConfigured = "source/target agent not configured"

// Bus wraps one session's message queue. It is cheap to construct and not
// goroutine-safe: callers hold the per-session lock, and the tick engine
// builds a fresh Bus per tick so the sent/blocked counters and the event
// buffer are tick-scoped.
type Bus struct {
	s   *models.Session
	log *events.Publisher

	sent    int
	blocked int
	emitted []models.Event
}

// New builds a Bus over the session's queue and graph.
func New(s *models.Session, log *events.Publisher) *Bus {
	return &Bus{s: s, log: log}
}

// Validate reports whether from may send to to, and the blocked reason when
// not. Allowed when any of: self-message, orchestrator sender, graph edge
// from -> to, or a bidirectional edge to -> from.
func (b *Bus) Validate(from, to string) (bool, string) {
	if from == to {
		return true, ""
	}
	if !b.s.HasAgent(from) || !b.s.HasAgent(to) {
		return false, ReasonNotConfigured
	}
	if a := b.s.Agent(from); a != nil && a.Role == models.RoleOrchestrator {
		return true, ""
	}
	if graph.HasEdge(b.s.Graph, from, to) {
		return true, ""
	}
	return false, fmt.Sprintf("%s ↛ %s not allowed", from, to)
}

// Send validates and enqueues one message at the session's current tick.
// Blocked sends record a message_blocked_by_graph event and leave the queue
// untouched. bypass skips validation for system-synthesized messages.
func (b *Bus) Send(ctx context.Context, from, to string, content models.MessageContent, bypass bool) (bool, *models.Message) {
	if !bypass {
		if ok, reason := b.Validate(from, to); !ok {
			b.blocked++
			b.record(b.log.MessageBlocked(ctx, b.s, from, to, reason))
			return false, nil
		}
	}

	m := models.NewMessage(b.s.TickIndex, b.s.NextMessageCounter(), from, to, content)
	b.s.Queue = append(b.s.Queue, m)
	b.sent++
	b.record(b.log.MessageSent(ctx, b.s, m, bypass))
	return true, m
}

// PendingFor returns the undelivered, unblocked messages addressed to
// agentID, in queue order.
func (b *Bus) PendingFor(agentID string) []*models.Message {
	var out []*models.Message
	for _, m := range b.s.Queue {
		if m.To == agentID && !m.Delivered && !m.Blocked {
			out = append(out, m)
		}
	}
	return out
}

// NextDeliverable returns the first undelivered, unblocked message whose
// sender has not acted this tick, or nil.
func (b *Bus) NextDeliverable(acted map[string]bool) *models.Message {
	for _, m := range b.s.Queue {
		if m.Delivered || m.Blocked {
			continue
		}
		if acted[m.From] {
			continue
		}
		return m
	}
	return nil
}

// Deliver marks a message delivered at tick. Delivery is monotone.
func (b *Bus) Deliver(m *models.Message, tick int) {
	m.MarkDelivered(tick)
}

// ClearDelivered removes all delivered messages from the queue and returns
// how many were removed.
func (b *Bus) ClearDelivered() int {
	kept := b.s.Queue[:0]
	removed := 0
	for _, m := range b.s.Queue {
		if m.Delivered {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(b.s.Queue); i++ {
		b.s.Queue[i] = nil
	}
	b.s.Queue = kept
	return removed
}

// SentCount returns the messages accepted through this Bus instance.
func (b *Bus) SentCount() int { return b.sent }

// BlockedCount returns the sends rejected through this Bus instance.
func (b *Bus) BlockedCount() int { return b.blocked }

// DrainEvents returns and clears the events recorded through this Bus.
func (b *Bus) DrainEvents() []models.Event {
	out := b.emitted
	b.emitted = nil
	return out
}

func (b *Bus) record(e *models.Event) {
	if e != nil {
		b.emitted = append(b.emitted, *e)
	}
}
