// Package graph validates communication graphs and answers neighbor
// queries. The graph is a plain reachability structure: directed edges over
// roster agent ids, with optional bidirectional edges. Cycles are expected
// and allowed: agents legitimately round-trip (worker -> reviewer ->
// worker), so no acyclicity check exists here.
package graph

import (
	"github.com/vibeforge/vibeforge/pkg/models"
)

// Validate checks that every edge endpoint is a member of agentIDs.
func Validate(edges []models.GraphEdge, agentIDs []string) error {
	members := make(map[string]struct{}, len(agentIDs))
	for _, id := range agentIDs {
		members[id] = struct{}{}
	}
	for _, e := range edges {
		if e.From == "" || e.To == "" {
			return models.NewValidationError("graph", "edge endpoints must be non-empty")
		}
		if _, ok := members[e.From]; !ok {
			return models.NewValidationError("graph", "edge source %q is not a roster agent", e.From)
		}
		if _, ok := members[e.To]; !ok {
			return models.NewValidationError("graph", "edge target %q is not a roster agent", e.To)
		}
	}
	return nil
}

// HasEdge reports whether a directed edge from -> to exists, counting
// bidirectional edges in either orientation.
func HasEdge(edges []models.GraphEdge, from, to string) bool {
	for _, e := range edges {
		if e.From == from && e.To == to {
			return true
		}
		if e.Bidirectional && e.From == to && e.To == from {
			return true
		}
	}
	return false
}

// Successors returns the distinct agents reachable from id in one hop.
// Bidirectional edges contribute their far endpoint regardless of
// orientation.
func Successors(edges []models.GraphEdge, id string) []string {
	return neighbors(edges, id, true)
}

// Predecessors returns the distinct agents with a one-hop edge into id.
func Predecessors(edges []models.GraphEdge, id string) []string {
	return neighbors(edges, id, false)
}

func neighbors(edges []models.GraphEdge, id string, outgoing bool) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(n string) {
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for _, e := range edges {
		if outgoing {
			if e.From == id {
				add(e.To)
			} else if e.Bidirectional && e.To == id {
				add(e.From)
			}
		} else {
			if e.To == id {
				add(e.From)
			} else if e.Bidirectional && e.From == id {
				add(e.To)
			}
		}
	}
	return out
}
