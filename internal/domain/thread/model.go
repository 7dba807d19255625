// Package thread groups extracted context nodes into threads of ongoing
// activity by asking a reasoning model for clustering decisions.
package thread

import (
	"strings"
	"time"
)

// Status is the thread lifecycle state. Transitions are monotonic:
// active -> inactive -> closed; closed never reverts.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusClosed   Status = "closed"
)

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusInactive || next == StatusClosed
	case StatusInactive:
		return next == StatusClosed
	default:
		return false
	}
}

// Thread is one clustered sequence of related activity.
type Thread struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	CurrentPhase string    `json:"current_phase"`
	CurrentFocus string    `json:"current_focus"`
	MainProject  string    `json:"main_project"`
	Status       Status    `json:"status"`
	StartTime    time.Time `json:"start_time"`
	LastActiveAt time.Time `json:"last_active_at"`
	DurationMs   int64     `json:"duration_ms"`
	NodeCount    int       `json:"node_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NodeKind discriminates the payload of a context node.
type NodeKind string

const (
	NodeKindEvent     NodeKind = "event"
	NodeKindKnowledge NodeKind = "knowledge"
	NodeKindState     NodeKind = "state"
)

// NodePayload carries the kind-specific fields. Subject is set for
// knowledge and state nodes; Detail is free-form.
type NodePayload struct {
	Subject string `json:"subject,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Node is one extracted unit of knowledge, event, or state. The engine
// reads nodes and updates only their thread association.
type Node struct {
	ID        string      `json:"id"`
	ThreadID  string      `json:"thread_id,omitempty"`
	Kind      NodeKind    `json:"kind"`
	Title     string      `json:"title"`
	Summary   string      `json:"summary"`
	Keywords  []string    `json:"keywords,omitempty"`
	Entities  []string    `json:"entities,omitempty"`
	Payload   NodePayload `json:"payload"`
	EventTime time.Time   `json:"event_time"`
	CreatedAt time.Time   `json:"created_at"`
}

// DerivedEntities merges the node's keywords with its entity references and
// any kind-specific subject, deduplicated case-insensitively while
// preserving first-seen order. The model sees one consistent entity
// vocabulary regardless of node kind.
func (n *Node) DerivedEntities() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(v string) {
		if v == "" {
			return
		}
		k := normalizeEntity(v)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	for _, kw := range n.Keywords {
		add(kw)
	}
	for _, e := range n.Entities {
		add(e)
	}
	add(n.Payload.Subject)
	return out
}

func normalizeEntity(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
