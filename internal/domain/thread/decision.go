package thread

import (
	"encoding/json"
	"fmt"
)

// NewThreadID is the sentinel thread id the model uses to request a new
// thread for an assignment group.
const NewThreadID = "new"

// Assignment maps a group of batch nodes onto one thread, existing or new.
type Assignment struct {
	NodeIDs      []string `json:"node_ids"`
	ThreadID     string   `json:"thread_id"`
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	CurrentPhase string   `json:"current_phase"`
	CurrentFocus string   `json:"current_focus"`
	MainProject  string   `json:"main_project"`
}

// Decision is the model's full clustering output.
type Decision struct {
	Assignments []Assignment `json:"assignments"`
}

// DecisionResult is a tagged validation outcome. Exactly one of Valid or
// Invalid is set; an invalid result keeps the raw model text for diagnosis.
type DecisionResult struct {
	Valid   *Decision
	Invalid *InvalidDecision
}

// InvalidDecision describes why the model output was rejected.
type InvalidDecision struct {
	RawText string
	Errors  []string
}

// ParseDecision parses and validates the model output against the batch and
// the considered thread set. Validation enforces full coverage: every batch
// node is assigned exactly once, and every referenced thread id is either
// the new-thread sentinel or one the model was shown.
func ParseDecision(raw string, batchNodeIDs, consideredThreadIDs []string) DecisionResult {
	invalid := func(errs ...string) DecisionResult {
		return DecisionResult{Invalid: &InvalidDecision{RawText: raw, Errors: errs}}
	}

	var dec Decision
	if err := json.Unmarshal([]byte(raw), &dec); err != nil {
		return invalid(fmt.Sprintf("malformed json: %v", err))
	}
	if len(dec.Assignments) == 0 {
		return invalid("no assignments")
	}

	known := make(map[string]struct{}, len(consideredThreadIDs))
	for _, id := range consideredThreadIDs {
		known[id] = struct{}{}
	}
	expected := make(map[string]struct{}, len(batchNodeIDs))
	for _, id := range batchNodeIDs {
		expected[id] = struct{}{}
	}

	var errs []string
	assigned := make(map[string]struct{}, len(batchNodeIDs))
	for i, a := range dec.Assignments {
		if len(a.NodeIDs) == 0 {
			errs = append(errs, fmt.Sprintf("assignment %d has no node ids", i))
		}
		if a.ThreadID == "" {
			errs = append(errs, fmt.Sprintf("assignment %d has no thread id", i))
		} else if a.ThreadID != NewThreadID {
			if _, ok := known[a.ThreadID]; !ok {
				errs = append(errs, fmt.Sprintf("assignment %d references unknown thread %q", i, a.ThreadID))
			}
		}
		if a.ThreadID == NewThreadID && a.Title == "" {
			errs = append(errs, fmt.Sprintf("assignment %d creates a thread without a title", i))
		}
		for _, nodeID := range a.NodeIDs {
			if _, ok := expected[nodeID]; !ok {
				errs = append(errs, fmt.Sprintf("assignment %d references unknown node %q", i, nodeID))
				continue
			}
			if _, dup := assigned[nodeID]; dup {
				errs = append(errs, fmt.Sprintf("node %q assigned more than once", nodeID))
				continue
			}
			assigned[nodeID] = struct{}{}
		}
	}
	for _, id := range batchNodeIDs {
		if _, ok := assigned[id]; !ok {
			errs = append(errs, fmt.Sprintf("node %q not assigned", id))
		}
	}

	if len(errs) > 0 {
		return invalid(errs...)
	}
	return DecisionResult{Valid: &dec}
}
