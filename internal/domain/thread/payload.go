package thread

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbaxszy7/mnemora/internal/llm"
)

// timeAnchors carries pre-resolved local-time reference points, in unix
// milliseconds. The model receives resolved numbers instead of computing
// date arithmetic itself.
type timeAnchors struct {
	Now            int64 `json:"now"`
	TodayStart     int64 `json:"today_start"`
	YesterdayStart int64 `json:"yesterday_start"`
	WeekAgo        int64 `json:"week_ago"`
}

func anchorsAt(now time.Time) timeAnchors {
	local := now.Local()
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return timeAnchors{
		Now:            local.UnixMilli(),
		TodayStart:     today.UnixMilli(),
		YesterdayStart: today.AddDate(0, 0, -1).UnixMilli(),
		WeekAgo:        today.AddDate(0, 0, -7).UnixMilli(),
	}
}

type promptNode struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Entities  []string `json:"entities,omitempty"`
	EventTime int64    `json:"event_time"`
}

type promptThread struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Summary      string       `json:"summary"`
	CurrentPhase string       `json:"current_phase,omitempty"`
	CurrentFocus string       `json:"current_focus,omitempty"`
	MainProject  string       `json:"main_project,omitempty"`
	Status       string       `json:"status"`
	StartTime    int64        `json:"start_time"`
	LastActiveAt int64        `json:"last_active_at"`
	DurationMs   int64        `json:"duration_ms"`
	NodeCount    int          `json:"node_count"`
	RecentNodes  []promptNode `json:"recent_nodes"`
}

type promptPayload struct {
	TimeAnchors      timeAnchors    `json:"time_anchors"`
	CandidateThreads []promptThread `json:"candidate_threads"`
	NewNodes         []promptNode   `json:"new_nodes"`
}

func toPromptNode(n *Node) promptNode {
	return promptNode{
		ID:        n.ID,
		Kind:      string(n.Kind),
		Title:     n.Title,
		Summary:   n.Summary,
		Entities:  n.DerivedEntities(),
		EventTime: n.EventTime.UnixMilli(),
	}
}

// buildPayload assembles the model prompt from candidate threads, their
// recent nodes (chronological order), and the new batch. It returns the
// serialized payload and the ids of the threads the model was shown.
func buildPayload(now time.Time, candidates []*Thread, recentNodes map[string][]*Node, batch []*Node) (string, []string, error) {
	payload := promptPayload{
		TimeAnchors:      anchorsAt(now),
		CandidateThreads: make([]promptThread, 0, len(candidates)),
		NewNodes:         make([]promptNode, 0, len(batch)),
	}

	considered := make([]string, 0, len(candidates))
	for _, t := range candidates {
		considered = append(considered, t.ID)
		pt := promptThread{
			ID:           t.ID,
			Title:        t.Title,
			Summary:      t.Summary,
			CurrentPhase: t.CurrentPhase,
			CurrentFocus: t.CurrentFocus,
			MainProject:  t.MainProject,
			Status:       string(t.Status),
			StartTime:    t.StartTime.UnixMilli(),
			LastActiveAt: t.LastActiveAt.UnixMilli(),
			DurationMs:   t.DurationMs,
			NodeCount:    t.NodeCount,
		}
		for _, n := range recentNodes[t.ID] {
			pt.RecentNodes = append(pt.RecentNodes, toPromptNode(n))
		}
		payload.CandidateThreads = append(payload.CandidateThreads, pt)
	}
	for _, n := range batch {
		payload.NewNodes = append(payload.NewNodes, toPromptNode(n))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("marshal clustering payload: %w", err)
	}
	return string(data), considered, nil
}

const clusteringSystemPrompt = `You cluster a user's extracted screen-activity nodes into threads of ongoing work.

Assign every new node to exactly one thread. Reuse a candidate thread when the new nodes continue its activity; otherwise start a new thread by assigning to thread_id "new". For each assignment provide an updated title, summary, current phase, current focus, and main project reflecting the thread after these nodes are added.

All timestamps are unix milliseconds. Use the provided time anchors for any relative-time reasoning; do not compute calendar boundaries yourself.`

// decisionSchema is the strict output contract for the clustering call.
func decisionSchema() *llm.Schema {
	return &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"assignments": {
				Type: llm.TypeArray,
				Items: &llm.Schema{
					Type: llm.TypeObject,
					Properties: map[string]*llm.Schema{
						"node_ids": {
							Type:  llm.TypeArray,
							Items: &llm.Schema{Type: llm.TypeString},
						},
						"thread_id":     {Type: llm.TypeString},
						"title":         {Type: llm.TypeString},
						"summary":       {Type: llm.TypeString},
						"current_phase": {Type: llm.TypeString},
						"current_focus": {Type: llm.TypeString},
						"main_project":  {Type: llm.TypeString},
					},
					Required: []string{"node_ids", "thread_id", "title", "summary"},
				},
			},
		},
		Required: []string{"assignments"},
	}
}
