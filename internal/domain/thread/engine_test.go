package thread_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbaxszy7/mnemora/internal/domain/thread"
	"github.com/mbaxszy7/mnemora/internal/llm"
	"github.com/mbaxszy7/mnemora/internal/repository/mocks"
	"github.com/mbaxszy7/mnemora/internal/usage"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// gateStub satisfies thread.SlotGate and counts breaker signals.
type gateStub struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (g *gateStub) WithSlot(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

func (g *gateStub) RecordSuccess(string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes++
}

func (g *gateStub) RecordFailure(string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
}

func validDecisionJSON(t *testing.T, assignments ...thread.Assignment) string {
	t.Helper()
	raw, err := json.Marshal(thread.Decision{Assignments: assignments})
	require.NoError(t, err)
	return string(raw)
}

func TestEngine_AssignBatch_Success(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	threadsRepo := &mocks.ThreadRepository{}
	nodesRepo := &mocks.NodeRepository{}
	client := &mocks.LLMClient{}
	traces := &mocks.TraceStore{}
	gateStub := &gateStub{}
	tracker := usage.NewTracker(nil, nil)

	candidate := &thread.Thread{
		ID: "t1", Title: "API migration", Status: thread.StatusActive,
		StartTime: now.Add(-time.Hour), LastActiveAt: now,
	}
	threadsRepo.On("ListActive", ctx, 8).Return([]*thread.Thread{candidate}, nil)
	// Storage returns newest-first.
	nodesRepo.On("ListRecentByThread", ctx, "t1", 6).Return([]*thread.Node{
		{ID: "newer", Kind: thread.NodeKindEvent, EventTime: now},
		{ID: "older", Kind: thread.NodeKindEvent, EventTime: now.Add(-time.Minute)},
	}, nil)

	var captured llm.Request
	client.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(llm.Request)
	}).Return(&llm.Response{
		Text: validDecisionJSON(t, thread.Assignment{
			NodeIDs: []string{"n1"}, ThreadID: "t1",
			Title: "API migration", Summary: "still migrating",
		}),
		Usage: llm.Usage{InputTokens: 1200, OutputTokens: 80},
		Model: "gemini-2.5-flash",
	}, nil)
	traces.On("SaveTrace", mock.Anything, mock.Anything).Return(nil)

	engine := thread.NewEngine(threadsRepo, nodesRepo, gateStub, client, tracker, traces,
		thread.DefaultEngineConfig(), nil)

	batch := []*thread.Node{{ID: "n1", Kind: thread.NodeKindEvent, EventTime: now}}
	outcome, err := engine.AssignBatch(ctx, "batch-1", batch)
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, outcome.ConsideredThreadIDs)
	require.Len(t, outcome.Decision.Assignments, 1)
	require.Equal(t, 1200, outcome.Usage.InputTokens)

	// The model sees history in chronological order and a strict schema.
	require.NotNil(t, captured.Schema)
	var payload struct {
		CandidateThreads []struct {
			RecentNodes []struct {
				ID string `json:"id"`
			} `json:"recent_nodes"`
		} `json:"candidate_threads"`
	}
	require.NoError(t, json.Unmarshal([]byte(captured.Prompt), &payload))
	require.Equal(t, "older", payload.CandidateThreads[0].RecentNodes[0].ID)
	require.Equal(t, "newer", payload.CandidateThreads[0].RecentNodes[1].ID)

	require.Equal(t, 1, gateStub.successes)
	require.Zero(t, gateStub.failures)
	require.Equal(t, 1, tracker.Stats().Total.Calls)
	require.Zero(t, tracker.Stats().Total.Failures)

	traces.AssertCalled(t, "SaveTrace", mock.Anything, mock.MatchedBy(func(tr *llm.ReasoningTrace) bool {
		return tr.Success && tr.Operation == "assign_batch"
	}))
	// No writes happen during assignment.
	threadsRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	nodesRepo.AssertNotCalled(t, "AssignThread", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_AssignBatch_FallbackWhenNothingActive(t *testing.T) {
	ctx := context.Background()

	threadsRepo := &mocks.ThreadRepository{}
	nodesRepo := &mocks.NodeRepository{}
	client := &mocks.LLMClient{}
	gateStub := &gateStub{}

	threadsRepo.On("ListActive", ctx, 8).Return([]*thread.Thread{}, nil)
	recent := &thread.Thread{ID: "t9", Title: "Paused work", Status: thread.StatusInactive}
	threadsRepo.On("ListRecent", ctx, 5).Return([]*thread.Thread{recent}, nil)
	nodesRepo.On("ListRecentByThread", ctx, "t9", 6).Return([]*thread.Node{}, nil)

	client.On("Generate", mock.Anything, mock.Anything).Return(&llm.Response{
		Text: validDecisionJSON(t, thread.Assignment{
			NodeIDs: []string{"n1"}, ThreadID: "t9",
			Title: "Paused work", Summary: "resumed",
		}),
	}, nil)

	engine := thread.NewEngine(threadsRepo, nodesRepo, gateStub, client, nil, nil,
		thread.DefaultEngineConfig(), nil)

	outcome, err := engine.AssignBatch(ctx, "batch-1", []*thread.Node{{ID: "n1"}})
	require.NoError(t, err)
	require.Equal(t, []string{"t9"}, outcome.ConsideredThreadIDs)
}

func TestEngine_AssignBatch_TransportFailure(t *testing.T) {
	ctx := context.Background()

	threadsRepo := &mocks.ThreadRepository{}
	nodesRepo := &mocks.NodeRepository{}
	client := &mocks.LLMClient{}
	traces := &mocks.TraceStore{}
	gateStub := &gateStub{}
	tracker := usage.NewTracker(nil, nil)

	threadsRepo.On("ListActive", ctx, 8).Return([]*thread.Thread{}, nil)
	threadsRepo.On("ListRecent", ctx, 5).Return([]*thread.Thread{}, nil)
	client.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))
	traces.On("SaveTrace", mock.Anything, mock.Anything).Return(nil)

	engine := thread.NewEngine(threadsRepo, nodesRepo, gateStub, client, tracker, traces,
		thread.DefaultEngineConfig(), nil)

	_, err := engine.AssignBatch(ctx, "batch-1", []*thread.Node{{ID: "n1"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")

	require.Equal(t, 1, gateStub.failures)
	require.Zero(t, gateStub.successes)
	require.Equal(t, 1, tracker.Stats().Total.Failures)
	traces.AssertCalled(t, "SaveTrace", mock.Anything, mock.MatchedBy(func(tr *llm.ReasoningTrace) bool {
		return !tr.Success && tr.Error != ""
	}))
}

func TestEngine_AssignBatch_InvalidDecision(t *testing.T) {
	ctx := context.Background()

	threadsRepo := &mocks.ThreadRepository{}
	nodesRepo := &mocks.NodeRepository{}
	client := &mocks.LLMClient{}
	gateStub := &gateStub{}

	threadsRepo.On("ListActive", ctx, 8).Return([]*thread.Thread{}, nil)
	threadsRepo.On("ListRecent", ctx, 5).Return([]*thread.Thread{}, nil)
	// References a thread the model was never shown.
	client.On("Generate", mock.Anything, mock.Anything).Return(&llm.Response{
		Text: validDecisionJSON(t, thread.Assignment{
			NodeIDs: []string{"n1"}, ThreadID: "ghost",
			Title: "x", Summary: "y",
		}),
	}, nil)

	engine := thread.NewEngine(threadsRepo, nodesRepo, gateStub, client, nil, nil,
		thread.DefaultEngineConfig(), nil)

	_, err := engine.AssignBatch(ctx, "batch-1", []*thread.Node{{ID: "n1"}})
	require.ErrorIs(t, err, thread.ErrInvalidDecision)
	require.Equal(t, 1, gateStub.failures)
	nodesRepo.AssertNotCalled(t, "AssignThread", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_ApplyDecision(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	threadsRepo := &mocks.ThreadRepository{}
	nodesRepo := &mocks.NodeRepository{}

	existing := &thread.Thread{
		ID: "t1", Title: "old title", Status: thread.StatusActive,
		StartTime: now.Add(-2 * time.Hour), LastActiveAt: now.Add(-time.Hour),
		NodeCount: 3,
	}
	threadsRepo.On("Get", ctx, "t1").Return(existing, nil)
	threadsRepo.On("Update", ctx, mock.MatchedBy(func(tr *thread.Thread) bool {
		return tr.ID == "t1" && tr.Title == "API migration" && tr.NodeCount == 4 &&
			tr.LastActiveAt.Equal(now)
	})).Return(nil)

	var created *thread.Thread
	threadsRepo.On("Create", ctx, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*thread.Thread)
	}).Return(nil)

	nodesRepo.On("AssignThread", ctx, "n1", "t1").Return(nil)
	nodesRepo.On("AssignThread", ctx, "n2", mock.Anything).Return(nil)

	engine := thread.NewEngine(threadsRepo, nodesRepo, &gateStub{}, &mocks.LLMClient{}, nil, nil,
		thread.DefaultEngineConfig(), nil)

	batch := []*thread.Node{
		{ID: "n1", EventTime: now},
		{ID: "n2", EventTime: now.Add(-time.Minute)},
	}
	dec := &thread.Decision{Assignments: []thread.Assignment{
		{NodeIDs: []string{"n1"}, ThreadID: "t1", Title: "API migration", Summary: "s"},
		{NodeIDs: []string{"n2"}, ThreadID: thread.NewThreadID, Title: "Budget review", Summary: "s", MainProject: "finance"},
	}}

	require.NoError(t, engine.ApplyDecision(ctx, dec, batch))

	require.NotNil(t, created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, thread.StatusActive, created.Status)
	require.Equal(t, "Budget review", created.Title)
	require.Equal(t, "finance", created.MainProject)
	require.Equal(t, 1, created.NodeCount)

	nodesRepo.AssertCalled(t, "AssignThread", ctx, "n2", created.ID)
}

func TestEngine_StatusTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("active to inactive", func(t *testing.T) {
		threadsRepo := &mocks.ThreadRepository{}
		threadsRepo.On("Get", ctx, "t1").Return(&thread.Thread{ID: "t1", Status: thread.StatusActive}, nil)
		threadsRepo.On("Update", ctx, mock.MatchedBy(func(tr *thread.Thread) bool {
			return tr.Status == thread.StatusInactive
		})).Return(nil)

		engine := thread.NewEngine(threadsRepo, &mocks.NodeRepository{}, &gateStub{}, &mocks.LLMClient{}, nil, nil,
			thread.DefaultEngineConfig(), nil)
		require.NoError(t, engine.MarkIdle(ctx, "t1"))
	})

	t.Run("closed is terminal", func(t *testing.T) {
		threadsRepo := &mocks.ThreadRepository{}
		threadsRepo.On("Get", ctx, "t1").Return(&thread.Thread{ID: "t1", Status: thread.StatusClosed}, nil)

		engine := thread.NewEngine(threadsRepo, &mocks.NodeRepository{}, &gateStub{}, &mocks.LLMClient{}, nil, nil,
			thread.DefaultEngineConfig(), nil)
		require.ErrorIs(t, engine.MarkIdle(ctx, "t1"), thread.ErrInvalidTransition)
		require.ErrorIs(t, engine.Close(ctx, "t1"), thread.ErrInvalidTransition)
		threadsRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}
