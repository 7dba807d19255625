package mocks

import (
	"context"

	"github.com/mbaxszy7/mnemora/internal/domain/capture"
	"github.com/mbaxszy7/mnemora/internal/domain/thread"
	"github.com/mbaxszy7/mnemora/internal/llm"
	"github.com/mbaxszy7/mnemora/internal/usage"
	"github.com/stretchr/testify/mock"
)

// CaptureRepository is a mock for capture.Repository.
type CaptureRepository struct {
	mock.Mock
}

func (m *CaptureRepository) Persist(ctx context.Context, rec *capture.Record) (string, error) {
	args := m.Called(ctx, rec)
	return args.String(0), args.Error(1)
}

// ThreadRepository is a mock for thread.ThreadRepository.
type ThreadRepository struct {
	mock.Mock
}

func (m *ThreadRepository) Create(ctx context.Context, t *thread.Thread) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *ThreadRepository) Get(ctx context.Context, id string) (*thread.Thread, error) {
	args := m.Called(ctx, id)
	if t, ok := args.Get(0).(*thread.Thread); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ThreadRepository) Update(ctx context.Context, t *thread.Thread) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *ThreadRepository) ListActive(ctx context.Context, limit int) ([]*thread.Thread, error) {
	args := m.Called(ctx, limit)
	if list, ok := args.Get(0).([]*thread.Thread); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ThreadRepository) ListRecent(ctx context.Context, limit int) ([]*thread.Thread, error) {
	args := m.Called(ctx, limit)
	if list, ok := args.Get(0).([]*thread.Thread); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// NodeRepository is a mock for thread.NodeRepository.
type NodeRepository struct {
	mock.Mock
}

func (m *NodeRepository) Create(ctx context.Context, n *thread.Node) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *NodeRepository) Get(ctx context.Context, id string) (*thread.Node, error) {
	args := m.Called(ctx, id)
	if n, ok := args.Get(0).(*thread.Node); ok {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *NodeRepository) ListRecentByThread(ctx context.Context, threadID string, limit int) ([]*thread.Node, error) {
	args := m.Called(ctx, threadID, limit)
	if list, ok := args.Get(0).([]*thread.Node); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *NodeRepository) AssignThread(ctx context.Context, nodeID, threadID string) error {
	args := m.Called(ctx, nodeID, threadID)
	return args.Error(0)
}

// UsageRepository is a mock for usage.Repository.
type UsageRepository struct {
	mock.Mock
}

func (m *UsageRepository) Append(ctx context.Context, evt *usage.Event) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

// TraceStore is a mock for llm.TraceStore.
type TraceStore struct {
	mock.Mock
}

func (m *TraceStore) SaveTrace(ctx context.Context, trace *llm.ReasoningTrace) error {
	args := m.Called(ctx, trace)
	return args.Error(0)
}

// LLMClient is a mock for llm.Client.
type LLMClient struct {
	mock.Mock
}

func (m *LLMClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*llm.Response); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}
