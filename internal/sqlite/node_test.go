package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mbaxszy7/mnemora/internal/domain/thread"
	"github.com/mbaxszy7/mnemora/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestNodeRepository_CreateAndGet(t *testing.T) {
	db := NewTestDB(t)
	threads := NewThreadRepository(db)
	nodes := NewNodeRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, threads.Create(ctx, newTestThread("t1", thread.StatusActive, now)))

	in := &thread.Node{
		ID:        "n1",
		ThreadID:  "t1",
		Kind:      thread.NodeKindKnowledge,
		Title:     "pagination bug",
		Summary:   "off-by-one in cursor",
		Keywords:  []string{"pagination", "cursor"},
		Entities:  []string{"api-server"},
		Payload:   thread.NodePayload{Subject: "api-server", Detail: "fixed in review"},
		EventTime: now,
		CreatedAt: now,
	}
	require.NoError(t, nodes.Create(ctx, in))

	got, err := nodes.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "t1", got.ThreadID)
	require.Equal(t, thread.NodeKindKnowledge, got.Kind)
	require.Equal(t, []string{"pagination", "cursor"}, got.Keywords)
	require.Equal(t, []string{"api-server"}, got.Entities)
	require.Equal(t, "api-server", got.Payload.Subject)
}

func TestNodeRepository_UnassignedNode(t *testing.T) {
	db := NewTestDB(t)
	nodes := NewNodeRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	in := &thread.Node{
		ID: "n1", Kind: thread.NodeKindEvent,
		Title: "x", Summary: "y", EventTime: now, CreatedAt: now,
	}
	require.NoError(t, nodes.Create(ctx, in))

	got, err := nodes.Get(ctx, "n1")
	require.NoError(t, err)
	require.Empty(t, got.ThreadID)
}

func TestNodeRepository_ForeignKeyEnforced(t *testing.T) {
	db := NewTestDB(t)
	nodes := NewNodeRepository(db)
	now := time.Now().UTC()

	err := nodes.Create(context.Background(), &thread.Node{
		ID: "n1", ThreadID: "ghost", Kind: thread.NodeKindEvent,
		Title: "x", Summary: "y", EventTime: now, CreatedAt: now,
	})
	require.ErrorIs(t, err, repository.ErrForeignKeyViolation)
}

func TestNodeRepository_AssignThread(t *testing.T) {
	db := NewTestDB(t)
	threads := NewThreadRepository(db)
	nodes := NewNodeRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, threads.Create(ctx, newTestThread("t1", thread.StatusActive, now)))
	require.NoError(t, nodes.Create(ctx, &thread.Node{
		ID: "n1", Kind: thread.NodeKindEvent,
		Title: "x", Summary: "y", EventTime: now, CreatedAt: now,
	}))

	require.NoError(t, nodes.AssignThread(ctx, "n1", "t1"))

	got, err := nodes.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "t1", got.ThreadID)

	require.ErrorIs(t, nodes.AssignThread(ctx, "missing", "t1"), repository.ErrNotFound)
}

func TestNodeRepository_Ordering(t *testing.T) {
	db := NewTestDB(t)
	threads := NewThreadRepository(db)
	nodes := NewNodeRepository(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, threads.Create(ctx, newTestThread("t1", thread.StatusActive, base)))
	for i := 0; i < 4; i++ {
		require.NoError(t, nodes.Create(ctx, &thread.Node{
			ID: fmt.Sprintf("n%d", i), ThreadID: "t1", Kind: thread.NodeKindEvent,
			Title: "x", Summary: "y",
			EventTime: base.Add(time.Duration(i) * time.Minute), CreatedAt: base,
		}))
	}

	recent, err := nodes.ListRecentByThread(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "n3", recent[0].ID, "newest first")
	require.Equal(t, "n2", recent[1].ID)

	chrono, err := nodes.ListByThreadChrono(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, chrono, 4)
	require.Equal(t, "n0", chrono[0].ID, "oldest first")
}
