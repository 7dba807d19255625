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

func newTestThread(id string, status thread.Status, lastActive time.Time) *thread.Thread {
	return &thread.Thread{
		ID:           id,
		Title:        "title " + id,
		Summary:      "summary " + id,
		Status:       status,
		StartTime:    lastActive.Add(-time.Hour),
		LastActiveAt: lastActive,
		CreatedAt:    lastActive,
		UpdatedAt:    lastActive,
	}
}

func TestThreadRepository_CreateAndGet(t *testing.T) {
	db := NewTestDB(t)
	repo := NewThreadRepository(db)
	ctx := context.Background()

	in := newTestThread("t1", thread.StatusActive, time.Now().UTC().Truncate(time.Second))
	in.CurrentPhase = "implementation"
	in.CurrentFocus = "sqlite layer"
	in.MainProject = "mnemora"
	in.NodeCount = 2
	require.NoError(t, repo.Create(ctx, in))

	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, in.Title, got.Title)
	require.Equal(t, thread.StatusActive, got.Status)
	require.Equal(t, "implementation", got.CurrentPhase)
	require.Equal(t, "mnemora", got.MainProject)
	require.Equal(t, 2, got.NodeCount)
	require.True(t, in.LastActiveAt.Equal(got.LastActiveAt))
}

func TestThreadRepository_GetNotFound(t *testing.T) {
	db := NewTestDB(t)
	repo := NewThreadRepository(db)

	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestThreadRepository_Update(t *testing.T) {
	db := NewTestDB(t)
	repo := NewThreadRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	in := newTestThread("t1", thread.StatusActive, now)
	require.NoError(t, repo.Create(ctx, in))

	in.Title = "renamed"
	in.Status = thread.StatusInactive
	in.NodeCount = 9
	require.NoError(t, repo.Update(ctx, in))

	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Title)
	require.Equal(t, thread.StatusInactive, got.Status)
	require.Equal(t, 9, got.NodeCount)

	require.ErrorIs(t, repo.Update(ctx, newTestThread("missing", thread.StatusActive, now)),
		repository.ErrNotFound)
}

func TestThreadRepository_Listing(t *testing.T) {
	db := NewTestDB(t)
	repo := NewThreadRepository(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	statuses := []thread.Status{
		thread.StatusActive, thread.StatusActive, thread.StatusActive,
		thread.StatusInactive, thread.StatusClosed,
	}
	for i, status := range statuses {
		tr := newTestThread(fmt.Sprintf("t%d", i), status, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Create(ctx, tr))
	}

	active, err := repo.ListActive(ctx, 2)
	require.NoError(t, err)
	require.Len(t, active, 2, "limit respected")
	require.Equal(t, "t2", active[0].ID, "most recently active first")
	require.Equal(t, "t1", active[1].ID)

	recent, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 4, "closed threads excluded")
	require.Equal(t, "t3", recent[0].ID)

	all, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, "t4", all[0].ID)
}
