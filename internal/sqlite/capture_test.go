package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/mbaxszy7/mnemora/internal/domain/capture"
	"github.com/mbaxszy7/mnemora/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestCaptureRepository_PersistAndGet(t *testing.T) {
	db := NewTestDB(t)
	repo := NewCaptureRepository(db)
	ctx := context.Background()

	rec := &capture.Record{
		ID:          "01JFAKE0000000000000000000",
		SourceKey:   "screen:main",
		CapturedAt:  time.Now().UTC().Truncate(time.Second),
		AppHint:     "Slack",
		WindowTitle: "general",
		// High bit set: must survive the int64 round-trip.
		Fingerprint: capture.Fingerprint(0xF000000000000001),
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}

	id, err := repo.Persist(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, rec.ID, id)

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.SourceKey, got.SourceKey)
	require.Equal(t, rec.AppHint, got.AppHint)
	require.Equal(t, rec.Fingerprint, got.Fingerprint)
	require.True(t, rec.CapturedAt.Equal(got.CapturedAt))
}

func TestCaptureRepository_GetNotFound(t *testing.T) {
	db := NewTestDB(t)
	repo := NewCaptureRepository(db)

	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCaptureRepository_ListBySource(t *testing.T) {
	db := NewTestDB(t)
	repo := NewCaptureRepository(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"c1", "c2", "c3"} {
		_, err := repo.Persist(ctx, &capture.Record{
			ID:         id,
			SourceKey:  "screen:main",
			CapturedAt: base.Add(time.Duration(i) * time.Minute),
			CreatedAt:  base,
		})
		require.NoError(t, err)
	}
	_, err := repo.Persist(ctx, &capture.Record{
		ID: "other", SourceKey: "app:slack", CapturedAt: base, CreatedAt: base,
	})
	require.NoError(t, err)

	got, err := repo.ListBySource(ctx, "screen:main", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "c1", got[0].ID)
	require.Equal(t, "c3", got[2].ID)
}
