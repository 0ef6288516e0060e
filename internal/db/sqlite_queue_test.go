package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

func queuedConflict(id string, at time.Time) models.Conflict {
	return models.Conflict{
		ID:   id,
		Type: models.ConflictDuplicateContent,
		Candidates: []models.Entity{
			{GUID: "100", Kind: models.KindNeed, UserID: "u1", Description: "Need water", OriginPlatform: "telegram"},
			{GUID: "200", Kind: models.KindNeed, UserID: "u1", Description: "need WATER", OriginPlatform: "vk"},
		},
		DetectedAt: at,
	}
}

func TestSQLiteConflictQueue_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue", "conflicts.db")
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	q, err := OpenSQLiteConflictQueue(ctx, path)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, queuedConflict("b", at.Add(time.Minute))))
	require.NoError(t, q.Enqueue(ctx, queuedConflict("a", at)))
	require.NoError(t, q.Enqueue(ctx, queuedConflict("a", at)), "enqueue is idempotent")
	require.NoError(t, q.Close())

	q, err = OpenSQLiteConflictQueue(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID, "oldest first")
	assert.Equal(t, models.ResolutionPending, pending[0].Status)
	assert.Len(t, pending[0].Candidates, 2)
	assert.Equal(t, "need WATER", pending[0].Candidates[1].Description)

	winner := pending[0].Candidates[1]
	require.NoError(t, q.MarkResolved(ctx, "a", winner, at.Add(time.Hour)))
	assert.ErrorIs(t, q.MarkResolved(ctx, "a", winner, at.Add(time.Hour)), models.ErrConflictResolved)
	assert.ErrorIs(t, q.MarkResolved(ctx, "zzz", winner, at), models.ErrConflictNotFound)

	got, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionResolved, got.Status)
	require.NotNil(t, got.Winner)
	assert.Equal(t, "200", got.Winner.GUID)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(at.Add(time.Hour)))

	_, err = q.Get(ctx, "zzz")
	assert.ErrorIs(t, err, models.ErrConflictNotFound)

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)
}

func TestSQLiteConflictQueue_SharesStoreDatabase(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "aid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	q, err := NewSQLiteConflictQueue(ctx, store.DB())
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, queuedConflict("a", time.Now())))
	require.NoError(t, q.Close(), "a shared queue leaves the store open")

	storeContract(t, store)
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
