package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

func sampleSnapshot() models.Snapshot {
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	need := models.Entity{
		GUID:           "100",
		Kind:           models.KindNeed,
		Description:    "Need insulin, Kyiv",
		UserID:         "u1",
		OriginPlatform: "telegram",
		MessageID:      "tg-1",
		CreatedAt:      at,
		UpdatedAt:      at,
		SyncStatus:     models.StatusPartial,
	}
	need.SetPlatformRef("vk", "vk-9", at.Add(time.Minute))

	s := models.NewSnapshot()
	s.Users["u1"] = models.User{
		ID:          "u1",
		DisplayName: "Ann",
		Platform:    "telegram",
		CreatedAt:   at,
		Needs:       []models.Entity{need},
	}
	return s
}

// storeContract runs the whole-state contract against any store
func storeContract(t *testing.T, store SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	empty, err := store.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Users)
	assert.NotNil(t, empty.Users, "empty snapshot must be writable")

	want := sampleSnapshot()
	require.NoError(t, store.WriteAll(ctx, want))

	got, err := store.ReadAll(ctx)
	require.NoError(t, err)
	require.Contains(t, got.Users, "u1")
	e, _, ok := got.Find("100")
	require.True(t, ok)
	assert.Equal(t, want.Users["u1"].Needs[0].Fields(), e.Fields())

	// overwrite replaces the whole state
	require.NoError(t, store.WriteAll(ctx, models.NewSnapshot()))
	got, err = store.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Users)
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_ReadsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.WriteAll(ctx, sampleSnapshot()))

	a, err := store.ReadAll(ctx)
	require.NoError(t, err)
	a.Update("100", func(e *models.Entity) { e.Description = "changed" })

	b, err := store.ReadAll(ctx)
	require.NoError(t, err)
	e, _, _ := b.Find("100")
	assert.Equal(t, "Need insulin, Kyiv", e.Description)
}

func TestMemoryStore_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("disk full")

	store.FailWrites(boom)
	assert.ErrorIs(t, store.WriteAll(ctx, sampleSnapshot()), boom)
	assert.Equal(t, 0, store.Writes())

	store.FailWrites(nil)
	require.NoError(t, store.WriteAll(ctx, sampleSnapshot()))
	assert.Equal(t, 1, store.Writes())

	store.FailReads(boom)
	_, err := store.ReadAll(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestSQLiteStore_Contract(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "aid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	storeContract(t, store)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aid.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.WriteAll(ctx, sampleSnapshot()))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.ReadAll(ctx)
	require.NoError(t, err)
	_, _, ok := got.Find("100")
	assert.True(t, ok)
}

func TestDecodeSnapshot(t *testing.T) {
	s, err := decodeSnapshot(nil)
	require.NoError(t, err)
	assert.NotNil(t, s.Users)

	s, err = decodeSnapshot([]byte(`{"users":null}`))
	require.NoError(t, err)
	assert.NotNil(t, s.Users)

	_, err = decodeSnapshot([]byte(`{"users":`))
	assert.Error(t, err)
}
