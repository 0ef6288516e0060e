package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/internal/platform"
)

func addNeed(e models.Entity) func(*models.Snapshot) error {
	return func(s *models.Snapshot) error {
		u := s.Users[e.UserID]
		u.Needs = append(u.Needs, e)
		s.Users[e.UserID] = u
		return nil
	}
}

func TestMutate_CommitsAndAudits(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, ann())

	commit, err := f.tracker.Mutate(context.Background(), addNeed(need("100", "Need water", platform.Telegram)))
	require.NoError(t, err)

	require.Len(t, commit.Changes, 1)
	assert.Equal(t, models.OpCreate, commit.Changes[0].Operation)
	assert.True(t, commit.Audited)
	assert.True(t, commit.Transaction.Confirmed)
	assert.Equal(t, commit.Transaction.TxID, commit.Changes[0].TxID)

	f.entity(t, "100")
	_, _, ok := f.tracker.Baseline().Find("100")
	assert.True(t, ok)
	require.Len(t, f.sink.Entries(), 1)
	assert.Contains(t, f.sink.Entries()[0], "operation: create")
}

func TestMutate_VolatileOnlyChangeIsWrittenButNotAudited(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)
	writes := f.store.Writes()

	commit, err := f.tracker.Mutate(context.Background(), func(s *models.Snapshot) error {
		s.Update("100", func(e *models.Entity) { e.SyncStatus = models.StatusFailed })
		return nil
	})
	require.NoError(t, err)

	assert.Empty(t, commit.Changes)
	assert.False(t, commit.Audited)
	assert.Equal(t, writes+1, f.store.Writes())
	assert.Equal(t, models.StatusFailed, f.entity(t, "100").SyncStatus)
	assert.Empty(t, f.sink.Entries())
}

func TestMutate_WriteFailureKeepsBaseline(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, ann())
	before := f.tracker.Baseline()

	f.store.FailWrites(errors.New("disk full"))
	_, err := f.tracker.Mutate(context.Background(), addNeed(need("100", "Need water", platform.Telegram)))

	var se *models.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "write", se.Op)
	assert.Equal(t, before, f.tracker.Baseline())
	assert.Empty(t, f.sink.Entries())

	// once storage recovers the same change is still detected against the old baseline
	f.store.FailWrites(nil)
	commit, err := f.tracker.Mutate(context.Background(), addNeed(need("100", "Need water", platform.Telegram)))
	require.NoError(t, err)
	require.Len(t, commit.Changes, 1)
	assert.Equal(t, models.OpCreate, commit.Changes[0].Operation)
}

func TestMutate_CallbackErrorWritesNothing(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, ann())
	writes := f.store.Writes()
	boom := errors.New("boom")

	_, err := f.tracker.Mutate(context.Background(), func(*models.Snapshot) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.False(t, models.IsStorageError(err))
	assert.Equal(t, writes, f.store.Writes())
}

func TestMutate_AuditFailureDoesNotBlockWrite(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, ann())
	f.sink.err = errors.New("broker unreachable")

	commit, err := f.tracker.Mutate(context.Background(), addNeed(need("100", "Need water", platform.Telegram)))
	require.NoError(t, err)

	assert.True(t, commit.Audited)
	assert.False(t, commit.Transaction.Confirmed)
	f.entity(t, "100")
}

func TestMutate_PrimesLazily(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	require.NoError(t, f.store.WriteAll(context.Background(), seedSnapshot(u)))

	commit, err := f.tracker.Mutate(context.Background(), addNeed(need("200", "Need bread", platform.VK)))
	require.NoError(t, err)

	// the pre-existing entity is part of the baseline, only the new one is a change
	require.Len(t, commit.Changes, 1)
	guid, _ := commit.Changes[0].Data.Get("guid")
	assert.Equal(t, "200", guid)
}

func seedSnapshot(users ...models.User) models.Snapshot {
	s := models.NewSnapshot()
	for _, u := range users {
		s.Users[u.ID] = u
	}
	return s
}
