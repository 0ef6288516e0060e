package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-aid-sync/internal/conflict"
	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/internal/platform"
)

func TestTriggerPass_PropagatesToAllOtherPlatforms(t *testing.T) {
	f := newFixture(t, Options{ShowOriginNotice: true})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)

	stats, ran, err := f.orch.TriggerPass(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 2, stats.Synced)
	assert.Equal(t, 0, stats.Errors)
	assert.False(t, stats.LastSync.IsZero())

	e := f.entity(t, "100")
	assert.Equal(t, models.StatusSynced, e.SyncStatus)
	assert.True(t, e.IsPropagatedTo(platform.VK))
	assert.True(t, e.IsPropagatedTo(platform.Discord))
	assert.False(t, e.IsPropagatedTo(platform.Telegram), "origin is never a target")
	assert.Equal(t, 0, f.tg.Posts())

	content, ok := f.vk.Message(e.Platforms[platform.VK].MessageID)
	require.True(t, ok)
	assert.Equal(t, "Need water\n\nNeed of Ann\nOriginally posted on telegram", content)
}

func TestTriggerPass_OneFailingPlatformIsPartial(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)
	f.ds.FailPosts(errPlatformDown)

	stats, _, err := f.orch.TriggerPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Synced)
	e := f.entity(t, "100")
	assert.Equal(t, models.StatusPartial, e.SyncStatus)
	assert.False(t, e.IsPropagatedTo(platform.Discord))

	// next pass heals once the platform is back, and only retries what is missing
	f.ds.FailPosts(nil)
	stats, _, err = f.orch.TriggerPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Synced)
	assert.Equal(t, 1, f.vk.Posts())
	assert.Equal(t, models.StatusSynced, f.entity(t, "100").SyncStatus)
}

func TestTriggerPass_AllFailingIsFailed(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)
	f.vk.FailPosts(errPlatformDown)
	f.ds.FailPosts(errPlatformDown)

	stats, _, err := f.orch.TriggerPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Errors)
	e := f.entity(t, "100")
	assert.Equal(t, models.StatusFailed, e.SyncStatus)
	assert.False(t, e.SyncAttemptedAt.IsZero())
}

func TestTriggerPass_ConcurrentRequestsRunOnePass(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.vk.OnPost(func(string) {
		once.Do(func() { close(started) })
		<-release
	})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstRan bool
	go func() {
		defer wg.Done()
		_, firstRan, _ = f.orch.TriggerPass(context.Background())
	}()

	<-started
	assert.True(t, f.orch.Running())
	_, secondRan, err := f.orch.TriggerPass(context.Background())
	require.NoError(t, err)
	assert.False(t, secondRan)

	close(release)
	wg.Wait()

	assert.True(t, firstRan)
	assert.Equal(t, 1, f.vk.Posts())
	assert.Equal(t, 1, f.ds.Posts())
	assert.False(t, f.orch.Running())
}

func TestTriggerPass_StorageErrorAbortsAndKeepsBaseline(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)
	before := f.tracker.Baseline()

	f.store.FailWrites(errPlatformDown)
	_, ran, err := f.orch.TriggerPass(context.Background())

	require.True(t, ran)
	require.Error(t, err)
	assert.True(t, models.IsStorageError(err))
	assert.Equal(t, before, f.tracker.Baseline())
	assert.Empty(t, f.sink.Entries(), "nothing committed, nothing audited")

	f.store.FailReads(errPlatformDown)
	_, _, err = f.orch.TriggerPass(context.Background())
	assert.True(t, models.IsStorageError(err))
}

func TestTriggerPass_IsAudited(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)

	_, _, err := f.orch.TriggerPass(context.Background())
	require.NoError(t, err)

	entries := f.sink.Entries()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "operation: update")

	// a pass with nothing to do writes no audit entry
	_, _, err = f.orch.TriggerPass(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.sink.Entries(), 1)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)

	f.orch.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return !f.orch.Stats().LastSync.IsZero()
	}, 2*time.Second, 5*time.Millisecond)
	f.orch.Stop()
	f.orch.Stop()

	last := f.orch.Stats().LastSync
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, last, f.orch.Stats().LastSync, "no pass after Stop")
	assert.Equal(t, models.StatusSynced, f.entity(t, "100").SyncStatus)
}

func TestStart_RestartsAfterContextCancel(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.orch.Start(ctx, time.Hour)
	require.Eventually(t, func() bool {
		f.orch.mu.Lock()
		defer f.orch.mu.Unlock()
		return f.orch.stop == nil
	}, 2*time.Second, 5*time.Millisecond, "loop released after cancel")

	f.orch.Start(context.Background(), 10*time.Millisecond)
	t.Cleanup(f.orch.Stop)
	require.Eventually(t, func() bool {
		return !f.orch.Stats().LastSync.IsZero()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCrossPost_UnknownEntity(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, ann())

	_, _, err := f.orch.CrossPost(context.Background(), "404")
	assert.ErrorIs(t, err, models.ErrEntityNotFound)
}

func TestConflictHook_TimestampKeepsLatestAndMergesRefs(t *testing.T) {
	f := newFixture(t, Options{
		Detector: conflict.NewDetector(),
		Resolver: conflict.NewResolver(conflict.PolicyTimestamp, nil, nil, discardLogger()),
	})

	older := need("100", "Need water", platform.Telegram)
	newer := need("200", "need WATER", platform.VK)
	newer.UpdatedAt = seedTime.Add(time.Hour)
	u := ann()
	u.Needs = append(u.Needs, older, newer)
	f.seed(t, u)

	stats, _, err := f.orch.TriggerPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Conflicts)

	s, err := f.store.ReadAll(context.Background())
	require.NoError(t, err)
	_, _, stillThere := s.Find("100")
	assert.False(t, stillThere, "loser removed")

	winner := f.entity(t, "200")
	assert.Equal(t, models.StatusSynced, winner.SyncStatus)
	// the pass already cross-posted both; the loser's copies are retracted
	assert.Equal(t, 1, f.tg.Len())
	assert.Equal(t, 0, f.vk.Len())
	assert.Equal(t, 1, f.ds.Len())
	_, ok := f.ds.Message(winner.Platforms[platform.Discord].MessageID)
	assert.True(t, ok)
}

func TestConflictHook_ManualQueuesAndKeepsBoth(t *testing.T) {
	q := conflict.NewMemoryQueue()
	f := newFixture(t, Options{
		Detector: conflict.NewDetector(),
		Resolver: conflict.NewResolver(conflict.PolicyManual, nil, q, discardLogger()),
	})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram), need("200", "Need water", platform.VK))
	f.seed(t, u)

	_, _, err := f.orch.TriggerPass(context.Background())
	require.NoError(t, err)

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	f.entity(t, "100")
	f.entity(t, "200")

	// a second pass finds the same group and does not duplicate it
	_, _, err = f.orch.TriggerPass(context.Background())
	require.NoError(t, err)
	pending, _ = q.Pending(context.Background())
	assert.Len(t, pending, 1)

	res, err := conflict.Complete(context.Background(), q, pending[0].ID, "100", seedTime)
	require.NoError(t, err)
	require.NoError(t, f.orch.ApplyResolution(context.Background(), res))

	s, _ := f.store.ReadAll(context.Background())
	_, _, ok := s.Find("200")
	assert.False(t, ok)
	winner := f.entity(t, "100")
	assert.Equal(t, models.StatusSynced, winner.SyncStatus)
	_, ok = f.vk.Message(winner.Platforms[platform.VK].MessageID)
	assert.True(t, ok)
	assert.Equal(t, 0, f.tg.Len(), "loser copy on telegram retracted")
}

func TestMergeRefs_MovesMissingPresence(t *testing.T) {
	winner := need("200", "Need water", platform.VK)
	loser := need("100", "Need water", platform.Telegram)
	loser.SetPlatformRef(platform.Discord, "discord-7", seedTime)
	loser.SetPlatformRef(platform.VK, "vk-9", seedTime)

	dup := mergeRefs(&winner, loser)

	assert.Equal(t, "telegram-origin-100", winner.Platforms[platform.Telegram].MessageID)
	assert.Equal(t, "discord-7", winner.Platforms[platform.Discord].MessageID)
	assert.False(t, winner.IsPropagatedTo(platform.VK))
	assert.Equal(t, []orphan{{platform.VK, "vk-9"}}, dup)
	assert.Equal(t, models.StatusSynced, winner.DeriveStatus(enabled))
}
