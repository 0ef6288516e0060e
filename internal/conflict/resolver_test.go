package conflict

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

var (
	t1 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candidate(guid string, origin models.Platform, updated time.Time) models.Entity {
	return models.Entity{GUID: guid, Kind: models.KindNeed, OriginPlatform: origin, UpdatedAt: updated, Description: "Need water"}
}

func TestResolve_TimestampPicksLatest(t *testing.T) {
	c := &models.Conflict{ID: "c1", Candidates: []models.Entity{
		candidate("1", "telegram", t1),
		candidate("2", "vk", t2),
	}}

	res, err := NewResolver(PolicyTimestamp, nil, nil, discard()).Resolve(context.Background(), c)
	require.NoError(t, err)

	require.NotNil(t, res.Winner)
	assert.Equal(t, "2", res.Winner.GUID)
	require.Len(t, res.Losers, 1)
	assert.Equal(t, "1", res.Losers[0].GUID)
	assert.Equal(t, models.ResolutionResolved, c.Status)
	assert.NotNil(t, c.ResolvedAt)
}

func TestResolve_TimestampTieGoesToSmallestGUID(t *testing.T) {
	c := &models.Conflict{ID: "c1", Candidates: []models.Entity{
		candidate("100", "telegram", t1),
		candidate("20", "vk", t1),
		candidate("300", "discord", t1),
	}}

	res, err := NewResolver(PolicyTimestamp, nil, nil, discard()).Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "20", res.Winner.GUID)
}

func TestResolve_PlatformPriorityIgnoresTimestamps(t *testing.T) {
	c := &models.Conflict{ID: "c1", Candidates: []models.Entity{
		candidate("1", "telegram", t2),
		candidate("2", "vk", t1),
	}}

	r := NewResolver(PolicyPlatformPriority, []models.Platform{"vk", "telegram"}, nil, discard())
	res, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "2", res.Winner.GUID)
}

func TestResolve_PlatformPriorityFallsBackToTimestamp(t *testing.T) {
	c := &models.Conflict{ID: "c1", Candidates: []models.Entity{
		candidate("1", "telegram", t1),
		candidate("2", "vk", t2),
	}}

	r := NewResolver(PolicyPlatformPriority, []models.Platform{"discord"}, nil, discard())
	res, err := r.Resolve(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "2", res.Winner.GUID)
}

func TestResolve_ManualQueuesWithoutWinner(t *testing.T) {
	q := NewMemoryQueue()
	c := &models.Conflict{ID: "c1", DetectedAt: t1, Candidates: []models.Entity{
		candidate("1", "telegram", t1),
		candidate("2", "vk", t2),
	}}

	res, err := NewResolver(PolicyManual, nil, q, discard()).Resolve(context.Background(), c)
	require.NoError(t, err)

	assert.Nil(t, res.Winner)
	assert.True(t, res.Queued)
	assert.Equal(t, models.ResolutionPending, c.Status)

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].ID)
}

func TestResolve_Errors(t *testing.T) {
	_, err := NewResolver(PolicyTimestamp, nil, nil, discard()).Resolve(context.Background(), &models.Conflict{ID: "empty"})
	assert.ErrorIs(t, err, models.ErrNoCandidates)

	c := &models.Conflict{ID: "c1", Candidates: []models.Entity{candidate("1", "vk", t1)}}
	_, err = NewResolver(PolicyManual, nil, nil, discard()).Resolve(context.Background(), c)
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyTimestamp, p)

	p, err = ParsePolicy(" Platform_Priority ")
	require.NoError(t, err)
	assert.Equal(t, PolicyPlatformPriority, p)

	_, err = ParsePolicy("coin_flip")
	assert.ErrorIs(t, err, ErrUnknownPolicy)

	assert.Equal(t, PolicyTimestamp, NewResolver("", nil, nil, discard()).Policy())
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, models.Conflict{ID: "c1", Candidates: []models.Entity{
		candidate("1", "telegram", t1),
		candidate("2", "vk", t2),
	}}))

	_, err := Complete(ctx, q, "c1", "nope", t2)
	assert.ErrorIs(t, err, models.ErrEntityNotFound)

	res, err := Complete(ctx, q, "c1", "1", t2)
	require.NoError(t, err)
	assert.Equal(t, "1", res.Winner.GUID)
	assert.Len(t, res.Losers, 1)

	stored, err := q.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.ResolutionResolved, stored.Status)
	assert.Equal(t, "1", stored.Winner.GUID)

	_, err = Complete(ctx, q, "c1", "2", t2)
	assert.ErrorIs(t, err, models.ErrConflictResolved)

	_, err = Complete(ctx, q, "missing", "1", t2)
	assert.ErrorIs(t, err, models.ErrConflictNotFound)
}
