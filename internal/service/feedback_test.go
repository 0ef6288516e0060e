package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/internal/platform"
)

func feedbackBody(t *testing.T, fb models.CommandFeedback) []byte {
	t.Helper()
	raw, err := json.Marshal(fb)
	require.NoError(t, err)
	return raw
}

func TestFeedback_RejectedPostIsRepostedOnNextPass(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)

	_, _, err := f.orch.TriggerPass(context.Background())
	require.NoError(t, err)
	e := f.entity(t, "100")
	require.Equal(t, models.StatusSynced, e.SyncStatus)

	svc := NewFeedbackService(f.tracker, enabled, discardLogger())
	err = svc.Handle(context.Background(), feedbackBody(t, models.CommandFeedback{
		CorrelationID: "c1",
		Platform:      platform.VK,
		Type:          models.CommandPost,
		MessageID:     e.Platforms[platform.VK].MessageID,
		Error:         "chat write forbidden",
	}))
	require.NoError(t, err)

	e = f.entity(t, "100")
	assert.False(t, e.IsPropagatedTo(platform.VK))
	assert.Equal(t, models.StatusPartial, e.SyncStatus)

	stats, _, err := f.orch.TriggerPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Synced)
	assert.Equal(t, 2, f.vk.Posts())
	assert.Equal(t, 1, f.ds.Posts())
	assert.True(t, f.entity(t, "100").IsPropagatedTo(platform.VK))
}

func TestFeedback_Malformed(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, ann())
	svc := NewFeedbackService(f.tracker, enabled, discardLogger())

	err := svc.Handle(context.Background(), []byte("{not json"))
	assert.ErrorIs(t, err, models.ErrMalformedMessage)

	err = svc.Handle(context.Background(), feedbackBody(t, models.CommandFeedback{Platform: platform.VK}))
	assert.ErrorIs(t, err, models.ErrMalformedMessage)
}

func TestFeedback_IgnoredMessages(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)
	_, _, err := f.orch.TriggerPass(context.Background())
	require.NoError(t, err)
	before := len(f.sink.Entries())

	svc := NewFeedbackService(f.tracker, enabled, discardLogger())

	t.Run("unknown message", func(t *testing.T) {
		err := svc.Handle(context.Background(), feedbackBody(t, models.CommandFeedback{
			Platform:  platform.VK,
			Type:      models.CommandPost,
			MessageID: "vk-404",
		}))
		require.NoError(t, err)
	})

	t.Run("failed edit of a live message", func(t *testing.T) {
		err := svc.Handle(context.Background(), feedbackBody(t, models.CommandFeedback{
			Platform:  platform.VK,
			Type:      models.CommandEdit,
			MessageID: f.entity(t, "100").Platforms[platform.VK].MessageID,
			Error:     "rate limited",
		}))
		require.NoError(t, err)
		assert.True(t, f.entity(t, "100").IsPropagatedTo(platform.VK), "the original post is still up")
	})

	t.Run("failed delete", func(t *testing.T) {
		err := svc.Handle(context.Background(), feedbackBody(t, models.CommandFeedback{
			Platform:  platform.VK,
			Type:      models.CommandDelete,
			MessageID: f.entity(t, "100").Platforms[platform.VK].MessageID,
		}))
		require.NoError(t, err)
		assert.True(t, f.entity(t, "100").IsPropagatedTo(platform.VK))
	})

	assert.Len(t, f.sink.Entries(), before, "nothing changed, nothing audited")
}

func TestFeedback_EditOfVanishedMessageReposts(t *testing.T) {
	f := newFixture(t, Options{})
	u := ann()
	u.Needs = append(u.Needs, need("100", "Need water", platform.Telegram))
	f.seed(t, u)

	_, _, err := f.orch.TriggerPass(context.Background())
	require.NoError(t, err)

	svc := NewFeedbackService(f.tracker, enabled, discardLogger())
	err = svc.Handle(context.Background(), feedbackBody(t, models.CommandFeedback{
		Platform:    platform.Discord,
		Type:        models.CommandEdit,
		MessageID:   f.entity(t, "100").Platforms[platform.Discord].MessageID,
		Error:       "unknown message",
		MessageGone: true,
	}))
	require.NoError(t, err)
	assert.False(t, f.entity(t, "100").IsPropagatedTo(platform.Discord))

	_, _, err = f.orch.TriggerPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.ds.Posts())
	assert.Equal(t, 1, f.vk.Posts())
}
