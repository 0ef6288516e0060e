package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/pkg/metrics"
)

var errNoMatch = errors.New("no entity holds the message")

// FeedbackService applies failure reports sent back by bridged platform bots.
// A rejected post, or an edit of a message the platform no longer has, drops
// the platform ref so the next pass posts again.
type FeedbackService struct {
	tracker *StateTracker
	enabled []models.Platform
	logger  *slog.Logger
}

func NewFeedbackService(t *StateTracker, enabled []models.Platform, l *slog.Logger) *FeedbackService {
	return &FeedbackService{tracker: t, enabled: enabled, logger: l}
}

// Handle processes one feedback message body
func (s *FeedbackService) Handle(ctx context.Context, body []byte) error {
	var fb models.CommandFeedback
	if err := json.Unmarshal(body, &fb); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedMessage, err)
	}
	if fb.Platform == "" || fb.MessageID == "" {
		return fmt.Errorf("%w: platform and message_id are required", models.ErrMalformedMessage)
	}

	l := s.logger.With("correlation_id", fb.CorrelationID, "platform", fb.Platform, "message_id", fb.MessageID)

	switch {
	case fb.Type == models.CommandDelete:
		// the entity is already gone locally; nothing to heal
		l.Warn("Feedback: bot could not delete message", "error", fb.Error)
		return nil
	case fb.Type == models.CommandEdit && !fb.MessageGone:
		// the original post is still up, posting again would duplicate it
		l.Warn("Feedback: bot could not edit message, keeping platform ref", "error", fb.Error)
		return nil
	}

	var guid string
	_, err := s.tracker.Mutate(ctx, func(snap *models.Snapshot) error {
		for id, u := range snap.Users {
			for _, kind := range []models.EntityKind{models.KindNeed, models.KindResource} {
				coll := *u.Collection(kind)
				for i := range coll {
					ref, ok := coll[i].Platforms[fb.Platform]
					if !ok || ref.MessageID != fb.MessageID {
						continue
					}
					delete(coll[i].Platforms, fb.Platform)
					coll[i].RefreshStatus(s.enabled)
					guid = coll[i].GUID
					snap.Users[id] = u
					return nil
				}
			}
		}
		return errNoMatch
	})
	if errors.Is(err, errNoMatch) {
		l.Debug("Feedback: message no longer referenced, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	metrics.PropagationAttempts.WithLabelValues(string(fb.Platform), "rejected").Inc()
	l.Warn("Feedback: bot rejected command, platform ref dropped", "guid", guid, "type", fb.Type, "error", fb.Error)
	return nil
}
