package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// CommandPublisher delivers a command to the bot serving a platform
type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd models.PlatformCommand) error
}

// ProfileLookup resolves a platform account, nil when unknown
type ProfileLookup func(ctx context.Context, userID string) (*Profile, error)

// Bridge is the adapter for platforms whose bot runs out of process.
// Message ids are assigned here and the bot keeps the mapping to its native ids,
// so a confirmed publish counts as a successful post.
type Bridge struct {
	name    models.Platform
	pub     CommandPublisher
	lookup  ProfileLookup
	now     func() time.Time
	newUUID func() string
}

func NewBridge(name models.Platform, pub CommandPublisher, lookup ProfileLookup) *Bridge {
	return &Bridge{
		name:    name,
		pub:     pub,
		lookup:  lookup,
		now:     time.Now,
		newUUID: uuid.NewString,
	}
}

func (b *Bridge) Name() models.Platform { return b.name }

func (b *Bridge) PostMessage(ctx context.Context, content string, opts PostOptions) (string, error) {
	id := b.newUUID()
	if err := b.send(ctx, models.CommandPost, id, content, opts); err != nil {
		return "", err
	}
	return id, nil
}

func (b *Bridge) EditMessage(ctx context.Context, messageID, content string, opts PostOptions) error {
	return b.send(ctx, models.CommandEdit, messageID, content, opts)
}

func (b *Bridge) DeleteMessage(ctx context.Context, messageID string) error {
	return b.send(ctx, models.CommandDelete, messageID, "", PostOptions{})
}

func (b *Bridge) GetUserInfo(ctx context.Context, userID string) (*Profile, error) {
	if b.lookup == nil {
		return nil, nil
	}
	return b.lookup(ctx, userID)
}

func (b *Bridge) BuildUserMention(u models.User) string {
	return Mention(b.name, u)
}

func (b *Bridge) send(ctx context.Context, typ models.CommandType, messageID, content string, opts PostOptions) error {
	var raw json.RawMessage
	if opts != (PostOptions{}) {
		encoded, err := json.Marshal(opts)
		if err != nil {
			return fmt.Errorf("encode %s options: %w", typ, err)
		}
		raw = encoded
	}

	cmd := models.PlatformCommand{
		CorrelationID: b.newUUID(),
		Platform:      b.name,
		Type:          typ,
		MessageID:     messageID,
		Content:       content,
		Options:       raw,
		IssuedAt:      b.now().UTC(),
	}
	if err := b.pub.PublishCommand(ctx, cmd); err != nil {
		return fmt.Errorf("%s %s via bridge: %w", b.name, typ, err)
	}
	return nil
}
