package models

import (
	"encoding/json"
	"time"
)

// CommandType is the action a platform bot must perform
type CommandType string

const (
	CommandPost   CommandType = "post"
	CommandEdit   CommandType = "edit"
	CommandDelete CommandType = "delete"
)

// PlatformCommand is the message published for a platform bot to execute.
// MessageID is assigned by the relay so the bot can map it to its native id.
type PlatformCommand struct {
	CorrelationID string          `json:"correlation_id"`
	Platform      Platform        `json:"platform"`
	Type          CommandType     `json:"type"`
	MessageID     string          `json:"message_id"`
	Content       string          `json:"content,omitempty"`
	Options       json.RawMessage `json:"options,omitempty"`
	IssuedAt      time.Time       `json:"issued_at"`
}

// EstimateBytes approximates the encoded size of the command
func (c PlatformCommand) EstimateBytes() int {
	return len(c.Content) + len(c.Options) + len(c.MessageID) + len(c.CorrelationID) + 64
}

// CommandFeedback is what a platform bot reports back when it could not
// execute a command. MessageGone is set when the platform no longer has
// the message at all.
type CommandFeedback struct {
	CorrelationID string      `json:"correlation_id"`
	Platform      Platform    `json:"platform"`
	Type          CommandType `json:"type"`
	MessageID     string      `json:"message_id"`
	Error         string      `json:"error"`
	MessageGone   bool        `json:"message_gone,omitempty"`
	ReportedAt    time.Time   `json:"reported_at"`
}
