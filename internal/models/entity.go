package models

import (
	"slices"
	"time"
)

// Platform names a target messaging platform (e.g. "telegram", "vk")
type Platform string

// EntityKind distinguishes the two entity collections a user owns
type EntityKind string

const (
	KindNeed     EntityKind = "need"
	KindResource EntityKind = "resource"
)

// SyncStatus is derived from the platform map, see DeriveStatus
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusPartial SyncStatus = "partial"
	StatusFailed  SyncStatus = "failed"
)

// PlatformRef records where an entity was propagated to
type PlatformRef struct {
	MessageID string    `json:"messageId"`
	SyncedAt  time.Time `json:"syncedAt"`
}

// Entity is a need or a resource owned by a user
type Entity struct {
	GUID            string                   `json:"guid"`
	Kind            EntityKind               `json:"kind"`
	Description     string                   `json:"description"`
	UserID          string                   `json:"userId"`
	OriginPlatform  Platform                 `json:"originPlatform"`
	MessageID       string                   `json:"messageId,omitempty"` // message on the origin platform
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
	Platforms       map[Platform]PlatformRef `json:"platforms,omitempty"`
	SyncStatus      SyncStatus               `json:"syncStatus"`
	SyncAttemptedAt time.Time                `json:"syncAttemptedAt,omitzero"`
}

// Clone returns a deep copy of the entity
func (e Entity) Clone() Entity {
	out := e
	if e.Platforms != nil {
		out.Platforms = make(map[Platform]PlatformRef, len(e.Platforms))
		for k, v := range e.Platforms {
			out.Platforms[k] = v
		}
	}
	return out
}

// Targets lists the enabled platforms this entity must be propagated to
func (e Entity) Targets(enabled []Platform) []Platform {
	targets := make([]Platform, 0, len(enabled))
	for _, p := range enabled {
		if p == e.OriginPlatform || slices.Contains(targets, p) {
			continue
		}
		targets = append(targets, p)
	}
	return targets
}

// IsPropagatedTo reports whether the platform map holds an entry for p
func (e Entity) IsPropagatedTo(p Platform) bool {
	_, ok := e.Platforms[p]
	return ok
}

// SetPlatformRef records a successful propagation
func (e *Entity) SetPlatformRef(p Platform, messageID string, at time.Time) {
	if e.Platforms == nil {
		e.Platforms = make(map[Platform]PlatformRef)
	}
	e.Platforms[p] = PlatformRef{MessageID: messageID, SyncedAt: at}
}

// DeriveStatus computes the sync status from the platform map:
// synced when every target is covered, partial when some are,
// failed when none are but a propagation was attempted, pending otherwise.
func (e Entity) DeriveStatus(enabled []Platform) SyncStatus {
	targets := e.Targets(enabled)
	covered := 0
	for _, p := range targets {
		if e.IsPropagatedTo(p) {
			covered++
		}
	}

	switch {
	case covered == len(targets):
		return StatusSynced
	case covered > 0:
		return StatusPartial
	case !e.SyncAttemptedAt.IsZero():
		return StatusFailed
	default:
		return StatusPending
	}
}

// RefreshStatus stores the derived status on the entity
func (e *Entity) RefreshStatus(enabled []Platform) {
	e.SyncStatus = e.DeriveStatus(enabled)
}

// Fields renders the entity as ordered audit fields
func (e Entity) Fields() Fields {
	f := Fields{
		{Key: "guid", Value: e.GUID},
		{Key: "kind", Value: string(e.Kind)},
		{Key: "description", Value: e.Description},
		{Key: "userId", Value: e.UserID},
		{Key: "originPlatform", Value: string(e.OriginPlatform)},
		{Key: "messageId", Value: e.MessageID},
		{Key: "createdAt", Value: FormatTime(e.CreatedAt)},
		{Key: "updatedAt", Value: FormatTime(e.UpdatedAt)},
		{Key: "syncStatus", Value: string(e.SyncStatus)},
	}
	if !e.SyncAttemptedAt.IsZero() {
		f = append(f, Field{Key: "syncAttemptedAt", Value: FormatTime(e.SyncAttemptedAt)})
	}

	platforms := Fields{}
	for _, p := range sortedPlatforms(e.Platforms) {
		ref := e.Platforms[p]
		platforms = append(platforms, Field{Key: string(p), Value: Fields{
			{Key: "messageId", Value: ref.MessageID},
			{Key: "syncedAt", Value: FormatTime(ref.SyncedAt)},
		}})
	}
	return append(f, Field{Key: "platforms", Value: platforms})
}

// FormatTime renders timestamps the way the audit channel expects them (ISO-8601, UTC, millis)
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(ISOMillis)
}

// ISOMillis is the ISO-8601 layout used on the audit channel
const ISOMillis = "2006-01-02T15:04:05.000Z07:00"

func sortedPlatforms(m map[Platform]PlatformRef) []Platform {
	keys := make([]Platform, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
