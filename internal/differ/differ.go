// Package differ turns two full-state snapshots into ordered change records.
package differ

import (
	"reflect"
	"slices"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// DefaultVolatileFields are ignored when deciding whether an entity changed.
// syncStatus and syncAttemptedAt are derived bookkeeping rewritten by every pass.
var DefaultVolatileFields = []string{"updatedAt", "syncStatus", "syncAttemptedAt"}

// Differ compares snapshots by guid
type Differ struct {
	volatile []string
}

// New creates a Differ. With no arguments DefaultVolatileFields are used.
func New(volatile ...string) *Differ {
	if len(volatile) == 0 {
		volatile = DefaultVolatileFields
	}
	return &Differ{volatile: volatile}
}

// Diff returns the change records that turn previous into current.
// Order: new users, then per-user entity changes (needs before resources, in
// collection order, deletes after creates/updates), then removed users.
// Entities of a new or removed user only show up in that user's counts.
func (d *Differ) Diff(previous, current models.Snapshot) []models.ChangeRecord {
	var changes []models.ChangeRecord

	for _, id := range current.UserIDs() {
		if _, existed := previous.Users[id]; !existed {
			changes = append(changes, userCreate(current.Users[id]))
		}
	}

	for _, id := range unionUserIDs(previous, current) {
		prevUser, hadPrev := previous.Users[id]
		currUser, hasCurr := current.Users[id]

		if hadPrev && hasCurr && userProfileChanged(prevUser, currUser) {
			changes = append(changes, models.ChangeRecord{
				Operation:    models.OpUpdate,
				Entity:       models.EntityUser,
				UserID:       id,
				Data:         userProfile(currUser),
				PreviousData: userProfile(prevUser),
			})
		}

		// a user appearing or disappearing is summarised by counts only
		if !hadPrev || !hasCurr {
			continue
		}

		for _, kind := range []models.EntityKind{models.KindNeed, models.KindResource} {
			changes = append(changes, d.diffCollection(id, kind, *prevUser.Collection(kind), *currUser.Collection(kind))...)
		}
	}

	for _, id := range previous.UserIDs() {
		if _, still := current.Users[id]; !still {
			changes = append(changes, userDelete(previous.Users[id]))
		}
	}

	return changes
}

func (d *Differ) diffCollection(userID string, kind models.EntityKind, prev, curr []models.Entity) []models.ChangeRecord {
	prevByGUID := make(map[string]models.Entity, len(prev))
	for _, e := range prev {
		prevByGUID[e.GUID] = e
	}
	currByGUID := make(map[string]struct{}, len(curr))

	var changes []models.ChangeRecord
	for _, e := range curr {
		currByGUID[e.GUID] = struct{}{}

		old, existed := prevByGUID[e.GUID]
		if !existed {
			changes = append(changes, models.ChangeRecord{
				Operation: models.OpCreate,
				Entity:    string(kind),
				UserID:    userID,
				Data:      e.Fields().Pick("guid", "description", "messageId", "originPlatform", "createdAt"),
			})
			continue
		}

		if d.Equal(old, e) {
			continue
		}
		changes = append(changes, models.ChangeRecord{
			Operation:    models.OpUpdate,
			Entity:       string(kind),
			UserID:       userID,
			Data:         e.Fields(),
			PreviousData: old.Fields().Pick("description", "messageId"),
		})
	}

	for _, e := range prev {
		if _, still := currByGUID[e.GUID]; still {
			continue
		}
		changes = append(changes, models.ChangeRecord{
			Operation:    models.OpDelete,
			Entity:       string(kind),
			UserID:       userID,
			Data:         e.Fields().Pick("guid"),
			PreviousData: e.Fields(),
		})
	}

	return changes
}

// Equal reports whether two entities match on every non-volatile field
func (d *Differ) Equal(a, b models.Entity) bool {
	return reflect.DeepEqual(a.Fields().Without(d.volatile...), b.Fields().Without(d.volatile...))
}

func userCreate(u models.User) models.ChangeRecord {
	return models.ChangeRecord{
		Operation: models.OpCreate,
		Entity:    models.EntityUser,
		UserID:    u.ID,
		Data:      userSummary(u),
	}
}

func userDelete(u models.User) models.ChangeRecord {
	return models.ChangeRecord{
		Operation:    models.OpDelete,
		Entity:       models.EntityUser,
		UserID:       u.ID,
		Data:         models.Fields{{Key: "userId", Value: u.ID}},
		PreviousData: userSummary(u),
	}
}

func userSummary(u models.User) models.Fields {
	return append(userProfile(u),
		models.Field{Key: "needs", Value: len(u.Needs)},
		models.Field{Key: "resources", Value: len(u.Resources)},
	)
}

func userProfile(u models.User) models.Fields {
	return models.Fields{
		{Key: "userId", Value: u.ID},
		{Key: "displayName", Value: u.DisplayName},
		{Key: "platform", Value: string(u.Platform)},
	}
}

func userProfileChanged(a, b models.User) bool {
	return a.DisplayName != b.DisplayName || a.Platform != b.Platform
}

func unionUserIDs(a, b models.Snapshot) []string {
	ids := a.UserIDs()
	for _, id := range b.UserIDs() {
		if _, ok := a.Users[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
