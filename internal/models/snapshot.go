package models

import (
	"slices"
	"time"
)

// User owns the two entity collections. Platform/PlatformUserID identify the
// account the user registered with and are used to build mentions.
type User struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"displayName"`
	Username       string    `json:"username,omitempty"`
	Platform       Platform  `json:"platform"`
	PlatformUserID string    `json:"platformUserId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Needs          []Entity  `json:"needs"`
	Resources      []Entity  `json:"resources"`
}

// Clone returns a deep copy of the user and its collections
func (u User) Clone() User {
	out := u
	out.Needs = cloneEntities(u.Needs)
	out.Resources = cloneEntities(u.Resources)
	return out
}

// Collection returns the slice holding entities of the given kind
func (u *User) Collection(kind EntityKind) *[]Entity {
	if kind == KindResource {
		return &u.Resources
	}
	return &u.Needs
}

// Snapshot is the full state: user id -> user with its collections
type Snapshot struct {
	Users map[string]User `json:"users"`
}

// NewSnapshot returns an empty, writable snapshot
func NewSnapshot() Snapshot {
	return Snapshot{Users: map[string]User{}}
}

// Clone deep copies the snapshot so diffs never share mutable state
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Users: make(map[string]User, len(s.Users))}
	for id, u := range s.Users {
		out.Users[id] = u.Clone()
	}
	return out
}

// UserIDs returns the user ids in a stable order
func (s Snapshot) UserIDs() []string {
	ids := make([]string, 0, len(s.Users))
	for id := range s.Users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// EntityLocation points at an entity inside a snapshot
type EntityLocation struct {
	UserID string
	Kind   EntityKind
	Index  int
}

// Find locates an entity by guid
func (s Snapshot) Find(guid string) (Entity, EntityLocation, bool) {
	for _, id := range s.UserIDs() {
		u := s.Users[id]
		for _, kind := range []EntityKind{KindNeed, KindResource} {
			for i, e := range *u.Collection(kind) {
				if e.GUID == guid {
					return e, EntityLocation{UserID: id, Kind: kind, Index: i}, true
				}
			}
		}
	}
	return Entity{}, EntityLocation{}, false
}

// Update applies fn to the entity with the given guid in place
func (s Snapshot) Update(guid string, fn func(*Entity)) bool {
	_, loc, ok := s.Find(guid)
	if !ok {
		return false
	}
	u := s.Users[loc.UserID]
	coll := u.Collection(loc.Kind)
	fn(&(*coll)[loc.Index])
	s.Users[loc.UserID] = u
	return true
}

// Remove deletes the entity with the given guid from the active set
func (s Snapshot) Remove(guid string) (Entity, bool) {
	e, loc, ok := s.Find(guid)
	if !ok {
		return Entity{}, false
	}
	u := s.Users[loc.UserID]
	coll := u.Collection(loc.Kind)
	*coll = slices.Delete(*coll, loc.Index, loc.Index+1)
	s.Users[loc.UserID] = u
	return e, true
}

// Each visits every entity in traversal order: users by id, needs before resources
func (s Snapshot) Each(fn func(u User, e Entity)) {
	for _, id := range s.UserIDs() {
		u := s.Users[id]
		for _, e := range u.Needs {
			fn(u, e)
		}
		for _, e := range u.Resources {
			fn(u, e)
		}
	}
}

func cloneEntities(in []Entity) []Entity {
	if in == nil {
		return nil
	}
	out := make([]Entity, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
