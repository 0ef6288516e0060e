package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/internal/platform"
)

var ErrInvalidEntity = errors.New("invalid entity")

// IDSource hands out entity guids
type IDSource interface {
	Next() string
}

// NewEntity is the input of Create
type NewEntity struct {
	UserID         string
	Kind           models.EntityKind
	Description    string
	OriginPlatform models.Platform
	MessageID      string
}

// Result is the entity after an operation plus the platform calls that failed.
// Platform failures never fail the operation itself.
type Result struct {
	Entity   models.Entity
	Failures []error
}

// EntityService is the user facing write path: every operation commits
// locally first and only then talks to platforms.
type EntityService struct {
	tracker  *StateTracker
	orch     *Orchestrator
	registry *platform.Registry
	ids      IDSource
	now      func() time.Time
	logger   *slog.Logger
}

func NewEntityService(t *StateTracker, o *Orchestrator, r *platform.Registry, ids IDSource, l *slog.Logger) *EntityService {
	return &EntityService{
		tracker:  t,
		orch:     o,
		registry: r,
		ids:      ids,
		now:      time.Now,
		logger:   l,
	}
}

// Create stores a new entity and cross-posts it to every other enabled platform
func (s *EntityService) Create(ctx context.Context, in NewEntity) (Result, error) {
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return Result{}, fmt.Errorf("%w: description is required", ErrInvalidEntity)
	}
	if in.Kind != models.KindNeed && in.Kind != models.KindResource {
		return Result{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidEntity, in.Kind)
	}

	now := s.now()
	e := models.Entity{
		GUID:           s.ids.Next(),
		Kind:           in.Kind,
		Description:    in.Description,
		UserID:         in.UserID,
		OriginPlatform: in.OriginPlatform,
		MessageID:      in.MessageID,
		CreatedAt:      now,
		UpdatedAt:      now,
		SyncStatus:     models.StatusPending,
	}

	_, err := s.tracker.Mutate(ctx, func(snap *models.Snapshot) error {
		u, ok := snap.Users[in.UserID]
		if !ok {
			return fmt.Errorf("create for %s: %w", in.UserID, models.ErrUserNotFound)
		}
		e.RefreshStatus(s.orch.Enabled())
		coll := u.Collection(in.Kind)
		*coll = append(*coll, e)
		snap.Users[in.UserID] = u
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("Entity created", "guid", e.GUID, "kind", e.Kind, "origin", e.OriginPlatform)

	return s.crossPost(ctx, e), nil
}

// Edit changes the description and updates every propagated copy
func (s *EntityService) Edit(ctx context.Context, guid, description string) (Result, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Result{}, fmt.Errorf("%w: description is required", ErrInvalidEntity)
	}

	var edited models.Entity
	commit, err := s.tracker.Mutate(ctx, func(snap *models.Snapshot) error {
		ok := snap.Update(guid, func(e *models.Entity) {
			e.Description = description
			e.UpdatedAt = s.now()
			edited = *e
		})
		if !ok {
			return fmt.Errorf("edit %s: %w", guid, models.ErrEntityNotFound)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Entity: edited.Clone()}
	owner := commit.Snapshot.Users[edited.UserID]
	for _, p := range platformsOf(edited) {
		adapter, err := s.registry.Get(p)
		if err == nil {
			content := platform.BuildContent(edited, owner, adapter, s.orch.showOrigin)
			err = adapter.EditMessage(ctx, edited.Platforms[p].MessageID, content, platform.PostOptions{GUID: guid, Kind: edited.Kind})
		}
		if err != nil {
			res.Failures = append(res.Failures, &models.ItemSyncError{GUID: guid, Platform: p, Err: err})
		}
	}
	s.logFailures("edit", guid, res.Failures)
	return res, nil
}

// Bump re-posts an entity: propagated copies are deleted, the platform map
// is cleared and the entity is cross-posted again as if new
func (s *EntityService) Bump(ctx context.Context, guid string) (Result, error) {
	var previous models.Entity
	_, err := s.tracker.Mutate(ctx, func(snap *models.Snapshot) error {
		ok := snap.Update(guid, func(e *models.Entity) {
			previous = e.Clone()
			e.Platforms = nil
			e.SyncAttemptedAt = time.Time{}
			e.UpdatedAt = s.now()
			e.RefreshStatus(s.orch.Enabled())
		})
		if !ok {
			return fmt.Errorf("bump %s: %w", guid, models.ErrEntityNotFound)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	failures := s.retractAll(ctx, previous)
	current, _, ok := s.findCurrent(ctx, guid)
	if !ok {
		return Result{Entity: previous, Failures: failures}, nil
	}
	res := s.crossPost(ctx, current)
	res.Failures = append(failures, res.Failures...)
	return res, nil
}

// Delete removes the entity from the active set and retracts its copies
func (s *EntityService) Delete(ctx context.Context, guid string) (Result, error) {
	var removed models.Entity
	_, err := s.tracker.Mutate(ctx, func(snap *models.Snapshot) error {
		e, ok := snap.Remove(guid)
		if !ok {
			return fmt.Errorf("delete %s: %w", guid, models.ErrEntityNotFound)
		}
		removed = e
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Entity: removed, Failures: s.retractAll(ctx, removed)}
	s.logFailures("delete", guid, res.Failures)
	return res, nil
}

// RegisterUser creates or updates a user profile, keeping its collections.
// Missing display fields are filled from the user's own platform when it knows the account.
func (s *EntityService) RegisterUser(ctx context.Context, u models.User) (models.User, error) {
	if u.ID == "" {
		return models.User{}, fmt.Errorf("%w: user id is required", ErrInvalidEntity)
	}
	s.enrich(ctx, &u)

	var stored models.User
	_, err := s.tracker.Mutate(ctx, func(snap *models.Snapshot) error {
		existing, ok := snap.Users[u.ID]
		if ok {
			existing.DisplayName = u.DisplayName
			existing.Username = u.Username
			existing.Platform = u.Platform
			existing.PlatformUserID = u.PlatformUserID
		} else {
			existing = models.User{
				ID:             u.ID,
				DisplayName:    u.DisplayName,
				Username:       u.Username,
				Platform:       u.Platform,
				PlatformUserID: u.PlatformUserID,
				CreatedAt:      u.CreatedAt,
				Needs:          []models.Entity{},
				Resources:      []models.Entity{},
			}
			if existing.CreatedAt.IsZero() {
				existing.CreatedAt = s.now()
			}
		}
		snap.Users[u.ID] = existing
		stored = existing.Clone()
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return stored, nil
}

// RemoveUser deletes a user with all its entities and retracts their copies
func (s *EntityService) RemoveUser(ctx context.Context, id string) ([]error, error) {
	var removed models.User
	_, err := s.tracker.Mutate(ctx, func(snap *models.Snapshot) error {
		u, ok := snap.Users[id]
		if !ok {
			return fmt.Errorf("remove %s: %w", id, models.ErrUserNotFound)
		}
		removed = u
		delete(snap.Users, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var failures []error
	for _, e := range slices.Concat(removed.Needs, removed.Resources) {
		failures = append(failures, s.retractAll(ctx, e)...)
	}
	s.logFailures("remove user", id, failures)
	return failures, nil
}

func (s *EntityService) crossPost(ctx context.Context, e models.Entity) Result {
	updated, stats, err := s.orch.CrossPost(ctx, e.GUID)
	if err != nil {
		// the entity is committed; the next pass picks it up
		s.logger.Warn("Cross-post could not be recorded", "guid", e.GUID, "error", err)
		return Result{Entity: e, Failures: []error{err}}
	}

	res := Result{Entity: updated}
	for _, p := range updated.Targets(s.orch.Enabled()) {
		if !updated.IsPropagatedTo(p) {
			res.Failures = append(res.Failures, &models.ItemSyncError{GUID: e.GUID, Platform: p, Err: errors.New("not propagated")})
		}
	}
	s.logger.Debug("Cross-post finished", "guid", e.GUID, "synced", stats.Synced, "errors", stats.Errors, "status", updated.SyncStatus)
	return res
}

func (s *EntityService) retractAll(ctx context.Context, e models.Entity) []error {
	var failures []error
	for _, p := range platformsOf(e) {
		adapter, err := s.registry.Get(p)
		if err == nil {
			err = adapter.DeleteMessage(ctx, e.Platforms[p].MessageID)
		}
		if err != nil {
			failures = append(failures, &models.ItemSyncError{GUID: e.GUID, Platform: p, Err: err})
		}
	}
	return failures
}

func (s *EntityService) findCurrent(ctx context.Context, guid string) (models.Entity, models.EntityLocation, bool) {
	snap, err := s.tracker.Snapshot(ctx)
	if err != nil {
		return models.Entity{}, models.EntityLocation{}, false
	}
	return snap.Find(guid)
}

func (s *EntityService) enrich(ctx context.Context, u *models.User) {
	if (u.DisplayName != "" && u.Username != "") || u.PlatformUserID == "" {
		return
	}
	adapter, err := s.registry.Get(u.Platform)
	if err != nil {
		return
	}
	profile, err := adapter.GetUserInfo(ctx, u.PlatformUserID)
	if err != nil || profile == nil {
		return
	}
	if u.DisplayName == "" {
		u.DisplayName = profile.DisplayName
	}
	if u.Username == "" {
		u.Username = profile.Username
	}
}

func (s *EntityService) logFailures(op, id string, failures []error) {
	if len(failures) == 0 {
		return
	}
	s.logger.Warn("Platform calls failed", "op", op, "id", id, "failures", len(failures), "error", errors.Join(failures...))
}

func platformsOf(e models.Entity) []models.Platform {
	out := make([]models.Platform, 0, len(e.Platforms))
	for p := range e.Platforms {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
