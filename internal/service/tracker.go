package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Guizzs26/go-aid-sync/internal/audit"
	"github.com/Guizzs26/go-aid-sync/internal/db"
	"github.com/Guizzs26/go-aid-sync/internal/differ"
	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// Commit describes one successful write through the tracker
type Commit struct {
	Snapshot    models.Snapshot
	Changes     []models.ChangeRecord
	Transaction models.Transaction
	Audited     bool
}

// StateTracker is the single writer of the snapshot store. It keeps the last
// committed snapshot as the baseline every write is diffed against.
type StateTracker struct {
	store  db.SnapshotStore
	differ *differ.Differ
	audit  *audit.Logger
	logger *slog.Logger

	mu       sync.Mutex
	baseline models.Snapshot
	primed   bool
}

func NewStateTracker(store db.SnapshotStore, d *differ.Differ, a *audit.Logger, l *slog.Logger) *StateTracker {
	return &StateTracker{
		store:  store,
		differ: d,
		audit:  a,
		logger: l,
	}
}

// Prime captures the current store contents as the baseline
func (t *StateTracker) Prime(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prime(ctx)
}

func (t *StateTracker) prime(ctx context.Context) error {
	s, err := t.store.ReadAll(ctx)
	if err != nil {
		return &models.StorageError{Op: "read", Err: err}
	}
	t.baseline = s
	t.primed = true
	return nil
}

// Snapshot reads the current state from the store
func (t *StateTracker) Snapshot(ctx context.Context) (models.Snapshot, error) {
	s, err := t.store.ReadAll(ctx)
	if err != nil {
		return models.Snapshot{}, &models.StorageError{Op: "read", Err: err}
	}
	return s, nil
}

// Baseline returns a copy of the last committed snapshot
func (t *StateTracker) Baseline() models.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseline.Clone()
}

// Mutate applies fn to a copy of the current state, writes the whole result
// and then audits what changed. An error from fn or from the store leaves
// both the store and the baseline untouched. Audit delivery never fails the write.
func (t *StateTracker) Mutate(ctx context.Context, fn func(s *models.Snapshot) error) (Commit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.primed {
		if err := t.prime(ctx); err != nil {
			return Commit{}, err
		}
	}

	current, err := t.store.ReadAll(ctx)
	if err != nil {
		return Commit{}, &models.StorageError{Op: "read", Err: err}
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return Commit{}, err
	}

	changes := t.differ.Diff(t.baseline, next)

	if err := t.store.WriteAll(ctx, next); err != nil {
		t.logger.Error("Snapshot write failed, baseline kept", "error", err, "pending_changes", len(changes))
		return Commit{}, &models.StorageError{Op: "write", Err: err}
	}
	t.baseline = next.Clone()

	commit := Commit{Snapshot: next, Changes: changes}
	if t.audit != nil {
		commit.Transaction, commit.Audited = t.audit.Log(ctx, changes)
	}
	return commit, nil
}
