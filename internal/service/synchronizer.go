package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/go-aid-sync/internal/conflict"
	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/internal/platform"
	"github.com/Guizzs26/go-aid-sync/pkg/metrics"
)

// Options configure the orchestrator. Detector and Resolver are both needed
// for the end of pass conflict hook; leaving either nil disables it.
type Options struct {
	Enabled          []models.Platform
	ShowOriginNotice bool
	Detector         *conflict.Detector
	Resolver         *conflict.Resolver
}

// Orchestrator propagates entities to every enabled platform they are
// missing from. Only one pass runs at a time; overlapping requests are dropped.
type Orchestrator struct {
	tracker    *StateTracker
	registry   *platform.Registry
	enabled    []models.Platform
	showOrigin bool
	detector   *conflict.Detector
	resolver   *conflict.Resolver
	logger     *slog.Logger
	now        func() time.Time

	running atomic.Bool

	mu    sync.Mutex
	stats models.SyncStats
	stop  chan struct{}
	done  chan struct{}
}

func NewOrchestrator(t *StateTracker, r *platform.Registry, opts Options, l *slog.Logger) *Orchestrator {
	return &Orchestrator{
		tracker:    t,
		registry:   r,
		enabled:    opts.Enabled,
		showOrigin: opts.ShowOriginNotice,
		detector:   opts.Detector,
		resolver:   opts.Resolver,
		logger:     l,
		now:        time.Now,
	}
}

// Enabled returns the configured target platforms
func (o *Orchestrator) Enabled() []models.Platform {
	return append([]models.Platform(nil), o.enabled...)
}

// Stats returns the counters of the last finished pass
func (o *Orchestrator) Stats() models.SyncStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Running reports whether a pass is in progress
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// TriggerPass runs one sync pass unless one is already running, in which
// case it returns ran=false without side effects.
func (o *Orchestrator) TriggerPass(ctx context.Context) (stats models.SyncStats, ran bool, err error) {
	if !o.running.CompareAndSwap(false, true) {
		metrics.DroppedPasses.Inc()
		o.logger.Debug("Sync pass already in progress, request dropped")
		return models.SyncStats{}, false, nil
	}
	defer o.running.Store(false)

	stats, err = o.runPass(ctx)
	return stats, true, err
}

// Start runs a pass every interval until Stop is called or ctx is done.
// Passes run detached from ctx cancellation so an in-flight pass always completes.
func (o *Orchestrator) Start(ctx context.Context, interval time.Duration) {
	o.mu.Lock()
	if o.stop != nil {
		o.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	o.stop, o.done = stop, done
	o.mu.Unlock()

	passCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(done)
		defer o.release(stop)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		o.logger.Info("Sync orchestrator started", "interval", interval, "platforms", o.enabled)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if _, _, err := o.TriggerPass(passCtx); err != nil {
					o.logger.Error("Sync pass aborted", "error", err)
				}
			}
		}
	}()
}

// release forgets the loop owning stop so Start can run again after ctx ends
func (o *Orchestrator) release(stop chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stop == stop {
		o.stop, o.done = nil, nil
	}
}

// Stop clears the timer and waits for a running pass to finish
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	stop, done := o.stop, o.done
	o.stop, o.done = nil, nil
	o.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	o.logger.Info("Sync orchestrator stopped")
}

func (o *Orchestrator) runPass(ctx context.Context) (models.SyncStats, error) {
	start := o.now()
	stats := models.SyncStats{}

	defer func() {
		metrics.PassDuration.Observe(time.Since(start).Seconds())
	}()

	snap, err := o.tracker.Snapshot(ctx)
	if err != nil {
		metrics.SyncPasses.WithLabelValues("storage_error").Inc()
		return stats, err
	}

	var outcomes []outcome
	snap.Each(func(owner models.User, e models.Entity) {
		stats.Processed++
		if out, ok := o.propagate(ctx, owner, e, &stats); ok {
			outcomes = append(outcomes, out)
		}
	})

	commit, err := o.apply(ctx, outcomes, true)
	if err != nil {
		metrics.SyncPasses.WithLabelValues("storage_error").Inc()
		return stats, err
	}

	if o.detector != nil && o.resolver != nil {
		o.resolveConflicts(ctx, commit.Snapshot, &stats)
	}

	stats.LastSync = o.now()
	o.mu.Lock()
	o.stats = stats
	o.mu.Unlock()

	metrics.SyncPasses.WithLabelValues("ok").Inc()
	metrics.LastSync.Set(float64(stats.LastSync.Unix()))

	o.logger.Info("Sync pass finished",
		"processed", stats.Processed,
		"synced", stats.Synced,
		"errors", stats.Errors,
		"conflicts", stats.Conflicts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stats, nil
}

// CrossPost propagates one entity right away, bypassing the timer. It does
// not take the pass flag.
func (o *Orchestrator) CrossPost(ctx context.Context, guid string) (models.Entity, models.SyncStats, error) {
	stats := models.SyncStats{}

	snap, err := o.tracker.Snapshot(ctx)
	if err != nil {
		return models.Entity{}, stats, err
	}
	e, loc, ok := snap.Find(guid)
	if !ok {
		return models.Entity{}, stats, fmt.Errorf("cross-post %s: %w", guid, models.ErrEntityNotFound)
	}

	stats.Processed = 1
	var outcomes []outcome
	if out, ok := o.propagate(ctx, snap.Users[loc.UserID], e, &stats); ok {
		outcomes = append(outcomes, out)
	}

	commit, err := o.apply(ctx, outcomes, false)
	if err != nil {
		return e, stats, err
	}
	stats.LastSync = o.now()

	updated, _, ok := commit.Snapshot.Find(guid)
	if !ok {
		return e, stats, fmt.Errorf("cross-post %s: %w", guid, models.ErrEntityNotFound)
	}
	return updated, stats, nil
}

// outcome is what one entity's propagation produced
type outcome struct {
	guid string
	refs map[models.Platform]models.PlatformRef
}

// propagate posts e to every enabled platform its map lacks, one platform
// at a time. ok is false when nothing was attempted.
func (o *Orchestrator) propagate(ctx context.Context, owner models.User, e models.Entity, stats *models.SyncStats) (outcome, bool) {
	var missing []models.Platform
	for _, p := range e.Targets(o.enabled) {
		if !e.IsPropagatedTo(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return outcome{}, false
	}

	out := outcome{guid: e.GUID, refs: make(map[models.Platform]models.PlatformRef)}
	log := o.logger.With("guid", e.GUID, "kind", e.Kind)

	for _, p := range missing {
		messageID, err := o.post(ctx, owner, e, p)
		if err != nil {
			stats.Errors++
			metrics.PropagationAttempts.WithLabelValues(string(p), "error").Inc()
			log.Warn("Propagation failed, will retry next pass", "error", &models.ItemSyncError{GUID: e.GUID, Platform: p, Err: err})
			continue
		}
		stats.Synced++
		metrics.PropagationAttempts.WithLabelValues(string(p), "synced").Inc()
		out.refs[p] = models.PlatformRef{MessageID: messageID, SyncedAt: o.now()}
		log.Debug("Entity propagated", "platform", p, "message_id", messageID)
	}
	return out, true
}

func (o *Orchestrator) post(ctx context.Context, owner models.User, e models.Entity, p models.Platform) (string, error) {
	adapter, err := o.registry.Get(p)
	if err != nil {
		return "", err
	}
	content := platform.BuildContent(e, owner, adapter, o.showOrigin)
	return adapter.PostMessage(ctx, content, platform.PostOptions{GUID: e.GUID, Kind: e.Kind})
}

// orphan is a remote message nothing in the snapshot points at anymore
type orphan struct {
	platform  models.Platform
	messageID string
}

// apply records propagation results on a fresh copy of the state, so writes
// made while the pass was talking to platforms are kept. refreshAll
// recomputes the status of every entity, not only the attempted ones.
func (o *Orchestrator) apply(ctx context.Context, outcomes []outcome, refreshAll bool) (Commit, error) {
	var orphans []orphan
	attemptedAt := o.now()

	commit, err := o.tracker.Mutate(ctx, func(s *models.Snapshot) error {
		orphans = orphans[:0]
		for _, out := range outcomes {
			found := s.Update(out.guid, func(e *models.Entity) {
				for p, ref := range out.refs {
					if e.IsPropagatedTo(p) {
						// a concurrent cross-post got there first
						orphans = append(orphans, orphan{p, ref.MessageID})
						continue
					}
					e.SetPlatformRef(p, ref.MessageID, ref.SyncedAt)
				}
				e.SyncAttemptedAt = attemptedAt
				e.RefreshStatus(o.enabled)
			})
			if !found {
				// deleted while we were posting
				for p, ref := range out.refs {
					orphans = append(orphans, orphan{p, ref.MessageID})
				}
			}
		}
		if refreshAll {
			refreshStatuses(s, o.enabled)
		}
		return nil
	})
	if err != nil {
		return Commit{}, err
	}

	o.retract(ctx, orphans)
	return commit, nil
}

// retract deletes orphaned messages, best effort
func (o *Orchestrator) retract(ctx context.Context, orphans []orphan) {
	for _, orph := range orphans {
		adapter, err := o.registry.Get(orph.platform)
		if err == nil {
			err = adapter.DeleteMessage(ctx, orph.messageID)
		}
		if err != nil {
			o.logger.Warn("Could not retract orphaned message", "platform", orph.platform, "message_id", orph.messageID, "error", err)
		}
	}
}

func (o *Orchestrator) resolveConflicts(ctx context.Context, snap models.Snapshot, stats *models.SyncStats) {
	for _, c := range o.detector.Detect(snap) {
		stats.Conflicts++
		res, err := o.resolver.Resolve(ctx, &c)
		if err != nil {
			stats.Errors++
			o.logger.Error("Conflict resolution failed", "conflict_id", c.ID, "error", err)
			continue
		}
		if res.Winner == nil {
			continue
		}
		if err := o.ApplyResolution(ctx, res); err != nil {
			stats.Errors++
			o.logger.Error("Could not apply conflict resolution", "conflict_id", c.ID, "error", err)
		}
	}
}

// ApplyResolution keeps the winner, moves platform refs the winner lacks
// over from the losers and removes the losers. Duplicate remote messages are retracted.
func (o *Orchestrator) ApplyResolution(ctx context.Context, res conflict.Result) error {
	if res.Winner == nil {
		return errors.New("resolution has no winner")
	}
	var orphans []orphan

	_, err := o.tracker.Mutate(ctx, func(s *models.Snapshot) error {
		orphans = orphans[:0]
		winnerGUID := res.Winner.GUID
		if _, _, ok := s.Find(winnerGUID); !ok {
			return fmt.Errorf("winner %s: %w", winnerGUID, models.ErrEntityNotFound)
		}

		for _, candidate := range res.Losers {
			loser, ok := s.Remove(candidate.GUID)
			if !ok {
				continue
			}
			s.Update(winnerGUID, func(w *models.Entity) {
				orphans = append(orphans, mergeRefs(w, loser)...)
				w.RefreshStatus(o.enabled)
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.retract(ctx, orphans)
	return nil
}

// mergeRefs moves the loser's presence on each platform over to the winner
// and returns the loser messages that became duplicates
func mergeRefs(w *models.Entity, loser models.Entity) []orphan {
	var dup []orphan

	refs := make(map[models.Platform]models.PlatformRef, len(loser.Platforms)+1)
	for p, ref := range loser.Platforms {
		refs[p] = ref
	}
	if loser.MessageID != "" {
		refs[loser.OriginPlatform] = models.PlatformRef{MessageID: loser.MessageID, SyncedAt: loser.CreatedAt}
	}

	for _, p := range slices.Sorted(maps.Keys(refs)) {
		ref := refs[p]
		if p == w.OriginPlatform || w.IsPropagatedTo(p) {
			dup = append(dup, orphan{p, ref.MessageID})
			continue
		}
		w.SetPlatformRef(p, ref.MessageID, ref.SyncedAt)
	}
	return dup
}

func refreshStatuses(s *models.Snapshot, enabled []models.Platform) {
	for id, u := range s.Users {
		for i := range u.Needs {
			u.Needs[i].RefreshStatus(enabled)
		}
		for i := range u.Resources {
			u.Resources[i].RefreshStatus(enabled)
		}
		s.Users[id] = u
	}
}
