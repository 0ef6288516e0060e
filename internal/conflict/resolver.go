// Package conflict reduces platform-origin variants of the same content to
// one canonical entity.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Guizzs26/go-aid-sync/internal/ids"
	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/pkg/metrics"
)

type Policy string

const (
	PolicyTimestamp        Policy = "timestamp"
	PolicyPlatformPriority Policy = "platform_priority"
	PolicyManual           Policy = "manual"
)

var ErrUnknownPolicy = errors.New("unknown conflict policy")

// ParsePolicy maps a configured name to a policy. Empty selects timestamp.
func ParsePolicy(name string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return PolicyTimestamp, nil
	case PolicyTimestamp, PolicyPlatformPriority, PolicyManual:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// Result is the outcome of one resolution. Winner is nil when the conflict
// was queued for manual resolution.
type Result struct {
	Winner *models.Entity
	Losers []models.Entity
	Policy Policy
	Queued bool
}

type Resolver struct {
	policy   Policy
	priority []models.Platform
	queue    Queue
	now      func() time.Time
	logger   *slog.Logger
}

// NewResolver creates a resolver. queue is only required by the manual policy.
func NewResolver(policy Policy, priority []models.Platform, queue Queue, logger *slog.Logger) *Resolver {
	if policy == "" {
		policy = PolicyTimestamp
	}
	return &Resolver{
		policy:   policy,
		priority: priority,
		queue:    queue,
		now:      time.Now,
		logger:   logger,
	}
}

func (r *Resolver) Policy() Policy { return r.policy }

// Resolve picks the winner of c according to the configured policy and marks
// c resolved. Under the manual policy c is enqueued and stays pending.
func (r *Resolver) Resolve(ctx context.Context, c *models.Conflict) (Result, error) {
	if len(c.Candidates) == 0 {
		metrics.ConflictResolutions.WithLabelValues(string(r.policy), "error").Inc()
		return Result{}, fmt.Errorf("resolve %s: %w", c.ID, models.ErrNoCandidates)
	}

	log := r.logger.With("conflict_id", c.ID, "policy", r.policy, "candidates", len(c.Candidates))

	var winner models.Entity
	switch r.policy {
	case PolicyManual:
		if r.queue == nil {
			metrics.ConflictResolutions.WithLabelValues(string(r.policy), "error").Inc()
			return Result{}, fmt.Errorf("resolve %s: manual policy without a queue", c.ID)
		}
		c.Status = models.ResolutionPending
		if err := r.queue.Enqueue(ctx, *c); err != nil {
			metrics.ConflictResolutions.WithLabelValues(string(r.policy), "error").Inc()
			return Result{}, fmt.Errorf("enqueue conflict %s: %w", c.ID, err)
		}
		metrics.ConflictResolutions.WithLabelValues(string(r.policy), "queued").Inc()
		log.Warn("Conflict queued for manual resolution")
		return Result{Policy: r.policy, Queued: true}, nil
	case PolicyPlatformPriority:
		winner = ByPlatformPriority(c.Candidates, r.priority)
	default:
		winner = ByTimestamp(c.Candidates)
	}

	c.MarkResolved(winner, r.now())
	metrics.ConflictResolutions.WithLabelValues(string(r.policy), "resolved").Inc()
	log.Info("Conflict resolved", "winner", winner.GUID, "origin", winner.OriginPlatform)

	return Result{Winner: c.Winner, Losers: losers(c.Candidates, winner.GUID), Policy: r.policy}, nil
}

// ByTimestamp returns the most recently updated candidate. Ties go to the
// smallest guid. candidates must not be empty.
func ByTimestamp(candidates []models.Entity) models.Entity {
	best := candidates[0]
	for _, e := range candidates[1:] {
		switch {
		case e.UpdatedAt.After(best.UpdatedAt):
			best = e
		case e.UpdatedAt.Equal(best.UpdatedAt) && ids.Less(e.GUID, best.GUID):
			best = e
		}
	}
	return best
}

// ByPlatformPriority returns the first candidate, in priority order, whose
// origin matches. Without a match it falls back to ByTimestamp.
func ByPlatformPriority(candidates []models.Entity, priority []models.Platform) models.Entity {
	for _, p := range priority {
		var matching []models.Entity
		for _, e := range candidates {
			if e.OriginPlatform == p {
				matching = append(matching, e)
			}
		}
		if len(matching) > 0 {
			// several variants from one platform still need a deterministic pick
			return ByTimestamp(matching)
		}
	}
	return ByTimestamp(candidates)
}

// Complete resolves a queued conflict with an operator chosen winner
func Complete(ctx context.Context, q Queue, id, winnerGUID string, at time.Time) (Result, error) {
	c, err := q.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if c.Status == models.ResolutionResolved {
		return Result{}, fmt.Errorf("%w: %s", models.ErrConflictResolved, id)
	}
	winner, ok := c.Candidate(winnerGUID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s is not a candidate of %s", models.ErrEntityNotFound, winnerGUID, id)
	}
	if err := q.MarkResolved(ctx, id, winner, at); err != nil {
		return Result{}, err
	}
	metrics.ConflictResolutions.WithLabelValues(string(PolicyManual), "resolved").Inc()
	return Result{Winner: &winner, Losers: losers(c.Candidates, winnerGUID), Policy: PolicyManual}, nil
}

func losers(candidates []models.Entity, winner string) []models.Entity {
	out := slices.Clone(candidates)
	return slices.DeleteFunc(out, func(e models.Entity) bool { return e.GUID == winner })
}
