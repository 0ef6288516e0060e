package conflict

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// Queue persists conflicts awaiting a manual decision
type Queue interface {
	Enqueue(ctx context.Context, c models.Conflict) error
	Pending(ctx context.Context) ([]models.Conflict, error)
	Get(ctx context.Context, id string) (models.Conflict, error)
	MarkResolved(ctx context.Context, id string, winner models.Entity, at time.Time) error
}

// MemoryQueue is the in-process Queue
type MemoryQueue struct {
	mu        sync.Mutex
	conflicts map[string]models.Conflict
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{conflicts: make(map[string]models.Conflict)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, c models.Conflict) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.conflicts[c.ID]; exists {
		return nil
	}
	c.Status = models.ResolutionPending
	c.Candidates = cloneEntities(c.Candidates)
	q.conflicts[c.ID] = c
	return nil
}

// Pending returns unresolved conflicts, oldest first
func (q *MemoryQueue) Pending(_ context.Context) ([]models.Conflict, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []models.Conflict
	for _, c := range q.conflicts {
		if c.Status == models.ResolutionPending {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *MemoryQueue) Get(_ context.Context, id string) (models.Conflict, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, ok := q.conflicts[id]
	if !ok {
		return models.Conflict{}, fmt.Errorf("%w: %s", models.ErrConflictNotFound, id)
	}
	return c, nil
}

func (q *MemoryQueue) MarkResolved(_ context.Context, id string, winner models.Entity, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, ok := q.conflicts[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrConflictNotFound, id)
	}
	if c.Status == models.ResolutionResolved {
		return fmt.Errorf("%w: %s", models.ErrConflictResolved, id)
	}
	c.MarkResolved(winner, at)
	q.conflicts[id] = c
	return nil
}

func cloneEntities(in []models.Entity) []models.Entity {
	out := make([]models.Entity, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
