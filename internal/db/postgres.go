package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

const snapshotRowID = 1

// PostgresStore keeps the snapshot as a single JSONB row
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPool opens and pings a pgx pool
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres not responding: %w", err)
	}

	return p, nil
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS aid_snapshot (
			id         SMALLINT PRIMARY KEY,
			state      JSONB NOT NULL,
			version    BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create aid_snapshot: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (r *PostgresStore) ReadAll(ctx context.Context) (models.Snapshot, error) {
	var state []byte
	err := r.pool.QueryRow(ctx, `SELECT state FROM aid_snapshot WHERE id = $1`, snapshotRowID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NewSnapshot(), nil
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	return decodeSnapshot(state)
}

func (r *PostgresStore) WriteAll(ctx context.Context, s models.Snapshot) error {
	state, err := encodeSnapshot(s)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO aid_snapshot (id, state) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state,
		    version = aid_snapshot.version + 1,
		    updated_at = CURRENT_TIMESTAMP
	`
	if _, err := tx.Exec(ctx, query, snapshotRowID, state); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// PostgresConflictQueue persists conflicts waiting for manual resolution
type PostgresConflictQueue struct {
	pool *pgxpool.Pool
}

func NewPostgresConflictQueue(ctx context.Context, pool *pgxpool.Pool) (*PostgresConflictQueue, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS aid_conflicts (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			status      TEXT NOT NULL,
			candidates  JSONB NOT NULL,
			winner      JSONB,
			detected_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		)
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create aid_conflicts: %w", err)
	}
	return &PostgresConflictQueue{pool: pool}, nil
}

// Enqueue stores a pending conflict. Enqueuing the same id twice is a no-op.
func (q *PostgresConflictQueue) Enqueue(ctx context.Context, c models.Conflict) error {
	candidates, err := json.Marshal(c.Candidates)
	if err != nil {
		return fmt.Errorf("encode candidates: %w", err)
	}

	query := `
		INSERT INTO aid_conflicts (id, type, status, candidates, detected_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = q.pool.Exec(ctx, query, c.ID, string(c.Type), string(models.ResolutionPending), candidates, c.DetectedAt)
	if err != nil {
		return fmt.Errorf("insert conflict %s: %w", c.ID, err)
	}
	return nil
}

func (q *PostgresConflictQueue) Pending(ctx context.Context) ([]models.Conflict, error) {
	query := `
		SELECT id, type, status, candidates, winner, detected_at, resolved_at
		FROM aid_conflicts
		WHERE status = 'pending'
		ORDER BY detected_at ASC, id ASC
	`
	rows, err := q.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select pending conflicts: %w", err)
	}
	defer rows.Close()

	var out []models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *PostgresConflictQueue) Get(ctx context.Context, id string) (models.Conflict, error) {
	query := `
		SELECT id, type, status, candidates, winner, detected_at, resolved_at
		FROM aid_conflicts
		WHERE id = $1
	`
	c, err := scanConflict(q.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Conflict{}, fmt.Errorf("%w: %s", models.ErrConflictNotFound, id)
	}
	return c, err
}

// MarkResolved records the winner of a pending conflict
func (q *PostgresConflictQueue) MarkResolved(ctx context.Context, id string, winner models.Entity, at time.Time) error {
	encoded, err := json.Marshal(winner)
	if err != nil {
		return fmt.Errorf("encode winner: %w", err)
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM aid_conflicts WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrConflictNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("lock conflict %s: %w", id, err)
	}
	if status == string(models.ResolutionResolved) {
		return fmt.Errorf("%w: %s", models.ErrConflictResolved, id)
	}

	query := `
		UPDATE aid_conflicts
		SET status = 'resolved', winner = $2, resolved_at = $3
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, id, encoded, at); err != nil {
		return fmt.Errorf("resolve conflict %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

func scanConflict(row pgx.Row) (models.Conflict, error) {
	var (
		c                  models.Conflict
		typ, status        string
		candidates, winner []byte
	)
	if err := row.Scan(&c.ID, &typ, &status, &candidates, &winner, &c.DetectedAt, &c.ResolvedAt); err != nil {
		return models.Conflict{}, err
	}
	c.Type = models.ConflictType(typ)
	c.Status = models.ResolutionStatus(status)

	if err := json.Unmarshal(candidates, &c.Candidates); err != nil {
		return models.Conflict{}, fmt.Errorf("decode candidates of %s: %w", c.ID, err)
	}
	if len(winner) > 0 {
		var w models.Entity
		if err := json.Unmarshal(winner, &w); err != nil {
			return models.Conflict{}, fmt.Errorf("decode winner of %s: %w", c.ID, err)
		}
		c.Winner = &w
	}
	return c, nil
}
