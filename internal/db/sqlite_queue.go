package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// SQLiteConflictQueue persists conflicts waiting for manual resolution in a
// SQLite database. It shares the snapshot database when the store is SQLite
// and owns its own file otherwise.
type SQLiteConflictQueue struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteConflictQueue creates the conflict table on an open database
func NewSQLiteConflictQueue(ctx context.Context, db *sql.DB) (*SQLiteConflictQueue, error) {
	schema := `CREATE TABLE IF NOT EXISTS conflicts (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		status      TEXT NOT NULL,
		candidates  BLOB NOT NULL,
		winner      BLOB,
		detected_at INTEGER NOT NULL,
		resolved_at INTEGER
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create conflicts table: %w", err)
	}
	return &SQLiteConflictQueue{db: db}, nil
}

// OpenSQLiteConflictQueue opens a standalone queue file at path
func OpenSQLiteConflictQueue(ctx context.Context, path string) (*SQLiteConflictQueue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	q, err := NewSQLiteConflictQueue(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	q.owned = true
	return q, nil
}

// Enqueue stores a pending conflict. Enqueuing the same id twice is a no-op.
func (q *SQLiteConflictQueue) Enqueue(ctx context.Context, c models.Conflict) error {
	candidates, err := json.Marshal(c.Candidates)
	if err != nil {
		return fmt.Errorf("encode candidates: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO conflicts (id, type, status, candidates, detected_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		c.ID, string(c.Type), string(models.ResolutionPending), candidates, c.DetectedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert conflict %s: %w", c.ID, err)
	}
	return nil
}

// Pending returns unresolved conflicts, oldest first
func (q *SQLiteConflictQueue) Pending(ctx context.Context) ([]models.Conflict, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, type, status, candidates, winner, detected_at, resolved_at
		 FROM conflicts
		 WHERE status = 'pending'
		 ORDER BY detected_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("select pending conflicts: %w", err)
	}
	defer rows.Close()

	var out []models.Conflict
	for rows.Next() {
		c, err := scanSQLiteConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *SQLiteConflictQueue) Get(ctx context.Context, id string) (models.Conflict, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, type, status, candidates, winner, detected_at, resolved_at
		 FROM conflicts WHERE id = ?`, id)
	c, err := scanSQLiteConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conflict{}, fmt.Errorf("%w: %s", models.ErrConflictNotFound, id)
	}
	return c, err
}

// MarkResolved records the winner of a pending conflict
func (q *SQLiteConflictQueue) MarkResolved(ctx context.Context, id string, winner models.Entity, at time.Time) (retErr error) {
	encoded, err := json.Marshal(winner)
	if err != nil {
		return fmt.Errorf("encode winner: %w", err)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM conflicts WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrConflictNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read conflict %s: %w", id, err)
	}
	if status == string(models.ResolutionResolved) {
		return fmt.Errorf("%w: %s", models.ErrConflictResolved, id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conflicts SET status = 'resolved', winner = ?, resolved_at = ? WHERE id = ?`,
		encoded, at.UnixNano(), id); err != nil {
		return fmt.Errorf("resolve conflict %s: %w", id, err)
	}
	return tx.Commit()
}

// Close releases the database when the queue opened it
func (q *SQLiteConflictQueue) Close() error {
	if !q.owned {
		return nil
	}
	return q.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteConflict(row rowScanner) (models.Conflict, error) {
	var (
		c                  models.Conflict
		typ, status        string
		candidates, winner []byte
		detected           int64
		resolved           sql.NullInt64
	)
	if err := row.Scan(&c.ID, &typ, &status, &candidates, &winner, &detected, &resolved); err != nil {
		return models.Conflict{}, err
	}
	c.Type = models.ConflictType(typ)
	c.Status = models.ResolutionStatus(status)
	c.DetectedAt = time.Unix(0, detected).UTC()
	if resolved.Valid {
		at := time.Unix(0, resolved.Int64).UTC()
		c.ResolvedAt = &at
	}

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
