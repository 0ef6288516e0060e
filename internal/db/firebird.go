package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/nakagami/firebirdsql"

	"github.com/Guizzs26/go-aid-sync/internal/models"
	"github.com/Guizzs26/go-aid-sync/pkg/encoding"
)

// FirebirdStore keeps the snapshot in a legacy Firebird 2.5 database.
// Rows written by older tools may be WIN1252 encoded.
type FirebirdStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFirebirdStore initializes a connection pool and ensures the snapshot table exists
func NewFirebirdStore(connString string, logger *slog.Logger) (*FirebirdStore, error) {
	db, err := sql.Open("firebirdsql", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open firebird connection: %v", err)
	}

	// Connection pool settings optimized for legacy systems
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("firebird ping failed: %v", err)
	}

	s := &FirebirdStore{db: db, logger: logger}
	if err := s.ensureSchema(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Connected to Firebird successfully", "dialect", 3)
	return s, nil
}

// Firebird 2.5 has no CREATE TABLE IF NOT EXISTS
func (s *FirebirdStore) ensureSchema(ctx context.Context) error {
	var count int
	query := `SELECT COUNT(*) FROM RDB$RELATIONS WHERE RDB$RELATION_NAME = 'AID_SNAPSHOT'`
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return fmt.Errorf("failed to inspect firebird schema: %v", err)
	}
	if count > 0 {
		return nil
	}

	ddl := `CREATE TABLE AID_SNAPSHOT (
		ID INTEGER NOT NULL PRIMARY KEY,
		STATE BLOB SUB_TYPE 0 NOT NULL,
		UPDATED_AT TIMESTAMP NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create AID_SNAPSHOT: %v", err)
	}
	s.logger.Info("Created AID_SNAPSHOT table")
	return nil
}

func (s *FirebirdStore) ReadAll(ctx context.Context) (models.Snapshot, error) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var state []byte
	err := s.db.QueryRowContext(opCtx, `SELECT STATE FROM AID_SNAPSHOT WHERE ID = ?`, snapshotRowID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewSnapshot(), nil
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to read snapshot: %v", err)
	}
	return decodeSnapshot([]byte(encoding.ToUTF8(state)))
}

// WriteAll replaces the snapshot row inside a ReadCommitted transaction
func (s *FirebirdStore) WriteAll(ctx context.Context, snap models.Snapshot) error {
	state, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(opCtx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin firebird tx: %v", err)
	}
	defer tx.Rollback()

	query := `UPDATE OR INSERT INTO AID_SNAPSHOT (ID, STATE, UPDATED_AT) VALUES (?, ?, ?) MATCHING (ID)`
	if _, err := tx.ExecContext(opCtx, query, snapshotRowID, state, time.Now()); err != nil {
		return fmt.Errorf("failed to write snapshot: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %v", err)
	}
	s.logger.Debug("Snapshot written to Firebird", "bytes", len(state))
	return nil
}

// Close gracefully shuts down the database connection pool
func (s *FirebirdStore) Close() error {
	s.logger.Info("Closing Firebird connection pool")
	return s.db.Close()
}
